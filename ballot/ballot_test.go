// Copyright 2026 OpenElect Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ballot

import (
	"context"
	"testing"
	"time"

	"github.com/openelect/balloteer/anchor"
	"github.com/openelect/balloteer/auditchain"
	"github.com/openelect/balloteer/commitment"
	"github.com/openelect/balloteer/database/blob"
	"github.com/openelect/balloteer/database/metadata"
	"github.com/openelect/balloteer/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(t *testing.T) (*Service, metadata.Store, blob.Store) {
	t.Helper()
	store, err := metadata.New(t.TempDir(), nil, nil)
	require.NoError(t, err)
	blobStore, err := blob.New("", nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()     //nolint:errcheck
		blobStore.Close() //nolint:errcheck
	})
	audit := auditchain.NewLedger(auditchain.LedgerConfig{Store: store})
	anchors := anchor.NewClient(anchor.ClientConfig{
		Store:       store,
		Ledger:      anchor.NewMockClient(),
		AuditLedger: audit,
	})
	svc := NewService(ServiceConfig{
		Store:  store,
		Blob:   blobStore,
		Engine: commitment.NewEngine(0),
		Audit:  audit,
		Anchor: anchors,
	})
	require.NoError(t, store.AddElection(&models.Election{
		ID:        "election-1",
		Name:      "Test Election",
		CreatedAt: time.Now(),
	}, nil))
	return svc, store, blobStore
}

func TestSubmit(t *testing.T) {
	svc, store, blobStore := testService(t)
	ctx := context.Background()
	payload := []byte("encrypted-ballot-payload")

	ballot, receipt, err := svc.Submit(ctx, SubmitParams{
		ElectionID:       "election-1",
		EncryptedPayload: payload,
		Channel:          models.BallotChannelWeb,
		ActorID:          "test",
	})
	require.NoError(t, err)
	assert.Equal(t, models.BallotStatusPending, ballot.Status)
	assert.Len(t, ballot.CommitmentHash, 64)
	assert.Len(t, receipt.Code, 16)
	assert.Equal(t, ballot.ReceiptCode, receipt.Code)

	// Persisted record matches
	stored, err := store.GetBallot(ballot.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, ballot.CommitmentHash, stored.CommitmentHash)

	// Stored blob is salt followed by the payload, and the commitment is
	// recomputable from it
	data, err := blobStore.Get([]byte(ballot.PayloadRef))
	require.NoError(t, err)
	require.Len(t, data, commitment.SaltSize+len(payload))
	var salt [commitment.SaltSize]byte
	copy(salt[:], data[:commitment.SaltSize])
	recomputed, err := commitment.NewEngine(0).
		Commit(data[commitment.SaltSize:], salt)
	require.NoError(t, err)
	assert.Equal(t, ballot.CommitmentHash, string(recomputed))

	// Audit entry and anchor job were created
	entries, err := store.GetAuditEntries("election-1", 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ballot.submitted", entries[0].Action)
	job, err := store.GetAnchorJob(anchor.BallotKey(ballot.ID), nil)
	require.NoError(t, err)
	assert.NotNil(t, job)
}

func TestSubmitHaltedChainAdmitsNothing(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()

	_, _, err := svc.Submit(ctx, SubmitParams{
		ElectionID:       "election-1",
		EncryptedPayload: []byte("first-ballot"),
		Channel:          models.BallotChannelWeb,
		ActorID:          "test",
	})
	require.NoError(t, err)

	// Corrupt the chain behind the ledger's back and let verification
	// halt the scope
	require.NoError(t, store.DB().Model(&models.AuditLogEntry{}).
		Where("scope = ?", "election-1").
		Update("content_digest", "doctored").Error)
	verifyResult, err := svc.audit.Verify(ctx, "election-1")
	require.NoError(t, err)
	require.False(t, verifyResult.Valid)

	_, _, err = svc.Submit(ctx, SubmitParams{
		ElectionID:       "election-1",
		EncryptedPayload: []byte("second-ballot"),
		Channel:          models.BallotChannelWeb,
		ActorID:          "test",
	})
	assert.ErrorIs(t, err, auditchain.ErrChainCorrupted)

	// The rejected submission left no ballot record behind
	var count int64
	require.NoError(t, store.DB().Model(&models.Ballot{}).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSubmitUnknownElection(t *testing.T) {
	svc, _, _ := testService(t)
	_, _, err := svc.Submit(context.Background(), SubmitParams{
		ElectionID:       "no-such-election",
		EncryptedPayload: []byte("payload"),
		Channel:          models.BallotChannelWeb,
	})
	assert.ErrorIs(t, err, ErrElectionNotFound)
}

func TestSubmitInvalidPayload(t *testing.T) {
	svc, _, _ := testService(t)
	_, _, err := svc.Submit(context.Background(), SubmitParams{
		ElectionID: "election-1",
		Channel:    models.BallotChannelWeb,
	})
	var invalidErr *commitment.InvalidPayloadError
	assert.ErrorAs(t, err, &invalidErr)
}

func TestVerifyReceipt(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	ballot, _, err := svc.Submit(ctx, SubmitParams{
		ElectionID:       "election-1",
		EncryptedPayload: []byte("encrypted-ballot-payload"),
		Channel:          models.BallotChannelWeb,
	})
	require.NoError(t, err)

	status, err := svc.VerifyReceipt(ctx, "election-1", ballot.CommitmentHash)
	require.NoError(t, err)
	assert.True(t, status.Verified)
	assert.Equal(t, models.BallotStatusPending, status.Status)

	// Unknown hash is a negative verification, not an error
	status, err = svc.VerifyReceipt(ctx, "election-1", "unknown-hash")
	require.NoError(t, err)
	assert.False(t, status.Verified)

	// Known hash, wrong election
	status, err = svc.VerifyReceipt(ctx, "election-2", ballot.CommitmentHash)
	require.NoError(t, err)
	assert.False(t, status.Verified)
}
