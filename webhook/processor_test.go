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

package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/openelect/balloteer/auditchain"
	"github.com/openelect/balloteer/database/blob"
	"github.com/openelect/balloteer/database/metadata"
	"github.com/openelect/balloteer/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProcessor(t *testing.T) (*Processor, metadata.Store) {
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
	proc := NewProcessor(ProcessorConfig{
		Store:    store,
		Blob:     blobStore,
		Verifier: NewVerifier(VerifierConfig{Secret: testSecret}),
		Audit:    audit,
	})
	require.NoError(t, store.AddVoter(&models.Voter{
		ID:         "vot_1",
		ElectionID: "election-1",
		VoterHash:  "subject-hash-1",
		Status:     models.VoterStatusPending,
		CreatedAt:  time.Now(),
	}, nil))
	return proc, store
}

func TestHandleInboundValidAppliesTransition(t *testing.T) {
	proc, store := testProcessor(t)
	ctx := context.Background()
	body := []byte(
		`{"electionId":"election-1","subjectHash":"subject-hash-1","status":"verified"}`,
	)
	sig, ts := signedRequest(proc.verifier, body, time.Now())

	evt, err := proc.HandleInbound(ctx, "didit", body, sig, ts)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeValid, evt.Outcome)
	assert.False(t, evt.Processed)

	// The transition is applied by the pending processor, not intake
	require.NoError(t, proc.ProcessPending(ctx))

	voter, err := store.GetVoterByHash("election-1", "subject-hash-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.VoterStatusVerified, voter.Status)
	assert.NotNil(t, voter.VerifiedAt)

	pending, err := store.UnprocessedWebhookEvents(10, nil)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Both the intake and the transition left audit entries
	intake, err := store.GetAuditEntries("webhook:didit", 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, intake, 1)
	assert.Equal(t, "webhook.received", intake[0].Action)
	transitions, err := store.GetAuditEntries("election-1", 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, "voter.status_changed", transitions[0].Action)
}

func TestHandleInboundRejectedStatus(t *testing.T) {
	proc, store := testProcessor(t)
	ctx := context.Background()
	body := []byte(
		`{"electionId":"election-1","subjectHash":"subject-hash-1","status":"rejected"}`,
	)
	sig, ts := signedRequest(proc.verifier, body, time.Now())

	_, err := proc.HandleInbound(ctx, "didit", body, sig, ts)
	require.NoError(t, err)
	require.NoError(t, proc.ProcessPending(ctx))

	voter, err := store.GetVoterByHash("election-1", "subject-hash-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.VoterStatusRejected, voter.Status)
	assert.Nil(t, voter.VerifiedAt)
}

func TestHandleInboundInvalidSignatureRecorded(t *testing.T) {
	proc, store := testProcessor(t)
	ctx := context.Background()
	body := []byte(
		`{"electionId":"election-1","subjectHash":"subject-hash-1","status":"verified"}`,
	)
	_, ts := signedRequest(proc.verifier, body, time.Now())

	evt, err := proc.HandleInbound(ctx, "didit", body, "bogus", ts)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeInvalidSignature, evt.Outcome)

	// Rejected events never drive voter transitions
	require.NoError(t, proc.ProcessPending(ctx))
	voter, err := store.GetVoterByHash("election-1", "subject-hash-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.VoterStatusPending, voter.Status)

	// But they are still recorded and audit-logged
	intake, err := store.GetAuditEntries("webhook:didit", 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, intake, 1)
}

func TestProcessPendingRecoversUnprocessed(t *testing.T) {
	proc, store := testProcessor(t)
	ctx := context.Background()
	body := []byte(
		`{"electionId":"election-1","subjectHash":"subject-hash-1","status":"verified"}`,
	)
	sig, ts := signedRequest(proc.verifier, body, time.Now())
	_, err := proc.HandleInbound(ctx, "didit", body, sig, ts)
	require.NoError(t, err)

	// Simulate a restart: a fresh processor drains what intake recorded
	require.NoError(t, proc.ProcessPending(ctx))
	voter, err := store.GetVoterByHash("election-1", "subject-hash-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.VoterStatusVerified, voter.Status)
}

func TestProcessPendingPoisonEvent(t *testing.T) {
	proc, store := testProcessor(t)
	ctx := context.Background()
	// Valid signature over a payload referencing an unknown voter
	body := []byte(
		`{"electionId":"election-1","subjectHash":"no-such-subject","status":"verified"}`,
	)
	sig, ts := signedRequest(proc.verifier, body, time.Now())
	_, err := proc.HandleInbound(ctx, "didit", body, sig, ts)
	require.NoError(t, err)

	// The poison event is marked processed so it cannot wedge the queue
	require.NoError(t, proc.ProcessPending(ctx))
	pending, err := store.UnprocessedWebhookEvents(10, nil)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
