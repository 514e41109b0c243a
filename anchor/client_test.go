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

package anchor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openelect/balloteer/auditchain"
	"github.com/openelect/balloteer/database/metadata"
	"github.com/openelect/balloteer/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingClient always fails submissions, simulating an unreachable ledger
type failingClient struct {
	submits int
	mu      sync.Mutex
}

func (f *failingClient) Submit(
	_ context.Context,
	_ string,
	_ []byte,
) (*TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	return nil, errors.New("ledger unreachable")
}

func (f *failingClient) Query(
	_ context.Context,
	_ string,
) (*TxResult, error) {
	return nil, nil
}

func testClient(
	t *testing.T,
	ledgerClient LedgerClient,
	maxAttempts int,
) (*Client, metadata.Store, *auditchain.Ledger) {
	t.Helper()
	store, err := metadata.New(t.TempDir(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close() //nolint:errcheck
	})
	audit := auditchain.NewLedger(auditchain.LedgerConfig{Store: store})
	client := NewClient(ClientConfig{
		Store:          store,
		Ledger:         ledgerClient,
		AuditLedger:    audit,
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	return client, store, audit
}

func testBallotPayload(id string) BallotPayload {
	return BallotPayload{
		BallotID:       id,
		ElectionID:     "election-1",
		CommitmentHash: "deadbeef",
		SubmittedAt:    time.Now().UTC().Format(time.RFC3339),
	}
}

func TestEnqueueBallotIdempotent(t *testing.T) {
	mock := NewMockClient()
	client, store, _ := testClient(t, mock, 3)
	ctx := context.Background()

	require.NoError(t, client.EnqueueBallot(ctx, testBallotPayload("bal_1")))
	// Duplicate enqueue for the same ballot is a no-op
	require.NoError(t, client.EnqueueBallot(ctx, testBallotPayload("bal_1")))

	jobs, err := store.DueAnchorJobs(time.Now(), 10, nil)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestProcessQueueConfirmsExactlyOnce(t *testing.T) {
	mock := NewMockClient()
	client, store, _ := testClient(t, mock, 3)
	ctx := context.Background()

	require.NoError(t, store.AddBallot(&models.Ballot{
		ID:             "bal_1",
		ElectionID:     "election-1",
		CommitmentHash: "deadbeef",
		Status:         models.BallotStatusPending,
		SubmittedAt:    time.Now(),
	}, nil))
	require.NoError(t, client.EnqueueBallot(ctx, testBallotPayload("bal_1")))

	require.NoError(t, client.ProcessQueue(ctx))
	status, err := client.Status(ctx, BallotKey("bal_1"))
	require.NoError(t, err)
	assert.Equal(t, models.AnchorJobStatusConfirmed, status)
	assert.Equal(t, 1, mock.Submissions())

	// Re-processing a confirmed job makes no further ledger calls
	require.NoError(t, client.ProcessQueue(ctx))
	assert.Equal(t, 1, mock.Submissions())

	// The anchored ballot is confirmed with the ledger proof
	ballot, err := store.GetBallot("bal_1", nil)
	require.NoError(t, err)
	require.NotNil(t, ballot)
	assert.Equal(t, models.BallotStatusConfirmed, ballot.Status)
	assert.NotEmpty(t, ballot.AnchorTxID)
	assert.NotZero(t, ballot.AnchorBlockNumber)
}

func TestConfirmationAppendsAuditEntry(t *testing.T) {
	mock := NewMockClient()
	client, _, audit := testClient(t, mock, 3)
	ctx := context.Background()

	require.NoError(t, client.EnqueueBallot(ctx, testBallotPayload("bal_1")))
	require.NoError(t, client.ProcessQueue(ctx))

	entries, err := audit.Export(ctx, "election-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "anchor.confirmed", entries[0].Action)
}

func TestRetryExhaustionFailsJob(t *testing.T) {
	failing := &failingClient{}
	client, store, _ := testClient(t, failing, 2)
	ctx := context.Background()

	require.NoError(t, client.EnqueueBallot(ctx, testBallotPayload("bal_1")))

	// First attempt fails and schedules a retry
	require.NoError(t, client.ProcessQueue(ctx))
	job, err := store.GetAnchorJob(BallotKey("bal_1"), nil)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.AnchorJobStatusQueued, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.NotEmpty(t, job.LastError)

	// Force the retry due and exhaust the budget
	job.NextAttemptAt = time.Now().Add(-time.Second)
	require.NoError(t, store.UpdateAnchorJob(job, nil))
	require.NoError(t, client.ProcessQueue(ctx))

	status, err := client.Status(ctx, BallotKey("bal_1"))
	require.NoError(t, err)
	assert.Equal(t, models.AnchorJobStatusFailed, status)

	// A failed job is terminal: no more ledger calls
	job, err = store.GetAnchorJob(BallotKey("bal_1"), nil)
	require.NoError(t, err)
	job.NextAttemptAt = time.Now().Add(-time.Second)
	require.NoError(t, store.UpdateAnchorJob(job, nil))
	require.NoError(t, client.ProcessQueue(ctx))
	assert.Equal(t, 2, failing.submits)
}

func TestQueryBeforeSubmitSkipsDuplicate(t *testing.T) {
	mock := NewMockClient()
	client, _, _ := testClient(t, mock, 3)
	ctx := context.Background()

	// The ledger already holds this key, as after a timed-out submission
	// that actually landed
	_, err := mock.Submit(ctx, BallotKey("bal_1"), []byte("{}"))
	require.NoError(t, err)
	priorSubmissions := mock.Submissions()

	require.NoError(t, client.EnqueueBallot(ctx, testBallotPayload("bal_1")))
	require.NoError(t, client.ProcessQueue(ctx))

	status, err := client.Status(ctx, BallotKey("bal_1"))
	require.NoError(t, err)
	assert.Equal(t, models.AnchorJobStatusConfirmed, status)
	// Confirmed via query, no second submission
	assert.Equal(t, priorSubmissions, mock.Submissions())
}

func TestEnqueueAuditBatchIdempotent(t *testing.T) {
	mock := NewMockClient()
	client, store, audit := testClient(t, mock, 3)
	ctx := context.Background()

	for i := range 3 {
		_, err := audit.Append(
			ctx,
			"election-1",
			"ballot.submitted",
			auditchain.ResourceRef{Type: "ballot", ID: "bal_" + string(rune('a'+i))},
			"test",
			nil,
		)
		require.NoError(t, err)
	}

	require.NoError(t, client.EnqueueAuditBatch(ctx, "election-1"))
	// Unchanged chain: same tail sequence, same key, no new job
	require.NoError(t, client.EnqueueAuditBatch(ctx, "election-1"))

	jobs, err := store.DueAnchorJobs(time.Now(), 10, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.AnchorJobKindAuditBatch, jobs[0].Kind)
	assert.Equal(t, AuditBatchKey("election-1", 2), jobs[0].IdempotencyKey)

	// A grown chain gets a fresh batch key
	_, err = audit.Append(
		ctx,
		"election-1",
		"ballot.submitted",
		auditchain.ResourceRef{Type: "ballot", ID: "bal_d"},
		"test",
		nil,
	)
	require.NoError(t, err)
	require.NoError(t, client.EnqueueAuditBatch(ctx, "election-1"))
	jobs, err = store.DueAnchorJobs(time.Now(), 10, nil)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestEnqueueAuditBatchEmptyScope(t *testing.T) {
	mock := NewMockClient()
	client, store, _ := testClient(t, mock, 3)

	require.NoError(t, client.EnqueueAuditBatch(context.Background(), "empty"))
	jobs, err := store.DueAnchorJobs(time.Now(), 10, nil)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCancel(t *testing.T) {
	mock := NewMockClient()
	client, _, _ := testClient(t, mock, 3)
	ctx := context.Background()

	require.NoError(t, client.EnqueueBallot(ctx, testBallotPayload("bal_1")))
	require.NoError(t, client.Cancel(ctx, BallotKey("bal_1")))

	status, err := client.Status(ctx, BallotKey("bal_1"))
	require.NoError(t, err)
	assert.Equal(t, models.AnchorJobStatusFailed, status)

	// Terminal jobs cannot be cancelled again
	assert.ErrorIs(t, client.Cancel(ctx, BallotKey("bal_1")), ErrNotCancellable)
	assert.ErrorIs(t, client.Cancel(ctx, "no-such-key"), ErrJobNotFound)
}
