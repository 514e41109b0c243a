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

package balloteer

import (
	"context"
	"testing"
	"time"

	"github.com/openelect/balloteer/ballot"
	"github.com/openelect/balloteer/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeRunAndStop(t *testing.T) {
	n, err := New(NewConfig(
		WithDatabasePath(t.TempDir()),
		WithMasterKey([]byte("test-master-key")),
		WithWebhookSecret([]byte("test-webhook-secret")),
		WithAnchorPollInterval(10*time.Millisecond),
	))
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() {
		runErr <- n.Run()
	}()

	// Wait for startup to finish wiring the services
	require.Eventually(
		t,
		func() bool { return n.Ballots() != nil && n.db != nil },
		5*time.Second,
		10*time.Millisecond,
	)

	require.NoError(t, n.db.Metadata().AddElection(&models.Election{
		ID:        "election-1",
		Name:      "Test Election",
		CreatedAt: time.Now(),
	}, nil))

	// End to end: submit, verify receipt, wait for the anchor to confirm
	_, receipt, err := n.Ballots().Submit(
		context.Background(),
		ballot.SubmitParams{
			ElectionID:       "election-1",
			EncryptedPayload: []byte("encrypted-ballot-payload"),
			Channel:          models.BallotChannelWeb,
			ActorID:          "test",
		},
	)
	require.NoError(t, err)

	status, err := n.Ballots().VerifyReceipt(
		context.Background(),
		"election-1",
		string(receipt.CommitmentHash),
	)
	require.NoError(t, err)
	assert.True(t, status.Verified)

	require.Eventually(
		t,
		func() bool {
			b, err := n.db.Metadata().GetBallotByCommitment(
				"election-1",
				string(receipt.CommitmentHash),
				nil,
			)
			return err == nil && b != nil &&
				b.Status == models.BallotStatusConfirmed
		},
		5*time.Second,
		20*time.Millisecond,
	)

	valid, err := n.AuditChain().Verify(context.Background(), "election-1")
	require.NoError(t, err)
	assert.True(t, valid.Valid)

	require.NoError(t, n.Stop())
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Run to return")
	}
}
