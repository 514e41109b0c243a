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

package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/openelect/balloteer/anchor"
	"github.com/openelect/balloteer/auditchain"
	"github.com/openelect/balloteer/ballot"
	"github.com/openelect/balloteer/commitment"
	"github.com/openelect/balloteer/database/blob"
	"github.com/openelect/balloteer/database/metadata"
	"github.com/openelect/balloteer/database/models"
	"github.com/openelect/balloteer/review"
	"github.com/openelect/balloteer/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testWebhookSecret = []byte("test-webhook-secret")

type testHarness struct {
	server   *Server
	store    metadata.Store
	verifier *webhook.Verifier
	audit    *auditchain.Ledger
	anchors  *anchor.Client
}

func newTestHarness(t *testing.T) *testHarness {
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
	ballots := ballot.NewService(ballot.ServiceConfig{
		Store:  store,
		Blob:   blobStore,
		Engine: commitment.NewEngine(0),
		Audit:  audit,
		Anchor: anchors,
	})
	reviews := review.NewWorkflow(review.WorkflowConfig{
		Store:     store,
		Blob:      blobStore,
		Ballots:   ballots,
		Audit:     audit,
		MasterKey: []byte("test-master-key"),
	})
	verifier := webhook.NewVerifier(webhook.VerifierConfig{
		Secret: testWebhookSecret,
	})
	webhooks := webhook.NewProcessor(webhook.ProcessorConfig{
		Store:    store,
		Blob:     blobStore,
		Verifier: verifier,
		Audit:    audit,
	})
	server := New(
		Config{
			AdminToken:    "admin-token",
			ReviewerToken: "reviewer-token",
		},
		ballots,
		reviews,
		audit,
		anchors,
		webhooks,
		nil,
	)
	require.NoError(t, store.AddElection(&models.Election{
		ID:                   "election-1",
		Name:                 "Test Election",
		AutoApproveThreshold: 0.95,
		CreatedAt:            time.Now(),
	}, nil))
	return &testHarness{
		server:   server,
		store:    store,
		verifier: verifier,
		audit:    audit,
		anchors:  anchors,
	}
}

func jsonRequest(
	t *testing.T,
	method string,
	target string,
	body any,
) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeResponse[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var ret T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ret))
	return ret
}

func (h *testHarness) submitBallot(t *testing.T) SubmitBallotResponse {
	t.Helper()
	req := jsonRequest(t, "POST", "/api/v1/ballots", SubmitBallotRequest{
		ElectionID: "election-1",
		Payload: base64.StdEncoding.EncodeToString(
			[]byte("encrypted-ballot-payload"),
		),
		Channel: "WEB",
	})
	w := httptest.NewRecorder()
	h.server.handleSubmitBallot(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeResponse[SubmitBallotResponse](t, w)
}

func TestSubmitBallotAndVerifyReceipt(t *testing.T) {
	h := newTestHarness(t)
	resp := h.submitBallot(t)
	assert.Len(t, resp.ReceiptCode, 16)
	assert.Equal(t, string(models.BallotStatusPending), resp.Status)
	assert.Contains(t, resp.ReceiptURL, resp.CommitmentHash)

	// Public receipt verification
	req := httptest.NewRequest("GET", resp.ReceiptURL, nil)
	req.SetPathValue("electionId", "election-1")
	req.SetPathValue("commitmentHash", resp.CommitmentHash)
	w := httptest.NewRecorder()
	h.server.handleVerifyReceipt(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeResponse[ReceiptStatusResponse](t, w)
	assert.True(t, status.Verified)

	// Unknown hash verifies negative with a 200
	req = httptest.NewRequest("GET", "/api/v1/receipts/election-1/bogus", nil)
	req.SetPathValue("electionId", "election-1")
	req.SetPathValue("commitmentHash", "bogus")
	w = httptest.NewRecorder()
	h.server.handleVerifyReceipt(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	status = decodeResponse[ReceiptStatusResponse](t, w)
	assert.False(t, status.Verified)
}

func TestSubmitBallotValidation(t *testing.T) {
	h := newTestHarness(t)

	// Missing election
	req := jsonRequest(t, "POST", "/api/v1/ballots", SubmitBallotRequest{
		Payload: base64.StdEncoding.EncodeToString([]byte("payload")),
	})
	w := httptest.NewRecorder()
	h.server.handleSubmitBallot(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown election
	req = jsonRequest(t, "POST", "/api/v1/ballots", SubmitBallotRequest{
		ElectionID: "no-such-election",
		Payload:    base64.StdEncoding.EncodeToString([]byte("payload")),
	})
	w = httptest.NewRecorder()
	h.server.handleSubmitBallot(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Paper channel is rejected at this boundary
	req = jsonRequest(t, "POST", "/api/v1/ballots", SubmitBallotRequest{
		ElectionID: "election-1",
		Payload:    base64.StdEncoding.EncodeToString([]byte("payload")),
		Channel:    "PAPER",
	})
	w = httptest.NewRecorder()
	h.server.handleSubmitBallot(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequireToken(t *testing.T) {
	h := newTestHarness(t)
	called := false
	wrapped := h.server.requireToken(
		"secret-token",
		func(http.ResponseWriter, *http.Request) { called = true },
	)

	req := httptest.NewRequest("GET", "/api/v1/reviews", nil)
	w := httptest.NewRecorder()
	wrapped(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, called)

	req.Header.Set("Authorization", "Bearer wrong-token")
	w = httptest.NewRecorder()
	wrapped(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, called)

	req.Header.Set("Authorization", "Bearer secret-token")
	w = httptest.NewRecorder()
	wrapped(w, req)
	assert.True(t, called)

	// An empty configured token disables the route
	disabled := h.server.requireToken(
		"",
		func(http.ResponseWriter, *http.Request) { t.Fail() },
	)
	w = httptest.NewRecorder()
	disabled(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPaperUploadAndDecision(t *testing.T) {
	h := newTestHarness(t)

	// Low-confidence upload queues for review
	req := jsonRequest(
		t,
		"POST",
		"/api/v1/paper/election-1/upload",
		PaperUploadRequest{
			Selections: []review.Selection{
				{ContestID: "c1", OptionID: "o2", Confidence: 0.9},
			},
			AggregateConfidence: 0.9,
		},
	)
	req.SetPathValue("electionId", "election-1")
	w := httptest.NewRecorder()
	h.server.handlePaperUpload(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	upload := decodeResponse[PaperUploadResponse](t, w)
	assert.Equal(t, string(models.ReviewStatusQueuedForReview), upload.Status)

	// It shows up in the queue
	req = httptest.NewRequest(
		"GET",
		"/api/v1/reviews?election_id=election-1",
		nil,
	)
	w = httptest.NewRecorder()
	h.server.handleListReviews(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	queue := decodeResponse[[]ReviewResponse](t, w)
	require.Len(t, queue, 1)

	// Approve it
	req = jsonRequest(
		t,
		"POST",
		"/api/v1/reviews/"+upload.ReviewID+"/decision",
		DecisionRequest{Action: "approve"},
	)
	req.SetPathValue("reviewId", upload.ReviewID)
	req.Header.Set("X-Reviewer-Id", "reviewer-1")
	w = httptest.NewRecorder()
	h.server.handleDecideReview(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decision := decodeResponse[DecisionResponse](t, w)
	assert.Equal(t, string(models.ReviewStatusApproved), decision.Status)
	assert.NotEmpty(t, decision.BallotID)

	// A duplicate decision conflicts
	req = jsonRequest(
		t,
		"POST",
		"/api/v1/reviews/"+upload.ReviewID+"/decision",
		DecisionRequest{Action: "reject"},
	)
	req.SetPathValue("reviewId", upload.ReviewID)
	w = httptest.NewRecorder()
	h.server.handleDecideReview(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestWebhookIntake(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.store.AddVoter(&models.Voter{
		ID:         "vot_1",
		ElectionID: "election-1",
		VoterHash:  "subject-hash-1",
		Status:     models.VoterStatusPending,
		CreatedAt:  time.Now(),
	}, nil))
	body := []byte(
		`{"electionId":"election-1","subjectHash":"subject-hash-1","status":"verified"}`,
	)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := h.verifier.Signature(ts, body)

	req := httptest.NewRequest(
		"POST",
		"/webhooks/didit",
		bytes.NewReader(body),
	)
	req.SetPathValue("provider", "didit")
	req.Header.Set("X-Webhook-Signature", sig)
	req.Header.Set("X-Webhook-Timestamp", ts)
	w := httptest.NewRecorder()
	h.server.handleWebhook(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeResponse[WebhookResponse](t, w)
	assert.Equal(t, string(models.WebhookOutcomeValid), resp.Outcome)

	// A replayed delivery is refused but still recorded
	req = httptest.NewRequest(
		"POST",
		"/webhooks/didit",
		bytes.NewReader(body),
	)
	req.SetPathValue("provider", "didit")
	req.Header.Set("X-Webhook-Signature", sig)
	req.Header.Set("X-Webhook-Timestamp", ts)
	w = httptest.NewRecorder()
	h.server.handleWebhook(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuditVerifyAndExport(t *testing.T) {
	h := newTestHarness(t)
	h.submitBallot(t)
	h.submitBallot(t)

	req := httptest.NewRequest("GET", "/api/v1/audit/election-1/verify", nil)
	req.SetPathValue("scope", "election-1")
	w := httptest.NewRecorder()
	h.server.handleAuditVerify(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	verify := decodeResponse[AuditVerifyResponse](t, w)
	assert.True(t, verify.Valid)
	assert.Nil(t, verify.BrokenAt)

	req = httptest.NewRequest("GET", "/api/v1/audit/election-1/export", nil)
	req.SetPathValue("scope", "election-1")
	w = httptest.NewRecorder()
	h.server.handleAuditExport(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	export := decodeResponse[AuditExportResponse](t, w)
	require.Len(t, export.Entries, 2)
	assert.Equal(t, export.Entries[0].Digest, export.Entries[1].PrevDigest)

	// Tampering is localized in the verify response
	require.NoError(t, h.store.DB().Model(&models.AuditLogEntry{}).
		Where("scope = ? AND sequence = ?", "election-1", 1).
		Update("content_digest", "doctored").Error)
	req = httptest.NewRequest("GET", "/api/v1/audit/election-1/verify", nil)
	req.SetPathValue("scope", "election-1")
	w = httptest.NewRecorder()
	h.server.handleAuditVerify(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	verify = decodeResponse[AuditVerifyResponse](t, w)
	assert.False(t, verify.Valid)
	require.NotNil(t, verify.BrokenAt)
	assert.Equal(t, uint64(1), *verify.BrokenAt)
}

func TestAnchorStatusAndCancel(t *testing.T) {
	h := newTestHarness(t)
	resp := h.submitBallot(t)

	ballotRecord, err := h.store.GetBallotByCommitment(
		"election-1",
		resp.CommitmentHash,
		nil,
	)
	require.NoError(t, err)
	key := anchor.BallotKey(ballotRecord.ID)

	req := httptest.NewRequest("GET", "/api/v1/anchors/"+key, nil)
	req.SetPathValue("key", key)
	w := httptest.NewRecorder()
	h.server.handleAnchorStatus(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeResponse[AnchorStatusResponse](t, w)
	assert.Equal(t, string(models.AnchorJobStatusQueued), status.Status)

	req = httptest.NewRequest("POST", "/api/v1/anchors/"+key+"/cancel", nil)
	req.SetPathValue("key", key)
	w = httptest.NewRecorder()
	h.server.handleAnchorCancel(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	status = decodeResponse[AnchorStatusResponse](t, w)
	assert.Equal(t, string(models.AnchorJobStatusFailed), status.Status)

	// Unknown key
	req = httptest.NewRequest("GET", "/api/v1/anchors/nope", nil)
	req.SetPathValue("key", "nope")
	w = httptest.NewRecorder()
	h.server.handleAnchorStatus(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServerStartStop(t *testing.T) {
	h := newTestHarness(t)
	h.server.config.ListenAddress = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.server.Start(ctx))
	assert.Error(t, h.server.Start(ctx)) // already started
	require.NoError(t, h.server.Stop(context.Background()))
}
