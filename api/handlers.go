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
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/openelect/balloteer/anchor"
	"github.com/openelect/balloteer/auditchain"
	"github.com/openelect/balloteer/ballot"
	"github.com/openelect/balloteer/commitment"
	"github.com/openelect/balloteer/database/models"
	"github.com/openelect/balloteer/internal/version"
	"github.com/openelect/balloteer/review"
)

const maxRequestBodySize = 4 << 20

// writeJSON writes a JSON response with the given status code.
func writeJSON(
	w http.ResponseWriter,
	status int,
	v any,
) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

// writeError writes a uniform error response.
func writeError(
	w http.ResponseWriter,
	status int,
	errStr string,
	message string,
) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      errStr,
		Message:    message,
	})
}

// requireToken wraps a handler with a bearer-token check. A configured
// empty token disables the route entirely rather than leaving it open.
func (s *Server) requireToken(
	token string,
	next http.HandlerFunc,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token == "" {
			writeError(
				w,
				http.StatusForbidden,
				"Forbidden",
				"route is not enabled",
			)
			return
		}
		authHeader := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok ||
			subtle.ConstantTimeCompare(
				[]byte(presented),
				[]byte(token),
			) != 1 {
			writeError(
				w,
				http.StatusUnauthorized,
				"Unauthorized",
				"missing or invalid bearer token",
			)
			return
		}
		next(w, r)
	}
}

// handleRoot handles GET / and returns API metadata.
func (s *Server) handleRoot(
	w http.ResponseWriter,
	_ *http.Request,
) {
	writeJSON(w, http.StatusOK, RootResponse{
		Service: "balloteer",
		Version: version.Version,
	})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(
	w http.ResponseWriter,
	_ *http.Request,
) {
	writeJSON(w, http.StatusOK, HealthResponse{
		IsHealthy: true,
	})
}

// handleSubmitBallot handles POST /api/v1/ballots. Submission is
// synchronous: the voter gets a definitive accept or reject, and the
// receipt in the response is their proof of inclusion.
func (s *Server) handleSubmitBallot(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req SubmitBallotRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.ElectionID == "" {
		writeError(
			w,
			http.StatusBadRequest,
			"Bad Request",
			"election_id is required",
		)
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"Bad Request",
			"payload must be base64",
		)
		return
	}
	channel, ok := parseChannel(req.Channel)
	if !ok {
		writeError(
			w,
			http.StatusBadRequest,
			"Bad Request",
			"unknown channel",
		)
		return
	}
	b, receipt, err := s.ballots.Submit(r.Context(), ballot.SubmitParams{
		ElectionID:       req.ElectionID,
		EncryptedPayload: payload,
		Channel:          channel,
		ActorID:          "api",
	})
	if err != nil {
		s.writeServiceError(w, err, "failed to submit ballot")
		return
	}
	writeJSON(w, http.StatusCreated, SubmitBallotResponse{
		BallotID:       b.ID,
		CommitmentHash: string(receipt.CommitmentHash),
		ReceiptCode:    receipt.Code,
		ReceiptURL:     receipt.VerificationPath,
		Status:         string(b.Status),
	})
}

// handleVerifyReceipt handles
// GET /api/v1/receipts/{electionId}/{commitmentHash}. Public and
// unauthenticated; an unknown hash is a negative verification, not an
// error.
func (s *Server) handleVerifyReceipt(
	w http.ResponseWriter,
	r *http.Request,
) {
	status, err := s.ballots.VerifyReceipt(
		r.Context(),
		r.PathValue("electionId"),
		r.PathValue("commitmentHash"),
	)
	if err != nil {
		s.writeServiceError(w, err, "failed to verify receipt")
		return
	}
	writeJSON(w, http.StatusOK, ReceiptStatusResponse{
		Verified:          status.Verified,
		Status:            string(status.Status),
		AnchorTxID:        status.AnchorTxID,
		AnchorBlockNumber: status.AnchorBlockNumber,
		ConfirmedAt:       status.ConfirmedAt,
		TalliedAt:         status.TalliedAt,
	})
}

// handleListReviews handles GET /api/v1/reviews?election_id=&limit=.
func (s *Server) handleListReviews(
	w http.ResponseWriter,
	r *http.Request,
) {
	electionID := r.URL.Query().Get("election_id")
	if electionID == "" {
		writeError(
			w,
			http.StatusBadRequest,
			"Bad Request",
			"election_id is required",
		)
		return
	}
	limit := 100
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 1 {
			writeError(
				w,
				http.StatusBadRequest,
				"Bad Request",
				"limit must be a positive integer",
			)
			return
		}
		limit = parsed
	}
	reviews, err := s.reviews.ListPending(r.Context(), electionID, limit)
	if err != nil {
		s.writeServiceError(w, err, "failed to list reviews")
		return
	}
	ret := make([]ReviewResponse, 0, len(reviews))
	for i := range reviews {
		ret = append(ret, reviewResponse(&reviews[i]))
	}
	writeJSON(w, http.StatusOK, ret)
}

// handleGetReview handles GET /api/v1/reviews/{reviewId}.
func (s *Server) handleGetReview(
	w http.ResponseWriter,
	r *http.Request,
) {
	rev, err := s.reviews.Get(r.Context(), r.PathValue("reviewId"))
	if err != nil {
		s.writeServiceError(w, err, "failed to get review")
		return
	}
	writeJSON(w, http.StatusOK, reviewResponse(rev))
}

// handleDecideReview handles POST /api/v1/reviews/{reviewId}/decision.
// Duplicate decisions return 409 without side effects.
func (s *Server) handleDecideReview(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req DecisionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	decision, err := s.reviews.Decide(
		r.Context(),
		r.PathValue("reviewId"),
		reviewerID(r),
		review.DecisionAction(req.Action),
		req.Corrections,
		req.Reason,
	)
	if err != nil {
		s.writeServiceError(w, err, "failed to decide review")
		return
	}
	writeJSON(w, http.StatusOK, DecisionResponse{
		ReviewID: r.PathValue("reviewId"),
		Status:   string(decision.Status),
		BallotID: decision.BallotID,
	})
}

// handlePaperUpload handles POST /api/v1/paper/{electionId}/upload.
func (s *Server) handlePaperUpload(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req PaperUploadRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if len(req.Selections) == 0 {
		writeError(
			w,
			http.StatusBadRequest,
			"Bad Request",
			"selections are required",
		)
		return
	}
	var image []byte
	if req.Image != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			writeError(
				w,
				http.StatusBadRequest,
				"Bad Request",
				"image must be base64",
			)
			return
		}
		image = decoded
	}
	rev, err := s.reviews.Ingest(
		r.Context(),
		r.PathValue("electionId"),
		image,
		review.DigitizationResult{
			Selections:          req.Selections,
			AggregateConfidence: req.AggregateConfidence,
			ScannerLocation:     req.ScannerLocation,
			BatchID:             req.BatchID,
		},
	)
	if err != nil {
		s.writeServiceError(w, err, "failed to ingest paper ballot")
		return
	}
	writeJSON(w, http.StatusCreated, PaperUploadResponse{
		ReviewID: rev.ID,
		Status:   string(rev.Status),
		BallotID: rev.BallotID,
	})
}

// handleWebhook handles POST /webhooks/{provider}. The 2xx response is
// sent only after the event and its audit entry are durably recorded;
// verification failures still return 401 so providers retry with a fresh
// signature.
func (s *Server) handleWebhook(
	w http.ResponseWriter,
	r *http.Request,
) {
	body, err := readBody(r)
	if err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"Bad Request",
			"failed to read request body",
		)
		return
	}
	evt, err := s.webhooks.HandleInbound(
		r.Context(),
		r.PathValue("provider"),
		body,
		r.Header.Get("X-Webhook-Signature"),
		r.Header.Get("X-Webhook-Timestamp"),
	)
	if err != nil {
		s.writeServiceError(w, err, "failed to record webhook")
		return
	}
	if evt.Outcome != models.WebhookOutcomeValid {
		writeError(
			w,
			http.StatusUnauthorized,
			"Unauthorized",
			"webhook verification failed: "+string(evt.Outcome),
		)
		return
	}
	writeJSON(w, http.StatusOK, WebhookResponse{
		EventID: evt.ID,
		Outcome: string(evt.Outcome),
	})
}

// handleAuditVerify handles GET /api/v1/audit/{scope}/verify.
func (s *Server) handleAuditVerify(
	w http.ResponseWriter,
	r *http.Request,
) {
	scope := r.PathValue("scope")
	result, err := s.audit.Verify(r.Context(), scope)
	if err != nil {
		s.writeServiceError(w, err, "failed to verify audit chain")
		return
	}
	writeJSON(w, http.StatusOK, AuditVerifyResponse{
		Scope:    scope,
		Valid:    result.Valid,
		BrokenAt: result.BrokenAt,
	})
}

// handleAuditExport handles GET /api/v1/audit/{scope}/export?from=&to=.
func (s *Server) handleAuditExport(
	w http.ResponseWriter,
	r *http.Request,
) {
	scope := r.PathValue("scope")
	fromSeq, ok := parseSeqParam(w, r, "from")
	if !ok {
		return
	}
	toSeq, ok := parseSeqParam(w, r, "to")
	if !ok {
		return
	}
	entries, err := s.audit.Export(r.Context(), scope, fromSeq, toSeq)
	if err != nil {
		s.writeServiceError(w, err, "failed to export audit chain")
		return
	}
	ret := AuditExportResponse{
		Scope:   scope,
		Entries: make([]AuditEntryResponse, 0, len(entries)),
	}
	for _, e := range entries {
		ret.Entries = append(ret.Entries, AuditEntryResponse{
			Sequence:      e.Sequence,
			Action:        e.Action,
			ResourceType:  e.ResourceType,
			ResourceID:    e.ResourceID,
			ActorID:       e.ActorID,
			ContentDigest: e.ContentDigest,
			PrevDigest:    e.PrevDigest,
			Digest:        e.Digest,
			CreatedAt:     e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, ret)
}

// handleAnchorStatus handles GET /api/v1/anchors/{key}.
func (s *Server) handleAnchorStatus(
	w http.ResponseWriter,
	r *http.Request,
) {
	key := r.PathValue("key")
	status, err := s.anchors.Status(r.Context(), key)
	if err != nil {
		s.writeServiceError(w, err, "failed to get anchor status")
		return
	}
	writeJSON(w, http.StatusOK, AnchorStatusResponse{
		IdempotencyKey: key,
		Status:         string(status),
	})
}

// handleAnchorCancel handles POST /api/v1/anchors/{key}/cancel.
func (s *Server) handleAnchorCancel(
	w http.ResponseWriter,
	r *http.Request,
) {
	key := r.PathValue("key")
	if err := s.anchors.Cancel(r.Context(), key); err != nil {
		s.writeServiceError(w, err, "failed to cancel anchor job")
		return
	}
	status, err := s.anchors.Status(r.Context(), key)
	if err != nil {
		s.writeServiceError(w, err, "failed to get anchor status")
		return
	}
	writeJSON(w, http.StatusOK, AnchorStatusResponse{
		IdempotencyKey: key,
		Status:         string(status),
	})
}

// writeServiceError maps domain errors onto HTTP statuses
func (s *Server) writeServiceError(
	w http.ResponseWriter,
	err error,
	message string,
) {
	var invalidPayload *commitment.InvalidPayloadError
	switch {
	case errors.As(err, &invalidPayload),
		errors.Is(err, review.ErrNoSelections),
		errors.Is(err, review.ErrNoCorrections):
		writeError(
			w,
			http.StatusBadRequest,
			"Bad Request",
			err.Error(),
		)
	case errors.Is(err, ballot.ErrElectionNotFound),
		errors.Is(err, review.ErrReviewNotFound),
		errors.Is(err, anchor.ErrJobNotFound):
		writeError(
			w,
			http.StatusNotFound,
			"Not Found",
			err.Error(),
		)
	case errors.Is(err, review.ErrAlreadyDecided),
		errors.Is(err, review.ErrConcurrencyConflict),
		errors.Is(err, anchor.ErrNotCancellable):
		writeError(
			w,
			http.StatusConflict,
			"Conflict",
			err.Error(),
		)
	case errors.Is(err, auditchain.ErrChainCorrupted),
		errors.Is(err, auditchain.ErrScopeLockTimeout):
		writeError(
			w,
			http.StatusServiceUnavailable,
			"Service Unavailable",
			err.Error(),
		)
	default:
		s.logger.Error(message, "error", err)
		writeError(
			w,
			http.StatusInternalServerError,
			"Internal Server Error",
			message,
		)
	}
}

func decodeRequest(
	w http.ResponseWriter,
	r *http.Request,
	v any,
) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"Bad Request",
			"invalid JSON request body",
		)
		return false
	}
	return true
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(
		io.LimitReader(r.Body, maxRequestBodySize),
	)
}

func parseChannel(raw string) (models.BallotChannel, bool) {
	switch models.BallotChannel(strings.ToUpper(raw)) {
	case models.BallotChannelWeb, "":
		return models.BallotChannelWeb, true
	case models.BallotChannelAPI:
		return models.BallotChannelAPI, true
	case models.BallotChannelOffline:
		return models.BallotChannelOffline, true
	default:
		// Paper ballots enter through the review workflow, never here
		return "", false
	}
}

// reviewerID extracts the reviewer identity header, defaulting to the
// token role name
func reviewerID(r *http.Request) string {
	if id := r.Header.Get("X-Reviewer-Id"); id != "" {
		return id
	}
	return "reviewer"
}

func reviewResponse(rev *models.PaperBallotReview) ReviewResponse {
	var detections []review.Selection
	//nolint:errcheck
	json.Unmarshal([]byte(rev.Detections), &detections)
	return ReviewResponse{
		ID:                  rev.ID,
		ElectionID:          rev.ElectionID,
		Status:              string(rev.Status),
		Detections:          detections,
		AggregateConfidence: rev.AggregateConfidence,
		ScannerLocation:     rev.ScannerLocation,
		BatchID:             rev.BatchID,
		BallotID:            rev.BallotID,
		CreatedAt:           rev.CreatedAt,
		DecidedAt:           rev.DecidedAt,
	}
}

func parseSeqParam(
	w http.ResponseWriter,
	r *http.Request,
	name string,
) (uint64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	val, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"Bad Request",
			name+" must be a non-negative integer",
		)
		return 0, false
	}
	return val, true
}
