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
	"time"

	"github.com/openelect/balloteer/review"
)

// ErrorResponse is the uniform error body for every non-2xx response
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// RootResponse is returned from GET /
type RootResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

// HealthResponse is returned from GET /health
type HealthResponse struct {
	IsHealthy bool `json:"is_healthy"`
}

// SubmitBallotRequest carries an encrypted ballot payload. The payload is
// base64 in transit and opaque to the server beyond size checks.
type SubmitBallotRequest struct {
	ElectionID string `json:"election_id"`
	Payload    string `json:"payload"`
	Channel    string `json:"channel"`
}

// SubmitBallotResponse returns the voter receipt. No ballot contents, no
// voter identity, no salt.
type SubmitBallotResponse struct {
	BallotID       string `json:"ballot_id"`
	CommitmentHash string `json:"commitment_hash"`
	ReceiptCode    string `json:"receipt_code"`
	ReceiptURL     string `json:"receipt_url"`
	Status         string `json:"status"`
}

// ReceiptStatusResponse is the public verification view for a commitment
// hash
type ReceiptStatusResponse struct {
	Verified          bool       `json:"verified"`
	Status            string     `json:"status,omitempty"`
	AnchorTxID        string     `json:"anchor_tx_id,omitempty"`
	AnchorBlockNumber uint64     `json:"anchor_block_number,omitempty"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`
	TalliedAt         *time.Time `json:"tallied_at,omitempty"`
}

// ReviewResponse is a queue entry for reviewers
type ReviewResponse struct {
	ID                  string             `json:"id"`
	ElectionID          string             `json:"election_id"`
	Status              string             `json:"status"`
	Detections          []review.Selection `json:"detections"`
	AggregateConfidence float64            `json:"aggregate_confidence"`
	ScannerLocation     string             `json:"scanner_location,omitempty"`
	BatchID             string             `json:"batch_id,omitempty"`
	BallotID            string             `json:"ballot_id,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	DecidedAt           *time.Time         `json:"decided_at,omitempty"`
}

// DecisionRequest is a reviewer verdict on a queued review
type DecisionRequest struct {
	Action      string             `json:"action"`
	Corrections []review.Selection `json:"corrections,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

// DecisionResponse reports the terminal state reached
type DecisionResponse struct {
	ReviewID string `json:"review_id"`
	Status   string `json:"status"`
	BallotID string `json:"ballot_id,omitempty"`
}

// PaperUploadRequest carries a digitized paper ballot from a scanning
// station. Image is base64.
type PaperUploadRequest struct {
	Image               string             `json:"image,omitempty"`
	Selections          []review.Selection `json:"selections"`
	AggregateConfidence float64            `json:"aggregate_confidence"`
	ScannerLocation     string             `json:"scanner_location,omitempty"`
	BatchID             string             `json:"batch_id,omitempty"`
}

// PaperUploadResponse reports where the digitization was routed
type PaperUploadResponse struct {
	ReviewID string `json:"review_id"`
	Status   string `json:"status"`
	BallotID string `json:"ballot_id,omitempty"`
}

// WebhookResponse acknowledges a recorded callback
type WebhookResponse struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
}

// AuditVerifyResponse reports chain verification for a scope
type AuditVerifyResponse struct {
	Scope    string  `json:"scope"`
	Valid    bool    `json:"valid"`
	BrokenAt *uint64 `json:"broken_at,omitempty"`
}

// AuditEntryResponse is one exported chain link
type AuditEntryResponse struct {
	Sequence      uint64    `json:"sequence"`
	Action        string    `json:"action"`
	ResourceType  string    `json:"resource_type"`
	ResourceID    string    `json:"resource_id"`
	ActorID       string    `json:"actor_id,omitempty"`
	ContentDigest string    `json:"content_digest"`
	PrevDigest    string    `json:"prev_digest"`
	Digest        string    `json:"digest"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditExportResponse is the ordered chain segment for external
// recomputation
type AuditExportResponse struct {
	Scope   string               `json:"scope"`
	Entries []AuditEntryResponse `json:"entries"`
}

// AnchorStatusResponse reports the anchoring state for an idempotency key
type AnchorStatusResponse struct {
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
}
