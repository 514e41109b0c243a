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

// Package review implements the paper ballot review state machine. A
// confidence-scored digitization result is routed to auto-approval,
// auto-rejection, or a human review queue; a reviewer decision reaches
// exactly one terminal state, and approved or edited reviews materialize
// a ballot through the commitment engine.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openelect/balloteer/auditchain"
	"github.com/openelect/balloteer/ballot"
	"github.com/openelect/balloteer/commitment"
	"github.com/openelect/balloteer/database/blob"
	"github.com/openelect/balloteer/database/metadata"
	"github.com/openelect/balloteer/database/models"
	"github.com/openelect/balloteer/event"
	"gorm.io/gorm"
)

var (
	// ErrReviewNotFound is returned for an unknown review ID
	ErrReviewNotFound = errors.New("review not found")

	// ErrAlreadyDecided is returned when deciding a review that has
	// already reached a terminal state. Duplicate decision submissions
	// are no-ops.
	ErrAlreadyDecided = errors.New("review already decided")

	// ErrConcurrencyConflict is returned when the optimistic version
	// check failed against a concurrent writer; callers retry with
	// backoff
	ErrConcurrencyConflict = errors.New("review concurrently modified")

	// ErrNoSelections is returned when an approval would produce a
	// ballot with no selections
	ErrNoSelections = errors.New("no selections")

	// ErrNoCorrections is returned for an edit decision without a
	// correction set
	ErrNoCorrections = errors.New("edit decision requires corrections")
)

// errStaleDecision aborts the decision transaction when the
// compare-and-set found a newer version; mapped to ErrAlreadyDecided or
// ErrConcurrencyConflict after rollback
var errStaleDecision = errors.New("review version stale")

// Selection is a detected or corrected choice for a single contest
type Selection struct {
	ContestID  string  `json:"contestId"`
	OptionID   string  `json:"optionId"`
	Confidence float64 `json:"confidence,omitempty"`
}

// DigitizationResult is what the black-box scanner produces for one
// paper ballot
type DigitizationResult struct {
	Selections          []Selection
	AggregateConfidence float64
	ScannerLocation     string
	BatchID             string
}

// DecisionAction is a reviewer's verdict
type DecisionAction string

const (
	ActionApprove DecisionAction = "approve"
	ActionReject  DecisionAction = "reject"
	ActionEdit    DecisionAction = "edit"
)

// Decision is the outcome of a review transition
type Decision struct {
	Status   models.ReviewStatus
	BallotID string
}

type WorkflowConfig struct {
	Store     metadata.Store
	Blob      blob.Store
	Ballots   *ballot.Service
	Audit     *auditchain.Ledger
	EventBus  *event.EventBus
	Logger    *slog.Logger
	MasterKey []byte
}

// Workflow drives paper ballot reviews from ingestion to terminal state
type Workflow struct {
	store     metadata.Store
	blob      blob.Store
	ballots   *ballot.Service
	audit     *auditchain.Ledger
	eventBus  *event.EventBus
	logger    *slog.Logger
	masterKey []byte
}

func NewWorkflow(cfg WorkflowConfig) *Workflow {
	logger := cfg.Logger
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		logger = logger.With("component", "review")
	}
	return &Workflow{
		store:     cfg.Store,
		blob:      cfg.Blob,
		ballots:   cfg.Ballots,
		audit:     cfg.Audit,
		eventBus:  cfg.EventBus,
		logger:    logger,
		masterKey: cfg.MasterKey,
	}
}

// Ingest receives a digitization result, stores the scanned image, and
// routes the review. Auto-approval and auto-rejection each require the
// election to have explicitly enabled their threshold; otherwise
// everything queues for human review.
func (w *Workflow) Ingest(
	ctx context.Context,
	electionID string,
	image []byte,
	result DigitizationResult,
) (*models.PaperBallotReview, error) {
	election, err := w.store.GetElection(electionID, nil)
	if err != nil {
		return nil, err
	}
	if election == nil {
		return nil, ballot.ErrElectionNotFound
	}
	detections, err := json.Marshal(result.Selections)
	if err != nil {
		return nil, fmt.Errorf("failed to encode detections: %w", err)
	}
	reviewID := "rev_" + uuid.NewString()
	imageRef := ""
	if len(image) > 0 {
		imageRef = "review/image/" + reviewID
		if err := w.blob.Put([]byte(imageRef), image); err != nil {
			return nil, fmt.Errorf("failed to store ballot image: %w", err)
		}
	}
	rev := &models.PaperBallotReview{
		ID:                  reviewID,
		ElectionID:          electionID,
		ImageRef:            imageRef,
		Detections:          string(detections),
		AggregateConfidence: result.AggregateConfidence,
		Status:              models.ReviewStatusQueuedForReview,
		ScannerLocation:     result.ScannerLocation,
		BatchID:             result.BatchID,
		Version:             1,
		CreatedAt:           time.Now(),
	}
	disposition := Route(result.AggregateConfidence, Thresholds{
		AutoApprove: election.AutoApproveThreshold,
		Review:      election.ReviewThreshold,
	})
	var staged *ballot.Staged
	now := time.Now()
	switch disposition {
	case RouteAutoApprove:
		rev.Status = models.ReviewStatusAutoApproved
		rev.DecidedAt = &now
		staged, err = w.stageBallot(electionID, result.Selections)
		if err != nil {
			return nil, err
		}
		rev.BallotID = staged.Ballot.ID
	case RouteReject:
		rev.Status = models.ReviewStatusRejected
		rev.DecidedAt = &now
		rev.Reason = "aggregate confidence below review threshold"
	}
	entries := make([]auditchain.Entry, 0, 2)
	if staged != nil {
		entries = append(entries, staged.Entry)
	}
	entries = append(entries, auditchain.Entry{
		Action: "paper_ballot." + routeAction(disposition),
		Resource: auditchain.ResourceRef{
			Type: "paper_ballot_review",
			ID:   reviewID,
		},
		Content: map[string]any{
			"confidence":      result.AggregateConfidence,
			"selectionCount":  len(result.Selections),
			"selectionDigest": selectionDigest(result.Selections),
		},
	})
	// Review record, materialized ballot, and audit entries commit or
	// roll back together
	if _, err := w.audit.AppendAtomic(
		ctx,
		electionID,
		entries,
		func(txn *gorm.DB) error {
			if err := w.store.AddReview(rev, txn); err != nil {
				return err
			}
			if staged != nil {
				return w.ballots.Persist(txn, staged)
			}
			return nil
		},
	); err != nil {
		return nil, err
	}
	if staged != nil {
		w.ballots.Announce(ctx, staged)
	}
	w.logger.Info(
		"paper ballot ingested",
		"review_id", reviewID,
		"election_id", electionID,
		"confidence", result.AggregateConfidence,
		"route", disposition.String(),
	)
	return rev, nil
}

func routeAction(d Disposition) string {
	switch d {
	case RouteAutoApprove:
		return "auto_approved"
	case RouteReject:
		return "rejected"
	default:
		return "queued_for_review"
	}
}

// ListPending returns reviews awaiting a decision for an election
func (w *Workflow) ListPending(
	_ context.Context,
	electionID string,
	limit int,
) ([]models.PaperBallotReview, error) {
	return w.store.ListReviews(
		electionID,
		models.ReviewStatusQueuedForReview,
		limit,
		nil,
	)
}

// Get returns a single review
func (w *Workflow) Get(
	_ context.Context,
	reviewID string,
) (*models.PaperBallotReview, error) {
	rev, err := w.store.GetReview(reviewID, nil)
	if err != nil {
		return nil, err
	}
	if rev == nil {
		return nil, ErrReviewNotFound
	}
	return rev, nil
}

// Decide applies a reviewer decision with an atomic compare-and-set on
// the review's version and non-terminal status. Deciding an already
// terminal review returns ErrAlreadyDecided without producing another
// ballot or audit entry.
func (w *Workflow) Decide(
	ctx context.Context,
	reviewID string,
	reviewerID string,
	action DecisionAction,
	corrections []Selection,
	reason string,
) (*Decision, error) {
	rev, err := w.store.GetReview(reviewID, nil)
	if err != nil {
		return nil, err
	}
	if rev == nil {
		return nil, ErrReviewNotFound
	}
	if rev.Status.Terminal() {
		return nil, ErrAlreadyDecided
	}
	var newStatus models.ReviewStatus
	switch action {
	case ActionApprove:
		newStatus = models.ReviewStatusApproved
	case ActionReject:
		newStatus = models.ReviewStatusRejected
	case ActionEdit:
		if len(corrections) == 0 {
			return nil, ErrNoCorrections
		}
		newStatus = models.ReviewStatusEdited
	default:
		return nil, fmt.Errorf("unknown decision action: %s", action)
	}
	now := time.Now()
	updates := map[string]any{
		"status":      newStatus,
		"reviewer_id": reviewerID,
		"reason":      reason,
		"decided_at":  now,
	}
	if newStatus == models.ReviewStatusEdited {
		data, err := json.Marshal(corrections)
		if err != nil {
			return nil, fmt.Errorf("failed to encode corrections: %w", err)
		}
		updates["corrections"] = string(data)
	}
	decision := &Decision{Status: newStatus}
	var selections []Selection
	switch newStatus {
	case models.ReviewStatusApproved:
		if err := json.Unmarshal([]byte(rev.Detections), &selections); err != nil {
			return nil, fmt.Errorf("failed to decode detections: %w", err)
		}
	case models.ReviewStatusEdited:
		// Corrections override detected selections
		selections = corrections
	}
	var staged *ballot.Staged
	if len(selections) > 0 {
		// Staged before the compare-and-set commits, so a failure here
		// leaves the review undecided and the decision retryable
		staged, err = w.stageBallot(rev.ElectionID, selections)
		if err != nil {
			return nil, err
		}
		decision.BallotID = staged.Ballot.ID
		updates["ballot_id"] = staged.Ballot.ID
	}
	entries := make([]auditchain.Entry, 0, 2)
	if staged != nil {
		entries = append(entries, staged.Entry)
	}
	// The audit digest covers the decision content, never the raw image
	entries = append(entries, auditchain.Entry{
		Action: "paper_ballot." + string(action),
		Resource: auditchain.ResourceRef{
			Type: "paper_ballot_review",
			ID:   reviewID,
		},
		ActorID: reviewerID,
		Content: map[string]any{
			"status":          string(newStatus),
			"confidence":      rev.AggregateConfidence,
			"selectionDigest": selectionDigest(selections),
			"reason":          reason,
		},
	})
	// Decision, materialized ballot, and audit entries commit or roll
	// back together
	_, err = w.audit.AppendAtomic(
		ctx,
		rev.ElectionID,
		entries,
		func(txn *gorm.DB) error {
			applied, err := w.store.DecideReview(
				reviewID,
				rev.Version,
				updates,
				txn,
			)
			if err != nil {
				return err
			}
			if !applied {
				return errStaleDecision
			}
			if staged != nil {
				return w.ballots.Persist(txn, staged)
			}
			return nil
		},
	)
	if err != nil {
		if errors.Is(err, errStaleDecision) {
			// Either a duplicate submission landed first or another
			// reviewer raced us; distinguish by re-reading
			current, err := w.store.GetReview(reviewID, nil)
			if err != nil {
				return nil, err
			}
			if current != nil && current.Status.Terminal() {
				return nil, ErrAlreadyDecided
			}
			return nil, ErrConcurrencyConflict
		}
		return nil, err
	}
	if staged != nil {
		w.ballots.Announce(ctx, staged)
	}
	if w.eventBus != nil {
		w.eventBus.PublishAsync(
			event.ReviewDecidedEventType,
			event.NewEvent(
				event.ReviewDecidedEventType,
				event.ReviewDecidedEvent{
					ReviewID:   reviewID,
					ElectionID: rev.ElectionID,
					Status:     string(newStatus),
					BallotID:   decision.BallotID,
					ReviewerID: reviewerID,
				},
			),
		)
	}
	w.logger.Info(
		"paper ballot review decided",
		"review_id", reviewID,
		"status", newStatus,
		"reviewer_id", reviewerID,
	)
	return decision, nil
}

// stageBallot encrypts the selection set under the election key and
// stages it through the normal ballot admission path. The caller
// persists and announces it alongside the review writes.
func (w *Workflow) stageBallot(
	electionID string,
	selections []Selection,
) (*ballot.Staged, error) {
	if len(selections) == 0 {
		return nil, ErrNoSelections
	}
	// Strip confidence scores before encryption so the payload holds
	// only the choices
	plain := make([]Selection, len(selections))
	for i, sel := range selections {
		plain[i] = Selection{
			ContestID: sel.ContestID,
			OptionID:  sel.OptionID,
		}
	}
	plaintext, err := json.Marshal(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to encode selections: %w", err)
	}
	key := commitment.DeriveElectionKey(w.masterKey, electionID)
	encrypted, err := commitment.EncryptPayload(key, plaintext)
	if err != nil {
		return nil, err
	}
	return w.ballots.Stage(ballot.SubmitParams{
		ElectionID:       electionID,
		EncryptedPayload: encrypted,
		Channel:          models.BallotChannelPaper,
	})
}

func selectionDigest(selections []Selection) string {
	data, err := json.Marshal(selections)
	if err != nil {
		return ""
	}
	return commitment.DigestHex(data)
}
