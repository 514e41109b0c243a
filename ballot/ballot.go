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

// Package ballot admits encrypted ballots: it computes the commitment,
// persists the record, appends the audit entry, and queues the anchor
// job. Submitters always get a definitive synchronous accept or reject;
// anchoring happens asynchronously afterwards.
package ballot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openelect/balloteer/anchor"
	"github.com/openelect/balloteer/auditchain"
	"github.com/openelect/balloteer/commitment"
	"github.com/openelect/balloteer/database/blob"
	"github.com/openelect/balloteer/database/metadata"
	"github.com/openelect/balloteer/database/models"
	"github.com/openelect/balloteer/event"
	"gorm.io/gorm"
)

// ErrElectionNotFound is returned when submitting against an unknown election
var ErrElectionNotFound = errors.New("election not found")

type ServiceConfig struct {
	Store    metadata.Store
	Blob     blob.Store
	Engine   *commitment.Engine
	Audit    *auditchain.Ledger
	Anchor   *anchor.Client
	EventBus *event.EventBus
	Logger   *slog.Logger
}

// Service handles ballot admission
type Service struct {
	store    metadata.Store
	blob     blob.Store
	engine   *commitment.Engine
	audit    *auditchain.Ledger
	anchor   *anchor.Client
	eventBus *event.EventBus
	logger   *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		logger = logger.With("component", "ballot")
	}
	return &Service{
		store:    cfg.Store,
		blob:     cfg.Blob,
		engine:   cfg.Engine,
		audit:    cfg.Audit,
		anchor:   cfg.Anchor,
		eventBus: cfg.EventBus,
		logger:   logger,
	}
}

type SubmitParams struct {
	ElectionID       string
	EncryptedPayload []byte
	Channel          models.BallotChannel
	ActorID          string
}

// Staged is a submission that has passed validation and carries its
// computed commitment, receipt, payload blob reference, and pending
// audit entry, but has not yet touched the metadata store.
type Staged struct {
	Ballot  *models.Ballot
	Receipt commitment.Receipt
	Entry   auditchain.Entry
}

// Stage validates a submission and computes everything admission needs:
// salt, commitment, receipt, payload blob, audit entry content. The
// metadata store is untouched; a staged ballot that never persists
// leaves behind only an unreferenced blob.
func (s *Service) Stage(params SubmitParams) (*Staged, error) {
	election, err := s.store.GetElection(params.ElectionID, nil)
	if err != nil {
		return nil, err
	}
	if election == nil {
		return nil, ErrElectionNotFound
	}
	salt, err := commitment.GenerateSalt()
	if err != nil {
		return nil, err
	}
	hash, err := s.engine.Commit(params.EncryptedPayload, salt)
	if err != nil {
		return nil, err
	}
	ballotID := "bal_" + uuid.NewString()
	receipt := commitment.GenerateReceipt(params.ElectionID, ballotID, hash)
	payloadRef := "ballot/payload/" + ballotID
	// The stored blob is salt followed by the encrypted payload, so the
	// commitment can be recomputed later by authorized auditors
	stored := make([]byte, 0, commitment.SaltSize+len(params.EncryptedPayload))
	stored = append(stored, salt[:]...)
	stored = append(stored, params.EncryptedPayload...)
	if err := s.blob.Put([]byte(payloadRef), stored); err != nil {
		return nil, fmt.Errorf(
			"failed to store ballot payload: %w",
			err,
		)
	}
	return &Staged{
		Ballot: &models.Ballot{
			ID:             ballotID,
			ElectionID:     params.ElectionID,
			Channel:        params.Channel,
			CommitmentHash: hash.String(),
			PayloadRef:     payloadRef,
			ReceiptCode:    receipt.Code,
			Status:         models.BallotStatusPending,
			SubmittedAt:    time.Now(),
		},
		Receipt: receipt,
		Entry: auditchain.Entry{
			Action:   "ballot.submitted",
			Resource: auditchain.ResourceRef{Type: "ballot", ID: ballotID},
			ActorID:  params.ActorID,
			Content: map[string]any{
				"commitmentHash": hash.String(),
				"channel":        string(params.Channel),
			},
		},
	}, nil
}

// Persist writes the staged ballot record inside the given transaction
func (s *Service) Persist(txn *gorm.DB, staged *Staged) error {
	return s.store.AddBallot(staged.Ballot, txn)
}

// Announce queues the anchor job and publishes the submitted event for
// a ballot whose record and audit entry have already committed
func (s *Service) Announce(ctx context.Context, staged *Staged) {
	b := staged.Ballot
	if err := s.anchor.EnqueueBallot(ctx, anchor.BallotPayload{
		BallotID:       b.ID,
		ElectionID:     b.ElectionID,
		CommitmentHash: b.CommitmentHash,
		SubmittedAt:    b.SubmittedAt.UTC().Format(time.RFC3339),
	}); err != nil {
		// Anchoring is a durability enhancement, not an admission gate.
		// The job can be re-enqueued by the batch scheduler.
		s.logger.Error(
			"failed to enqueue anchor job",
			"ballot_id", b.ID,
			"error", err,
		)
	}
	if s.eventBus != nil {
		s.eventBus.PublishAsync(
			event.BallotSubmittedEventType,
			event.NewEvent(
				event.BallotSubmittedEventType,
				event.BallotSubmittedEvent{
					BallotID:       b.ID,
					ElectionID:     b.ElectionID,
					CommitmentHash: b.CommitmentHash,
					Channel:        string(b.Channel),
				},
			),
		)
	}
	s.logger.Info(
		"ballot admitted",
		"ballot_id", b.ID,
		"election_id", b.ElectionID,
		"channel", b.Channel,
	)
}

// Submit admits a ballot: commitment, persistence, audit entry, anchor
// enqueue. The ballot record and its audit entry commit in a single
// transaction, so a rejected submission never leaves an admitted ballot
// behind. The salt lives only inside the payload blob record, never on
// any output surface.
func (s *Service) Submit(
	ctx context.Context,
	params SubmitParams,
) (*models.Ballot, commitment.Receipt, error) {
	staged, err := s.Stage(params)
	if err != nil {
		return nil, commitment.Receipt{}, err
	}
	if _, err := s.audit.AppendAtomic(
		ctx,
		params.ElectionID,
		[]auditchain.Entry{staged.Entry},
		func(txn *gorm.DB) error {
			return s.Persist(txn, staged)
		},
	); err != nil {
		return nil, commitment.Receipt{}, err
	}
	s.Announce(ctx, staged)
	return staged.Ballot, staged.Receipt, nil
}

// ReceiptStatus is the public view of a ballot's verification state. It
// carries no ballot contents and no voter identity.
type ReceiptStatus struct {
	Verified          bool
	Status            models.BallotStatus
	AnchorTxID        string
	AnchorBlockNumber uint64
	ConfirmedAt       *time.Time
	TalliedAt         *time.Time
}

// VerifyReceipt looks up a commitment hash within an election. An unknown
// hash yields Verified=false rather than an error, since the boundary is
// public and unauthenticated.
func (s *Service) VerifyReceipt(
	_ context.Context,
	electionID string,
	commitmentHash string,
) (ReceiptStatus, error) {
	ballot, err := s.store.GetBallotByCommitment(electionID, commitmentHash, nil)
	if err != nil {
		return ReceiptStatus{}, err
	}
	if ballot == nil {
		return ReceiptStatus{Verified: false}, nil
	}
	return ReceiptStatus{
		Verified:          true,
		Status:            ballot.Status,
		AnchorTxID:        ballot.AnchorTxID,
		AnchorBlockNumber: ballot.AnchorBlockNumber,
		ConfirmedAt:       ballot.ConfirmedAt,
		TalliedAt:         ballot.TalliedAt,
	}, nil
}
