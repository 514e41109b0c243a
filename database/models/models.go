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

package models

import (
	"time"
)

// BallotStatus values advance monotonically: Pending -> Confirmed -> Tallied.
// Rejected is terminal from Pending.
type BallotStatus string

const (
	BallotStatusPending   BallotStatus = "PENDING"
	BallotStatusConfirmed BallotStatus = "CONFIRMED"
	BallotStatusTallied   BallotStatus = "TALLIED"
	BallotStatusRejected  BallotStatus = "REJECTED"
)

type BallotChannel string

const (
	BallotChannelWeb     BallotChannel = "WEB"
	BallotChannelPaper   BallotChannel = "PAPER"
	BallotChannelAPI     BallotChannel = "API"
	BallotChannelOffline BallotChannel = "OFFLINE"
)

// Ballot is an admitted ballot. The encrypted payload lives in the blob
// store under PayloadRef; only the commitment hash and receipt code are
// ever exposed to voters. Payload and commitment hash never change after
// the ballot is confirmed.
type Ballot struct {
	ID                string `gorm:"primarykey"`
	ElectionID        string `gorm:"index"`
	Channel           BallotChannel
	CommitmentHash    string `gorm:"uniqueIndex"`
	PayloadRef        string
	ReceiptCode       string
	Status            BallotStatus `gorm:"index"`
	SubmittedAt       time.Time
	ConfirmedAt       *time.Time
	TalliedAt         *time.Time
	AnchorTxID        string
	AnchorBlockNumber uint64
	AnchorTimestamp   *time.Time
}

func (Ballot) TableName() string {
	return "ballot"
}

// AuditLogEntry is one link in a per-scope hash chain. Digest covers
// ContentDigest and PrevDigest, so any retroactive edit or reordering
// breaks verification at the altered sequence.
type AuditLogEntry struct {
	ID            uint   `gorm:"primarykey"`
	Scope         string `gorm:"index:idx_audit_scope_seq,unique"`
	Sequence      uint64 `gorm:"index:idx_audit_scope_seq,unique"`
	Action        string
	ResourceType  string
	ResourceID    string
	ActorID       string
	ContentDigest string
	PrevDigest    string
	Digest        string
	CreatedAt     time.Time
}

func (AuditLogEntry) TableName() string {
	return "audit_log_entry"
}

type ReviewStatus string

const (
	ReviewStatusPendingReview   ReviewStatus = "PENDING_REVIEW"
	ReviewStatusQueuedForReview ReviewStatus = "QUEUED_FOR_REVIEW"
	ReviewStatusAutoApproved    ReviewStatus = "AUTO_APPROVED"
	ReviewStatusApproved        ReviewStatus = "APPROVED"
	ReviewStatusRejected        ReviewStatus = "REJECTED"
	ReviewStatusEdited          ReviewStatus = "EDITED"
)

// Terminal returns true once a review can no longer be transitioned
func (s ReviewStatus) Terminal() bool {
	switch s {
	case ReviewStatusAutoApproved,
		ReviewStatusApproved,
		ReviewStatusRejected,
		ReviewStatusEdited:
		return true
	default:
		return false
	}
}

// PaperBallotReview tracks a digitized paper ballot through confidence
// routing and human review. Version is bumped on every state change and
// used for the compare-and-set on decision transitions.
type PaperBallotReview struct {
	ID                  string `gorm:"primarykey"`
	ElectionID          string `gorm:"index"`
	BallotID            string
	ImageRef            string
	Detections          string // JSON-encoded per-contest selections with confidence
	AggregateConfidence float64
	Status              ReviewStatus `gorm:"index"`
	ReviewerID          string
	Reason              string
	Corrections         string // JSON-encoded contest -> corrected selection set
	ScannerLocation     string
	BatchID             string
	Version             int
	CreatedAt           time.Time
	DecidedAt           *time.Time
}

func (PaperBallotReview) TableName() string {
	return "paper_ballot_review"
}

type WebhookOutcome string

const (
	WebhookOutcomeValid            WebhookOutcome = "VALID"
	WebhookOutcomeInvalidSignature WebhookOutcome = "INVALID_SIGNATURE"
	WebhookOutcomeExpired          WebhookOutcome = "EXPIRED"
	WebhookOutcomeReplayed         WebhookOutcome = "REPLAYED"
)

// WebhookEvent records an inbound signed callback and its verification
// outcome. The row is never mutated after the outcome is recorded, except
// to flip Processed once the resulting voter transition has been applied.
type WebhookEvent struct {
	ID         string `gorm:"primarykey"`
	Provider   string `gorm:"index"`
	Signature  string
	Timestamp  string
	PayloadRef string
	Outcome    WebhookOutcome
	Processed  bool `gorm:"index"`
	ReceivedAt time.Time
}

func (WebhookEvent) TableName() string {
	return "webhook_event"
}

type AnchorJobStatus string

const (
	AnchorJobStatusQueued    AnchorJobStatus = "QUEUED"
	AnchorJobStatusSubmitted AnchorJobStatus = "SUBMITTED"
	AnchorJobStatusConfirmed AnchorJobStatus = "CONFIRMED"
	AnchorJobStatusFailed    AnchorJobStatus = "FAILED"
)

type AnchorJobKind string

const (
	AnchorJobKindBallot     AnchorJobKind = "BALLOT"
	AnchorJobKindAuditBatch AnchorJobKind = "AUDIT_BATCH"
)

// AnchorJob is a durable unit of work for the anchoring client. Attempt
// count and NextAttemptAt are persisted so the retry schedule survives
// process restarts.
type AnchorJob struct {
	ID             uint   `gorm:"primarykey"`
	IdempotencyKey string `gorm:"uniqueIndex"`
	Kind           AnchorJobKind
	Scope          string
	Payload        string // JSON-encoded anchor payload
	Status         AnchorJobStatus `gorm:"index"`
	Attempts       int
	LastError      string
	NextAttemptAt  time.Time `gorm:"index"`
	TxID           string
	BlockNumber    uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (AnchorJob) TableName() string {
	return "anchor_job"
}

type VoterStatus string

const (
	VoterStatusPending  VoterStatus = "PENDING"
	VoterStatusVerified VoterStatus = "VERIFIED"
	VoterStatusVoted    VoterStatus = "VOTED"
	VoterStatusRejected VoterStatus = "REJECTED"
)

// Voter holds only the hashed identity and verification status. There is
// deliberately no link from a voter to any ballot.
type Voter struct {
	ID         string `gorm:"primarykey"`
	ElectionID string `gorm:"index:idx_voter_election_hash,unique"`
	VoterHash  string `gorm:"index:idx_voter_election_hash,unique"`
	Status     VoterStatus
	VerifiedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Voter) TableName() string {
	return "voter"
}

// Election carries the review-routing configuration for an election.
// Thresholds are fixed once voting opens.
type Election struct {
	ID                   string `gorm:"primarykey"`
	Name                 string
	Status               string
	AutoApproveThreshold float64 // 0 disables auto-approval
	ReviewThreshold      float64 // below this is auto-rejected; 0 disables
	VotingOpensAt        *time.Time
	CreatedAt            time.Time
}

func (Election) TableName() string {
	return "election"
}
