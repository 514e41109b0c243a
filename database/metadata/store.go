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

package metadata

import (
	"log/slog"
	"time"

	"github.com/openelect/balloteer/database/metadata/sqlite"
	"github.com/openelect/balloteer/database/models"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Store is the interface for metadata storage. Methods accept an optional
// transaction handle; passing nil operates on the base connection.
type Store interface {
	// Ballots
	AddBallot(ballot *models.Ballot, txn *gorm.DB) error
	GetBallot(id string, txn *gorm.DB) (*models.Ballot, error)
	GetBallotByCommitment(
		electionID string,
		commitmentHash string,
		txn *gorm.DB,
	) (*models.Ballot, error)
	SetBallotAnchor(
		id string,
		txID string,
		blockNumber uint64,
		anchoredAt time.Time,
		txn *gorm.DB,
	) error
	SetBallotStatus(id string, status models.BallotStatus, txn *gorm.DB) error

	// Audit chain
	GetAuditTail(scope string, txn *gorm.DB) (*models.AuditLogEntry, error)
	AddAuditEntry(entry *models.AuditLogEntry, txn *gorm.DB) error
	GetAuditEntries(
		scope string,
		fromSeq uint64,
		toSeq uint64,
		txn *gorm.DB,
	) ([]models.AuditLogEntry, error)

	// Paper ballot reviews
	AddReview(review *models.PaperBallotReview, txn *gorm.DB) error
	GetReview(id string, txn *gorm.DB) (*models.PaperBallotReview, error)
	ListReviews(
		electionID string,
		status models.ReviewStatus,
		limit int,
		txn *gorm.DB,
	) ([]models.PaperBallotReview, error)
	DecideReview(
		id string,
		fromVersion int,
		updates map[string]any,
		txn *gorm.DB,
	) (bool, error)

	// Anchor jobs
	AddAnchorJob(job *models.AnchorJob, txn *gorm.DB) (bool, error)
	GetAnchorJob(idempotencyKey string, txn *gorm.DB) (*models.AnchorJob, error)
	DueAnchorJobs(
		now time.Time,
		limit int,
		txn *gorm.DB,
	) ([]models.AnchorJob, error)
	UpdateAnchorJob(job *models.AnchorJob, txn *gorm.DB) error

	// Webhook events
	AddWebhookEvent(event *models.WebhookEvent, txn *gorm.DB) error
	UnprocessedWebhookEvents(
		limit int,
		txn *gorm.DB,
	) ([]models.WebhookEvent, error)
	SetWebhookEventProcessed(id string, txn *gorm.DB) error

	// Voters
	AddVoter(voter *models.Voter, txn *gorm.DB) error
	GetVoterByHash(
		electionID string,
		voterHash string,
		txn *gorm.DB,
	) (*models.Voter, error)
	SetVoterStatus(
		id string,
		status models.VoterStatus,
		verifiedAt *time.Time,
		txn *gorm.DB,
	) error

	// Elections
	AddElection(election *models.Election, txn *gorm.DB) error
	GetElection(id string, txn *gorm.DB) (*models.Election, error)
	ListElections(txn *gorm.DB) ([]models.Election, error)

	Transaction(fn func(txn *gorm.DB) error) error
	DB() *gorm.DB
	Close() error
}

// New creates a sqlite-backed metadata store. An empty dataDir selects an
// in-memory database, which is what the tests use.
func New(
	dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (Store, error) {
	return sqlite.New(dataDir, logger, promRegistry)
}
