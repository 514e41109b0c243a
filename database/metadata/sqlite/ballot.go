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

package sqlite

import (
	"errors"
	"fmt"
	"time"

	"github.com/openelect/balloteer/database/models"
	"gorm.io/gorm"
)

// AddBallot saves a new ballot
func (d *MetadataStoreSqlite) AddBallot(
	ballot *models.Ballot,
	txn *gorm.DB,
) error {
	db := d.db
	if txn != nil {
		db = txn
	}
	if result := db.Create(ballot); result.Error != nil {
		return fmt.Errorf("failed to create ballot: %w", result.Error)
	}
	return nil
}

// GetBallot gets a ballot by ID, or nil if not found
func (d *MetadataStoreSqlite) GetBallot(
	id string,
	txn *gorm.DB,
) (*models.Ballot, error) {
	db := d.db
	if txn != nil {
		db = txn
	}
	ret := &models.Ballot{}
	result := db.Where("id = ?", id).First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// GetBallotByCommitment looks up a ballot by its commitment hash within an
// election. Used by the public receipt verification boundary.
func (d *MetadataStoreSqlite) GetBallotByCommitment(
	electionID string,
	commitmentHash string,
	txn *gorm.DB,
) (*models.Ballot, error) {
	db := d.db
	if txn != nil {
		db = txn
	}
	ret := &models.Ballot{}
	result := db.
		Where("election_id = ? AND commitment_hash = ?", electionID, commitmentHash).
		First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// SetBallotAnchor records the anchoring proof on a ballot and advances its
// status to confirmed. Only anchor fields and status advance; the payload
// reference and commitment hash are never touched.
func (d *MetadataStoreSqlite) SetBallotAnchor(
	id string,
	txID string,
	blockNumber uint64,
	anchoredAt time.Time,
	txn *gorm.DB,
) error {
	db := d.db
	if txn != nil {
		db = txn
	}
	result := db.Model(&models.Ballot{}).
		Where("id = ? AND status = ?", id, models.BallotStatusPending).
		Updates(map[string]any{
			"anchor_tx_id":        txID,
			"anchor_block_number": blockNumber,
			"anchor_timestamp":    anchoredAt,
			"status":              models.BallotStatusConfirmed,
			"confirmed_at":        anchoredAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to set ballot anchor: %w", result.Error)
	}
	return nil
}

// SetBallotStatus updates a ballot's status
func (d *MetadataStoreSqlite) SetBallotStatus(
	id string,
	status models.BallotStatus,
	txn *gorm.DB,
) error {
	db := d.db
	if txn != nil {
		db = txn
	}
	updates := map[string]any{"status": status}
	if status == models.BallotStatusTallied {
		updates["tallied_at"] = time.Now()
	}
	result := db.Model(&models.Ballot{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to set ballot status: %w", result.Error)
	}
	return nil
}
