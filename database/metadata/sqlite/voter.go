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

// AddVoter saves a new voter record
func (d *MetadataStoreSqlite) AddVoter(
	voter *models.Voter,
	txn *gorm.DB,
) error {
	db := d.db
	if txn != nil {
		db = txn
	}
	if result := db.Create(voter); result.Error != nil {
		return fmt.Errorf("failed to create voter: %w", result.Error)
	}
	return nil
}

// GetVoterByHash looks up a voter by hashed identity within an election,
// or nil if not found
func (d *MetadataStoreSqlite) GetVoterByHash(
	electionID string,
	voterHash string,
	txn *gorm.DB,
) (*models.Voter, error) {
	db := d.db
	if txn != nil {
		db = txn
	}
	ret := &models.Voter{}
	result := db.
		Where("election_id = ? AND voter_hash = ?", electionID, voterHash).
		First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// SetVoterStatus updates a voter's verification status
func (d *MetadataStoreSqlite) SetVoterStatus(
	id string,
	status models.VoterStatus,
	verifiedAt *time.Time,
	txn *gorm.DB,
) error {
	db := d.db
	if txn != nil {
		db = txn
	}
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now(),
	}
	if verifiedAt != nil {
		updates["verified_at"] = verifiedAt
	}
	result := db.Model(&models.Voter{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to set voter status: %w", result.Error)
	}
	return nil
}
