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

	"github.com/openelect/balloteer/database/models"
	"gorm.io/gorm"
)

// AddReview saves a new paper ballot review
func (d *MetadataStoreSqlite) AddReview(
	review *models.PaperBallotReview,
	txn *gorm.DB,
) error {
	db := d.db
	if txn != nil {
		db = txn
	}
	if result := db.Create(review); result.Error != nil {
		return fmt.Errorf("failed to create review: %w", result.Error)
	}
	return nil
}

// GetReview gets a review by ID, or nil if not found
func (d *MetadataStoreSqlite) GetReview(
	id string,
	txn *gorm.DB,
) (*models.PaperBallotReview, error) {
	db := d.db
	if txn != nil {
		db = txn
	}
	ret := &models.PaperBallotReview{}
	result := db.Where("id = ?", id).First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// ListReviews returns reviews for an election, optionally filtered by
// status, newest first
func (d *MetadataStoreSqlite) ListReviews(
	electionID string,
	status models.ReviewStatus,
	limit int,
	txn *gorm.DB,
) ([]models.PaperBallotReview, error) {
	db := d.db
	if txn != nil {
		db = txn
	}
	var ret []models.PaperBallotReview
	query := db.Where("election_id = ?", electionID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if result := query.Order("created_at DESC").Find(&ret); result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// DecideReview applies a decision with a compare-and-set on the review's
// version and non-terminal status. Returns false without error when no row
// matched, which means the review was already decided or updated by a
// concurrent writer.
func (d *MetadataStoreSqlite) DecideReview(
	id string,
	fromVersion int,
	updates map[string]any,
	txn *gorm.DB,
) (bool, error) {
	db := d.db
	if txn != nil {
		db = txn
	}
	updates["version"] = fromVersion + 1
	result := db.Model(&models.PaperBallotReview{}).
		Where(
			"id = ? AND version = ? AND status IN ?",
			id,
			fromVersion,
			[]models.ReviewStatus{
				models.ReviewStatusPendingReview,
				models.ReviewStatusQueuedForReview,
			},
		).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to decide review: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}
