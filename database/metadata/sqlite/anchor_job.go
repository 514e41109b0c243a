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

// AddAnchorJob saves a new anchor job. Returns false when a job with the
// same idempotency key already exists, making enqueue a no-op for
// duplicates.
func (d *MetadataStoreSqlite) AddAnchorJob(
	job *models.AnchorJob,
	txn *gorm.DB,
) (bool, error) {
	db := d.db
	if txn != nil {
		db = txn
	}
	existing := &models.AnchorJob{}
	result := db.
		Where("idempotency_key = ?", job.IdempotencyKey).
		First(existing)
	if result.Error == nil {
		return false, nil
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return false, result.Error
	}
	if result := db.Create(job); result.Error != nil {
		return false, fmt.Errorf("failed to create anchor job: %w", result.Error)
	}
	return true, nil
}

// GetAnchorJob gets a job by idempotency key, or nil if not found
func (d *MetadataStoreSqlite) GetAnchorJob(
	idempotencyKey string,
	txn *gorm.DB,
) (*models.AnchorJob, error) {
	db := d.db
	if txn != nil {
		db = txn
	}
	ret := &models.AnchorJob{}
	result := db.Where("idempotency_key = ?", idempotencyKey).First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// DueAnchorJobs returns queued jobs whose next attempt time has passed,
// oldest first
func (d *MetadataStoreSqlite) DueAnchorJobs(
	now time.Time,
	limit int,
	txn *gorm.DB,
) ([]models.AnchorJob, error) {
	db := d.db
	if txn != nil {
		db = txn
	}
	var ret []models.AnchorJob
	query := db.
		Where(
			"status IN ? AND next_attempt_at <= ?",
			[]models.AnchorJobStatus{
				models.AnchorJobStatusQueued,
				models.AnchorJobStatusSubmitted,
			},
			now,
		).
		Order("next_attempt_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if result := query.Find(&ret); result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// UpdateAnchorJob persists job progress (status, attempts, schedule,
// anchoring proof)
func (d *MetadataStoreSqlite) UpdateAnchorJob(
	job *models.AnchorJob,
	txn *gorm.DB,
) error {
	db := d.db
	if txn != nil {
		db = txn
	}
	if result := db.Save(job); result.Error != nil {
		return fmt.Errorf("failed to update anchor job: %w", result.Error)
	}
	return nil
}
