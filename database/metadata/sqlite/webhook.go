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
	"fmt"

	"github.com/openelect/balloteer/database/models"
	"gorm.io/gorm"
)

// AddWebhookEvent saves a webhook event with its verification outcome
func (d *MetadataStoreSqlite) AddWebhookEvent(
	event *models.WebhookEvent,
	txn *gorm.DB,
) error {
	db := d.db
	if txn != nil {
		db = txn
	}
	if result := db.Create(event); result.Error != nil {
		return fmt.Errorf("failed to create webhook event: %w", result.Error)
	}
	return nil
}

// UnprocessedWebhookEvents returns valid events whose voter transition has
// not yet been applied, oldest first. Used at startup to recover
// transitions that were durably enqueued but not processed before a crash.
func (d *MetadataStoreSqlite) UnprocessedWebhookEvents(
	limit int,
	txn *gorm.DB,
) ([]models.WebhookEvent, error) {
	db := d.db
	if txn != nil {
		db = txn
	}
	var ret []models.WebhookEvent
	query := db.
		Where("outcome = ? AND processed = ?", models.WebhookOutcomeValid, false).
		Order("received_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if result := query.Find(&ret); result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// SetWebhookEventProcessed marks an event's transition as applied
func (d *MetadataStoreSqlite) SetWebhookEventProcessed(
	id string,
	txn *gorm.DB,
) error {
	db := d.db
	if txn != nil {
		db = txn
	}
	result := db.Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("processed", true)
	if result.Error != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", result.Error)
	}
	return nil
}
