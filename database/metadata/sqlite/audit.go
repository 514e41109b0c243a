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

// GetAuditTail returns the highest-sequence audit entry for a scope, or
// nil when the scope has no entries yet
func (d *MetadataStoreSqlite) GetAuditTail(
	scope string,
	txn *gorm.DB,
) (*models.AuditLogEntry, error) {
	db := d.db
	if txn != nil {
		db = txn
	}
	ret := &models.AuditLogEntry{}
	result := db.
		Where("scope = ?", scope).
		Order("sequence DESC").
		First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// AddAuditEntry persists a new audit chain entry. The unique index on
// (scope, sequence) rejects concurrent writers that lost the race for the
// same sequence number.
func (d *MetadataStoreSqlite) AddAuditEntry(
	entry *models.AuditLogEntry,
	txn *gorm.DB,
) error {
	db := d.db
	if txn != nil {
		db = txn
	}
	if result := db.Create(entry); result.Error != nil {
		return fmt.Errorf("failed to create audit entry: %w", result.Error)
	}
	return nil
}

// GetAuditEntries returns entries for a scope ordered by sequence. A toSeq
// of zero means no upper bound.
func (d *MetadataStoreSqlite) GetAuditEntries(
	scope string,
	fromSeq uint64,
	toSeq uint64,
	txn *gorm.DB,
) ([]models.AuditLogEntry, error) {
	db := d.db
	if txn != nil {
		db = txn
	}
	var ret []models.AuditLogEntry
	query := db.
		Where("scope = ? AND sequence >= ?", scope, fromSeq).
		Order("sequence ASC")
	if toSeq > 0 {
		query = query.Where("sequence <= ?", toSeq)
	}
	if result := query.Find(&ret); result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
