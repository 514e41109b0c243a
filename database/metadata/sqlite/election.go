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

// AddElection saves a new election
func (d *MetadataStoreSqlite) AddElection(
	election *models.Election,
	txn *gorm.DB,
) error {
	db := d.db
	if txn != nil {
		db = txn
	}
	if result := db.Create(election); result.Error != nil {
		return fmt.Errorf("failed to create election: %w", result.Error)
	}
	return nil
}

// GetElection gets an election by ID, or nil if not found
func (d *MetadataStoreSqlite) GetElection(
	id string,
	txn *gorm.DB,
) (*models.Election, error) {
	db := d.db
	if txn != nil {
		db = txn
	}
	ret := &models.Election{}
	result := db.Where("id = ?", id).First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// ListElections returns all elections
func (d *MetadataStoreSqlite) ListElections(
	txn *gorm.DB,
) ([]models.Election, error) {
	db := d.db
	if txn != nil {
		db = txn
	}
	var ret []models.Election
	if result := db.Order("created_at ASC").Find(&ret); result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
