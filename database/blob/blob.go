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

package blob

import (
	"errors"
	"log/slog"
)

// ErrKeyNotFound is returned when a blob key does not exist
var ErrKeyNotFound = errors.New("key not found")

// Store is the interface for blob storage. It holds encrypted ballot
// payloads, scanned ballot images, and raw webhook payloads keyed by
// opaque references stored in the metadata store.
type Store interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	Close() error
}

// New creates a badger-backed blob store. An empty dataDir selects an
// in-memory store.
func New(
	dataDir string,
	logger *slog.Logger,
) (Store, error) {
	return newBadgerStore(dataDir, logger)
}
