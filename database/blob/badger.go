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
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const (
	badgerGcInterval     = 5 * time.Minute
	badgerGcDiscardRatio = 0.5
)

// badgerStore is a badger-backed blob store
type badgerStore struct {
	db        *badger.DB
	logger    *slog.Logger
	gcTimer   *time.Timer
	gcTimerMu sync.Mutex
	closed    bool
}

func newBadgerStore(
	dataDir string,
	logger *slog.Logger,
) (*badgerStore, error) {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	badgerOpts := badger.DefaultOptions("").
		WithLogger(newBadgerLogger(logger)).
		WithCompactL0OnClose(true)
	if dataDir == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	} else {
		badgerOpts = badgerOpts.WithDir(filepath.Join(dataDir, "blob")).
			WithValueDir(filepath.Join(dataDir, "blob"))
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}
	b := &badgerStore{
		db:     db,
		logger: logger,
	}
	if dataDir != "" {
		b.scheduleGc()
	}
	return b, nil
}

// scheduleGc arranges periodic badger value log garbage collection
func (b *badgerStore) scheduleGc() {
	b.gcTimerMu.Lock()
	defer b.gcTimerMu.Unlock()
	if b.closed {
		return
	}
	b.gcTimer = time.AfterFunc(badgerGcInterval, func() {
		b.runGc()
		b.scheduleGc()
	})
}

func (b *badgerStore) runGc() {
	for {
		err := b.db.RunValueLogGC(badgerGcDiscardRatio)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) ||
				errors.Is(err, badger.ErrRejected) {
				break
			}
			b.logger.Error(
				"badger value log GC failure",
				"component", "database",
				"error", err,
			)
			break
		}
	}
}

func (b *badgerStore) Put(key []byte, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (b *badgerStore) Get(key []byte) ([]byte, error) {
	var ret []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}
		ret, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (b *badgerStore) Delete(key []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (b *badgerStore) Close() error {
	b.gcTimerMu.Lock()
	b.closed = true
	if b.gcTimer != nil {
		b.gcTimer.Stop()
	}
	b.gcTimerMu.Unlock()
	return b.db.Close()
}

// badgerLogger is a wrapper type to give our logger the expected interface
type badgerLogger struct {
	*slog.Logger
}

func newBadgerLogger(logger *slog.Logger) *badgerLogger {
	return &badgerLogger{Logger: logger}
}

func (b *badgerLogger) Infof(msg string, args ...any) {
	b.logf(b.Info, msg, args...)
}

func (b *badgerLogger) Warningf(msg string, args ...any) {
	b.logf(b.Warn, msg, args...)
}

func (b *badgerLogger) Debugf(msg string, args ...any) {
	b.logf(b.Debug, msg, args...)
}

func (b *badgerLogger) Errorf(msg string, args ...any) {
	b.logf(b.Error, msg, args...)
}

func (b *badgerLogger) logf(
	logFunc func(string, ...any),
	msg string,
	args ...any,
) {
	// badger uses printf-style logging, but slog expects a message string
	logFunc(strings.TrimSuffix(fmt.Sprintf(msg, args...), "\n"))
}
