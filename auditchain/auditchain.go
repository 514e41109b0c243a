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

// Package auditchain implements the append-only, per-scope hash-chained
// audit ledger. Each entry's digest covers its content digest and the
// previous entry's digest, so any retroactive edit or reordering is
// detectable by recomputation from sequence zero.
package auditchain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/openelect/balloteer/database/metadata"
	"github.com/openelect/balloteer/database/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

var (
	// ErrScopeLockTimeout is returned when the per-scope lock could not be
	// acquired before the context deadline
	ErrScopeLockTimeout = errors.New("scope lock timeout")

	// ErrChainCorrupted is returned when verification has failed for a
	// scope. Further appends to that scope are refused until an operator
	// resets it; corruption is never auto-repaired.
	ErrChainCorrupted = errors.New("audit chain corrupted")
)

// ResourceRef identifies the resource an audit entry is about
type ResourceRef struct {
	Type string
	ID   string
}

// Entry describes an entry to append. Sequence numbers, digests, and
// chain linkage are assigned by the ledger at append time.
type Entry struct {
	Content  map[string]any
	Action   string
	ActorID  string
	Resource ResourceRef
}

// VerifyResult reports chain verification. BrokenAt is the first sequence
// number whose recomputed digest did not match, nil when the chain is
// intact.
type VerifyResult struct {
	Valid    bool
	BrokenAt *uint64
}

// scopeState holds the lock and halt flag for a single scope. The lock is
// a buffered channel so acquisition can respect context cancellation.
type scopeState struct {
	lock   chan struct{}
	halted bool
	mu     sync.Mutex
}

func newScopeState() *scopeState {
	s := &scopeState{
		lock: make(chan struct{}, 1),
	}
	s.lock <- struct{}{}
	return s
}

type ledgerMetrics struct {
	appendsTotal   *prometheus.CounterVec
	verifyFailures prometheus.Counter
	haltedScopes   prometheus.Gauge
}

type LedgerConfig struct {
	Store        metadata.Store
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
}

// Ledger is the hash-chain audit ledger. Appends within a scope serialize
// on a per-scope lock; appends to distinct scopes proceed concurrently.
type Ledger struct {
	store   metadata.Store
	logger  *slog.Logger
	metrics *ledgerMetrics
	scopes  map[string]*scopeState
	mu      sync.Mutex
}

func NewLedger(cfg LedgerConfig) *Ledger {
	logger := cfg.Logger
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		logger = logger.With("component", "auditchain")
	}
	l := &Ledger{
		store:  cfg.Store,
		logger: logger,
		scopes: make(map[string]*scopeState),
	}
	if cfg.PromRegistry != nil {
		promautoFactory := promauto.With(cfg.PromRegistry)
		l.metrics = &ledgerMetrics{
			appendsTotal: promautoFactory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "balloteer_auditchain_appends_total",
					Help: "total audit entries appended per scope",
				},
				[]string{"scope"},
			),
			verifyFailures: promautoFactory.NewCounter(
				prometheus.CounterOpts{
					Name: "balloteer_auditchain_verify_failures_total",
					Help: "total chain verification failures",
				},
			),
			haltedScopes: promautoFactory.NewGauge(
				prometheus.GaugeOpts{
					Name: "balloteer_auditchain_halted_scopes",
					Help: "scopes halted due to detected corruption",
				},
			),
		}
	}
	return l
}

func (l *Ledger) scopeState(scope string) *scopeState {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.scopes[scope]
	if !ok {
		s = newScopeState()
		l.scopes[scope] = s
	}
	return s
}

// contentDigest hashes the canonical JSON encoding of the entry content.
// encoding/json sorts map keys, which gives us a stable encoding.
func contentDigest(content map[string]any) (string, error) {
	if content == nil {
		content = map[string]any{}
	}
	data, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to encode audit content: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// entryDigest chains the content digest to the previous entry's digest
func entryDigest(contentDigest string, prevDigest string) string {
	sum := sha256.Sum256([]byte(contentDigest + prevDigest))
	return hex.EncodeToString(sum[:])
}

// Append adds a single entry to the scope's chain. The read-tail,
// compute, persist sequence runs under the scope's exclusive lock; the
// critical section contains no network I/O. Lock acquisition honors the
// context deadline and fails with ErrScopeLockTimeout under contention.
func (l *Ledger) Append(
	ctx context.Context,
	scope string,
	action string,
	resource ResourceRef,
	actorID string,
	content map[string]any,
) (*models.AuditLogEntry, error) {
	entries, err := l.AppendAtomic(ctx, scope, []Entry{{
		Action:   action,
		Resource: resource,
		ActorID:  actorID,
		Content:  content,
	}}, nil)
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// AppendAtomic adds entries to the scope's chain and runs fn inside the
// same metadata transaction, so domain writes commit or roll back
// together with their audit entries. An error from fn aborts the whole
// append and is returned unwrapped. The scope lock is always taken
// before the transaction opens; callers must not hold a transaction
// when calling in, or two appenders can deadlock against the single
// database writer.
func (l *Ledger) AppendAtomic(
	ctx context.Context,
	scope string,
	entries []Entry,
	fn func(txn *gorm.DB) error,
) ([]*models.AuditLogEntry, error) {
	if len(entries) == 0 {
		return nil, errors.New("no audit entries to append")
	}
	s := l.scopeState(scope)
	select {
	case <-s.lock:
	case <-ctx.Done():
		return nil, ErrScopeLockTimeout
	}
	defer func() {
		s.lock <- struct{}{}
	}()
	s.mu.Lock()
	halted := s.halted
	s.mu.Unlock()
	if halted {
		return nil, ErrChainCorrupted
	}
	appended := make([]*models.AuditLogEntry, 0, len(entries))
	err := l.store.Transaction(func(txn *gorm.DB) error {
		if fn != nil {
			if err := fn(txn); err != nil {
				return err
			}
		}
		tail, err := l.store.GetAuditTail(scope, txn)
		if err != nil {
			return fmt.Errorf("failed to read chain tail: %w", err)
		}
		var sequence uint64
		prevDigest := ""
		if tail != nil {
			sequence = tail.Sequence + 1
			prevDigest = tail.Digest
		}
		for _, in := range entries {
			cDigest, err := contentDigest(in.Content)
			if err != nil {
				return err
			}
			entry := &models.AuditLogEntry{
				Scope:         scope,
				Sequence:      sequence,
				Action:        in.Action,
				ResourceType:  in.Resource.Type,
				ResourceID:    in.Resource.ID,
				ActorID:       in.ActorID,
				ContentDigest: cDigest,
				PrevDigest:    prevDigest,
				Digest:        entryDigest(cDigest, prevDigest),
				CreatedAt:     time.Now(),
			}
			if err := l.store.AddAuditEntry(entry, txn); err != nil {
				return err
			}
			appended = append(appended, entry)
			sequence++
			prevDigest = entry.Digest
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, entry := range appended {
		if l.metrics != nil {
			l.metrics.appendsTotal.WithLabelValues(scope).Inc()
		}
		l.logger.Debug(
			"audit entry appended",
			"scope", scope,
			"sequence", entry.Sequence,
			"action", entry.Action,
		)
	}
	return appended, nil
}

// Verify recomputes the chain for a scope from sequence zero. On the
// first mismatch it records the broken sequence, halts further appends to
// the scope, and raises the verify failure metric. Corruption is surfaced
// to operators, never repaired here.
func (l *Ledger) Verify(
	ctx context.Context,
	scope string,
) (VerifyResult, error) {
	entries, err := l.store.GetAuditEntries(scope, 0, 0, nil)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("failed to read chain: %w", err)
	}
	prevDigest := ""
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return VerifyResult{}, err
		}
		e := &entries[i]
		expectSeq := uint64(i)
		if e.Sequence != expectSeq ||
			e.PrevDigest != prevDigest ||
			e.Digest != entryDigest(e.ContentDigest, e.PrevDigest) {
			broken := expectSeq
			l.haltScope(scope)
			if l.metrics != nil {
				l.metrics.verifyFailures.Inc()
			}
			l.logger.Error(
				"audit chain verification failed",
				"scope", scope,
				"broken_at", broken,
			)
			return VerifyResult{Valid: false, BrokenAt: &broken}, nil
		}
		prevDigest = e.Digest
	}
	return VerifyResult{Valid: true}, nil
}

// Export returns the ordered entries for a scope so a third party can
// recompute the chain independently. A toSeq of zero means no upper bound.
func (l *Ledger) Export(
	ctx context.Context,
	scope string,
	fromSeq uint64,
	toSeq uint64,
) ([]models.AuditLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.store.GetAuditEntries(scope, fromSeq, toSeq, nil)
}

// haltScope refuses further appends to the scope until ResetScope
func (l *Ledger) haltScope(scope string) {
	s := l.scopeState(scope)
	s.mu.Lock()
	wasHalted := s.halted
	s.halted = true
	s.mu.Unlock()
	if !wasHalted && l.metrics != nil {
		l.metrics.haltedScopes.Inc()
	}
}

// ResetScope clears a scope's halt flag after manual remediation
func (l *Ledger) ResetScope(scope string) {
	s := l.scopeState(scope)
	s.mu.Lock()
	wasHalted := s.halted
	s.halted = false
	s.mu.Unlock()
	if wasHalted && l.metrics != nil {
		l.metrics.haltedScopes.Dec()
	}
}

// BatchRoot computes a merkle root over entry digests for audit batch
// anchoring. An odd count duplicates the final leaf.
func BatchRoot(entries []models.AuditLogEntry) string {
	if len(entries) == 0 {
		return ""
	}
	hashes := make([]string, 0, len(entries))
	for _, e := range entries {
		hashes = append(hashes, e.Digest)
	}
	for len(hashes) > 1 {
		if len(hashes)%2 == 1 {
			hashes = append(hashes, hashes[len(hashes)-1])
		}
		next := make([]string, 0, len(hashes)/2)
		for i := 0; i < len(hashes); i += 2 {
			sum := sha256.Sum256([]byte(hashes[i] + hashes[i+1]))
			next = append(next, hex.EncodeToString(sum[:]))
		}
		hashes = next
	}
	return hashes[0]
}
