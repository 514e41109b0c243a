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

// Package webhook validates inbound signed callbacks before they may
// transition voter state. Signatures are HMAC-SHA256 over
// timestamp + "." + body, compared in constant time; stale timestamps
// and replays within the tolerance window are rejected.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/openelect/balloteer/database/models"
)

const (
	// DefaultToleranceWindow bounds accepted timestamp skew
	DefaultToleranceWindow = 5 * time.Minute

	// replayCacheMaxEntries bounds the recent-events set
	replayCacheMaxEntries = 100000
)

// replayCache is a bounded, time-evicted set of recently seen
// (provider, timestamp, signature) tuples
type replayCache struct {
	seen       map[string]time.Time
	maxEntries int
	ttl        time.Duration
	mu         sync.Mutex
}

func newReplayCache(ttl time.Duration, maxEntries int) *replayCache {
	return &replayCache{
		seen:       make(map[string]time.Time),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// checkAndRecord returns true if the tuple was already seen within the
// TTL, recording it otherwise
func (r *replayCache) checkAndRecord(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, t := range r.seen {
		if now.Sub(t) > r.ttl {
			delete(r.seen, k)
		}
	}
	if _, ok := r.seen[key]; ok {
		return true
	}
	// At capacity the oldest tuple makes room; new tuples must always be
	// recorded or a full cache would stop catching replays
	if len(r.seen) >= r.maxEntries {
		var oldestKey string
		var oldestAt time.Time
		for k, t := range r.seen {
			if oldestKey == "" || t.Before(oldestAt) {
				oldestKey = k
				oldestAt = t
			}
		}
		delete(r.seen, oldestKey)
	}
	r.seen[key] = now
	return false
}

type VerifierConfig struct {
	Secret          []byte
	ToleranceWindow time.Duration
}

// Verifier validates webhook signatures and tracks replays
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	replays   *replayCache

	// now is swappable for tests
	now func() time.Time
}

func NewVerifier(cfg VerifierConfig) *Verifier {
	tolerance := cfg.ToleranceWindow
	if tolerance <= 0 {
		tolerance = DefaultToleranceWindow
	}
	return &Verifier{
		secret:    cfg.Secret,
		tolerance: tolerance,
		replays:   newReplayCache(tolerance, replayCacheMaxEntries),
		now:       time.Now,
	}
}

// Signature computes the expected signature for a timestamp and body
func (v *Verifier) Signature(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks an inbound callback. Outcome order: timestamp freshness,
// then signature, then replay; only a Valid outcome may drive a voter
// state transition.
func (v *Verifier) Verify(
	provider string,
	body []byte,
	declaredSignature string,
	declaredTimestamp string,
) models.WebhookOutcome {
	ts, err := strconv.ParseInt(declaredTimestamp, 10, 64)
	if err != nil {
		return models.WebhookOutcomeInvalidSignature
	}
	now := v.now()
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return models.WebhookOutcomeExpired
	}
	expected := v.Signature(declaredTimestamp, body)
	if !hmac.Equal([]byte(declaredSignature), []byte(expected)) {
		return models.WebhookOutcomeInvalidSignature
	}
	replayKey := provider + "|" + declaredTimestamp + "|" + declaredSignature
	if v.replays.checkAndRecord(replayKey, now) {
		return models.WebhookOutcomeReplayed
	}
	return models.WebhookOutcomeValid
}
