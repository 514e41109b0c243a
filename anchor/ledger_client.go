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

package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// TxResult is the proof returned by the permissioned ledger for a
// committed transaction
type TxResult struct {
	TxID        string    `json:"txId"`
	BlockNumber uint64    `json:"blockNumber"`
	Timestamp   time.Time `json:"timestamp"`
}

// LedgerClient is the capability interface for the external permissioned
// ledger. Submit must be idempotent by key on the remote side; Query
// allows checking for an existing transaction before resubmitting. The
// implementation is selected at construction time, never via runtime
// feature detection.
type LedgerClient interface {
	Submit(ctx context.Context, key string, payload []byte) (*TxResult, error)
	Query(ctx context.Context, key string) (*TxResult, error)
}

// MockClient is an in-memory LedgerClient for development and testing. It
// deduplicates submissions by key the way the real ledger does.
type MockClient struct {
	entries     map[string]*TxResult
	submissions int
	blockNum    uint64
	mu          sync.Mutex
}

func NewMockClient() *MockClient {
	return &MockClient{
		entries: make(map[string]*TxResult),
	}
}

func (m *MockClient) Submit(
	_ context.Context,
	key string,
	payload []byte,
) (*TxResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions++
	if existing, ok := m.entries[key]; ok {
		return existing, nil
	}
	m.blockNum++
	sum := sha256.Sum256(append([]byte(key+":"), payload...))
	result := &TxResult{
		TxID:        hex.EncodeToString(sum[:]),
		BlockNumber: m.blockNum,
		Timestamp:   time.Now(),
	}
	m.entries[key] = result
	return result, nil
}

func (m *MockClient) Query(
	_ context.Context,
	key string,
) (*TxResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[key]; ok {
		ret := *existing
		return &ret, nil
	}
	return nil, nil
}

// Submissions returns the number of Submit calls made against the mock
func (m *MockClient) Submissions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submissions
}

// GatewayClientConfig configures the HTTP client for a ledger gateway
type GatewayClientConfig struct {
	BaseURL        string
	AuthToken      string
	RequestTimeout time.Duration
}

// GatewayClient talks to a permissioned-ledger REST gateway. Submissions
// use a bounded request timeout; a timeout is a transient failure, not a
// negative acknowledgment, so callers re-query by key before retrying.
type GatewayClient struct {
	client *resty.Client
}

func NewGatewayClient(cfg GatewayClientConfig) *GatewayClient {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.AuthToken != "" {
		client = client.SetAuthToken(cfg.AuthToken)
	}
	return &GatewayClient{client: client}
}

type gatewaySubmitRequest struct {
	Key     string `json:"key"`
	Payload string `json:"payload"`
}

func (g *GatewayClient) Submit(
	ctx context.Context,
	key string,
	payload []byte,
) (*TxResult, error) {
	var result TxResult
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(gatewaySubmitRequest{
			Key:     key,
			Payload: string(payload),
		}).
		SetResult(&result).
		Post("/transactions")
	if err != nil {
		return nil, fmt.Errorf("ledger submit failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf(
			"ledger submit failed: status %d: %s",
			resp.StatusCode(),
			resp.String(),
		)
	}
	return &result, nil
}

func (g *GatewayClient) Query(
	ctx context.Context,
	key string,
) (*TxResult, error) {
	var result TxResult
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/transactions/" + key)
	if err != nil {
		return nil, fmt.Errorf("ledger query failed: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf(
			"ledger query failed: status %d: %s",
			resp.StatusCode(),
			resp.String(),
		)
	}
	return &result, nil
}
