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

package balloteer

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultAuditAnchorInterval = 15 * time.Minute
	DefaultShutdownTimeout     = 30 * time.Second
)

type Config struct {
	logger       *slog.Logger
	promRegistry *prometheus.Registry
	dataDir      string
	// API listen address (empty = disabled)
	apiListenAddress string
	adminToken       string
	reviewerToken    string
	// Payload encryption master key; election keys are derived from it
	masterKey []byte
	// Webhook signature verification
	webhookSecret    []byte
	webhookTolerance time.Duration
	// Anchoring gateway (empty URL = in-process mock ledger)
	anchorGatewayURL    string
	anchorAuthToken     string
	anchorMaxAttempts   int
	anchorPollInterval  time.Duration
	auditAnchorInterval time.Duration
	maxPayloadSize      int
	shutdownTimeout     time.Duration
}

func (n *Node) configValidate() error {
	if len(n.config.masterKey) == 0 {
		return errors.New("no master key configured")
	}
	if len(n.config.webhookSecret) == 0 {
		return errors.New("no webhook secret configured")
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new node config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:              slog.New(slog.NewJSONHandler(io.Discard, nil)),
		webhookTolerance:    0, // verifier applies its own default
		auditAnchorInterval: DefaultAuditAnchorInterval,
		shutdownTimeout:     DefaultShutdownTimeout,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithPrometheusRegistry specifies a prometheus registry for metrics
func WithPrometheusRegistry(registry *prometheus.Registry) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithApiListenAddress specifies the REST API listen address. Empty disables the API
func WithApiListenAddress(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.apiListenAddress = addr
	}
}

// WithAdminToken specifies the bearer token for audit and anchor routes
func WithAdminToken(token string) ConfigOptionFunc {
	return func(c *Config) {
		c.adminToken = token
	}
}

// WithReviewerToken specifies the bearer token for review routes
func WithReviewerToken(token string) ConfigOptionFunc {
	return func(c *Config) {
		c.reviewerToken = token
	}
}

// WithMasterKey specifies the payload encryption master key
func WithMasterKey(key []byte) ConfigOptionFunc {
	return func(c *Config) {
		c.masterKey = key
	}
}

// WithWebhookSecret specifies the shared secret for webhook signatures
func WithWebhookSecret(secret []byte) ConfigOptionFunc {
	return func(c *Config) {
		c.webhookSecret = secret
	}
}

// WithWebhookTolerance specifies the accepted webhook timestamp skew
func WithWebhookTolerance(tolerance time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.webhookTolerance = tolerance
	}
}

// WithAnchorGateway specifies the external ledger gateway. An empty URL
// selects the in-process mock ledger, which is what dev mode and the
// tests use
func WithAnchorGateway(url string, authToken string) ConfigOptionFunc {
	return func(c *Config) {
		c.anchorGatewayURL = url
		c.anchorAuthToken = authToken
	}
}

// WithAnchorMaxAttempts specifies the anchor retry budget
func WithAnchorMaxAttempts(attempts int) ConfigOptionFunc {
	return func(c *Config) {
		c.anchorMaxAttempts = attempts
	}
}

// WithAnchorPollInterval specifies how often the anchor queue is drained
func WithAnchorPollInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.anchorPollInterval = interval
	}
}

// WithAuditAnchorInterval specifies how often per-election audit chains
// are batch-anchored
func WithAuditAnchorInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.auditAnchorInterval = interval
	}
}

// WithMaxPayloadSize specifies the maximum encrypted ballot payload size
func WithMaxPayloadSize(size int) ConfigOptionFunc {
	return func(c *Config) {
		c.maxPayloadSize = size
	}
}

// WithShutdownTimeout specifies the graceful shutdown timeout
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
