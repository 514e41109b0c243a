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

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "balloteer.config"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	DatabasePath     string `yaml:"databasePath"     split_words:"true"`
	BindAddr         string `yaml:"bindAddr"         split_words:"true"`
	ApiPort          uint   `yaml:"apiPort"          split_words:"true"`
	MasterKey        string `yaml:"masterKey"        envconfig:"BALLOTEER_MASTER_KEY"`
	WebhookSecret    string `yaml:"webhookSecret"    envconfig:"BALLOTEER_WEBHOOK_SECRET"`
	WebhookTolerance string `yaml:"webhookTolerance" split_words:"true"`
	AdminToken       string `yaml:"adminToken"       envconfig:"BALLOTEER_ADMIN_TOKEN"`
	ReviewerToken    string `yaml:"reviewerToken"    envconfig:"BALLOTEER_REVIEWER_TOKEN"`
	ShutdownTimeout  string `yaml:"shutdownTimeout"  split_words:"true"`
	MaxPayloadSize   int    `yaml:"maxPayloadSize"   split_words:"true"`

	// Anchoring gateway (empty URL = in-process mock ledger)
	AnchorGatewayUrl    string `yaml:"anchorGatewayUrl"    envconfig:"BALLOTEER_ANCHOR_GATEWAY_URL"`
	AnchorAuthToken     string `yaml:"anchorAuthToken"     envconfig:"BALLOTEER_ANCHOR_AUTH_TOKEN"`
	AnchorMaxAttempts   int    `yaml:"anchorMaxAttempts"   split_words:"true"`
	AnchorPollInterval  string `yaml:"anchorPollInterval"  split_words:"true"`
	AuditAnchorInterval string `yaml:"auditAnchorInterval" split_words:"true"`
}

// ApiListenAddress returns the bind address and port for the REST API
func (c *Config) ApiListenAddress() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.ApiPort)
}

// ParseDuration parses a duration config value, returning fallback for an
// empty string
func ParseDuration(
	value string,
	fallback time.Duration,
) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return parsed, nil
}

var globalConfig = &Config{
	DatabasePath:        ".balloteer",
	BindAddr:            "0.0.0.0",
	ApiPort:             8080,
	WebhookTolerance:    "5m",
	ShutdownTimeout:     "30s",
	MaxPayloadSize:      1048576,
	AnchorMaxAttempts:   10,
	AnchorPollInterval:  "10s",
	AuditAnchorInterval: "15m",
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.balloteer/balloteer.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".balloteer", "balloteer.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/balloteer/balloteer.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/balloteer/balloteer.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Overlay config values onto existing defaults
		if err := yaml.Unmarshal(buf, globalConfig); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	// Load config values from environment variables
	// We use "dummy" as the app name to (mostly) prevent picking up env
	// vars that we hadn't explicitly specified in annotations above
	if err := envconfig.Process("dummy", globalConfig); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	return globalConfig, nil
}

// GetConfig returns the global config instance
func GetConfig() *Config {
	return globalConfig
}
