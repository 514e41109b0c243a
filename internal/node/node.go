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

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/openelect/balloteer"
	"github.com/openelect/balloteer/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func Run(cfg *config.Config, logger *slog.Logger) error {
	if cfg.MasterKey == "" {
		return errors.New(
			"no master key configured (set BALLOTEER_MASTER_KEY)",
		)
	}
	if cfg.WebhookSecret == "" {
		return errors.New(
			"no webhook secret configured (set BALLOTEER_WEBHOOK_SECRET)",
		)
	}
	webhookTolerance, err := config.ParseDuration(cfg.WebhookTolerance, 0)
	if err != nil {
		return fmt.Errorf("invalid webhook tolerance: %w", err)
	}
	anchorPollInterval, err := config.ParseDuration(cfg.AnchorPollInterval, 0)
	if err != nil {
		return fmt.Errorf("invalid anchor poll interval: %w", err)
	}
	auditAnchorInterval, err := config.ParseDuration(
		cfg.AuditAnchorInterval,
		balloteer.DefaultAuditAnchorInterval,
	)
	if err != nil {
		return fmt.Errorf("invalid audit anchor interval: %w", err)
	}
	shutdownTimeout, err := config.ParseDuration(
		cfg.ShutdownTimeout,
		balloteer.DefaultShutdownTimeout,
	)
	if err != nil {
		return fmt.Errorf("invalid shutdown timeout: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	b, err := balloteer.New(
		balloteer.NewConfig(
			balloteer.WithLogger(logger),
			balloteer.WithDatabasePath(cfg.DatabasePath),
			balloteer.WithPrometheusRegistry(promRegistry),
			balloteer.WithApiListenAddress(cfg.ApiListenAddress()),
			balloteer.WithAdminToken(cfg.AdminToken),
			balloteer.WithReviewerToken(cfg.ReviewerToken),
			balloteer.WithMasterKey([]byte(cfg.MasterKey)),
			balloteer.WithWebhookSecret([]byte(cfg.WebhookSecret)),
			balloteer.WithWebhookTolerance(webhookTolerance),
			balloteer.WithAnchorGateway(
				cfg.AnchorGatewayUrl,
				cfg.AnchorAuthToken,
			),
			balloteer.WithAnchorMaxAttempts(cfg.AnchorMaxAttempts),
			balloteer.WithAnchorPollInterval(anchorPollInterval),
			balloteer.WithAuditAnchorInterval(auditAnchorInterval),
			balloteer.WithMaxPayloadSize(cfg.MaxPayloadSize),
			balloteer.WithShutdownTimeout(shutdownTimeout),
		),
	)
	if err != nil {
		return err
	}

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run node in goroutine
	errChan := make(chan error, 1)
	go func() {
		err := b.Run()
		select {
		case errChan <- err:
		case <-signalCtx.Done():
		}
	}()

	// Wait for signal or error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")
		if err := b.Stop(); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		return nil
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("node runtime error: %w", err)
		}
		return nil
	}
}
