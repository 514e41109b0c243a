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

// Package balloteer wires the ballot integrity subsystem together: the
// commitment engine, the hash-chain audit ledger, the anchoring client,
// the paper ballot review workflow, webhook intake, and the REST API.
package balloteer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openelect/balloteer/anchor"
	"github.com/openelect/balloteer/api"
	"github.com/openelect/balloteer/auditchain"
	"github.com/openelect/balloteer/ballot"
	"github.com/openelect/balloteer/commitment"
	"github.com/openelect/balloteer/database"
	"github.com/openelect/balloteer/event"
	"github.com/openelect/balloteer/review"
	"github.com/openelect/balloteer/webhook"
)

type Node struct {
	config       Config
	eventBus     *event.EventBus
	db           *database.Database
	audit        *auditchain.Ledger
	anchors      *anchor.Client
	ballots      *ballot.Service
	reviews      *review.Workflow
	webhooks     *webhook.Processor
	apiServer    *api.Server
	runCancel    context.CancelFunc
	wg           sync.WaitGroup
	done         chan struct{}
	shutdownOnce sync.Once
}

func New(cfg Config) (*Node, error) {
	n := &Node{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		done:     make(chan struct{}),
	}
	if err := n.configValidate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return n, nil
}

func (n *Node) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	n.runCancel = cancel
	// Load database
	db, err := database.New(&database.Config{
		DataDir:      n.config.dataDir,
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	// Audit chain ledger
	n.audit = auditchain.NewLedger(auditchain.LedgerConfig{
		Store:        db.Metadata(),
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
	})
	// Anchoring client against the external ledger
	var ledgerClient anchor.LedgerClient
	if n.config.anchorGatewayURL != "" {
		ledgerClient = anchor.NewGatewayClient(anchor.GatewayClientConfig{
			BaseURL:   n.config.anchorGatewayURL,
			AuthToken: n.config.anchorAuthToken,
		})
	} else {
		n.config.logger.Warn(
			"no anchor gateway configured, using in-process mock ledger",
		)
		ledgerClient = anchor.NewMockClient()
	}
	n.anchors = anchor.NewClient(anchor.ClientConfig{
		Store:        db.Metadata(),
		Ledger:       ledgerClient,
		AuditLedger:  n.audit,
		EventBus:     n.eventBus,
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		MaxAttempts:  n.config.anchorMaxAttempts,
		PollInterval: n.config.anchorPollInterval,
	})
	// Ballot admission
	n.ballots = ballot.NewService(ballot.ServiceConfig{
		Store:    db.Metadata(),
		Blob:     db.Blob(),
		Engine:   commitment.NewEngine(n.config.maxPayloadSize),
		Audit:    n.audit,
		Anchor:   n.anchors,
		EventBus: n.eventBus,
		Logger:   n.config.logger,
	})
	// Paper ballot review workflow
	n.reviews = review.NewWorkflow(review.WorkflowConfig{
		Store:     db.Metadata(),
		Blob:      db.Blob(),
		Ballots:   n.ballots,
		Audit:     n.audit,
		EventBus:  n.eventBus,
		Logger:    n.config.logger,
		MasterKey: n.config.masterKey,
	})
	// Webhook intake and voter transitions
	n.webhooks = webhook.NewProcessor(webhook.ProcessorConfig{
		Store: db.Metadata(),
		Blob:  db.Blob(),
		Verifier: webhook.NewVerifier(webhook.VerifierConfig{
			Secret:          n.config.webhookSecret,
			ToleranceWindow: n.config.webhookTolerance,
		}),
		Audit:    n.audit,
		EventBus: n.eventBus,
		Logger:   n.config.logger,
	})
	// Valid webhook events drive voter transitions off the event bus;
	// anything recorded before a crash is recovered below
	n.eventBus.SubscribeFunc(
		event.WebhookReceivedEventType,
		func(_ event.Event) {
			if err := n.webhooks.ProcessPending(ctx); err != nil &&
				!errors.Is(err, context.Canceled) {
				n.config.logger.Error(
					"webhook processing failure",
					"error", err,
				)
			}
		},
	)
	if err := n.webhooks.ProcessPending(ctx); err != nil {
		return fmt.Errorf("failed to recover pending webhook events: %w", err)
	}
	// Background anchoring
	n.anchors.Start(ctx)
	n.startAuditAnchorScheduler(ctx)
	// REST API
	if n.config.apiListenAddress != "" {
		n.apiServer = api.New(
			api.Config{
				ListenAddress: n.config.apiListenAddress,
				AdminToken:    n.config.adminToken,
				ReviewerToken: n.config.reviewerToken,
				PromRegistry:  n.config.promRegistry,
			},
			n.ballots,
			n.reviews,
			n.audit,
			n.anchors,
			n.webhooks,
			n.config.logger,
		)
		if err := n.apiServer.Start(ctx); err != nil {
			return err
		}
	}
	// Wait for shutdown signal
	<-n.done
	return nil
}

// startAuditAnchorScheduler periodically batch-anchors each election's
// audit chain. Unchanged chains produce no new anchor jobs.
func (n *Node) startAuditAnchorScheduler(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(n.config.auditAnchorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				elections, err := n.db.Metadata().ListElections(nil)
				if err != nil {
					n.config.logger.Error(
						"failed to list elections for audit anchoring",
						"error", err,
					)
					continue
				}
				for _, election := range elections {
					if err := n.anchors.EnqueueAuditBatch(
						ctx,
						election.ID,
					); err != nil && !errors.Is(err, context.Canceled) {
						n.config.logger.Error(
							"failed to enqueue audit batch",
							"election_id", election.ID,
							"error", err,
						)
					}
				}
			}
		}
	}()
}

// Ballots returns the ballot admission service
func (n *Node) Ballots() *ballot.Service {
	return n.ballots
}

// Reviews returns the paper ballot review workflow
func (n *Node) Reviews() *review.Workflow {
	return n.reviews
}

// AuditChain returns the hash-chain audit ledger
func (n *Node) AuditChain() *auditchain.Ledger {
	return n.audit
}

// Anchors returns the anchoring client
func (n *Node) Anchors() *anchor.Client {
	return n.anchors
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	shutdownTimeout := n.config.shutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting new work
	if n.apiServer != nil {
		if stopErr := n.apiServer.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("api shutdown: %w", stopErr))
		}
	}

	// Phase 2: Drain background work
	if n.runCancel != nil {
		n.runCancel()
	}
	if n.anchors != nil {
		n.anchors.Stop()
	}
	n.wg.Wait()
	n.eventBus.Stop()

	// Phase 3: Close storage
	if n.db != nil {
		if closeErr := n.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	close(n.done)
	return err
}
