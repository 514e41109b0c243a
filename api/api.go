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

// Package api exposes the REST boundary: ballot submission, public
// receipt verification, the reviewer queue, webhook intake, and audit
// export. Ballot submission and receipt lookup are public; review and
// audit operations are gated by bearer tokens.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/openelect/balloteer/anchor"
	"github.com/openelect/balloteer/auditchain"
	"github.com/openelect/balloteer/ballot"
	"github.com/openelect/balloteer/review"
	"github.com/openelect/balloteer/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	ListenAddress string
	// AdminToken gates audit and anchor operations; ReviewerToken gates
	// the review queue. Empty tokens disable the corresponding routes.
	AdminToken    string
	ReviewerToken string
	PromRegistry  *prometheus.Registry
}

// Server is the REST API server
type Server struct {
	config     Config
	logger     *slog.Logger
	ballots    *ballot.Service
	reviews    *review.Workflow
	audit      *auditchain.Ledger
	anchors    *anchor.Client
	webhooks   *webhook.Processor
	httpServer *http.Server
	mu         sync.Mutex
}

func New(
	cfg Config,
	ballots *ballot.Service,
	reviews *review.Workflow,
	audit *auditchain.Ledger,
	anchors *anchor.Client,
	webhooks *webhook.Processor,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.New(
			slog.NewJSONHandler(io.Discard, nil),
		)
	}
	logger = logger.With("component", "api")
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	return &Server{
		config:   cfg,
		logger:   logger,
		ballots:  ballots,
		reviews:  reviews,
		audit:    audit,
		anchors:  anchors,
		webhooks: webhooks,
	}
}

// Start starts the HTTP server in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.config.PromRegistry != nil {
		mux.Handle(
			"GET /metrics",
			promhttp.HandlerFor(
				s.config.PromRegistry,
				promhttp.HandlerOpts{},
			),
		)
	}
	mux.HandleFunc(
		"POST /api/v1/ballots",
		s.handleSubmitBallot,
	)
	mux.HandleFunc(
		"GET /api/v1/receipts/{electionId}/{commitmentHash}",
		s.handleVerifyReceipt,
	)
	mux.HandleFunc(
		"GET /api/v1/reviews",
		s.requireToken(s.config.ReviewerToken, s.handleListReviews),
	)
	mux.HandleFunc(
		"GET /api/v1/reviews/{reviewId}",
		s.requireToken(s.config.ReviewerToken, s.handleGetReview),
	)
	mux.HandleFunc(
		"POST /api/v1/reviews/{reviewId}/decision",
		s.requireToken(s.config.ReviewerToken, s.handleDecideReview),
	)
	mux.HandleFunc(
		"POST /api/v1/paper/{electionId}/upload",
		s.requireToken(s.config.ReviewerToken, s.handlePaperUpload),
	)
	mux.HandleFunc(
		"POST /webhooks/{provider}",
		s.handleWebhook,
	)
	mux.HandleFunc(
		"GET /api/v1/audit/{scope}/verify",
		s.requireToken(s.config.AdminToken, s.handleAuditVerify),
	)
	mux.HandleFunc(
		"GET /api/v1/audit/{scope}/export",
		s.requireToken(s.config.AdminToken, s.handleAuditExport),
	)
	mux.HandleFunc(
		"GET /api/v1/anchors/{key}",
		s.requireToken(s.config.AdminToken, s.handleAnchorStatus),
	)
	mux.HandleFunc(
		"POST /api/v1/anchors/{key}/cancel",
		s.requireToken(s.config.AdminToken, s.handleAnchorCancel),
	)

	server := &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 60 * time.Second,
	}
	s.httpServer = server
	s.mu.Unlock()

	if err := s.startServer(server); err != nil {
		s.mu.Lock()
		s.httpServer = nil
		s.mu.Unlock()
		return err
	}

	s.logger.Info(
		"API listener started on " + s.config.ListenAddress,
	)

	// Monitor context for cancellation
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		srv := s.httpServer
		s.httpServer = nil
		s.mu.Unlock()

		if srv != nil {
			s.logger.Debug(
				"context cancelled, shutting down API server",
			)
			//nolint:contextcheck
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				30*time.Second,
			)
			defer cancel()
			//nolint:contextcheck
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.logger.Error(
					"failed to shutdown API server on context cancellation",
					"error", err,
				)
			}
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if srv != nil {
		s.logger.Debug("shutting down API server")
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf(
				"failed to shutdown API server: %w",
				err,
			)
		}
	}
	return nil
}

// startServer binds the listening socket first so port conflicts are
// detected immediately, then serves in a background goroutine.
func (s *Server) startServer(server *http.Server) error {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf(
			"failed to listen for API server: %w",
			err,
		)
	}
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(
				"API server error",
				"error", err,
			)
		}
	}()
	return nil
}
