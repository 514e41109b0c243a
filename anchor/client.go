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

// Package anchor durably records ballot commitments and audit batches on
// an external permissioned ledger. Delivery is at-least-once; the
// idempotency key and a query-before-submit check give exactly-once
// logical effect. Anchoring failure never blocks ballot admission to
// tally.
package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openelect/balloteer/auditchain"
	"github.com/openelect/balloteer/database/metadata"
	"github.com/openelect/balloteer/database/models"
	"github.com/openelect/balloteer/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultMaxAttempts    = 10
	DefaultInitialBackoff = 5 * time.Second
	DefaultMaxBackoff     = 10 * time.Minute
	DefaultParallelism    = 4
	DefaultPollInterval   = 10 * time.Second
	defaultClaimBatchSize = 50
)

var (
	// ErrJobNotFound is returned when no job exists for an idempotency key
	ErrJobNotFound = errors.New("anchor job not found")

	// ErrNotCancellable is returned when cancelling a job that has already
	// been submitted or reached a terminal state
	ErrNotCancellable = errors.New("anchor job not cancellable")
)

type clientMetrics struct {
	jobsConfirmed prometheus.Counter
	jobsFailed    prometheus.Counter
	submissions   prometheus.Counter
	retries       prometheus.Counter
}

type ClientConfig struct {
	Store          metadata.Store
	Ledger         LedgerClient
	AuditLedger    *auditchain.Ledger
	EventBus       *event.EventBus
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Parallelism    int
	PollInterval   time.Duration
}

// Client owns the anchor job queue. Queue processing runs with bounded
// parallelism across distinct idempotency keys; work on the same key is
// serialized by a per-key lock so duplicate network calls cannot race.
type Client struct {
	config   ClientConfig
	store    metadata.Store
	ledger   LedgerClient
	audit    *auditchain.Ledger
	eventBus *event.EventBus
	logger   *slog.Logger
	metrics  *clientMetrics
	keyLocks sync.Map // idempotency key -> *sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		logger = logger.With("component", "anchor")
	}
	c := &Client{
		config:   cfg,
		store:    cfg.Store,
		ledger:   cfg.Ledger,
		audit:    cfg.AuditLedger,
		eventBus: cfg.EventBus,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	if cfg.PromRegistry != nil {
		promautoFactory := promauto.With(cfg.PromRegistry)
		c.metrics = &clientMetrics{
			jobsConfirmed: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "balloteer_anchor_jobs_confirmed_total",
				Help: "anchor jobs confirmed on the ledger",
			}),
			jobsFailed: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "balloteer_anchor_jobs_failed_total",
				Help: "anchor jobs that exhausted their retry budget",
			}),
			submissions: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "balloteer_anchor_submissions_total",
				Help: "ledger submission attempts",
			}),
			retries: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "balloteer_anchor_retries_total",
				Help: "anchor job retries scheduled",
			}),
		}
	}
	return c
}

// BallotPayload is the anchor payload for a single ballot commitment
type BallotPayload struct {
	BallotID       string `json:"ballotId"`
	ElectionID     string `json:"electionId"`
	CommitmentHash string `json:"commitmentHash"`
	SubmittedAt    string `json:"submittedAt"`
}

// AuditBatchPayload is the anchor payload for a batch of audit entries
type AuditBatchPayload struct {
	Scope      string `json:"scope"`
	MerkleRoot string `json:"merkleRoot"`
	FromSeq    uint64 `json:"fromSeq"`
	ToSeq      uint64 `json:"toSeq"`
	EntryCount int    `json:"entryCount"`
}

// BallotKey derives the idempotency key for a ballot anchor job
func BallotKey(ballotID string) string {
	return "ballot:" + ballotID
}

// AuditBatchKey derives the idempotency key for an audit batch anchor
// job. Keyed by chain tail, so re-anchoring an unchanged chain is a no-op.
func AuditBatchKey(scope string, toSeq uint64) string {
	return fmt.Sprintf("audit:%s:%d", scope, toSeq)
}

// EnqueueBallot queues a ballot commitment for anchoring. Idempotent by
// key: re-enqueuing an existing key is a no-op.
func (c *Client) EnqueueBallot(
	ctx context.Context,
	payload BallotPayload,
) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode anchor payload: %w", err)
	}
	return c.enqueue(ctx, &models.AnchorJob{
		IdempotencyKey: BallotKey(payload.BallotID),
		Kind:           models.AnchorJobKindBallot,
		Scope:          payload.ElectionID,
		Payload:        string(data),
		Status:         models.AnchorJobStatusQueued,
		NextAttemptAt:  time.Now(),
		CreatedAt:      time.Now(),
	})
}

// EnqueueAuditBatch computes the merkle root over the scope's current
// chain and queues it for anchoring. Chaining the batch key to the tail
// sequence makes repeated calls on an unchanged chain no-ops.
func (c *Client) EnqueueAuditBatch(
	ctx context.Context,
	scope string,
) error {
	entries, err := c.audit.Export(ctx, scope, 0, 0)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	toSeq := entries[len(entries)-1].Sequence
	payload := AuditBatchPayload{
		Scope:      scope,
		MerkleRoot: auditchain.BatchRoot(entries),
		FromSeq:    entries[0].Sequence,
		ToSeq:      toSeq,
		EntryCount: len(entries),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode anchor payload: %w", err)
	}
	return c.enqueue(ctx, &models.AnchorJob{
		IdempotencyKey: AuditBatchKey(scope, toSeq),
		Kind:           models.AnchorJobKindAuditBatch,
		Scope:          scope,
		Payload:        string(data),
		Status:         models.AnchorJobStatusQueued,
		NextAttemptAt:  time.Now(),
		CreatedAt:      time.Now(),
	})
}

func (c *Client) enqueue(_ context.Context, job *models.AnchorJob) error {
	created, err := c.store.AddAnchorJob(job, nil)
	if err != nil {
		return err
	}
	if !created {
		c.logger.Debug(
			"anchor job already queued",
			"key", job.IdempotencyKey,
		)
	}
	return nil
}

// Status returns the current status of the job for an idempotency key
func (c *Client) Status(
	_ context.Context,
	idempotencyKey string,
) (models.AnchorJobStatus, error) {
	job, err := c.store.GetAnchorJob(idempotencyKey, nil)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", ErrJobNotFound
	}
	return job.Status, nil
}

// Cancel aborts a job that has not yet been submitted. Once a submission
// is in flight the remote side is not guaranteed cancellable, so the
// client awaits the ledger's response instead.
func (c *Client) Cancel(
	_ context.Context,
	idempotencyKey string,
) error {
	lock := c.keyLock(idempotencyKey)
	lock.Lock()
	defer lock.Unlock()
	job, err := c.store.GetAnchorJob(idempotencyKey, nil)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	if job.Status != models.AnchorJobStatusQueued {
		return ErrNotCancellable
	}
	job.Status = models.AnchorJobStatusFailed
	job.LastError = "cancelled by operator"
	return c.store.UpdateAnchorJob(job, nil)
}

// ProcessQueue claims due jobs and processes them with bounded
// parallelism. Invoked by the background scheduler, but safe to call
// directly.
func (c *Client) ProcessQueue(ctx context.Context) error {
	jobs, err := c.store.DueAnchorJobs(time.Now(), defaultClaimBatchSize, nil)
	if err != nil {
		return fmt.Errorf("failed to claim anchor jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}
	sem := make(chan struct{}, c.config.Parallelism)
	var wg sync.WaitGroup
	for i := range jobs {
		job := jobs[i]
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.processJob(ctx, job.IdempotencyKey)
		}()
	}
	wg.Wait()
	return nil
}

func (c *Client) keyLock(key string) *sync.Mutex {
	lock, _ := c.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// processJob drives a single job towards a terminal state under its key
// lock. The ledger is queried by key before submitting so a retry after a
// timed-out submission cannot produce a duplicate transaction.
func (c *Client) processJob(ctx context.Context, idempotencyKey string) {
	lock := c.keyLock(idempotencyKey)
	lock.Lock()
	defer lock.Unlock()
	job, err := c.store.GetAnchorJob(idempotencyKey, nil)
	if err != nil {
		c.logger.Error(
			"failed to load anchor job",
			"key", idempotencyKey,
			"error", err,
		)
		return
	}
	if job == nil {
		return
	}
	switch job.Status {
	case models.AnchorJobStatusConfirmed, models.AnchorJobStatusFailed:
		return
	}
	// Check ledger state by key before (re)submitting
	existing, err := c.ledger.Query(ctx, job.IdempotencyKey)
	if err != nil {
		c.recordFailure(ctx, job, err)
		return
	}
	if existing != nil {
		c.confirm(ctx, job, existing)
		return
	}
	job.Status = models.AnchorJobStatusSubmitted
	if err := c.store.UpdateAnchorJob(job, nil); err != nil {
		c.logger.Error(
			"failed to mark anchor job submitted",
			"key", job.IdempotencyKey,
			"error", err,
		)
		return
	}
	if c.metrics != nil {
		c.metrics.submissions.Inc()
	}
	result, err := c.ledger.Submit(ctx, job.IdempotencyKey, []byte(job.Payload))
	if err != nil {
		c.recordFailure(ctx, job, err)
		return
	}
	c.confirm(ctx, job, result)
}

func (c *Client) confirm(
	ctx context.Context,
	job *models.AnchorJob,
	result *TxResult,
) {
	job.Status = models.AnchorJobStatusConfirmed
	job.TxID = result.TxID
	job.BlockNumber = result.BlockNumber
	job.LastError = ""
	if err := c.store.UpdateAnchorJob(job, nil); err != nil {
		c.logger.Error(
			"failed to persist anchor confirmation",
			"key", job.IdempotencyKey,
			"error", err,
		)
		return
	}
	if job.Kind == models.AnchorJobKindBallot {
		var payload BallotPayload
		if err := json.Unmarshal([]byte(job.Payload), &payload); err == nil {
			if err := c.store.SetBallotAnchor(
				payload.BallotID,
				result.TxID,
				result.BlockNumber,
				result.Timestamp,
				nil,
			); err != nil {
				c.logger.Error(
					"failed to write ballot anchor",
					"ballot_id", payload.BallotID,
					"error", err,
				)
			}
			if c.eventBus != nil {
				c.eventBus.PublishAsync(
					event.BallotConfirmedEventType,
					event.NewEvent(
						event.BallotConfirmedEventType,
						event.BallotConfirmedEvent{
							BallotID:    payload.BallotID,
							ElectionID:  payload.ElectionID,
							TxID:        result.TxID,
							BlockNumber: result.BlockNumber,
						},
					),
				)
			}
		}
	}
	// Chain the anchoring outcome into the tamper-evident trail
	if _, err := c.audit.Append(
		ctx,
		job.Scope,
		"anchor.confirmed",
		auditchain.ResourceRef{
			Type: "anchor_job",
			ID:   job.IdempotencyKey,
		},
		"",
		map[string]any{
			"txId":        result.TxID,
			"blockNumber": result.BlockNumber,
			"kind":        string(job.Kind),
		},
	); err != nil {
		c.logger.Error(
			"failed to audit anchor confirmation",
			"key", job.IdempotencyKey,
			"error", err,
		)
	}
	if c.metrics != nil {
		c.metrics.jobsConfirmed.Inc()
	}
	if c.eventBus != nil {
		c.eventBus.PublishAsync(
			event.AnchorConfirmedEventType,
			event.NewEvent(
				event.AnchorConfirmedEventType,
				event.AnchorConfirmedEvent{
					IdempotencyKey: job.IdempotencyKey,
					TxID:           result.TxID,
					BlockNumber:    result.BlockNumber,
				},
			),
		)
	}
	c.logger.Info(
		"anchor confirmed",
		"key", job.IdempotencyKey,
		"tx_id", result.TxID,
		"block_number", result.BlockNumber,
	)
}

// recordFailure schedules a retry with exponential backoff and jitter, or
// moves the job to Failed once the attempt cap is exhausted. A failed job
// is surfaced for manual intervention but never blocks tally.
func (c *Client) recordFailure(
	_ context.Context,
	job *models.AnchorJob,
	cause error,
) {
	job.Attempts++
	job.LastError = cause.Error()
	if job.Attempts >= c.config.MaxAttempts {
		job.Status = models.AnchorJobStatusFailed
		if c.metrics != nil {
			c.metrics.jobsFailed.Inc()
		}
		if c.eventBus != nil {
			c.eventBus.PublishAsync(
				event.AnchorFailedEventType,
				event.NewEvent(
					event.AnchorFailedEventType,
					event.AnchorFailedEvent{
						IdempotencyKey: job.IdempotencyKey,
						Attempts:       job.Attempts,
						LastError:      job.LastError,
					},
				),
			)
		}
		c.logger.Error(
			"anchor job failed permanently",
			"key", job.IdempotencyKey,
			"attempts", job.Attempts,
			"error", cause,
		)
	} else {
		job.Status = models.AnchorJobStatusQueued
		job.NextAttemptAt = time.Now().Add(c.backoffDelay(job.Attempts))
		if c.metrics != nil {
			c.metrics.retries.Inc()
		}
		c.logger.Warn(
			"anchor submission failed, retry scheduled",
			"key", job.IdempotencyKey,
			"attempts", job.Attempts,
			"next_attempt_at", job.NextAttemptAt,
			"error", cause,
		)
	}
	if err := c.store.UpdateAnchorJob(job, nil); err != nil {
		c.logger.Error(
			"failed to persist anchor job failure",
			"key", job.IdempotencyKey,
			"error", err,
		)
	}
}

// backoffDelay computes the randomized delay before the given attempt
// number. The schedule is persisted on the job, so it survives restarts.
func (c *Client) backoffDelay(attempts int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.config.InitialBackoff
	eb.MaxInterval = c.config.MaxBackoff
	eb.MaxElapsedTime = 0
	delay := eb.NextBackOff()
	for i := 1; i < attempts; i++ {
		delay = eb.NextBackOff()
	}
	return delay
}

// Start launches the background scheduler that drains the queue on an
// interval until Stop or context cancellation
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.config.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				if err := c.ProcessQueue(ctx); err != nil &&
					!errors.Is(err, context.Canceled) {
					c.logger.Error(
						"anchor queue processing failure",
						"error", err,
					)
				}
			}
		}
	}()
}

// Stop halts the background scheduler and waits for in-flight work
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}
