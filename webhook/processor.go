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

package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openelect/balloteer/auditchain"
	"github.com/openelect/balloteer/database/blob"
	"github.com/openelect/balloteer/database/metadata"
	"github.com/openelect/balloteer/database/models"
	"github.com/openelect/balloteer/event"
)

const pendingBatchSize = 200

// payload is the provider callback body. Only the hashed subject identity
// ever appears; providers never see or send ballot data.
type payload struct {
	ElectionID  string `json:"electionId"`
	SubjectHash string `json:"subjectHash"`
	Status      string `json:"status"`
}

type ProcessorConfig struct {
	Store    metadata.Store
	Blob     blob.Store
	Verifier *Verifier
	Audit    *auditchain.Ledger
	EventBus *event.EventBus
	Logger   *slog.Logger
}

// Processor records inbound callbacks and applies the resulting voter
// verification transitions. Recording is synchronous with the HTTP
// response; the transition itself is applied afterwards and recovered at
// startup via ProcessPending if the process dies in between.
type Processor struct {
	store    metadata.Store
	blob     blob.Store
	verifier *Verifier
	audit    *auditchain.Ledger
	eventBus *event.EventBus
	logger   *slog.Logger
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	logger := cfg.Logger
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		logger = logger.With("component", "webhook")
	}
	return &Processor{
		store:    cfg.Store,
		blob:     cfg.Blob,
		verifier: cfg.Verifier,
		audit:    cfg.Audit,
		eventBus: cfg.EventBus,
		logger:   logger,
	}
}

// HandleInbound verifies and durably records a callback. Every outcome,
// valid or not, gets an event row and an audit entry; only after both are
// persisted should the HTTP layer acknowledge with a 2xx.
func (p *Processor) HandleInbound(
	ctx context.Context,
	provider string,
	body []byte,
	signature string,
	timestamp string,
) (*models.WebhookEvent, error) {
	outcome := p.verifier.Verify(provider, body, signature, timestamp)
	eventID := "whe_" + uuid.NewString()
	payloadRef := "webhook/payload/" + eventID
	if err := p.blob.Put([]byte(payloadRef), body); err != nil {
		return nil, fmt.Errorf("failed to store webhook payload: %w", err)
	}
	evt := &models.WebhookEvent{
		ID:         eventID,
		Provider:   provider,
		Signature:  signature,
		Timestamp:  timestamp,
		PayloadRef: payloadRef,
		Outcome:    outcome,
		Processed:  false,
		ReceivedAt: time.Now(),
	}
	if err := p.store.AddWebhookEvent(evt, nil); err != nil {
		return nil, err
	}
	if _, err := p.audit.Append(
		ctx,
		"webhook:"+provider,
		"webhook.received",
		auditchain.ResourceRef{Type: "webhook_event", ID: eventID},
		provider,
		map[string]any{
			"outcome":   string(outcome),
			"timestamp": timestamp,
		},
	); err != nil {
		return nil, err
	}
	if outcome != models.WebhookOutcomeValid {
		p.logger.Warn(
			"rejected webhook",
			"provider", provider,
			"event_id", eventID,
			"outcome", outcome,
		)
		return evt, nil
	}
	if p.eventBus != nil {
		p.eventBus.PublishAsync(
			event.WebhookReceivedEventType,
			event.NewEvent(
				event.WebhookReceivedEventType,
				event.WebhookReceivedEvent{
					EventID:  eventID,
					Provider: provider,
					Outcome:  string(outcome),
				},
			),
		)
	}
	return evt, nil
}

// ProcessPending applies voter transitions for all valid events not yet
// processed, oldest first. Safe to call concurrently with new intake:
// applying a transition twice is a no-op status write.
func (p *Processor) ProcessPending(ctx context.Context) error {
	for {
		events, err := p.store.UnprocessedWebhookEvents(pendingBatchSize, nil)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for i := range events {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := p.apply(ctx, &events[i]); err != nil {
				p.logger.Error(
					"failed to apply webhook transition",
					"event_id", events[i].ID,
					"error", err,
				)
				// Mark processed anyway so one poison event cannot wedge
				// the queue; the audit trail keeps the failure visible
				if err := p.store.SetWebhookEventProcessed(events[i].ID, nil); err != nil {
					return err
				}
			}
		}
		if len(events) < pendingBatchSize {
			return nil
		}
	}
}

func (p *Processor) apply(ctx context.Context, evt *models.WebhookEvent) error {
	raw, err := p.blob.Get([]byte(evt.PayloadRef))
	if err != nil {
		return fmt.Errorf("failed to load webhook payload: %w", err)
	}
	var body payload
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	if body.ElectionID == "" || body.SubjectHash == "" {
		return fmt.Errorf("webhook payload missing electionId or subjectHash")
	}
	voter, err := p.store.GetVoterByHash(body.ElectionID, body.SubjectHash, nil)
	if err != nil {
		return err
	}
	if voter == nil {
		return fmt.Errorf(
			"no voter for subject hash in election %s",
			body.ElectionID,
		)
	}
	var status models.VoterStatus
	var verifiedAt *time.Time
	switch body.Status {
	case "verified", "approved":
		status = models.VoterStatusVerified
		now := time.Now()
		verifiedAt = &now
	case "rejected", "declined", "failed":
		status = models.VoterStatusRejected
	default:
		return fmt.Errorf("unknown webhook status %q", body.Status)
	}
	if err := p.store.SetVoterStatus(voter.ID, status, verifiedAt, nil); err != nil {
		return err
	}
	if err := p.store.SetWebhookEventProcessed(evt.ID, nil); err != nil {
		return err
	}
	if _, err := p.audit.Append(
		ctx,
		body.ElectionID,
		"voter.status_changed",
		auditchain.ResourceRef{Type: "voter", ID: voter.ID},
		evt.Provider,
		map[string]any{
			"status":         string(status),
			"webhookEventId": evt.ID,
		},
	); err != nil {
		return err
	}
	p.logger.Info(
		"applied voter transition",
		"voter_id", voter.ID,
		"status", status,
		"event_id", evt.ID,
	)
	return nil
}
