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

package event

const (
	BallotSubmittedEventType EventType = "ballot.submitted"
	BallotConfirmedEventType EventType = "ballot.confirmed"
	ReviewDecidedEventType   EventType = "review.decided"
	AnchorConfirmedEventType EventType = "anchor.confirmed"
	AnchorFailedEventType    EventType = "anchor.failed"
	WebhookReceivedEventType EventType = "webhook.received"
)

type BallotSubmittedEvent struct {
	BallotID       string
	ElectionID     string
	CommitmentHash string
	Channel        string
}

type BallotConfirmedEvent struct {
	BallotID    string
	ElectionID  string
	TxID        string
	BlockNumber uint64
}

type ReviewDecidedEvent struct {
	ReviewID   string
	ElectionID string
	Status     string
	BallotID   string
	ReviewerID string
}

type AnchorConfirmedEvent struct {
	IdempotencyKey string
	TxID           string
	BlockNumber    uint64
}

type AnchorFailedEvent struct {
	IdempotencyKey string
	Attempts       int
	LastError      string
}

type WebhookReceivedEvent struct {
	EventID  string
	Provider string
	Outcome  string
}
