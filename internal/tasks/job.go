// Package tasks is the async side-effect dispatcher: delivery webhooks,
// analytics recomputes, retention cleanup and flagged-message review run
// here, decoupled from the real-time send path.
package tasks

import (
	"encoding/json"
	"time"
)

// Job kinds. Each kind binds to exactly one registered executor.
const (
	KindWebhook   = "webhook"
	KindAnalytics = "analytics"
	KindCleanup   = "cleanup"
	KindReview    = "review"
)

// Status is the job lifecycle. Queued and failed jobs are claimable once
// due; succeeded and abandoned are terminal.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// Job is one unit of deferred work. Attempts counts completed tries;
// NextAttemptAt gates when a failed job becomes claimable again.
type Job struct {
	ID            string          `json:"id" bson:"_id"`
	Kind          string          `json:"kind" bson:"kind"`
	Payload       json.RawMessage `json:"payload" bson:"payload"`
	Status        Status          `json:"status" bson:"status"`
	Attempts      int             `json:"attempts" bson:"attempts"`
	MaxAttempts   int             `json:"max_attempts" bson:"max_attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at" bson:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty" bson:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" bson:"updated_at"`
}

// WebhookPayload notifies external consumers that a message was delivered.
// Content stays encrypted; only metadata leaves the core.
type WebhookPayload struct {
	Event          string    `json:"event"`
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	MessageType    string    `json:"message_type"`
	Flagged        bool      `json:"flagged"`
	SentAt         time.Time `json:"sent_at"`
}

// AnalyticsPayload asks for a full recompute of one conversation's
// aggregates, or of the platform-wide snapshot when ConversationID is
// empty. Recompute, not increment, so replays stay idempotent.
type AnalyticsPayload struct {
	ConversationID string    `json:"conversation_id,omitempty"`
	From           time.Time `json:"from,omitempty"`
	To             time.Time `json:"to,omitempty"`
}

// CleanupPayload trims messages older than the retention window. An empty
// Cutoff means "now minus the configured retention".
type CleanupPayload struct {
	Cutoff time.Time `json:"cutoff,omitempty"`
}

// ReviewPayload routes a flagged message to the moderation review feed.
type ReviewPayload struct {
	MessageID      string  `json:"message_id"`
	ConversationID string  `json:"conversation_id"`
	Confidence     float64 `json:"confidence"`
}
