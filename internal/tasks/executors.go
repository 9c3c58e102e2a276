package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"chatcore/internal/analytics"
	"chatcore/internal/store"
)

// AnalyticsExecutor recomputes aggregates: one conversation's when the
// payload names it, the platform-wide snapshot otherwise.
type AnalyticsExecutor struct {
	Service *analytics.Service
}

func (e *AnalyticsExecutor) Kind() string { return KindAnalytics }

func (e *AnalyticsExecutor) Execute(ctx context.Context, payload json.RawMessage) error {
	var p AnalyticsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("analytics: decode payload: %w", err)
	}
	if p.ConversationID == "" {
		_, err := e.Service.RecomputePlatform(ctx, p.From, p.To)
		return err
	}
	_, err := e.Service.Recompute(ctx, p.ConversationID)
	return err
}

// CleanupExecutor soft-deletes messages past the retention window.
type CleanupExecutor struct {
	Messages  store.MessageStore
	Retention time.Duration
	Log       *slog.Logger
}

func (e *CleanupExecutor) Kind() string { return KindCleanup }

func (e *CleanupExecutor) Execute(ctx context.Context, payload json.RawMessage) error {
	var p CleanupPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("cleanup: decode payload: %w", err)
	}
	cutoff := p.Cutoff
	if cutoff.IsZero() {
		cutoff = time.Now().UTC().Add(-e.Retention)
	}
	n, err := e.Messages.DeleteExpired(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup: delete expired: %w", err)
	}
	e.Log.Info("expired messages cleaned up", "count", n, "cutoff", cutoff)
	return nil
}
