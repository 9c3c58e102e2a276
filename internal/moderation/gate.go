// Package moderation scores plaintext before encryption and decides whether
// a message is accepted, flagged for review, or blocked outright.
package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatcore/internal/domain/chat"
)

// Result is the policy decision for one piece of content.
type Result struct {
	Verdict    chat.Verdict
	Confidence float64
}

// Gate owns the policy around a pluggable scoring oracle. Thresholds come
// from configuration: below FlagThreshold content is accepted, at or above
// BlockThreshold it is blocked, in between it is flagged for asynchronous
// review.
type Gate struct {
	Oracle         Oracle
	FlagThreshold  float64
	BlockThreshold float64
	Timeout        time.Duration
	// FailOpen controls what happens when the oracle is unreachable.
	// Default false: a messaging product with abuse concerns rejects what
	// it cannot score.
	FailOpen bool
	Logger   *slog.Logger
}

// Evaluate scores text and applies the threshold policy. A blocked verdict
// is returned as a Result, not an error; ErrModerationUnavailable is
// reserved for oracle failure under fail-closed policy.
func (g *Gate) Evaluate(ctx context.Context, text string) (Result, error) {
	if g.Oracle == nil {
		return Result{}, fmt.Errorf("moderation: no oracle configured")
	}
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	scoreCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	score, err := g.Oracle.Score(scoreCtx, text)
	if err != nil {
		if g.FailOpen {
			if g.Logger != nil {
				g.Logger.Warn("moderation oracle unavailable, failing open", "error", err)
			}
			return Result{Verdict: chat.VerdictAccept, Confidence: 0}, nil
		}
		if g.Logger != nil {
			g.Logger.Error("moderation oracle unavailable, failing closed", "error", err)
		}
		return Result{}, fmt.Errorf("%w: %v", chat.ErrModerationUnavailable, err)
	}

	switch {
	case score >= g.BlockThreshold:
		return Result{Verdict: chat.VerdictBlock, Confidence: score}, nil
	case score >= g.FlagThreshold:
		return Result{Verdict: chat.VerdictFlag, Confidence: score}, nil
	default:
		return Result{Verdict: chat.VerdictAccept, Confidence: score}, nil
	}
}
