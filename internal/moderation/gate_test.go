package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain/chat"
)

func newGate(oracle Oracle) *Gate {
	return &Gate{
		Oracle:         oracle,
		FlagThreshold:  0.5,
		BlockThreshold: 0.9,
		Timeout:        time.Second,
	}
}

func TestGateThresholds(t *testing.T) {
	cases := []struct {
		name    string
		score   float64
		verdict chat.Verdict
	}{
		{"clean", 0.0, chat.VerdictAccept},
		{"below flag", 0.49, chat.VerdictAccept},
		{"at flag", 0.5, chat.VerdictFlag},
		{"between", 0.7, chat.VerdictFlag},
		{"at block", 0.9, chat.VerdictBlock},
		{"certain", 1.0, chat.VerdictBlock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newGate(OracleFunc(func(context.Context, string) (float64, error) {
				return tc.score, nil
			}))
			res, err := g.Evaluate(context.Background(), "whatever")
			require.NoError(t, err)
			assert.Equal(t, tc.verdict, res.Verdict)
			assert.Equal(t, tc.score, res.Confidence)
		})
	}
}

func TestGateFailClosedByDefault(t *testing.T) {
	g := newGate(OracleFunc(func(context.Context, string) (float64, error) {
		return 0, errors.New("oracle down")
	}))
	_, err := g.Evaluate(context.Background(), "hi")
	assert.ErrorIs(t, err, chat.ErrModerationUnavailable)
}

func TestGateFailOpenWhenConfigured(t *testing.T) {
	g := newGate(OracleFunc(func(context.Context, string) (float64, error) {
		return 0, errors.New("oracle down")
	}))
	g.FailOpen = true
	res, err := g.Evaluate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, chat.VerdictAccept, res.Verdict)
}

func TestGateOracleTimeout(t *testing.T) {
	g := newGate(OracleFunc(func(ctx context.Context, _ string) (float64, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(5 * time.Second):
			return 0, nil
		}
	}))
	g.Timeout = 10 * time.Millisecond
	_, err := g.Evaluate(context.Background(), "slow")
	assert.ErrorIs(t, err, chat.ErrModerationUnavailable)
}

func TestPatternOracle(t *testing.T) {
	o := NewPatternOracle()
	ctx := context.Background()

	score, err := o.Score(ctx, "hello there")
	require.NoError(t, err)
	assert.Zero(t, score)

	score, err = o.Score(ctx, "click here for a limited time offer")
	require.NoError(t, err)
	assert.Equal(t, 0.5, score)

	score, err = o.Score(ctx, "call me at 555-123-4567")
	require.NoError(t, err)
	assert.Equal(t, 0.8, score)

	// Highest severity wins across classes.
	score, err = o.Score(ctx, "shit, email me at a@b.com")
	require.NoError(t, err)
	assert.Equal(t, 0.8, score)
}
