package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct {
	kind  string
	calls atomic.Int32
	fn    func(payload json.RawMessage) error
}

func (s *stubExecutor) Kind() string { return s.kind }

func (s *stubExecutor) Execute(ctx context.Context, payload json.RawMessage) error {
	s.calls.Add(1)
	if s.fn == nil {
		return nil
	}
	return s.fn(payload)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func fastOptions() Options {
	return Options{
		Workers:      2,
		PollInterval: 5 * time.Millisecond,
		RetryBase:    time.Millisecond,
		RetryCap:     4 * time.Millisecond,
	}
}

func TestDispatcherRunsJobToSuccess(t *testing.T) {
	store := NewMemoryJobStore()
	exec := &stubExecutor{kind: KindWebhook}
	d := NewDispatcher(store, testLogger(), fastOptions(), exec)

	id, err := d.Enqueue(context.Background(), KindWebhook, WebhookPayload{Event: "message.sent", MessageID: "m1"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	assert.Eventually(t, func() bool {
		job, err := store.Get(context.Background(), id)
		return err == nil && job.Status == StatusSucceeded
	}, time.Second, 5*time.Millisecond)

	job, err := d.Job(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)
	assert.Empty(t, job.LastError)
}

func TestDispatcherAbandonsAfterMaxAttempts(t *testing.T) {
	store := NewMemoryJobStore()
	exec := &stubExecutor{kind: KindWebhook, fn: func(json.RawMessage) error {
		return errors.New("endpoint down")
	}}
	opts := fastOptions()
	opts.MaxAttempts = map[string]int{KindWebhook: 3}
	d := NewDispatcher(store, testLogger(), opts, exec)

	id, err := d.Enqueue(context.Background(), KindWebhook, WebhookPayload{MessageID: "m1"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	assert.Eventually(t, func() bool {
		job, err := store.Get(context.Background(), id)
		return err == nil && job.Status == StatusAbandoned
	}, time.Second, 5*time.Millisecond)

	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, job.Attempts)
	assert.Contains(t, job.LastError, "endpoint down")

	// An abandoned job must never be claimed again.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), exec.calls.Load())
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	store := NewMemoryJobStore()
	var failures atomic.Int32
	failures.Store(2)
	exec := &stubExecutor{kind: KindAnalytics, fn: func(json.RawMessage) error {
		if failures.Add(-1) >= 0 {
			return errors.New("transient")
		}
		return nil
	}}
	d := NewDispatcher(store, testLogger(), fastOptions(), exec)

	id, err := d.Enqueue(context.Background(), KindAnalytics, AnalyticsPayload{ConversationID: "c1"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	assert.Eventually(t, func() bool {
		job, err := store.Get(context.Background(), id)
		return err == nil && job.Status == StatusSucceeded
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), exec.calls.Load())
}

func TestEnqueueRejectsUnknownKind(t *testing.T) {
	d := NewDispatcher(NewMemoryJobStore(), testLogger(), fastOptions())
	_, err := d.Enqueue(context.Background(), "no-such-kind", nil)
	assert.Error(t, err)
}

func TestBackoffDoublesToCap(t *testing.T) {
	opts := Options{RetryBase: time.Minute, RetryCap: 30 * time.Minute}
	d := NewDispatcher(NewMemoryJobStore(), testLogger(), opts)

	assert.Equal(t, time.Minute, d.backoff(0))
	assert.Equal(t, 2*time.Minute, d.backoff(1))
	assert.Equal(t, 8*time.Minute, d.backoff(3))
	assert.Equal(t, 30*time.Minute, d.backoff(10))
}

func TestMemoryStoreClaimSkipsFutureRetries(t *testing.T) {
	store := NewMemoryJobStore()
	now := time.Now().UTC()
	require.NoError(t, store.Enqueue(context.Background(), Job{
		ID: "due", Kind: KindWebhook, Status: StatusQueued, MaxAttempts: 3, NextAttemptAt: now.Add(-time.Second),
	}))
	require.NoError(t, store.Enqueue(context.Background(), Job{
		ID: "later", Kind: KindWebhook, Status: StatusFailed, MaxAttempts: 3, NextAttemptAt: now.Add(time.Hour),
	}))

	claimed, err := store.Claim(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "due", claimed[0].ID)
	assert.Equal(t, StatusRunning, claimed[0].Status)

	// Running jobs are invisible to a second claimer.
	again, err := store.Claim(context.Background(), now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestClaimReclaimsStaleRunningJobs(t *testing.T) {
	store := NewMemoryJobStore()
	store.Lease = time.Minute
	now := time.Now().UTC()
	require.NoError(t, store.Enqueue(context.Background(), Job{
		ID: "j1", Kind: KindWebhook, Status: StatusQueued, MaxAttempts: 3, NextAttemptAt: now,
	}))

	claimed, err := store.Claim(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// The lease is still live; a second poller sees nothing.
	again, err := store.Claim(context.Background(), now.Add(30*time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	// The claimer never resolved the job (crashed process). Once the lease
	// expires the job is handed out again instead of stranding forever.
	reclaimed, err := store.Claim(context.Background(), now.Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, "j1", reclaimed[0].ID)
	assert.Equal(t, StatusRunning, reclaimed[0].Status)
}
