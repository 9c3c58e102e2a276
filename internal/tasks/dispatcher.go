package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Executor runs one job kind. Execute returning an error schedules a retry;
// the dispatcher abandons the job once its attempt ceiling is reached.
type Executor interface {
	Kind() string
	Execute(ctx context.Context, payload json.RawMessage) error
}

// Options tune the dispatcher. Zero values fall back to sensible defaults.
type Options struct {
	Workers      int
	PollInterval time.Duration
	RetryBase    time.Duration
	RetryCap     time.Duration
	// MaxAttempts per job kind; DefaultAttempts applies to kinds not listed.
	MaxAttempts     map[string]int
	DefaultAttempts int
}

// Dispatcher polls the job store and fans claimed jobs out to a fixed pool
// of workers. Retry delay doubles per attempt, capped.
type Dispatcher struct {
	store JobStore
	log   *slog.Logger
	opts  Options
	execs map[string]Executor
}

func NewDispatcher(store JobStore, log *slog.Logger, opts Options, executors ...Executor) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Minute
	}
	if opts.RetryCap <= 0 {
		opts.RetryCap = 30 * time.Minute
	}
	if opts.DefaultAttempts <= 0 {
		opts.DefaultAttempts = 3
	}
	d := &Dispatcher{
		store: store,
		log:   log,
		opts:  opts,
		execs: make(map[string]Executor, len(executors)),
	}
	for _, e := range executors {
		d.execs[e.Kind()] = e
	}
	return d
}

// Enqueue persists a job for asynchronous execution and returns its ID.
func (d *Dispatcher) Enqueue(ctx context.Context, kind string, payload any) (string, error) {
	if _, ok := d.execs[kind]; !ok {
		return "", fmt.Errorf("tasks: no executor registered for kind %q", kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("tasks: encode payload: %w", err)
	}
	now := time.Now().UTC()
	job := Job{
		ID:            uuid.NewString(),
		Kind:          kind,
		Payload:       raw,
		Status:        StatusQueued,
		MaxAttempts:   d.maxAttempts(kind),
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := d.store.Enqueue(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Job exposes queue state for the task status endpoint.
func (d *Dispatcher) Job(ctx context.Context, id string) (Job, error) {
	return d.store.Get(ctx, id)
}

// Run polls for due jobs until ctx is canceled. Claimed jobs are handed to
// the worker pool; Run returns once every in-flight job has finished.
func (d *Dispatcher) Run(ctx context.Context) {
	work := make(chan Job)
	var wg sync.WaitGroup
	wg.Add(d.opts.Workers)
	for i := 0; i < d.opts.Workers; i++ {
		go func() {
			defer wg.Done()
			for job := range work {
				d.execute(ctx, job)
			}
		}()
	}

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return
		case <-ticker.C:
			jobs, err := d.store.Claim(ctx, time.Now().UTC(), d.opts.Workers)
			if err != nil {
				if ctx.Err() == nil {
					d.log.Error("claim jobs failed", "error", err)
				}
				continue
			}
			for _, job := range jobs {
				select {
				case work <- job:
				case <-ctx.Done():
					close(work)
					wg.Wait()
					return
				}
			}
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, job Job) {
	exec, ok := d.execs[job.Kind]
	if !ok {
		// Kind with no executor on this build. Abandon rather than retry
		// forever.
		d.log.Error("no executor for claimed job", "job_id", job.ID, "kind", job.Kind)
		d.fail(ctx, job, job.MaxAttempts, fmt.Errorf("no executor for kind %q", job.Kind))
		return
	}

	err := exec.Execute(ctx, job.Payload)
	if err == nil {
		if mErr := d.store.MarkSucceeded(ctx, job.ID); mErr != nil {
			d.log.Error("mark job succeeded failed", "job_id", job.ID, "error", mErr)
		}
		d.log.Debug("job succeeded", "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts+1)
		return
	}
	d.fail(ctx, job, job.Attempts+1, err)
}

func (d *Dispatcher) fail(ctx context.Context, job Job, attempts int, cause error) {
	next := time.Now().UTC().Add(d.backoff(job.Attempts))
	if mErr := d.store.MarkFailed(ctx, job.ID, attempts, cause.Error(), next); mErr != nil {
		d.log.Error("mark job failed failed", "job_id", job.ID, "error", mErr)
		return
	}
	if attempts >= job.MaxAttempts {
		d.log.Error("job abandoned", "job_id", job.ID, "kind", job.Kind, "attempts", attempts, "error", cause)
		return
	}
	d.log.Warn("job failed, will retry",
		"job_id", job.ID, "kind", job.Kind, "attempt", attempts, "next_attempt_at", next, "error", cause)
}

// backoff is base * 2^attempts, capped.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.opts.RetryBase
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= d.opts.RetryCap {
			return d.opts.RetryCap
		}
	}
	if delay > d.opts.RetryCap {
		return d.opts.RetryCap
	}
	return delay
}

func (d *Dispatcher) maxAttempts(kind string) int {
	if n, ok := d.opts.MaxAttempts[kind]; ok && n > 0 {
		return n
	}
	return d.opts.DefaultAttempts
}
