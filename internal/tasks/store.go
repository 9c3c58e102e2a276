package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chatcore/internal/domain/chat"
)

// DefaultJobLease bounds how long a running job may go without a store
// update before another poller may reclaim it. A process that crashed after
// claiming leaves its jobs running forever otherwise.
const DefaultJobLease = 5 * time.Minute

// JobStore is the durable queue behind the dispatcher. Claim must be safe
// against concurrent pollers: a job is handed to at most one worker.
type JobStore interface {
	Enqueue(ctx context.Context, job Job) error
	// Claim atomically moves up to limit due jobs to running and returns
	// them. Due means queued, failed with an elapsed retry gate, or running
	// with an expired lease (the claimer died before resolving it).
	Claim(ctx context.Context, now time.Time, limit int) ([]Job, error)
	MarkSucceeded(ctx context.Context, id string) error
	// MarkFailed records the attempt and schedules the retry. When the
	// attempt count has reached the job's ceiling the store abandons it
	// instead.
	MarkFailed(ctx context.Context, id string, attempts int, lastErr string, nextAttempt time.Time) error
	Get(ctx context.Context, id string) (Job, error)
}

// MemoryJobStore is the in-process queue used in tests and single-node dev
// runs.
type MemoryJobStore struct {
	// Lease overrides DefaultJobLease when positive.
	Lease time.Duration

	mu   sync.Mutex
	jobs map[string]*Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*Job)}
}

func (s *MemoryJobStore) lease() time.Duration {
	if s.Lease > 0 {
		return s.Lease
	}
	return DefaultJobLease
}

func (s *MemoryJobStore) Enqueue(ctx context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("tasks: duplicate job id %s", job.ID)
	}
	j := job
	s.jobs[job.ID] = &j
	return nil
}

func (s *MemoryJobStore) Claim(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staleBefore := now.Add(-s.lease())
	due := make([]*Job, 0)
	for _, j := range s.jobs {
		switch j.Status {
		case StatusQueued, StatusFailed:
			if !j.NextAttemptAt.After(now) {
				due = append(due, j)
			}
		case StatusRunning:
			// The previous claimer crashed without resolving the job.
			if !j.UpdatedAt.After(staleBefore) {
				due = append(due, j)
			}
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].NextAttemptAt.Before(due[k].NextAttemptAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]Job, 0, len(due))
	for _, j := range due {
		j.Status = StatusRunning
		j.UpdatedAt = now
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

func (s *MemoryJobStore) MarkSucceeded(ctx context.Context, id string) error {
	return s.update(id, func(j *Job) {
		j.Status = StatusSucceeded
		j.Attempts++
		j.LastError = ""
	})
}

func (s *MemoryJobStore) MarkFailed(ctx context.Context, id string, attempts int, lastErr string, nextAttempt time.Time) error {
	return s.update(id, func(j *Job) {
		j.Attempts = attempts
		j.LastError = lastErr
		if attempts >= j.MaxAttempts {
			j.Status = StatusAbandoned
			return
		}
		j.Status = StatusFailed
		j.NextAttemptAt = nextAttempt
	})
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: job %s", chat.ErrNotFound, id)
	}
	return *j, nil
}

func (s *MemoryJobStore) update(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", chat.ErrNotFound, id)
	}
	fn(j)
	j.UpdatedAt = time.Now().UTC()
	return nil
}
