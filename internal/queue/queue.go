// Package queue is a durable job queue with at-least-once delivery, retries
// with backoff, per-key deduplication and bounded retention of finished jobs.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("job not found")
	ErrEmpty         = errors.New("queue is empty")
	ErrDuplicate     = errors.New("duplicate job")
	ErrNotCancelable = errors.New("job is not cancelable")
	ErrNotActive     = errors.New("job is not active")
)

// DuplicateError carries the live job that holds the dedupe key.
type DuplicateError struct {
	Job Job
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %s is held by job %s", ErrDuplicate, e.Job.DedupeKey, e.Job.ID)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

type Queue interface {
	Name() string
	Enqueue(ctx context.Context, name string, payload any, opts Options) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	// Cancel moves a pending or delayed job to canceled.
	Cancel(ctx context.Context, id string) error

	// Claim hands the next due job to exactly one caller, or returns ErrEmpty.
	Claim(ctx context.Context) (Job, error)
	Progress(ctx context.Context, id string, progress int) error
	Log(ctx context.Context, id, line string) error
	Complete(ctx context.Context, id string, result any) error
	// Fail records a failed attempt. With retry set and attempts left the job
	// is delayed by its backoff, otherwise it fails terminally.
	Fail(ctx context.Context, id string, reason string, retry bool) (Job, error)
	// Release returns an active job to the wait list without counting the
	// attempt, for work that was claimed but never started.
	Release(ctx context.Context, id string) error
	// Purge removes terminal jobs that finished more than olderThan ago.
	Purge(ctx context.Context, olderThan time.Duration) (int, error)
}

// Leaser is implemented by queues whose claims expire. A worker extends the
// lease while a handler runs; an expired lease puts the job back on the wait
// list.
type Leaser interface {
	Lease() time.Duration
	Extend(ctx context.Context, id string) error
}

// Wait polls until the job reaches a terminal state.
func Wait(ctx context.Context, q Queue, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := q.Get(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job.State.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsDuplicate extracts the live job from a dedupe rejection.
func IsDuplicate(err error) (Job, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup.Job, true
	}
	return Job{}, false
}

func clampProgress(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}
