package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{Concurrency: 2, RatePerSec: 1000, PollInterval: 5 * time.Millisecond}
}

func TestWorkerConfigFromEnv(t *testing.T) {
	t.Setenv("LAUNCHPAD_WORKER_CONCURRENCY", "3")
	t.Setenv("LAUNCHPAD_WORKER_RATE", "2.5")
	cfg, err := WorkerConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 2.5, cfg.RatePerSec)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)

	t.Setenv("LAUNCHPAD_WORKER_CONCURRENCY", "0")
	_, err = WorkerConfigFromEnv()
	require.Error(t, err)
}

func TestWorkerDrainCompletesJobs(t *testing.T) {
	q := NewMemoryQueue("repository")
	w, err := NewWorker(q, testWorkerConfig(), nil)
	require.NoError(t, err)
	w.Handle("echo", func(ctx context.Context, job *JobContext) (any, error) {
		var in map[string]string
		if err := job.Decode(&in); err != nil {
			return nil, err
		}
		if err := job.UpdateProgress(ctx, 50); err != nil {
			return nil, err
		}
		if err := job.Log(ctx, "attempt %d", job.Attempt()); err != nil {
			return nil, err
		}
		return in, nil
	})

	ctx := context.Background()
	job, err := q.Enqueue(ctx, "echo", map[string]string{"k": "v"}, Options{})
	require.NoError(t, err)

	n, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
	assert.Equal(t, []string{"attempt 1"}, got.Logs)
	assert.JSONEq(t, `{"k":"v"}`, string(got.Result))
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	q, clock := newTestQueue()
	w, err := NewWorker(q, testWorkerConfig(), nil)
	require.NoError(t, err)

	var finals []bool
	w.Handle("flaky", func(_ context.Context, job *JobContext) (any, error) {
		finals = append(finals, job.Final())
		if job.Attempt() < 2 {
			return nil, errors.New("503 upstream")
		}
		return "ok", nil
	})

	ctx := context.Background()
	job, err := q.Enqueue(ctx, "flaky", nil, Options{Attempts: 3, Backoff: Backoff{Type: BackoffExponential, Delay: time.Second}})
	require.NoError(t, err)

	_, err = w.Drain(ctx)
	require.NoError(t, err)
	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDelayed, got.State)

	clock.advance(time.Second)
	_, err = w.Drain(ctx)
	require.NoError(t, err)
	got, err = q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
	assert.Equal(t, 2, got.AttemptsMade)
	assert.Equal(t, []bool{false, false}, finals)
}

func TestWorkerPermanentFailureSkipsRetry(t *testing.T) {
	q := NewMemoryQueue("repository")
	w, err := NewWorker(q, testWorkerConfig(), nil)
	require.NoError(t, err)
	w.Handle("strict", func(context.Context, *JobContext) (any, error) {
		return nil, backoff.Permanent(errors.New("401 bad credentials"))
	})

	ctx := context.Background()
	job, err := q.Enqueue(ctx, "strict", nil, Options{Attempts: 5})
	require.NoError(t, err)
	_, err = w.Drain(ctx)
	require.NoError(t, err)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, 1, got.AttemptsMade)
	assert.Contains(t, got.FailedReason, "401 bad credentials")
}

func TestWorkerUnknownJobFailsPermanently(t *testing.T) {
	q := NewMemoryQueue("repository")
	w, err := NewWorker(q, testWorkerConfig(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	job, err := q.Enqueue(ctx, "mystery", nil, Options{Attempts: 3})
	require.NoError(t, err)
	_, err = w.Drain(ctx)
	require.NoError(t, err)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Contains(t, got.FailedReason, "no handler")
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue("repository")
	w, err := NewWorker(q, testWorkerConfig(), nil)
	require.NoError(t, err)

	var handled atomic.Int32
	w.Handle("tick", func(context.Context, *JobContext) (any, error) {
		handled.Add(1)
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(context.Background(), "tick", nil, Options{})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return handled.Load() == 5 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerShutdownBeforeStartKeepsAttempt(t *testing.T) {
	q := NewMemoryQueue("repository")
	// One token of burst, then a wait far past the context deadline.
	w, err := NewWorker(q, WorkerConfig{Concurrency: 1, RatePerSec: 0.001, PollInterval: time.Millisecond}, nil)
	require.NoError(t, err)
	w.Handle("tick", func(context.Context, *JobContext) (any, error) { return nil, nil })

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	first, err := q.Enqueue(ctx, "tick", nil, Options{Attempts: 3})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, "tick", nil, Options{Attempts: 3})
	require.NoError(t, err)

	n, err := w.Drain(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, n)

	done, err := q.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, done.State)

	held, err := q.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, held.State)
	assert.Zero(t, held.AttemptsMade)

	claimed, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, claimed.ID)
	assert.Equal(t, 1, claimed.AttemptsMade)
}

type leasingQueue struct {
	*MemoryQueue
	extends atomic.Int32
}

func (q *leasingQueue) Lease() time.Duration { return 15 * time.Millisecond }

func (q *leasingQueue) Extend(context.Context, string) error {
	q.extends.Add(1)
	return nil
}

func TestWorkerExtendsLeaseWhileHandlerRuns(t *testing.T) {
	q := &leasingQueue{MemoryQueue: NewMemoryQueue("repository")}
	w, err := NewWorker(q, testWorkerConfig(), nil)
	require.NoError(t, err)
	w.Handle("slow", func(context.Context, *JobContext) (any, error) {
		time.Sleep(60 * time.Millisecond)
		return nil, nil
	})

	ctx := context.Background()
	_, err = q.Enqueue(ctx, "slow", nil, Options{})
	require.NoError(t, err)
	_, err = w.Drain(ctx)
	require.NoError(t, err)
	assert.Positive(t, q.extends.Load())

	after := q.extends.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, q.extends.Load(), "lease renewal stops with the handler")
}

func TestNewWorkerValidates(t *testing.T) {
	_, err := NewWorker(nil, testWorkerConfig(), nil)
	require.Error(t, err)
	_, err = NewWorker(NewMemoryQueue("q"), WorkerConfig{}, nil)
	require.Error(t, err)
}
