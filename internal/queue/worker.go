package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/animus-labs/launchpad/internal/platform/env"
	"github.com/animus-labs/launchpad/internal/platform/telemetry"
)

type WorkerConfig struct {
	Concurrency  int
	RatePerSec   float64
	PollInterval time.Duration
}

func WorkerConfigFromEnv() (WorkerConfig, error) {
	concurrency, err := env.Int("LAUNCHPAD_WORKER_CONCURRENCY", 5)
	if err != nil {
		return WorkerConfig{}, err
	}
	ratePerSec, err := env.Float("LAUNCHPAD_WORKER_RATE", 10)
	if err != nil {
		return WorkerConfig{}, err
	}
	poll, err := env.Duration("LAUNCHPAD_WORKER_POLL_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return WorkerConfig{}, err
	}
	cfg := WorkerConfig{Concurrency: concurrency, RatePerSec: ratePerSec, PollInterval: poll}
	if err := cfg.Validate(); err != nil {
		return WorkerConfig{}, err
	}
	return cfg, nil
}

func (c WorkerConfig) Validate() error {
	if c.Concurrency <= 0 {
		return errors.New("LAUNCHPAD_WORKER_CONCURRENCY must be > 0")
	}
	if c.RatePerSec <= 0 {
		return errors.New("LAUNCHPAD_WORKER_RATE must be > 0")
	}
	if c.PollInterval <= 0 {
		return errors.New("LAUNCHPAD_WORKER_POLL_INTERVAL must be > 0")
	}
	return nil
}

// Handler runs one attempt of a job. Returning an error wrapped with
// backoff.Permanent fails the job without further retries.
type Handler func(ctx context.Context, job *JobContext) (any, error)

// JobContext is the handler's view of the claimed job.
type JobContext struct {
	Job Job
	q   Queue
}

func (c *JobContext) Decode(v any) error { return c.Job.Decode(v) }

// Attempt is the 1-based number of the running attempt.
func (c *JobContext) Attempt() int { return c.Job.AttemptsMade }

// Final reports whether a failure of this attempt is terminal.
func (c *JobContext) Final() bool { return c.Job.Exhausted() }

func (c *JobContext) UpdateProgress(ctx context.Context, progress int) error {
	c.Job.Progress = clampProgress(progress)
	return c.q.Progress(ctx, c.Job.ID, progress)
}

func (c *JobContext) Log(ctx context.Context, format string, args ...any) error {
	line := fmt.Sprintf(format, args...)
	c.Job.Logs = append(c.Job.Logs, line)
	return c.q.Log(ctx, c.Job.ID, line)
}

// Worker claims jobs from one queue and dispatches them by name.
type Worker struct {
	q        Queue
	cfg      WorkerConfig
	logger   *slog.Logger
	limiter  *rate.Limiter
	ops      *telemetry.Operations
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewWorker(q Queue, cfg WorkerConfig, logger *slog.Logger) (*Worker, error) {
	if q == nil {
		return nil, errors.New("queue is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Worker{
		q:        q,
		cfg:      cfg,
		logger:   logger.With("component", "worker", "queue", q.Name()),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		ops:      telemetry.NewOperations("queue", "queue.job"),
		handlers: map[string]Handler{},
	}, nil
}

func (w *Worker) Handle(name string, handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[strings.TrimSpace(name)] = handler
}

// Run processes jobs with Concurrency loops until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "concurrency", w.cfg.Concurrency, "rate_per_sec", w.cfg.RatePerSec)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error { return w.loop(gctx) })
	}
	err := g.Wait()
	w.logger.Info("worker stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log(ctx, "process job failed", "error", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain processes due jobs until the queue reports empty.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			return n, err
		}
		if !processed {
			return n, nil
		}
		n++
	}
}

// ProcessNext claims and runs one job. It reports false when nothing was due.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.q.Claim(ctx)
	if errors.Is(err, ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := w.limiter.Wait(ctx); err != nil {
		if relErr := w.q.Release(context.WithoutCancel(ctx), job.ID); relErr != nil {
			w.logger.Warn("release job failed", "job_id", job.ID, "error", relErr)
		}
		return true, err
	}
	return true, w.process(ctx, job)
}

func (w *Worker) process(ctx context.Context, job Job) error {
	w.mu.RLock()
	handler, ok := w.handlers[job.Name]
	w.mu.RUnlock()
	if !ok {
		_, err := w.q.Fail(ctx, job.ID, "no handler registered for "+job.Name, false)
		w.logger.Error("job has no handler", "job_id", job.ID, "job_name", job.Name)
		return err
	}

	attempt := attribute.Int("launchpad.job.attempt", job.AttemptsMade)
	spanCtx, end := w.ops.Start(ctx, job.Name, attribute.String("launchpad.queue", w.q.Name()), attempt)
	stopLease := w.keepLease(spanCtx, job.ID)
	result, runErr := handler(spanCtx, &JobContext{Job: job, q: w.q})
	stopLease()
	end(runErr)

	// Record the outcome even when the worker is shutting down.
	finishCtx := context.WithoutCancel(ctx)
	if runErr == nil {
		if err := w.q.Complete(finishCtx, job.ID, result); err != nil {
			return fmt.Errorf("complete job %s: %w", job.ID, err)
		}
		w.logger.Info("job completed", "job_id", job.ID, "job_name", job.Name, "attempt", job.AttemptsMade)
		return nil
	}

	var permanent *backoff.PermanentError
	retry := !errors.As(runErr, &permanent)
	updated, err := w.q.Fail(finishCtx, job.ID, runErr.Error(), retry)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	w.log(ctx, "job attempt failed",
		"job_id", job.ID,
		"job_name", job.Name,
		"attempt", job.AttemptsMade,
		"state", string(updated.State),
		"error", runErr,
	)
	return nil
}

// keepLease extends the claim on a leasing queue until the returned func is
// called.
func (w *Worker) keepLease(ctx context.Context, id string) func() {
	leaser, ok := w.q.(Leaser)
	if !ok || leaser.Lease() <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(leaser.Lease() / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := leaser.Extend(ctx, id); err != nil {
					w.log(ctx, "extend lease failed", "job_id", id, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (w *Worker) log(ctx context.Context, msg string, attrs ...any) {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	w.logger.Warn(msg, attrs...)
}
