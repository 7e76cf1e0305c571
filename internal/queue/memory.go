package queue

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryQueue is a process-local Queue for tests and dry runs.
type MemoryQueue struct {
	name string
	now  func() time.Time

	mu     sync.Mutex
	jobs   map[string]*Job
	wait   []string
	dedupe map[string]string
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(name string) *MemoryQueue {
	return &MemoryQueue{
		name:   strings.TrimSpace(name),
		now:    time.Now,
		jobs:   map[string]*Job{},
		dedupe: map[string]string{},
	}
}

// WithClock replaces the time source, for tests that step through backoff delays.
func (q *MemoryQueue) WithClock(now func() time.Time) *MemoryQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
	return q
}

func (q *MemoryQueue) Name() string { return q.name }

func (q *MemoryQueue) Enqueue(_ context.Context, name string, payload any, opts Options) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := newJob(q.name, name, payload, opts, q.now().UTC())
	if err != nil {
		return Job{}, err
	}
	if job.DedupeKey != "" {
		if holder, ok := q.dedupe[job.DedupeKey]; ok {
			if existing, ok := q.jobs[holder]; ok && !existing.State.Terminal() {
				return *existing, &DuplicateError{Job: *existing}
			}
		}
		q.dedupe[job.DedupeKey] = job.ID
	}
	q.jobs[job.ID] = &job
	if job.State == StatePending {
		q.wait = append(q.wait, job.ID)
	}
	return job, nil
}

func (q *MemoryQueue) Get(_ context.Context, id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[strings.TrimSpace(id)]
	if !ok {
		return Job{}, ErrNotFound
	}
	return cloneJob(job), nil
}

func (q *MemoryQueue) Cancel(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[strings.TrimSpace(id)]
	if !ok {
		return ErrNotFound
	}
	if job.State != StatePending && job.State != StateDelayed {
		return ErrNotCancelable
	}
	now := q.now().UTC()
	job.State = StateCanceled
	job.FinishedAt = &now
	job.UpdatedAt = now
	q.removeWaiting(job.ID)
	q.release(job)
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now().UTC()
	q.promote(now)
	if len(q.wait) == 0 {
		return Job{}, ErrEmpty
	}
	id := q.wait[0]
	q.wait = q.wait[1:]
	job := q.jobs[id]
	job.claim(now)
	return cloneJob(job), nil
}

func (q *MemoryQueue) Progress(_ context.Context, id string, progress int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.active(id)
	if err != nil {
		return err
	}
	job.Progress = clampProgress(progress)
	job.UpdatedAt = q.now().UTC()
	return nil
}

func (q *MemoryQueue) Log(_ context.Context, id, line string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.active(id)
	if err != nil {
		return err
	}
	job.Logs = append(job.Logs, line)
	return nil
}

func (q *MemoryQueue) Complete(_ context.Context, id string, result any) error {
	raw, err := marshalResult(result)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.active(id)
	if err != nil {
		return err
	}
	job.complete(raw, q.now().UTC())
	q.release(job)
	q.trim(StateCompleted, job.RemoveOnComplete)
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, id string, reason string, retry bool) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.active(id)
	if err != nil {
		return Job{}, err
	}
	if !job.fail(reason, retry, q.now().UTC()) {
		q.release(job)
		q.trim(StateFailed, job.RemoveOnFail)
	}
	return cloneJob(job), nil
}

func (q *MemoryQueue) Release(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.active(id)
	if err != nil {
		return err
	}
	job.unclaim(q.now().UTC())
	q.wait = append([]string{job.ID}, q.wait...)
	return nil
}

func (q *MemoryQueue) Purge(_ context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.now().UTC().Add(-olderThan)
	removed := 0
	for id, job := range q.jobs {
		if job.State.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(q.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Jobs lists every retained job in creation order.
func (q *MemoryQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (q *MemoryQueue) active(id string) (*Job, error) {
	job, ok := q.jobs[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrNotFound
	}
	if job.State != StateActive {
		return nil, ErrNotActive
	}
	return job, nil
}

func (q *MemoryQueue) promote(now time.Time) {
	var due []*Job
	for _, job := range q.jobs {
		if job.State == StateDelayed && !job.RunAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	for _, job := range due {
		job.State = StatePending
		q.wait = append(q.wait, job.ID)
	}
}

func (q *MemoryQueue) removeWaiting(id string) {
	for i, waiting := range q.wait {
		if waiting == id {
			q.wait = append(q.wait[:i], q.wait[i+1:]...)
			return
		}
	}
}

func (q *MemoryQueue) release(job *Job) {
	if job.DedupeKey != "" && q.dedupe[job.DedupeKey] == job.ID {
		delete(q.dedupe, job.DedupeKey)
	}
}

// trim keeps the newest keep jobs in state.
func (q *MemoryQueue) trim(state State, keep int) {
	if keep <= 0 {
		return
	}
	var finished []*Job
	for _, job := range q.jobs {
		if job.State == state {
			finished = append(finished, job)
		}
	}
	if len(finished) <= keep {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].FinishedAt.After(*finished[j].FinishedAt) })
	for _, job := range finished[keep:] {
		delete(q.jobs, job.ID)
	}
}

func cloneJob(job *Job) Job {
	out := *job
	out.Logs = append([]string(nil), job.Logs...)
	return out
}

