package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}

type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Next is the wait before retrying after the given (1-based) attempt failed.
func (b Backoff) Next(attempt int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if b.Type != BackoffExponential {
		return b.Delay
	}
	return b.Delay * time.Duration(1<<uint(attempt-1))
}

type Options struct {
	// Attempts is the total number of executions allowed. Zero means one.
	Attempts int
	Backoff  Backoff
	// Delay postpones the first execution.
	Delay time.Duration
	// RemoveOnComplete and RemoveOnFail keep the newest N terminal jobs. Zero keeps all.
	RemoveOnComplete int
	RemoveOnFail     int
	// DedupeKey defaults to "<projectId>:<name>" when the payload carries a projectId.
	DedupeKey string
}

type Job struct {
	ID               string          `json:"id"`
	Queue            string          `json:"queue"`
	Name             string          `json:"name"`
	Payload          json.RawMessage `json:"payload"`
	State            State           `json:"state"`
	Progress         int             `json:"progress"`
	Logs             []string        `json:"logs,omitempty"`
	AttemptsMade     int             `json:"attemptsMade"`
	MaxAttempts      int             `json:"maxAttempts"`
	Backoff          Backoff         `json:"backoff"`
	DedupeKey        string          `json:"dedupeKey,omitempty"`
	RemoveOnComplete int             `json:"removeOnComplete,omitempty"`
	RemoveOnFail     int             `json:"removeOnFail,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	FailedReason     string          `json:"failedReason,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	RunAt            time.Time       `json:"runAt"`
	ProcessedAt      *time.Time      `json:"processedAt,omitempty"`
	FinishedAt       *time.Time      `json:"finishedAt,omitempty"`
}

// Decode unmarshals the payload into v.
func (j Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return errors.New("job payload is empty")
	}
	return json.Unmarshal(j.Payload, v)
}

// Exhausted reports whether no further attempt is allowed.
func (j Job) Exhausted() bool {
	return j.AttemptsMade >= j.MaxAttempts
}

func newJob(queue, name string, payload any, opts Options, now time.Time) (Job, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Job{}, errors.New("job name is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal payload: %w", err)
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	job := Job{
		ID:               uuid.NewString(),
		Queue:            queue,
		Name:             name,
		Payload:          raw,
		State:            StatePending,
		MaxAttempts:      attempts,
		Backoff:          opts.Backoff,
		DedupeKey:        dedupeKey(name, raw, opts.DedupeKey),
		RemoveOnComplete: opts.RemoveOnComplete,
		RemoveOnFail:     opts.RemoveOnFail,
		CreatedAt:        now,
		UpdatedAt:        now,
		RunAt:            now,
	}
	if opts.Delay > 0 {
		job.State = StateDelayed
		job.RunAt = now.Add(opts.Delay)
	}
	return job, nil
}

func dedupeKey(name string, payload []byte, explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	var keyed struct {
		ProjectID string `json:"projectId"`
	}
	if err := json.Unmarshal(payload, &keyed); err != nil {
		return ""
	}
	if id := strings.TrimSpace(keyed.ProjectID); id != "" {
		return id + ":" + name
	}
	return ""
}

func marshalResult(result any) (json.RawMessage, error) {
	if result == nil {
		return nil, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return raw, nil
}

// claim moves a job into the active state for its next attempt.
func (j *Job) claim(now time.Time) {
	j.State = StateActive
	j.AttemptsMade++
	j.Progress = 0
	j.ProcessedAt = &now
	j.UpdatedAt = now
}

// unclaim undoes claim for an attempt that never ran.
func (j *Job) unclaim(now time.Time) {
	j.State = StatePending
	if j.AttemptsMade > 0 {
		j.AttemptsMade--
	}
	j.UpdatedAt = now
}

// fail applies a failed attempt and reports whether the job was rescheduled.
func (j *Job) fail(reason string, retry bool, now time.Time) bool {
	j.FailedReason = reason
	j.UpdatedAt = now
	if retry && !j.Exhausted() {
		j.State = StateDelayed
		j.RunAt = now.Add(j.Backoff.Next(j.AttemptsMade))
		return true
	}
	j.State = StateFailed
	j.FinishedAt = &now
	return false
}

func (j *Job) complete(result json.RawMessage, now time.Time) {
	j.State = StateCompleted
	j.Progress = 100
	j.Result = result
	j.FailedReason = ""
	j.FinishedAt = &now
	j.UpdatedAt = now
}
