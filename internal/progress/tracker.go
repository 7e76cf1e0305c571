// Package progress publishes initialization progress to subscribers of a
// project channel and keeps the latest snapshot for late joiners. The
// project row stays the source of truth; events here are ephemeral.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/launchpad/internal/pubsub"
)

const (
	TypeProgress  = "initialization.progress"
	TypeDetail    = "initialization.detail"
	TypeFailed    = "initialization.failed"
	TypeCompleted = "initialization.completed"
)

type Event struct {
	Type      string         `json:"type"`
	ProjectID string         `json:"projectId"`
	State     string         `json:"state,omitempty"`
	Progress  int            `json:"progress"`
	Message   string         `json:"message,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type Tracker struct {
	broker    pubsub.Broker
	snapshots SnapshotStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewTracker accepts a nil broker or snapshot store; the missing side is skipped.
func NewTracker(broker pubsub.Broker, snapshots SnapshotStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tracker{
		broker:    broker,
		snapshots: snapshots,
		logger:    logger.With("component", "progress"),
		now:       time.Now,
	}
}

// Run starts a reporter for one initialization of projectID. The
// monotonic guard lives on the reporter, so concurrent runs of different
// projects never share it.
func (t *Tracker) Run(projectID string) *Reporter {
	if t == nil {
		return nil
	}
	return &Reporter{tracker: t, projectID: strings.TrimSpace(projectID)}
}

func (t *Tracker) Snapshot(ctx context.Context, projectID string) (Event, error) {
	if t == nil || t.snapshots == nil {
		return Event{}, ErrNoSnapshot
	}
	return t.snapshots.Load(ctx, projectID)
}

// Subscribe decodes the project channel. Undecodable payloads are skipped.
func (t *Tracker) Subscribe(ctx context.Context, projectID string) (<-chan Event, func(), error) {
	if t == nil || t.broker == nil {
		return nil, nil, errors.New("progress broker is not configured")
	}
	msgs, stop, err := t.broker.Subscribe(ctx, pubsub.ProjectChannel(projectID))
	if err != nil {
		return nil, nil, err
	}
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				t.logger.Warn("skip undecodable progress event", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, stop, nil
}

func (t *Tracker) publish(ctx context.Context, event Event) error {
	var errs []error
	if t.broker != nil {
		raw, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal progress event: %w", err)
		}
		if err := t.broker.Publish(ctx, pubsub.ProjectChannel(event.ProjectID), raw); err != nil {
			errs = append(errs, err)
		}
	}
	if t.snapshots != nil && event.Type != TypeDetail {
		if err := t.snapshots.Save(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reporter emits the events of one run. A nil Reporter is a no-op.
type Reporter struct {
	tracker   *Tracker
	projectID string

	mu   sync.Mutex
	last int
}

// Progress publishes a progress event. A value below the last published
// one is dropped.
func (r *Reporter) Progress(ctx context.Context, state string, progress int, message string) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if progress < r.last {
		last := r.last
		r.mu.Unlock()
		r.tracker.logger.Warn("drop progress regression",
			"project_id", r.projectID,
			"state", state,
			"progress", progress,
			"last", last,
		)
		return nil
	}
	r.last = progress
	r.mu.Unlock()
	return r.tracker.publish(ctx, r.event(TypeProgress, state, progress, message))
}

// Detail publishes a sub-step message at the current progress.
func (r *Reporter) Detail(ctx context.Context, state, message, detail string, metadata map[string]any) error {
	if r == nil {
		return nil
	}
	event := r.event(TypeDetail, state, r.Last(), message)
	event.Detail = detail
	event.Metadata = metadata
	return r.tracker.publish(ctx, event)
}

func (r *Reporter) Failed(ctx context.Context, state string, cause error) error {
	if r == nil {
		return nil
	}
	message := "initialization failed"
	if cause != nil {
		message = cause.Error()
	}
	event := r.event(TypeFailed, state, r.Last(), message)
	event.Metadata = map[string]any{"failedState": state}
	return r.tracker.publish(ctx, event)
}

// Completed publishes the terminal success event. counts carries the number
// of created resources by kind.
func (r *Reporter) Completed(ctx context.Context, message string, counts map[string]any) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	r.last = 100
	r.mu.Unlock()
	event := r.event(TypeCompleted, "COMPLETED", 100, message)
	event.Metadata = counts
	return r.tracker.publish(ctx, event)
}

func (r *Reporter) Last() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Reporter) event(kind, state string, progress int, message string) Event {
	return Event{
		Type:      kind,
		ProjectID: r.projectID,
		State:     state,
		Progress:  progress,
		Message:   message,
		Timestamp: r.tracker.now().UTC(),
	}
}
