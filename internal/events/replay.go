package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrEventNotFound = errors.New("event not found")

// lookupLimit bounds the scan used by Event, matching the log cap.
const lookupLimit = LogCap

type Replayer struct {
	log       Log
	publisher *Publisher
}

func NewReplayer(log Log, publisher *Publisher) (*Replayer, error) {
	if log == nil {
		return nil, errors.New("event log is required")
	}
	return &Replayer{log: log, publisher: publisher}, nil
}

func (r *Replayer) Events(ctx context.Context, resourceID string, rng Range) ([]Event, error) {
	return r.log.Range(ctx, resourceID, rng)
}

func (r *Replayer) Event(ctx context.Context, resourceID, eventID string) (Event, error) {
	all, err := r.log.Range(ctx, resourceID, Range{Limit: lookupLimit})
	if err != nil {
		return Event{}, err
	}
	eventID = strings.TrimSpace(eventID)
	for _, event := range all {
		if event.ID == eventID {
			return event, nil
		}
	}
	return Event{}, fmt.Errorf("%w: %s for resource %s", ErrEventNotFound, eventID, resourceID)
}

func (r *Replayer) Count(ctx context.Context, resourceID string) (int64, error) {
	return r.log.Count(ctx, resourceID)
}

// EventsByType filters the selected range by type.
func (r *Replayer) EventsByType(ctx context.Context, resourceID, eventType string, rng Range) ([]Event, error) {
	all, err := r.log.Range(ctx, resourceID, rng)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, event := range all {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out, nil
}

// Replay republishes one stored event with its original id and timestamp,
// so consumers can recognise the redelivery.
func (r *Replayer) Replay(ctx context.Context, resourceID, eventID string) error {
	if r.publisher == nil {
		return errors.New("replay requires a publisher")
	}
	event, err := r.Event(ctx, resourceID, eventID)
	if err != nil {
		return err
	}
	_, err = r.publisher.Publish(ctx, event)
	return err
}

type BatchError struct {
	EventID string
	Err     error
}

type BatchResult struct {
	Success int
	Failed  int
	Errors  []BatchError
}

// ReplayBatch replays each id in order and keeps going past failures.
func (r *Replayer) ReplayBatch(ctx context.Context, resourceID string, eventIDs []string) BatchResult {
	var result BatchResult
	for _, id := range eventIDs {
		if err := r.Replay(ctx, resourceID, id); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BatchError{EventID: id, Err: err})
			continue
		}
		result.Success++
	}
	return result
}

// Cleanup removes events older than olderThan.
func (r *Replayer) Cleanup(ctx context.Context, resourceID string, olderThan time.Duration) (int64, error) {
	return r.log.RemoveBefore(ctx, resourceID, time.Now().Add(-olderThan))
}

func (r *Replayer) DeleteAll(ctx context.Context, resourceID string) error {
	return r.log.DeleteAll(ctx, resourceID)
}
