package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/animus-labs/launchpad/internal/pubsub"
	"github.com/animus-labs/launchpad/internal/queue"
)

// IntegrationQueue is the queue name integration events are enqueued on.
const IntegrationQueue = "events"

// AnyType registers a domain handler for every event type.
const AnyType = "*"

var ErrNoIntegrationQueue = errors.New("integration events require a queue")

// DefaultIntegrationOptions retries delivery three times from 2s.
func DefaultIntegrationOptions() queue.Options {
	return queue.Options{
		Attempts: 3,
		Backoff:  queue.Backoff{Type: queue.BackoffExponential, Delay: 2 * time.Second},
	}
}

type Handler func(ctx context.Context, event Event) error

type Publisher struct {
	log         Log
	integration queue.Queue
	broker      pubsub.Broker
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewPublisher wires the three tiers. Any dependency may be nil: a nil log
// skips persistence, a nil queue rejects integration events and a nil
// broker drops realtime events.
func NewPublisher(log Log, integration queue.Queue, broker pubsub.Broker, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{
		log:         log,
		integration: integration,
		broker:      broker,
		logger:      logger.With("component", "events"),
		now:         time.Now,
		handlers:    map[string][]Handler{},
	}
}

// On registers an in-process handler for a domain event type, or AnyType.
func (p *Publisher) On(eventType string, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[eventType] = append(p.handlers[eventType], handler)
}

// Publish routes by TierOf. Unknown types are published as domain events.
func (p *Publisher) Publish(ctx context.Context, event Event) (Event, error) {
	if p == nil {
		return event, nil
	}
	switch TierOf(event.Type) {
	case TierIntegration:
		return p.PublishIntegration(ctx, event, DefaultIntegrationOptions())
	case TierRealtime:
		return p.PublishRealtime(ctx, event)
	case TierDomain:
		return p.PublishDomain(ctx, event)
	default:
		p.logger.Warn("unknown event type, publishing as domain event", "type", event.Type)
		return p.PublishDomain(ctx, event)
	}
}

// PublishDomain runs registered handlers synchronously. Handler errors are
// logged and do not fail the publish.
func (p *Publisher) PublishDomain(ctx context.Context, event Event) (Event, error) {
	if err := event.Validate(); err != nil {
		return event, err
	}
	event = event.enrich(p.now())

	p.mu.RLock()
	handlers := append(append([]Handler(nil), p.handlers[event.Type]...), p.handlers[AnyType]...)
	p.mu.RUnlock()
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			p.logger.Warn("domain event handler failed", "type", event.Type, "event_id", event.ID, "error", err)
		}
	}
	p.append(ctx, event)
	return event, nil
}

func (p *Publisher) PublishIntegration(ctx context.Context, event Event, opts queue.Options) (Event, error) {
	if err := event.Validate(); err != nil {
		return event, err
	}
	if p.integration == nil {
		return event, fmt.Errorf("%w: %s", ErrNoIntegrationQueue, event.Type)
	}
	event = event.enrich(p.now())
	if opts.DedupeKey == "" {
		opts.DedupeKey = "event:" + event.ID
	}
	if _, err := p.integration.Enqueue(ctx, event.Type, event, opts); err != nil {
		return event, fmt.Errorf("enqueue %s: %w", event.Type, err)
	}
	p.append(ctx, event)
	return event, nil
}

// PublishRealtime pushes to realtime:<resourceId>. Realtime events are not logged.
func (p *Publisher) PublishRealtime(ctx context.Context, event Event) (Event, error) {
	if err := event.Validate(); err != nil {
		return event, err
	}
	event = event.enrich(p.now())
	if p.broker == nil {
		return event, nil
	}
	raw, err := event.marshal()
	if err != nil {
		return event, fmt.Errorf("marshal event: %w", err)
	}
	if err := p.broker.Publish(ctx, pubsub.RealtimeChannel(event.ResourceID), raw); err != nil {
		return event, fmt.Errorf("publish realtime %s: %w", event.Type, err)
	}
	return event, nil
}

// append never fails the publish; the log is a best-effort audit trail.
func (p *Publisher) append(ctx context.Context, event Event) {
	if p.log == nil {
		return
	}
	if err := p.log.Append(ctx, event); err != nil {
		p.logger.Error("append event log failed", "type", event.Type, "event_id", event.ID, "error", err)
	}
}

// IntegrationHandler adapts fn into a queue handler for integration jobs.
// An undecodable payload fails permanently.
func IntegrationHandler(fn Handler) queue.Handler {
	return func(ctx context.Context, job *queue.JobContext) (any, error) {
		var event Event
		if err := job.Decode(&event); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode event: %w", err))
		}
		if err := fn(ctx, event); err != nil {
			return nil, err
		}
		return map[string]string{"eventId": event.ID}, nil
	}
}
