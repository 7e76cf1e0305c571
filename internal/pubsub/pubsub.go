// Package pubsub is fire-and-forget fan-out. Delivery is at-most-once:
// messages published while nobody listens, or while a subscriber's buffer
// is full, are dropped.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/animus-labs/launchpad/internal/platform/env"
)

const subscriberBuffer = 64

var ErrClosed = errors.New("broker is closed")

type Message struct {
	Channel string
	Payload []byte
}

type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers messages until the returned func is called or ctx ends.
	Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error)
	Close() error
}

type Backend string

const (
	BackendRedis  Backend = "redis"
	BackendNATS   Backend = "nats"
	BackendMemory Backend = "memory"
)

type Config struct {
	Backend Backend
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{Backend: Backend(strings.ToLower(env.Trimmed("LAUNCHPAD_PUBSUB", string(BackendRedis))))}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendRedis, BackendNATS, BackendMemory:
		return nil
	default:
		return fmt.Errorf("LAUNCHPAD_PUBSUB must be redis, nats or memory (got %q)", c.Backend)
	}
}

// ProjectChannel carries initialization progress for one project.
func ProjectChannel(projectID string) string {
	return "project:" + strings.TrimSpace(projectID)
}

// RealtimeChannel carries realtime-tier domain events for one resource.
func RealtimeChannel(resourceID string) string {
	return "realtime:" + strings.TrimSpace(resourceID)
}

// UserChannel carries notifications for one user.
func UserChannel(userID string) string {
	return "user:" + strings.TrimSpace(userID)
}

func validateChannel(channel string) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("channel is required")
	}
	return nil
}

// subscription is the consumer side shared by all backends. deliver never
// blocks and never panics after close.
type subscription struct {
	channel string
	out     chan Message
	mu      sync.Mutex
	closed  bool
	once    sync.Once
	stop    func()
}

func newSubscription(channel string) *subscription {
	return &subscription{channel: channel, out: make(chan Message, subscriberBuffer)}
}

func (s *subscription) deliver(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- Message{Channel: s.channel, Payload: payload}:
		return true
	default:
		return false
	}
}

func (s *subscription) close() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		s.mu.Lock()
		s.closed = true
		close(s.out)
		s.mu.Unlock()
	})
}

// watch closes the subscription when ctx ends.
func (s *subscription) watch(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.close()
	}()
}
