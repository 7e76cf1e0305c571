package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/animus-labs/launchpad/internal/platform/redisx"
)

const SnapshotTTL = time.Hour

var ErrNoSnapshot = errors.New("no progress snapshot")

// SnapshotStore keeps the latest event per project for late subscribers.
type SnapshotStore interface {
	Save(ctx context.Context, event Event) error
	Load(ctx context.Context, projectID string) (Event, error)
}

// SnapshotKey is project:<id>:progress.
func SnapshotKey(projectID string) string {
	return redisx.Key("", "project", strings.TrimSpace(projectID), "progress")
}

type RedisSnapshots struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisSnapshots(client redis.UniversalClient) (*RedisSnapshots, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &RedisSnapshots{client: client, ttl: SnapshotTTL}, nil
}

func (s *RedisSnapshots) Save(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, SnapshotKey(event.ProjectID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *RedisSnapshots) Load(ctx context.Context, projectID string) (Event, error) {
	raw, err := s.client.Get(ctx, SnapshotKey(projectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Event{}, ErrNoSnapshot
	}
	if err != nil {
		return Event{}, fmt.Errorf("load snapshot: %w", err)
	}
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return Event{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return event, nil
}

type memorySnapshot struct {
	event   Event
	expires time.Time
}

type MemorySnapshots struct {
	mu    sync.Mutex
	items map[string]memorySnapshot
	now   func() time.Time
}

func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{items: map[string]memorySnapshot{}, now: time.Now}
}

func (s *MemorySnapshots) Save(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[event.ProjectID] = memorySnapshot{event: event, expires: s.now().Add(SnapshotTTL)}
	return nil
}

func (s *MemorySnapshots) Load(_ context.Context, projectID string) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[strings.TrimSpace(projectID)]
	if !ok || !s.now().Before(item.expires) {
		return Event{}, ErrNoSnapshot
	}
	return item.event, nil
}
