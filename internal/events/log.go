package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/animus-labs/launchpad/internal/platform/redisx"
)

const (
	LogRetention = 30 * 24 * time.Hour
	LogCap       = 1000
	// DefaultRangeLimit applies when Range.Limit is zero.
	DefaultRangeLimit = 100
)

// Range selects log entries by timestamp, oldest first. Zero From/To are open.
type Range struct {
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

func (r Range) limit() int {
	if r.Limit <= 0 {
		return DefaultRangeLimit
	}
	return r.Limit
}

type Log interface {
	Append(ctx context.Context, event Event) error
	Range(ctx context.Context, resourceID string, r Range) ([]Event, error)
	Count(ctx context.Context, resourceID string) (int64, error)
	// RemoveBefore drops entries with a timestamp at or before cutoff.
	RemoveBefore(ctx context.Context, resourceID string, cutoff time.Time) (int64, error)
	DeleteAll(ctx context.Context, resourceID string) error
}

// LogKey is events:<resourceId>.
func LogKey(resourceID string) string {
	return redisx.Key("", "events", strings.TrimSpace(resourceID))
}

// RedisLog keeps each resource's events in a sorted set scored by
// timestamp millis.
type RedisLog struct {
	client redis.UniversalClient
}

var _ Log = (*RedisLog)(nil)

func NewRedisLog(client redis.UniversalClient) (*RedisLog, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &RedisLog{client: client}, nil
}

func (l *RedisLog) Append(ctx context.Context, event Event) error {
	raw, err := event.marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := LogKey(event.ResourceID)
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(event.Timestamp.UnixMilli()), Member: raw})
		pipe.Expire(ctx, key, LogRetention)
		pipe.ZRemRangeByRank(ctx, key, 0, -LogCap-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (l *RedisLog) Range(ctx context.Context, resourceID string, r Range) ([]Event, error) {
	by := &redis.ZRangeBy{
		Min:    "-inf",
		Max:    "+inf",
		Offset: int64(r.Offset),
		Count:  int64(r.limit()),
	}
	if !r.From.IsZero() {
		by.Min = strconv.FormatInt(r.From.UnixMilli(), 10)
	}
	if !r.To.IsZero() {
		by.Max = strconv.FormatInt(r.To.UnixMilli(), 10)
	}
	members, err := l.client.ZRangeByScore(ctx, LogKey(resourceID), by).Result()
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	out := make([]Event, 0, len(members))
	for _, member := range members {
		var event Event
		if err := json.Unmarshal([]byte(member), &event); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, event)
	}
	return out, nil
}

func (l *RedisLog) Count(ctx context.Context, resourceID string) (int64, error) {
	n, err := l.client.ZCard(ctx, LogKey(resourceID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (l *RedisLog) RemoveBefore(ctx context.Context, resourceID string, cutoff time.Time) (int64, error) {
	n, err := l.client.ZRemRangeByScore(ctx, LogKey(resourceID), "-inf", strconv.FormatInt(cutoff.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("remove events: %w", err)
	}
	return n, nil
}

func (l *RedisLog) DeleteAll(ctx context.Context, resourceID string) error {
	if err := l.client.Del(ctx, LogKey(resourceID)).Err(); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return nil
}

// MemoryLog mirrors RedisLog ordering and capping in process. Retention by
// age is left to RemoveBefore.
type MemoryLog struct {
	mu     sync.RWMutex
	events map[string][]Event
}

var _ Log = (*MemoryLog)(nil)

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{events: map[string][]Event{}}
}

func (l *MemoryLog) Append(_ context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.events[event.ResourceID]
	for i, existing := range list {
		if existing.ID == event.ID {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	list = append(list, event)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	if len(list) > LogCap {
		list = append([]Event(nil), list[len(list)-LogCap:]...)
	}
	l.events[event.ResourceID] = list
	return nil
}

func (l *MemoryLog) Range(_ context.Context, resourceID string, r Range) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var matched []Event
	for _, event := range l.events[strings.TrimSpace(resourceID)] {
		if !r.From.IsZero() && event.Timestamp.Before(r.From) {
			continue
		}
		if !r.To.IsZero() && event.Timestamp.After(r.To) {
			continue
		}
		matched = append(matched, event)
	}
	if r.Offset >= len(matched) {
		return []Event{}, nil
	}
	matched = matched[r.Offset:]
	if limit := r.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return append([]Event(nil), matched...), nil
}

func (l *MemoryLog) Count(_ context.Context, resourceID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.events[strings.TrimSpace(resourceID)])), nil
}

func (l *MemoryLog) RemoveBefore(_ context.Context, resourceID string, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	resourceID = strings.TrimSpace(resourceID)
	var kept []Event
	var removed int64
	for _, event := range l.events[resourceID] {
		if event.Timestamp.After(cutoff) {
			kept = append(kept, event)
			continue
		}
		removed++
	}
	l.events[resourceID] = kept
	return removed, nil
}

func (l *MemoryLog) DeleteAll(_ context.Context, resourceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, strings.TrimSpace(resourceID))
	return nil
}
