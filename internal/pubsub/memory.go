package pubsub

import (
	"context"
	"sync"
)

// MemoryBroker fans out within one process.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

var _ Broker = (*MemoryBroker)(nil)

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: map[string]map[*subscription]struct{}{}}
}

func (b *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	if err := validateChannel(channel); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs[channel] {
		sub.deliver(append([]byte(nil), payload...))
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error) {
	if err := validateChannel(channel); err != nil {
		return nil, nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrClosed
	}
	sub := newSubscription(channel)
	sub.stop = func() {
		b.mu.Lock()
		delete(b.subs[channel], sub)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
		b.mu.Unlock()
	}
	if b.subs[channel] == nil {
		b.subs[channel] = map[*subscription]struct{}{}
	}
	b.subs[channel][sub] = struct{}{}
	sub.watch(ctx)
	return sub.out, sub.close, nil
}

// Subscribers reports the live subscriber count of channel.
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	var all []*subscription
	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	b.closed = true
	b.mu.Unlock()
	for _, sub := range all {
		sub.close()
	}
	return nil
}
