package pubsub

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBroker uses Redis PUBLISH/SUBSCRIBE.
type RedisBroker struct {
	client redis.UniversalClient
}

var _ Broker = (*RedisBroker)(nil)

func NewRedisBroker(client redis.UniversalClient) (*RedisBroker, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &RedisBroker{client: client}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := validateChannel(channel); err != nil {
		return err
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error) {
	if err := validateChannel(channel); err != nil {
		return nil, nil, err
	}
	ps := b.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so later publishes are seen.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	sub := newSubscription(channel)
	sub.stop = func() { _ = ps.Close() }
	go func() {
		for msg := range ps.Channel() {
			sub.deliver([]byte(msg.Payload))
		}
		sub.close()
	}()
	sub.watch(ctx)
	return sub.out, sub.close, nil
}

// Close is a no-op; the client is owned by the caller.
func (b *RedisBroker) Close() error { return nil }
