package pubsub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const flushTimeout = 5 * time.Second

// NATSBroker maps channels one to one onto core NATS subjects.
type NATSBroker struct {
	nc *nats.Conn
}

var _ Broker = (*NATSBroker)(nil)

func NewNATSBroker(nc *nats.Conn) (*NATSBroker, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	return &NATSBroker{nc: nc}, nil
}

func (b *NATSBroker) Publish(_ context.Context, channel string, payload []byte) error {
	if err := validateChannel(channel); err != nil {
		return err
	}
	if err := b.nc.Publish(channel, payload); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (b *NATSBroker) Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error) {
	if err := validateChannel(channel); err != nil {
		return nil, nil, err
	}
	sub := newSubscription(channel)
	ns, err := b.nc.Subscribe(channel, func(msg *nats.Msg) {
		sub.deliver(msg.Data)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	if err := b.nc.FlushTimeout(flushTimeout); err != nil {
		_ = ns.Unsubscribe()
		return nil, nil, fmt.Errorf("flush subscription %s: %w", channel, err)
	}
	sub.stop = func() { _ = ns.Unsubscribe() }
	sub.watch(ctx)
	return sub.out, sub.close, nil
}

func (b *NATSBroker) Close() error {
	return b.nc.Drain()
}
