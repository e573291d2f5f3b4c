package realtime

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Message is one fan-out delivery.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is one client's live channel membership.
type Subscription interface {
	// Messages streams deliveries until Close.
	Messages() <-chan Message
	// Reset atomically swaps the channel set: old channels are
	// unsubscribed before the new ones attach. A publish landing in
	// between may be missed; delivery is best-effort.
	Reset(ctx context.Context, channels []string) error
	Close() error
}

// Broker hands out subscriptions.
type Broker interface {
	Subscribe(ctx context.Context, channels []string) (Subscription, error)
}

// RedisBroker backs subscriptions with Redis pub/sub.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker wraps a Redis client.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Subscribe(ctx context.Context, channels []string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := &redisSubscription{ps: ps, channels: channels, out: make(chan Message, 64)}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	ps       *redis.PubSub
	channels []string
	out      chan Message
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		s.out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}
	}
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) Reset(ctx context.Context, channels []string) error {
	if len(s.channels) > 0 {
		if err := s.ps.Unsubscribe(ctx, s.channels...); err != nil {
			return err
		}
	}
	if err := s.ps.Subscribe(ctx, channels...); err != nil {
		return err
	}
	s.channels = channels
	return nil
}

func (s *redisSubscription) Close() error { return s.ps.Close() }
