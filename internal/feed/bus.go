package feed

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sneakloop/hyperlocal/pkg/models"
)

// channelPrefix namespaces the per-cell pub/sub channels.
const channelPrefix = "feed:"

// ChannelForCell names the pub/sub channel for one cell.
func ChannelForCell(cell string) string {
	return channelPrefix + cell
}

// Publisher is the pub/sub surface the bus writes to.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// EventStore persists event records.
type EventStore interface {
	CreateEvent(ctx context.Context, event *models.FeedEvent) error
}

// RedisPublisher publishes over Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps a Redis client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// Bus writes events and fans them out. Persistence failures propagate;
// publish failures are logged and swallowed, fan-out is best-effort
// at-most-once.
type Bus struct {
	store  EventStore
	pub    Publisher
	logger *zap.Logger
}

// NewBus builds the event bus. A nil publisher disables fan-out.
func NewBus(store EventStore, pub Publisher, logger *zap.Logger) *Bus {
	return &Bus{store: store, pub: pub, logger: logger}
}

// Emit persists the event then publishes it to its R9 cell channel.
func (b *Bus) Emit(ctx context.Context, event *models.FeedEvent) error {
	if err := b.store.CreateEvent(ctx, event); err != nil {
		return err
	}
	if b.pub == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn("event publish encode failed",
			zap.String("event_id", event.ID.String()),
			zap.Error(err))
		return nil
	}
	if err := b.pub.Publish(ctx, ChannelForCell(event.CellR9), payload); err != nil {
		b.logger.Warn("event publish failed",
			zap.String("event_id", event.ID.String()),
			zap.String("channel", ChannelForCell(event.CellR9)),
			zap.Error(err))
	}
	return nil
}
