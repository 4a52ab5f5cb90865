// Package messaging provides the Redis pub/sub adapter that fans conflict
// cache invalidations out to every running instance.
package messaging

import (
	"context"

	"github.com/goccy/go-json"

	"booking_server/core/port/out"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ChannelCacheInvalidation carries invalidation notices. Delivery is
// best-effort: a missed message only means a stale cache entry that the TTL
// retires within minutes.
const ChannelCacheInvalidation = "conflict-cache:invalidate"

type invalidationMessage struct {
	HostID uuid.UUID `json:"host_id"` // uuid.Nil means every host
}

// RedisInvalidationBus implements out.InvalidationBus over Redis pub/sub.
type RedisInvalidationBus struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisInvalidationBus(client *redis.Client, log zerolog.Logger) *RedisInvalidationBus {
	return &RedisInvalidationBus{
		client: client,
		log:    log.With().Str("component", "invalidation-bus").Logger(),
	}
}

// PublishInvalidation broadcasts an invalidation notice to all instances,
// including the publisher itself.
func (b *RedisInvalidationBus) PublishInvalidation(ctx context.Context, hostID uuid.UUID) error {
	payload, err := json.Marshal(invalidationMessage{HostID: hostID})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, ChannelCacheInvalidation, payload).Err()
}

// Subscribe consumes invalidation notices until ctx is cancelled, invoking
// handler for each. Malformed messages are logged and dropped.
func (b *RedisInvalidationBus) Subscribe(ctx context.Context, handler func(hostID uuid.UUID)) error {
	sub := b.client.Subscribe(ctx, ChannelCacheInvalidation)

	// Force the subscription to be established before we return.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return err
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var notice invalidationMessage
				if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
					b.log.Warn().Err(err).Str("payload", msg.Payload).Msg("dropping malformed invalidation message")
					continue
				}
				handler(notice.HostID)
			}
		}
	}()

	b.log.Info().Str("channel", ChannelCacheInvalidation).Msg("subscribed to cache invalidations")
	return nil
}

var _ out.InvalidationBus = (*RedisInvalidationBus)(nil)
