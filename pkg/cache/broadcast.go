package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// ShopInvalidator drops a shop's cached entries.
type ShopInvalidator interface {
	InvalidateShop(shopID string)
}

// Broadcaster fans shop invalidations out to every replica over redis
// pub/sub. Each replica runs Run and publishes through Publish.
type Broadcaster struct {
	client  redis.UniversalClient
	channel string
	target  ShopInvalidator
	logger  *slog.Logger
}

// NewBroadcaster creates a broadcaster delivering to target.
func NewBroadcaster(client redis.UniversalClient, channel string, target ShopInvalidator, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		client:  client,
		channel: channel,
		target:  target,
		logger:  logger,
	}
}

// Publish announces that shopID's cached resolutions are stale. The local
// cache is invalidated too, even if publishing fails.
func (b *Broadcaster) Publish(ctx context.Context, shopID string) error {
	b.target.InvalidateShop(shopID)
	if err := b.client.Publish(ctx, b.channel, shopID).Err(); err != nil {
		return fmt.Errorf("publish invalidation for shop %s: %w", shopID, err)
	}
	return nil
}

// Run applies invalidations published by other replicas until ctx is
// cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	b.logger.Info("cache invalidation subscriber started", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("cache invalidation subscriber stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				b.logger.Warn("cache invalidation subscription closed", "channel", b.channel)
				return
			}
			b.target.InvalidateShop(msg.Payload)
		}
	}
}
