// Package messaging implements event bus functionality for ClassLens.
package messaging

import (
	"context"
	"sync"

	redisinfra "github.com/classlens/classlens-monitor/internal/infrastructure/persistence/redis"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS CLIENT ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// CacheRedisClient adapts the persistence-layer Cache to the RedisClient
// interface the RedisEventBus expects.
type CacheRedisClient struct {
	cache *redisinfra.Cache

	mu     sync.Mutex
	cancel []context.CancelFunc
}

// NewCacheRedisClient wraps a Cache for event bus use.
func NewCacheRedisClient(cache *redisinfra.Cache) *CacheRedisClient {
	return &CacheRedisClient{cache: cache}
}

// Publish sends a message to a Redis channel.
func (c *CacheRedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	return c.cache.Client().Publish(ctx, channel, message).Err()
}

// Subscribe listens on the given channels and forwards messages.
// The returned channel closes when ctx is cancelled or the client is closed.
func (c *CacheRedisClient) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = append(c.cancel, cancel)
	c.mu.Unlock()

	pubsub := c.cache.Subscribe(ctx, channels...)
	out := make(chan RedisMessage)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close stops all active subscriptions.
func (c *CacheRedisClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cancel := range c.cancel {
		cancel()
	}
	c.cancel = nil
	return nil
}
