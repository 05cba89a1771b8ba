// internal/events/redis.go
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gazprom100/TAPDEL-sub000/internal/cache"
	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"
)

// RedisPublisher fans events out over Redis pub/sub
type RedisPublisher struct {
	cache   *cache.Cache
	channel string
}

func NewRedisPublisher(c *cache.Cache, channel string) *RedisPublisher {
	return &RedisPublisher{cache: c, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, evt *domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.cache.Publish(ctx, p.channel, payload); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// the cache is shared with the nonce allocator and closed by its owner
func (p *RedisPublisher) Close() error { return nil }
func (p *RedisPublisher) Name() string { return "redis" }
