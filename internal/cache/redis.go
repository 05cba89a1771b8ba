// internal/cache/redis.go
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache namespaces keys as "<namespace>:<key>" over a single or cluster client
type Cache struct {
	client    redis.UniversalClient
	namespace string
}

func NewCache(addrs []string, password string, db int, useCluster bool, namespace string) *Cache {
	var rdb redis.UniversalClient

	if useCluster && len(addrs) > 1 {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Password: password,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addrs[0],
			Password: password,
			DB:       db,
		})
	}

	return NewCacheFromClient(rdb, namespace)
}

func NewCacheFromClient(client redis.UniversalClient, namespace string) *Cache {
	return &Cache{client: client, namespace: namespace}
}

// Key joins parts under the cache namespace
func (c *Cache) Key(parts ...string) string {
	return c.namespace + ":" + strings.Join(parts, ":")
}

func (c *Cache) Client() redis.UniversalClient {
	return c.client
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.client.Set(ctx, c.Key(key), value, ttl).Err()
}

// SetNX reports whether the key was newly written
func (c *Cache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, c.Key(key), value, ttl).Result()
}

func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	v, err := c.client.Get(ctx, c.Key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return v, err
}

func (c *Cache) GetUint64(ctx context.Context, key string) (uint64, error) {
	v, err := c.client.Get(ctx, c.Key(key)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrCacheMiss
	}
	return v, err
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.Key(key)).Err()
}

// Eval runs a script against namespaced keys
func (c *Cache) Eval(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) *redis.Cmd {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.Key(k)
	}
	return script.Run(ctx, c.client, full, args...)
}

// Publish sends payload on a channel; channels are not namespaced
func (c *Cache) Publish(ctx context.Context, channel string, payload interface{}) error {
	return c.client.Publish(ctx, channel, payload).Err()
}
