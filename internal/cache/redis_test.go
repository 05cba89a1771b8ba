package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	c := NewCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "custody")
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCacheNamespacing(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "scanner:75", 1234, time.Minute))
	assert.True(t, mr.Exists("custody:scanner:75"))

	v, err := c.GetUint64(ctx, "scanner:75")
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), v)
}

func TestCacheMiss(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.Get(context.Background(), "absent")
	assert.True(t, errors.Is(err, ErrCacheMiss))
	_, err = c.GetUint64(context.Background(), "absent")
	assert.True(t, errors.Is(err, ErrCacheMiss))
}

func TestCacheSetNX(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "k", "1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "k", "2", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Second)
	_, err = c.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrCacheMiss))
}
