// internal/nonce/allocator.go
package nonce

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/cache"
	"github.com/Gazprom100/TAPDEL-sub000/internal/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// The cached value is the last number handed out. Returns -1 when the key is
// absent so the caller re-derives from the chain instead of starting at 1.
var incrIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
local n = redis.call("INCR", KEYS[1])
redis.call("PEXPIRE", KEYS[1], ARGV[1])
return n
`)

// PendingSource is the authoritative pending transaction count
type PendingSource interface {
	PendingNonceAt(ctx context.Context, address string) (uint64, error)
}

// Allocator hands out outgoing sequence numbers per address
type Allocator struct {
	cache  *cache.Cache // nil disables caching
	chain  PendingSource
	ttl    time.Duration
	locks  sync.Map
	stale  sync.Map // addresses allocated from chain while the cache was unreachable
	logger *zap.Logger
}

func NewAllocator(c *cache.Cache, chain PendingSource, ttl time.Duration, logger *zap.Logger) *Allocator {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Allocator{
		cache:  c,
		chain:  chain,
		ttl:    ttl,
		logger: logger,
	}
}

// Next returns the next sequence number for address. Concurrent callers in
// this process are serialized; the cache increment is atomic across processes.
func (a *Allocator) Next(ctx context.Context, address string) (uint64, error) {
	mu := a.lockFor(address)
	mu.Lock()
	defer mu.Unlock()

	if a.cache == nil {
		return a.fromChain(ctx, address, "chain")
	}

	key := a.key(address)

	// A counter that survived a fallback period no longer covers the numbers
	// handed out meanwhile; drop it before trusting the cache again.
	if a.isStale(address) {
		if err := a.cache.Delete(ctx, key); err != nil {
			a.logger.Warn("nonce cache still unavailable, deriving from chain",
				zap.String("address", address),
				zap.Error(err))
			return a.fromChain(ctx, address, "fallback")
		}
		a.stale.Delete(a.addrKey(address))
		a.logger.Info("stale nonce cache dropped", zap.String("address", address))
	}

	for attempt := 0; attempt < 2; attempt++ {
		n, err := a.cache.Eval(ctx, incrIfExists, []string{key}, a.ttl.Milliseconds()).Int64()
		if err != nil {
			a.logger.Warn("nonce cache unavailable, deriving from chain",
				zap.String("address", address),
				zap.Error(err))
			a.markStale(address)
			return a.fromChain(ctx, address, "fallback")
		}
		if n >= 0 {
			metrics.NonceAllocations.WithLabelValues("cache").Inc()
			return uint64(n), nil
		}

		pending, err := a.chain.PendingNonceAt(ctx, address)
		if err != nil {
			return 0, fmt.Errorf("failed to derive nonce: %w", err)
		}
		seeded, err := a.cache.SetNX(ctx, key, pending, a.ttl)
		if err != nil {
			a.logger.Warn("failed to seed nonce cache", zap.String("address", address), zap.Error(err))
			a.markStale(address)
			metrics.NonceAllocations.WithLabelValues("fallback").Inc()
			return pending, nil
		}
		if seeded {
			metrics.NonceAllocations.WithLabelValues("chain").Inc()
			a.logger.Debug("nonce cache seeded",
				zap.String("address", address),
				zap.Uint64("nonce", pending))
			return pending, nil
		}
		// another process seeded between our script and SETNX; increment theirs
	}
	return 0, fmt.Errorf("nonce cache for %s kept changing under allocation", address)
}

// Reset drops the cached counter so the next allocation re-derives from chain
func (a *Allocator) Reset(ctx context.Context, address string) error {
	if a.cache == nil {
		return nil
	}
	mu := a.lockFor(address)
	mu.Lock()
	defer mu.Unlock()

	if err := a.cache.Delete(ctx, a.key(address)); err != nil {
		return fmt.Errorf("failed to reset nonce cache: %w", err)
	}
	a.logger.Info("nonce cache reset", zap.String("address", address))
	return nil
}

func (a *Allocator) fromChain(ctx context.Context, address, source string) (uint64, error) {
	pending, err := a.chain.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("failed to derive nonce: %w", err)
	}
	metrics.NonceAllocations.WithLabelValues(source).Inc()
	return pending, nil
}

func (a *Allocator) markStale(address string) {
	a.stale.Store(a.addrKey(address), struct{}{})
}

func (a *Allocator) isStale(address string) bool {
	_, ok := a.stale.Load(a.addrKey(address))
	return ok
}

func (a *Allocator) lockFor(address string) *sync.Mutex {
	mu, _ := a.locks.LoadOrStore(a.addrKey(address), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (a *Allocator) addrKey(address string) string {
	return strings.ToLower(address)
}

func (a *Allocator) key(address string) string {
	return "nonce:" + a.addrKey(address)
}
