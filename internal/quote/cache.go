// Package quote provides a throttled cache in front of the options-chain provider.
package quote

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FetchFunc retrieves a fresh payload from the provider.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cache holds the last successful payload and the time it was fetched.
// A failed refresh keeps the stale payload and its timestamp.
type Cache[T any] struct {
	interval  time.Duration
	now       func() time.Time
	logger    *zap.Logger
	mutex     sync.Mutex
	payload   T
	fetchedAt time.Time
	loaded    bool
}

// NewCache creates a Cache that refetches once interval has elapsed.
// A nil clock uses time.Now and a nil logger discards output.
func NewCache[T any](interval time.Duration, clock func() time.Time, logger *zap.Logger) *Cache[T] {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache[T]{interval: interval, now: clock, logger: logger}
}

// Get returns the cached payload, refreshing it through fetch when the cache is
// empty or stale. ok is false only when nothing has ever been fetched successfully.
func (c *Cache[T]) Get(ctx context.Context, fetch FetchFunc[T]) (T, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	if c.loaded && now.Sub(c.fetchedAt) < c.interval {
		return c.payload, true
	}

	payload, err := fetch(ctx)
	if err != nil {
		c.logger.Warn("quote refresh failed, serving cached payload",
			zap.Error(err),
			zap.Bool("cached", c.loaded),
			zap.Time("fetched_at", c.fetchedAt))
		return c.payload, c.loaded
	}

	c.payload = payload
	c.fetchedAt = now
	c.loaded = true
	return c.payload, true
}

// FetchedAt returns the time of the last successful refresh, zero if none.
func (c *Cache[T]) FetchedAt() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.fetchedAt
}

// Invalidate forces the next Get to refetch while keeping the payload as fallback.
func (c *Cache[T]) Invalidate() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.fetchedAt = time.Time{}
}
