// Package credcache provides an expiring key/value cache with an early
// refresh margin. Entries stop being served margin before they expire so
// a caller never receives a credential that lapses mid-request.
package credcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultMargin is how long before nominal expiry an entry is treated as
// absent.
const DefaultMargin = 5 * time.Minute

// DefaultFillTimeout bounds one shared fill.
const DefaultFillTimeout = 30 * time.Second

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is safe for concurrent use. Writers race last-writer-wins.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	margin  time.Duration
	now     func() time.Time
	timeout time.Duration
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*cacheOptions)

type cacheOptions struct {
	now     func() time.Time
	timeout time.Duration
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *cacheOptions) { o.now = now }
}

// WithFillTimeout bounds each fill. Non-positive values keep
// DefaultFillTimeout.
func WithFillTimeout(d time.Duration) Option {
	return func(o *cacheOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// New returns an empty cache. A negative margin is treated as zero.
func New[V any](margin time.Duration, opts ...Option) *Cache[V] {
	o := cacheOptions{now: time.Now, timeout: DefaultFillTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	if margin < 0 {
		margin = 0
	}

	return &Cache[V]{
		entries: make(map[string]entry[V]),
		margin:  margin,
		now:     o.now,
		timeout: o.timeout,
	}
}

// Get returns the value for key while now < expiresAt - margin.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expiresAt.Add(-c.margin)) {
		var zero V
		return zero, false
	}

	return e.value, true
}

// Set stores value under key with expiresAt = now + ttl.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Delete drops key. Deleting a missing key is a no-op.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of stored entries, including ones inside the
// refresh margin that Get would no longer serve.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// FillFunc produces a fresh value and its time to live.
type FillFunc[V any] func(ctx context.Context) (V, time.Duration, error)

// GetOrCreate returns the cached value for key or calls fill to produce
// one. Concurrent callers for the same key share a single fill. Fill
// errors are returned to every waiter and are not cached.
//
// The fill keeps ctx's values but not its cancellation, and runs under the
// cache's fill timeout, so one caller giving up does not fail the others.
// A caller whose ctx ends stops waiting with ctx's error.
func (c *Cache[V]) GetOrCreate(ctx context.Context, key string, fill FillFunc[V]) (V, error) {
	var zero V

	if v, ok := c.Get(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// Another caller may have filled while we waited on the group.
		if v, ok := c.Get(key); ok {
			return v, nil
		}

		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		v, ttl, err := fill(fillCtx)
		if err != nil {
			return nil, err
		}

		c.Set(key, v, ttl)

		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}

		return res.Val.(V), nil
	}
}
