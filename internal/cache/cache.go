// Package cache memoizes remote backend lookups for a fixed time window.
//
// Entries expire lazily: an expired entry is only dropped when it is next
// read or when Purge runs. Failed fetches are never stored, so the next
// caller retries immediately. Concurrent misses on the same key share one
// in-flight fetch.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the lifetime of a cached backend value.
const DefaultTTL = 60 * time.Second

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// Cache is a concurrency-safe TTL cache shared by all reconciliations.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   clock.Clock
	ttl     time.Duration
	group   singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates an empty cache. A zero ttl selects DefaultTTL and a nil clock
// selects the wall clock.
func New(clk clock.Clock, ttl time.Duration) *Cache {
	if clk == nil {
		clk = clock.WallClock
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		clock:   clk,
		ttl:     ttl,
	}
}

// TTL returns the default lifetime used by GetOrFetch when none is given.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the live value stored under key.
func (c *Cache) Get(key string) (interface{}, bool) {
	now := c.clock.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if !now.Before(e.expiresAt) {
		c.mu.Lock()
		// Another caller may have refreshed it between the locks.
		if cur, ok := c.entries[key]; ok && !now.Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: c.clock.Now().Add(ttl)}
	c.mu.Unlock()
}

// Purge removes every expired entry and returns how many were dropped.
func (c *Cache) Purge() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Start purges expired entries once per TTL until ctx is done. It lets the
// cache run as a controller-runtime manager.Runnable.
func (c *Cache) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(c.ttl):
			c.Purge()
		}
	}
}

// Stats returns hit and miss counters and the number of stored entries.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: n}
}

// GetOrFetch returns the cached value for key, or calls fetch and caches its
// result for ttl. Errors from fetch are returned and not cached.
func GetOrFetch[V any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(context.Context) (V, error)) (V, error) {
	if v, ok := lookup[V](c, key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A previous flight may have filled the entry while we queued.
		if v, ok := lookup[V](c, key); ok {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

func lookup[V any](c *Cache, key string) (V, bool) {
	raw, ok := c.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	v, ok := raw.(V)
	return v, ok
}
