package routing

import (
	"context"
	"sync"
	"time"
)

// cached wraps a Provider with a TTL cache on leg lookups. Stop changes are
// one-shot and pass through.
type cached struct {
	next Provider

	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  Route
	ts time.Time
}

// WithCache caches Route answers for ttl.
func WithCache(next Provider, ttl time.Duration) Provider {
	return &cached{next: next, store: make(map[string]cacheEntry), ttl: ttl}
}

func (c *cached) Route(ctx context.Context, from, to Coord) (Route, error) {
	k := coordKey(from, to)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if ok {
		if time.Since(e.ts) <= c.ttl {
			return e.v, nil
		}
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
	}

	r, err := c.next.Route(ctx, from, to)
	if err != nil {
		return Route{}, err
	}
	c.mu.Lock()
	c.store[k] = cacheEntry{v: r, ts: time.Now()}
	c.mu.Unlock()
	return r, nil
}

func (c *cached) StopChange(ctx context.Context, req StopChangeRequest) (StopChange, error) {
	return c.next.StopChange(ctx, req)
}
