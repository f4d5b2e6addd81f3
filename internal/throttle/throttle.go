// Package throttle rate-limits fare edits per ride with a true sliding
// window: each attempt prunes entries older than the window relative to its
// own timestamp, so a burst ages out edit by edit instead of all at once.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimitedError reports a rejected edit attempt. RetryAfter is how long
// until the oldest in-window edit ages out and a slot opens.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("edit rate limit reached, retry after %s", e.RetryAfter.Round(time.Second))
}

// Limiter is the edit throttle shared by plain bid edits and delta-approval
// edits. Allow either records the attempt and returns nil, or returns a
// *RateLimitedError without recording anything.
type Limiter interface {
	Allow(ctx context.Context, rideID string, at time.Time) error
}

// Memory is the in-process limiter. The check-and-append is atomic per ride:
// the map lock only guards record lookup, each ride has its own mutex.
type Memory struct {
	window time.Duration
	limit  int

	mu    sync.Mutex
	rides map[string]*rideWindow
}

type rideWindow struct {
	mu    sync.Mutex
	edits []time.Time
}

// NewMemory builds a limiter allowing limit edits per ride per window.
func NewMemory(window time.Duration, limit int) *Memory {
	return &Memory{window: window, limit: limit, rides: make(map[string]*rideWindow)}
}

func (m *Memory) Allow(_ context.Context, rideID string, at time.Time) error {
	m.mu.Lock()
	rw, ok := m.rides[rideID]
	if !ok {
		rw = &rideWindow{}
		m.rides[rideID] = rw
	}
	m.mu.Unlock()

	rw.mu.Lock()
	defer rw.mu.Unlock()

	// Drop edits strictly older than the window; one exactly window-old is
	// still counted.
	kept := rw.edits[:0]
	for _, e := range rw.edits {
		if at.Sub(e) <= m.window {
			kept = append(kept, e)
		}
	}
	rw.edits = kept

	if len(rw.edits) >= m.limit {
		retryAfter := m.window
		if len(rw.edits) > 0 {
			retryAfter = rw.edits[0].Add(m.window).Sub(at)
		}
		return &RateLimitedError{RetryAfter: retryAfter}
	}
	rw.edits = append(rw.edits, at)
	return nil
}
