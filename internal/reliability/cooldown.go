package reliability

import (
	"context"
	"sync"
	"time"

	"github.com/example/fare-engine/internal/models"
)

// CooldownStore tracks the per-driver dispatch hold that follows a
// non-exempt cancellation. It only records "held until T"; enforcement is
// the dispatcher's job.
type CooldownStore interface {
	Start(ctx context.Context, driverID string, until time.Time) error
	Get(ctx context.Context, driverID string) (models.CooldownState, error)
}

// ScoreCache holds recently computed scores. Misses and backend failures
// both read as a miss; the event log stays the source of truth.
type ScoreCache interface {
	Get(ctx context.Context, driverID string) (models.ReliabilityScore, bool)
	Set(ctx context.Context, driverID string, sc models.ReliabilityScore)
}

// MemoryCooldowns is the in-process CooldownStore.
type MemoryCooldowns struct {
	mu    sync.RWMutex
	until map[string]time.Time
}

func NewMemoryCooldowns() *MemoryCooldowns {
	return &MemoryCooldowns{until: make(map[string]time.Time)}
}

func (m *MemoryCooldowns) Start(_ context.Context, driverID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// never shorten an already-running cooldown
	if cur, ok := m.until[driverID]; ok && cur.After(until) {
		return nil
	}
	m.until[driverID] = until
	return nil
}

func (m *MemoryCooldowns) Get(_ context.Context, driverID string) (models.CooldownState, error) {
	m.mu.RLock()
	until, ok := m.until[driverID]
	m.mu.RUnlock()
	st := models.CooldownState{DriverID: driverID}
	if ok && until.After(time.Now()) {
		st.Active = true
		st.Until = until
	}
	return st, nil
}

// MemoryScoreCache is the in-process ScoreCache with a fixed TTL.
type MemoryScoreCache struct {
	mu  sync.RWMutex
	ttl time.Duration
	res map[string]cachedScore
}

type cachedScore struct {
	score   models.ReliabilityScore
	expires time.Time
}

func NewMemoryScoreCache(ttl time.Duration) *MemoryScoreCache {
	return &MemoryScoreCache{ttl: ttl, res: make(map[string]cachedScore)}
}

func (c *MemoryScoreCache) Get(_ context.Context, driverID string) (models.ReliabilityScore, bool) {
	c.mu.RLock()
	entry, ok := c.res[driverID]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return models.ReliabilityScore{}, false
	}
	return entry.score, true
}

func (c *MemoryScoreCache) Set(_ context.Context, driverID string, sc models.ReliabilityScore) {
	c.mu.Lock()
	c.res[driverID] = cachedScore{score: sc, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}
