package payments

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// HoldStore maps rides to their open PaymentIntent. An empty id with a nil
// error means no hold exists.
type HoldStore interface {
	Set(ctx context.Context, rideID, intentID string) error
	Get(ctx context.Context, rideID string) (string, error)
	Delete(ctx context.Context, rideID string) error
}

// MemoryHolds backs local runs and tests.
type MemoryHolds struct {
	mu    sync.RWMutex
	holds map[string]string
}

func NewMemoryHolds() *MemoryHolds {
	return &MemoryHolds{holds: make(map[string]string)}
}

func (m *MemoryHolds) Set(_ context.Context, rideID, intentID string) error {
	m.mu.Lock()
	m.holds[rideID] = intentID
	m.mu.Unlock()
	return nil
}

func (m *MemoryHolds) Get(_ context.Context, rideID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.holds[rideID], nil
}

func (m *MemoryHolds) Delete(_ context.Context, rideID string) error {
	m.mu.Lock()
	delete(m.holds, rideID)
	m.mu.Unlock()
	return nil
}

// RedisHolds shares holds across engine instances.
type RedisHolds struct {
	client *redis.Client
}

func NewRedisHolds(client *redis.Client) *RedisHolds {
	return &RedisHolds{client: client}
}

func holdKey(rideID string) string { return "settlement:hold:" + rideID }

func (r *RedisHolds) Set(ctx context.Context, rideID, intentID string) error {
	return r.client.Set(ctx, holdKey(rideID), intentID, 0).Err()
}

func (r *RedisHolds) Get(ctx context.Context, rideID string) (string, error) {
	v, err := r.client.Get(ctx, holdKey(rideID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (r *RedisHolds) Delete(ctx context.Context, rideID string) error {
	return r.client.Del(ctx, holdKey(rideID)).Err()
}
