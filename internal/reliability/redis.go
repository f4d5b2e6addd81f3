package reliability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/fare-engine/internal/models"
)

// RedisCooldowns shares cooldown state across instances. The key expires at
// the cooldown deadline, so an absent key means no active hold.
type RedisCooldowns struct {
	client *redis.Client
}

func NewRedisCooldowns(client *redis.Client) *RedisCooldowns {
	return &RedisCooldowns{client: client}
}

func (r *RedisCooldowns) Start(ctx context.Context, driverID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	// NX plus a re-set on longer deadlines keeps the longest hold in place.
	ok, err := r.client.SetNX(ctx, cooldownKey(driverID), until.UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil || ok {
		return err
	}
	cur, err := r.client.Get(ctx, cooldownKey(driverID)).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, cooldownKey(driverID), until.UTC().Format(time.RFC3339Nano), ttl).Err()
	}
	if err != nil {
		return err
	}
	existing, err := time.Parse(time.RFC3339Nano, cur)
	if err == nil && existing.After(until) {
		return nil
	}
	return r.client.Set(ctx, cooldownKey(driverID), until.UTC().Format(time.RFC3339Nano), ttl).Err()
}

func (r *RedisCooldowns) Get(ctx context.Context, driverID string) (models.CooldownState, error) {
	st := models.CooldownState{DriverID: driverID}
	val, err := r.client.Get(ctx, cooldownKey(driverID)).Result()
	if err == redis.Nil {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	until, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return st, err
	}
	if until.After(time.Now()) {
		st.Active = true
		st.Until = until
	}
	return st, nil
}

func cooldownKey(driverID string) string { return "cooldown:driver:" + driverID }

// RedisScoreCache caches computed scores with a short TTL. Read and write
// failures degrade to recompute.
type RedisScoreCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisScoreCache(client *redis.Client, ttl time.Duration) *RedisScoreCache {
	return &RedisScoreCache{client: client, ttl: ttl}
}

func (c *RedisScoreCache) Get(ctx context.Context, driverID string) (models.ReliabilityScore, bool) {
	val, err := c.client.Get(ctx, scoreKey(driverID)).Bytes()
	if err != nil {
		return models.ReliabilityScore{}, false
	}
	var sc models.ReliabilityScore
	if err := json.Unmarshal(val, &sc); err != nil {
		return models.ReliabilityScore{}, false
	}
	return sc, true
}

func (c *RedisScoreCache) Set(ctx context.Context, driverID string, sc models.ReliabilityScore) {
	doc, err := json.Marshal(sc)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, scoreKey(driverID), doc, c.ttl).Err()
}

func scoreKey(driverID string) string { return "score:driver:" + driverID }
