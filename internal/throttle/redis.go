package throttle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript prunes, counts and conditionally records in one atomic step so
// two concurrent edits can never both pass a count they should not.
//
// KEYS[1] ride window zset
// ARGV[1] prune cutoff millis (strictly older entries removed)
// ARGV[2] limit
// ARGV[3] attempt millis (score)
// ARGV[4] member
// ARGV[5] key ttl millis
// Returns {1} when allowed, {0, oldestScoreMillis} when limited.
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[2]) then
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  return {0, oldest[2]}
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return {1}
`)

// Redis is the shared limiter for multi-instance deployments: the window
// lives in a per-ride sorted set keyed by edit timestamp.
type Redis struct {
	client *redis.Client
	window time.Duration
	limit  int
}

func NewRedis(client *redis.Client, window time.Duration, limit int) *Redis {
	return &Redis{client: client, window: window, limit: limit}
}

func (r *Redis) Allow(ctx context.Context, rideID string, at time.Time) error {
	key := "bid_edits:" + rideID
	atMs := at.UnixMilli()
	cutoff := atMs - r.window.Milliseconds()

	res, err := allowScript.Run(ctx, r.client, []string{key},
		cutoff, r.limit, atMs, member(atMs), 2*r.window.Milliseconds()).Slice()
	if err != nil {
		return fmt.Errorf("throttle script: %w", err)
	}
	if allowed, _ := res[0].(int64); allowed == 1 {
		return nil
	}
	retry := r.window
	if len(res) > 1 {
		if oldest, ok := toInt64(res[1]); ok {
			retry = time.UnixMilli(oldest).Add(r.window).Sub(at)
		}
	}
	return &RateLimitedError{RetryAfter: retry}
}

// member makes zset entries unique even when two edits land in the same
// millisecond.
func member(atMs int64) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%d-%s", atMs, hex.EncodeToString(b))
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case string:
		var out int64
		_, err := fmt.Sscan(n, &out)
		return out, err == nil
	default:
		return 0, false
	}
}
