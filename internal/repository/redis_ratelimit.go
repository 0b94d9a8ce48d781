package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingLog prunes, checks and records in one round trip.
// KEYS[1] log key; ARGV now_ms, window_ms, max, member.
var slidingLog = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= max then
  return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisRateLimiter is the shared sliding-log limiter: a sorted set per
// recipient scored by hit time in milliseconds.
type RedisRateLimiter struct {
	cli    *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(cli *redis.Client, prefix string) *RedisRateLimiter {
	if prefix == "" {
		prefix = "fxalert"
	}
	return &RedisRateLimiter{cli: cli, prefix: prefix, now: time.Now}
}

// WithClock overrides time.Now, for tests.
func (r *RedisRateLimiter) WithClock(now func() time.Time) *RedisRateLimiter {
	r.now = now
	return r
}

func (r *RedisRateLimiter) Allow(ctx context.Context, recipientID string, max int, window time.Duration) (bool, error) {
	if max <= 0 {
		return false, nil
	}
	key := r.prefix + ":rl:" + recipientID
	res, err := slidingLog.Run(ctx, r.cli, []string{key},
		r.now().UnixMilli(), window.Milliseconds(), max, uuid.NewString()).Int()
	if err != nil {
		return false, fmt.Errorf("redis rate limit %s: %w", recipientID, err)
	}
	return res == 1, nil
}
