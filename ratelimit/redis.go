package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// reserveScript prunes, checks and records in one round trip. It returns {allowed, retry_after_ms, member}.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local counter_key = KEYS[2]
local now = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window_ms)
local count = redis.call('ZCARD', key)
if count < limit then
	local counter = redis.call('INCR', counter_key)
	local member = now .. ':' .. counter
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window_ms)
	redis.call('PEXPIRE', counter_key, window_ms)
	return {1, 0, member}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry_after = 0
if #oldest >= 2 then
	retry_after = oldest[2] + window_ms - now
end
return {0, retry_after, ''}
`)

// RedisLimiter shares the windows between processes through sorted sets, one per key. Entries expire with
// the key, Sweep has nothing to do.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Reserve(ctx context.Context, key string, p Policy) (*Reservation, error) {
	redisKey := l.prefix + key
	result, err := reserveScript.Run(ctx, l.client, []string{redisKey, redisKey + ":counter"},
		l.now().UnixMilli(),
		p.Window.Milliseconds(),
		p.MaxMessages,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	if len(result) < 3 {
		return nil, fmt.Errorf("unexpected result length: %d", len(result))
	}
	allowed, ok := result[0].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected type for allowed: %T", result[0])
	}
	retryAfterMs, ok := result[1].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected type for retry_after: %T", result[1])
	}
	member, _ := result[2].(string)

	if allowed != 1 {
		return &Reservation{Allowed: false, RetryAfter: time.Duration(retryAfterMs) * time.Millisecond}, nil
	}
	return &Reservation{Allowed: true, cancel: func() {
		// the caller's context may already be done
		l.client.ZRem(context.Background(), redisKey, member)
	}}, nil
}

func (l *RedisLimiter) Sweep() {}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
