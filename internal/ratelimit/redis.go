package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes a bucket atomically.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = now (unix seconds, fractional)
// ARGV[5] = ttl (seconds)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, ttl)

return {allowed, tostring(tokens)}
`)

const keyPrefix = "opsflow:ingest:"

// Redis shares token buckets between replicas through a Redis server.
type Redis struct {
	client *redis.Client
	now    func() time.Time
	rps    float64
	burst  int
	ttl    int
}

// NewRedisFromAddr connects to the Redis server at addr.
func NewRedisFromAddr(addr string, rps float64, burst int) *Redis {
	return NewRedis(redis.NewClient(&redis.Options{Addr: addr}), rps, burst)
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, rps float64, burst int) *Redis {
	if burst < 1 {
		burst = 1
	}
	// An idle bucket expires once it would have refilled completely.
	ttl := int(math.Ceil(float64(burst)/rps)) + 1
	return &Redis{
		client: client,
		now:    time.Now,
		rps:    rps,
		burst:  burst,
		ttl:    ttl,
	}
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(r.now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, r.client, []string{keyPrefix + key}, r.rps, r.burst, 1, now, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}

	results, ok := res.([]any)
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("redis limiter: unexpected script reply %T", res)
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
