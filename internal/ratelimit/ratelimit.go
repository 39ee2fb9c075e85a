// Package ratelimit throttles event admission per company.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Veraticus/opsflow/internal/common"
	"github.com/Veraticus/opsflow/internal/config"
)

// Limiter decides whether one more request for key may proceed now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// New builds the limiter selected by cfg. A non-positive rate disables limiting.
func New(cfg config.RateLimitConfig) (Limiter, error) {
	if cfg.RPS <= 0 {
		return Unlimited{}, nil
	}
	switch cfg.Backend {
	case "", config.LimiterMemory:
		return NewMemory(cfg.RPS, cfg.Burst), nil
	case config.LimiterRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("%w: ratelimit.redis_addr is required for the redis backend", common.ErrMissingConfig)
		}
		return NewRedisFromAddr(cfg.RedisAddr, cfg.RPS, cfg.Burst), nil
	default:
		return nil, fmt.Errorf("%w: unknown rate limit backend %q", common.ErrInvalidConfig, cfg.Backend)
	}
}

// Unlimited admits everything.
type Unlimited struct{}

// Allow implements Limiter.
func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

// Close implements Limiter.
func (Unlimited) Close() error { return nil }

// Memory keeps one token bucket per key in process memory.
type Memory struct {
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
}

// NewMemory creates an in-process limiter refilling rps tokens per second up to burst.
func NewMemory(rps float64, burst int) *Memory {
	if burst < 1 {
		burst = 1
	}
	return &Memory{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(rps),
		burst:   burst,
	}
}

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	bucket, ok := m.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(m.limit, m.burst)
		m.buckets[key] = bucket
	}
	m.mu.Unlock()

	return bucket.Allow(), nil
}

// Close implements Limiter.
func (m *Memory) Close() error { return nil }
