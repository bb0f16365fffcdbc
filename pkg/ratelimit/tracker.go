package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Tracker keeps the error budget of one source.
type Tracker interface {
	// GetState returns the budget of the current window.
	GetState(ctx context.Context) (*State, error)

	// RecordError spends one error of the budget.
	RecordError(ctx context.Context) error
}

// MemoryTracker keeps the budget in process.
type MemoryTracker struct {
	mu      sync.Mutex
	budget  int
	window  time.Duration
	used    int
	resetAt time.Time
}

// NewMemoryTracker creates a tracker allowing budget errors per window.
// Non-positive values fall back to DefaultErrorBudget and DefaultWindow.
func NewMemoryTracker(budget int, window time.Duration) *MemoryTracker {
	if budget <= 0 {
		budget = DefaultErrorBudget
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryTracker{budget: budget, window: window}
}

// GetState returns the budget of the current window.
func (t *MemoryTracker) GetState(_ context.Context) (*State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roll(time.Now())
	return newState(t.budget, t.used, t.resetAt), nil
}

// RecordError spends one error of the budget. The first error opens the window.
func (t *MemoryTracker) RecordError(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.roll(now)
	if t.used == 0 {
		t.resetAt = now.Add(t.window)
	}
	t.used++
	return nil
}

func (t *MemoryTracker) roll(now time.Time) {
	if t.used > 0 && !now.Before(t.resetAt) {
		t.used = 0
		t.resetAt = time.Time{}
	}
}

// RedisTracker shares the budget of a source between processes. The error
// count is a Redis counter expiring with the window.
type RedisTracker struct {
	redis  *redis.Client
	key    string
	budget int
	window time.Duration
	logger zerolog.Logger
}

// NewRedisTracker creates a tracker for source backed by Redis.
func NewRedisTracker(redisClient *redis.Client, source string, budget int, window time.Duration, logger zerolog.Logger) *RedisTracker {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if budget <= 0 {
		budget = DefaultErrorBudget
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisTracker{
		redis:  redisClient,
		key:    "pagesync:ratelimit:" + source + ":errors",
		budget: budget,
		window: window,
		logger: logger,
	}
}

// GetState reads the error count and the remaining window from Redis.
func (t *RedisTracker) GetState(ctx context.Context) (*State, error) {
	pipe := t.redis.Pipeline()
	countCmd := pipe.Get(ctx, t.key)
	ttlCmd := pipe.PTTL(ctx, t.key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get error budget: %w", err)
	}

	used, err := countCmd.Int()
	if errors.Is(err, redis.Nil) {
		t.logger.Debug().Str("key", t.key).Msg("No errors recorded, budget untouched")
		return newState(t.budget, 0, time.Time{}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse error count: %w", err)
	}

	resetAt := time.Now()
	if ttl := ttlCmd.Val(); ttl > 0 {
		resetAt = resetAt.Add(ttl)
	}
	return newState(t.budget, used, resetAt), nil
}

// RecordError increments the error count. The first error of a window sets
// its expiry.
func (t *RedisTracker) RecordError(ctx context.Context) error {
	pipe := t.redis.TxPipeline()
	pipe.Incr(ctx, t.key)
	pipe.ExpireNX(ctx, t.key, t.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record error in redis: %w", err)
	}
	return nil
}
