// Package ratelimit provides inbound rate limiting for gateway callers with
// support for Redis and in-memory backends.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/config"
	customerrors "github.com/sheikhshariarnehal/cloudvault-sub001/internal/errors"
)

const (
	rateLimitWindowSeconds = 60 // Sliding window for rate limiting
	burstWindowSeconds     = 10 // Burst window for burst limiting
	redisPingTimeout       = 5 * time.Second
)

// Limit describes the per-caller rate limit applied by a Limiter.
type Limit struct {
	RequestsPerMinute int
	Burst             int
}

// Limiter defines the rate limiting interface.
type Limiter interface {
	Allow(ctx context.Context, key string, limit Limit) (bool, error)
}

// New creates a rate limiter from configuration.
//
//nolint:ireturn // Factory pattern requires interface return
func New(ctx context.Context, cfg config.RateLimitConfig, logger *zap.Logger) (Limiter, error) {
	if cfg.Provider != "redis" {
		logger.Info("Using in-memory rate limiter")

		return NewMemoryLimiter(logger), nil
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, customerrors.Wrap(err, "failed to parse Redis URL").
			WithComponent("ratelimit")
	}

	if cfg.Redis.Password != "" {
		opt.Password = cfg.Redis.Password
	}

	if cfg.Redis.DB != 0 {
		opt.DB = cfg.Redis.DB
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, customerrors.Wrap(err, "failed to connect to Redis").
			WithComponent("ratelimit").
			WithOperation("redis_connect")
	}

	logger.Info("Using Redis rate limiter with circuit breaker protection")

	return NewFaultTolerantRedisLimiter(client, logger), nil
}

// RedisLimiter implements rate limiting using Redis.
type RedisLimiter struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
}

// NewRedisLimiter creates a Redis-backed distributed rate limiter.
func NewRedisLimiter(client *redis.Client, logger *zap.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		logger: logger,
		prefix: "ratelimit:",
	}
}

// checkRateLimit increments the sliding-window counter and returns its value.
func (r *RedisLimiter) checkRateLimit(ctx context.Context, key string) (int64, error) {
	now := time.Now()
	window := time.Minute
	redisKey := fmt.Sprintf("%s%s:%d", r.prefix, key, now.Unix()/rateLimitWindowSeconds)

	// Use pipeline for atomic operations
	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window+time.Second)

	_, err := pipe.Exec(ctx)
	if err != nil {
		r.logger.Error("Failed to execute rate limit pipeline",
			zap.String("key", key),
			zap.Error(err))

		return 0, customerrors.Wrap(err, "rate limit check failed").
			WithComponent("ratelimit")
	}

	return incr.Val(), nil
}

// checkBurstLimit checks the burst counter over the short window.
func (r *RedisLimiter) checkBurstLimit(ctx context.Context, key string, burst int) (bool, error) {
	now := time.Now()
	burstWindow := burstWindowSeconds * time.Second
	burstKey := fmt.Sprintf("%sburst:%s:%d", r.prefix, key, now.Unix()/burstWindowSeconds)

	burstPipe := r.client.Pipeline()
	burstIncr := burstPipe.Incr(ctx, burstKey)
	burstPipe.Expire(ctx, burstKey, burstWindow+time.Second)

	_, err := burstPipe.Exec(ctx)
	if err != nil {
		r.logger.Error("Failed to check burst limit",
			zap.String("key", key),
			zap.Error(err))

		return false, customerrors.Wrap(err, "burst limit check failed").
			WithComponent("ratelimit")
	}

	if burstIncr.Val() > int64(burst) {
		r.logger.Debug("Burst limit exceeded",
			zap.String("key", key),
			zap.Int64("burst_count", burstIncr.Val()),
			zap.Int("burst_limit", burst))

		return false, nil
	}

	return true, nil
}

// Allow checks if a request should be allowed. Uses a sliding window counter.
func (r *RedisLimiter) Allow(ctx context.Context, key string, limit Limit) (bool, error) {
	if limit.RequestsPerMinute <= 0 {
		return true, nil
	}

	count, err := r.checkRateLimit(ctx, key)
	if err != nil {
		return false, err
	}

	if count > int64(limit.RequestsPerMinute) {
		r.logger.Debug("Rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", limit.RequestsPerMinute))

		return false, nil
	}

	if limit.Burst > 0 {
		return r.checkBurstLimit(ctx, key, limit.Burst)
	}

	return true, nil
}

// MemoryLimiter provides a simple in-memory rate limiter for single-instance
// deployments.
type MemoryLimiter struct {
	requests    map[string][]time.Time
	logger      *zap.Logger
	mu          sync.Mutex
	burstWindow time.Duration
}

// NewMemoryLimiter creates a local in-memory rate limiter.
func NewMemoryLimiter(logger *zap.Logger) *MemoryLimiter {
	return &MemoryLimiter{
		requests:    make(map[string][]time.Time),
		logger:      logger,
		burstWindow: burstWindowSeconds * time.Second,
	}
}

// Allow checks if a request is allowed (in-memory implementation).
func (r *MemoryLimiter) Allow(_ context.Context, key string, limit Limit) (bool, error) {
	if limit.RequestsPerMinute <= 0 {
		return true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-time.Minute)

	// Clean up old entries
	if requests, exists := r.requests[key]; exists {
		validRequests := make([]time.Time, 0, len(requests))

		for _, t := range requests {
			if t.After(windowStart) {
				validRequests = append(validRequests, t)
			}
		}

		r.requests[key] = validRequests
	}

	if len(r.requests[key]) >= limit.RequestsPerMinute {
		r.logger.Debug("Rate limit exceeded (in-memory)",
			zap.String("key", key),
			zap.Int("count", len(r.requests[key])),
			zap.Int("limit", limit.RequestsPerMinute))

		return false, nil
	}

	if limit.Burst > 0 {
		burstStart := now.Add(-r.burstWindow)
		burstCount := 0

		for _, t := range r.requests[key] {
			if t.After(burstStart) {
				burstCount++
			}
		}

		if burstCount >= limit.Burst {
			r.logger.Debug("Burst limit exceeded (in-memory)",
				zap.String("key", key),
				zap.Int("burst_count", burstCount),
				zap.Int("burst_limit", limit.Burst))

			return false, nil
		}
	}

	r.requests[key] = append(r.requests[key], now)

	return true, nil
}

// SetBurstWindow sets the burst window duration (for testing).
func (r *MemoryLimiter) SetBurstWindow(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.burstWindow = duration
}
