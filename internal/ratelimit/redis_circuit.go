package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/circuit"
)

const (
	breakerMaxFailures      = 5
	breakerSuccessThreshold = 3
	breakerCooldown         = 30 * time.Second
)

// FaultTolerantRedisLimiter wraps RedisLimiter with a circuit breaker so a
// Redis outage degrades to local in-memory limiting instead of failing
// requests.
type FaultTolerantRedisLimiter struct {
	limiter  *RedisLimiter
	breaker  *circuit.Breaker
	logger   *zap.Logger
	fallback Limiter
}

// NewFaultTolerantRedisLimiter creates a Redis rate limiter with circuit
// breaker protection.
func NewFaultTolerantRedisLimiter(client *redis.Client, logger *zap.Logger) *FaultTolerantRedisLimiter {
	return &FaultTolerantRedisLimiter{
		limiter:  NewRedisLimiter(client, logger),
		breaker:  circuit.NewBreaker(breakerMaxFailures, breakerSuccessThreshold, breakerCooldown),
		logger:   logger,
		fallback: NewMemoryLimiter(logger),
	}
}

// Allow checks if a request is allowed with circuit breaker protection.
func (r *FaultTolerantRedisLimiter) Allow(ctx context.Context, key string, limit Limit) (bool, error) {
	if r.breaker.IsOpen() {
		r.logger.Warn("Circuit breaker is open, using fallback rate limiter",
			zap.String("key", key))

		return r.fallback.Allow(ctx, key, limit)
	}

	var allowed bool

	var err error

	cbErr := r.breaker.Call(func() error {
		allowed, err = r.limiter.Allow(ctx, key, limit)

		return err
	})
	if cbErr != nil {
		r.logger.Warn("Redis rate limiter failed, using fallback",
			zap.String("key", key),
			zap.Error(cbErr),
			zap.String("circuit_state", r.breaker.GetState().String()))

		return r.fallback.Allow(ctx, key, limit)
	}

	return allowed, nil
}

// BreakerState returns the current state of the circuit breaker.
func (r *FaultTolerantRedisLimiter) BreakerState() circuit.State {
	return r.breaker.GetState()
}

// Close stops the circuit breaker's background goroutine.
func (r *FaultTolerantRedisLimiter) Close() {
	r.breaker.Close()
}
