package upload

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimiter bounds the number of simultaneous protocol sends. Slots
// are released in a deferred call so a panicking send cannot leak capacity.
type ConcurrencyLimiter struct {
	sem      *semaphore.Weighted
	capacity int64
}

// NewConcurrencyLimiter creates a limiter with the given number of send slots.
// Zero or negative slots fall back to a single slot.
func NewConcurrencyLimiter(slots int) *ConcurrencyLimiter {
	if slots <= 0 {
		slots = 1
	}

	return &ConcurrencyLimiter{
		sem:      semaphore.NewWeighted(int64(slots)),
		capacity: int64(slots),
	}
}

// Acquire blocks until a slot is free or ctx is done. On success the caller
// must invoke the returned release function exactly once.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	return func() { l.sem.Release(1) }, nil
}

// TryAcquire claims a slot without blocking.
func (l *ConcurrencyLimiter) TryAcquire() (func(), bool) {
	if !l.sem.TryAcquire(1) {
		return nil, false
	}

	return func() { l.sem.Release(1) }, true
}

// Capacity returns the configured number of slots.
func (l *ConcurrencyLimiter) Capacity() int {
	return int(l.capacity)
}
