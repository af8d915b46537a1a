// Package circuit provides a circuit breaker used to shield the gateway from a
// failing Redis backend.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without executing it.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests through.
	StateClosed State = iota
	// StateOpen rejects requests immediately.
	StateOpen
	// StateHalfOpen lets trial requests through to probe recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const recoveryCheckInterval = 100 * time.Millisecond

// Breaker implements the circuit breaker pattern with background recovery.
type Breaker struct {
	maxFailures      int
	successThreshold int
	cooldown         time.Duration

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	lastFailureTime time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewBreaker creates a new circuit breaker. The breaker opens after
// maxFailures consecutive failures, stays open for cooldown, then probes
// half-open until successThreshold consecutive successes close it again.
func NewBreaker(maxFailures, successThreshold int, cooldown time.Duration) *Breaker {
	b := &Breaker{
		maxFailures:      maxFailures,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		state:            StateClosed,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}

	// Recover actively rather than waiting for the next request to arrive.
	go b.autoRecovery()

	return b
}

func (b *Breaker) autoRecovery() {
	defer close(b.doneCh)

	ticker := time.NewTicker(recoveryCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.maybeHalfOpen()
		}
	}
}

func (b *Breaker) maybeHalfOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.lastFailureTime) > b.cooldown {
		b.state = StateHalfOpen
		b.successes = 0
	}
}

// Call executes fn through the circuit breaker.
func (b *Breaker) Call(fn func() error) error {
	b.mu.Lock()

	if b.state == StateOpen {
		b.mu.Unlock()

		return ErrOpen
	}

	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}

	return err
}

func (b *Breaker) recordFailure() {
	b.failures++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.maxFailures {
			b.state = StateOpen
			b.failures = 0
		}
	case StateHalfOpen:
		// Any failure in half-open state reopens the circuit
		b.state = StateOpen
		b.failures = 0
	case StateOpen:
	}
}

func (b *Breaker) recordSuccess() {
	b.failures = 0

	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = StateClosed
			b.successes = 0
		}
	}
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// IsOpen returns true if the circuit is open.
func (b *Breaker) IsOpen() bool {
	return b.GetState() == StateOpen
}

// Reset forces the breaker back to closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.successes = 0
}

// Close stops the background recovery goroutine.
func (b *Breaker) Close() {
	close(b.stopCh)
	<-b.doneCh
}
