package retry

import (
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	// Closed means the circuit is healthy; requests flow normally.
	Closed BreakerState = iota
	// Open means too many consecutive failures occurred; requests are rejected.
	Open
	// HalfOpen admits a single probe after the reset timeout.
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker halts calls to a failing downstream after threshold
// consecutive failures and lets one probe through after resetTimeout.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        BreakerState
	probing      bool
	failures     int
	threshold    int
	resetTimeout time.Duration
	lastFailure  time.Time
	now          func() time.Time
}

// NewCircuitBreaker creates a circuit breaker. A non-positive threshold
// disables it.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// WithClock replaces the breaker's time source.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
	return cb
}

// Allow reports whether a call is permitted.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.threshold <= 0 {
		return true
	}
	switch cb.state {
	case Closed:
		return true
	case Open:
		if cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
			cb.state = HalfOpen
			cb.probing = true
			return true
		}
		return false
	case HalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return false
	}
}

// RecordSuccess closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probing = false
	cb.state = Closed
}

// RecordFailure counts a failure. A failed probe reopens the breaker at once.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = cb.now()
	cb.probing = false
	if cb.state == HalfOpen || (cb.threshold > 0 && cb.failures >= cb.threshold) {
		cb.state = Open
	}
}

// CurrentState returns the breaker state.
func (cb *CircuitBreaker) CurrentState() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
