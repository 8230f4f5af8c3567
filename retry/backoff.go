package retry

import (
	"math"
	"time"
)

// Backoff is an exponential schedule: attempt k waits InitialDelay * Multiplier^k.
type Backoff struct {
	// MaxAttempts bounds the number of retries made by Do. 0 means no retries.
	MaxAttempts int

	// InitialDelay is the delay for attempt 0.
	InitialDelay time.Duration

	// MaxDelay caps a single delay. Zero means uncapped.
	MaxDelay time.Duration

	// Multiplier defaults to 2.
	Multiplier float64
}

// Exponential creates a doubling Backoff starting at initial.
func Exponential(maxAttempts int, initial time.Duration) *Backoff {
	return &Backoff{
		MaxAttempts:  maxAttempts,
		InitialDelay: initial,
		Multiplier:   2,
	}
}

// Delay returns the wait that follows a failure of the given attempt number.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	multiplier := b.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}

	d := time.Duration(math.MaxInt64)
	if delay := float64(b.InitialDelay) * math.Pow(multiplier, float64(attempt)); delay < math.MaxInt64 {
		d = time.Duration(delay)
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// Next implements Strategy. Retry n (1-based) waits Delay(n-1).
func (b *Backoff) Next(attempt int) (time.Duration, bool) {
	if attempt > b.MaxAttempts {
		return 0, false
	}
	return b.Delay(attempt - 1), true
}

// Constant waits the same interval between retries.
type Constant struct {
	Interval time.Duration

	// MaxAttempts bounds the number of retries. Non-positive means retry
	// until the context ends.
	MaxAttempts int
}

// Next implements Strategy.
func (c Constant) Next(attempt int) (time.Duration, bool) {
	if c.MaxAttempts > 0 && attempt > c.MaxAttempts {
		return 0, false
	}
	return c.Interval, true
}
