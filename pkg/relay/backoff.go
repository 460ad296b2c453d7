package relay

import (
	"math/rand"
	"time"
)

// BackoffStrategy defines how to calculate the wait before a retry attempt.
type BackoffStrategy interface {
	Next(attempt int) time.Duration
}

// LinearBackoff waits Base multiplied by the attempt number: Base, 2*Base,
// 3*Base, ... It is the relay default.
type LinearBackoff struct {
	Base time.Duration
}

// Next returns the delay before the given retry attempt (1-based).
func (b LinearBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * b.Base
}

// ExponentialBackoff implements exponential backoff with jitter, for alert
// endpoints that prefer spread-out retries.
type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64 // 0.0 to 1.0
}

// DefaultExponentialBackoff returns a sensible default strategy.
// Base: 100ms, Max: 5s, Factor: 2.0, Jitter: 0.2
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Base:   100 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next calculates the wait duration for the given retry attempt (1-based).
func (b *ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		return b.Base
	}

	// Base * Factor^(attempt-1)
	delay := float64(b.Base)
	for i := 1; i < attempt; i++ {
		delay *= b.Factor
	}

	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	// Standard +/- jitter keeps retry latency predictable while still
	// spreading out simultaneous retries.
	if b.Jitter > 0 {
		jitterFactor := (rand.Float64()*2 - 1) * b.Jitter
		delay += delay * jitterFactor
	}

	if delay < 0 {
		return 0
	}

	return time.Duration(delay)
}
