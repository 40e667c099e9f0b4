package feed

import (
	"math/rand"
	"time"
)

// BackoffPolicy yields the wait before the given reconnect attempt.
type BackoffPolicy interface {
	Next(attempt int) time.Duration
}

// Backoff computes reconnect delays: exponential growth from Base,
// capped at Max, with a symmetric jitter fraction to avoid
// synchronized reconnection storms.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// DefaultBackoff provides the reconnect defaults for the upstream
// feed.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   2 * time.Second,
		Max:    60 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the delay for the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	max := b.Max
	if max <= 0 {
		max = time.Minute
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := base
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > max {
			wait = max
			break
		}
		wait = next
	}
	if wait > max {
		wait = max
	}

	if b.Jitter <= 0 {
		return wait
	}
	delta := time.Duration(float64(wait) * b.Jitter)
	if delta <= 0 {
		return wait
	}
	return wait - delta + time.Duration(rand.Int63n(int64(2*delta)+1))
}
