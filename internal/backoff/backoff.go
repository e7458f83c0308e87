// Package backoff implements the doubling-with-cap delay used for both
// work-queue retry scheduling and the worker loop's empty-claim poll
// interval, generalized from this codebase's connection-reconnect idiom
// (delay doubled each attempt, capped, reset on success).
package backoff

import "time"

// Backoff computes min(base * 2^n, cap) for attempt n, and tracks a current
// delay that grows on Next and resets on Reset.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	current time.Duration
}

// New returns a Backoff starting at base, never exceeding maxDelay.
func New(base, maxDelay time.Duration) *Backoff {
	return &Backoff{Base: base, Cap: maxDelay, current: base}
}

// Delay returns base * 2^n, capped at maxDelay. n is the zero-based attempt
// count (retry_count before incrementing).
func Delay(base, maxDelay time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// Next returns the current delay and doubles it for the following call,
// capped at Cap. Used for the worker's empty-claim poll interval.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Base
	}
	d := b.current
	b.current *= 2
	if b.current > b.Cap {
		b.current = b.Cap
	}
	return d
}

// Reset returns the delay to Base, called after any successful claim.
func (b *Backoff) Reset() {
	b.current = b.Base
}
