package connection

import "time"

// Backoff computes reconnect delays with capped multiplicative growth.
// The delay for attempt k is the value computed after attempt k-1
// failed: Next returns the current delay, then grows it for the next
// scheduling decision. Not safe for concurrent use; the Manager
// serializes access.
type Backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64

	current time.Duration
}

// NewBackoff creates a Backoff starting at initial and capped at max.
func NewBackoff(initial, max time.Duration, multiplier float64) *Backoff {
	return &Backoff{
		initial:    initial,
		max:        max,
		multiplier: multiplier,
		current:    initial,
	}
}

// Next returns the delay to wait before the next attempt and advances
// the schedule.
func (b *Backoff) Next() time.Duration {
	d := b.current

	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return d
}

// Current returns the delay the next call to Next will return.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Reset restores the initial delay. Called after a successful connection
// and when a fallback probe cycle starts.
func (b *Backoff) Reset() {
	b.current = b.initial
}
