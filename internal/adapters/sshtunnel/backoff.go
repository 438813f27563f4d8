package sshtunnel

import "time"

// backoff holds reconnect delay state as plain data, owned by one
// worker's supervisor goroutine.
type backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max, current: base}
}

// next returns the delay to wait before the upcoming attempt and grows
// the delay for the one after. Monotonically non-decreasing until reset.
func (b *backoff) next() time.Duration {
	d := b.current
	doubled := b.current * 2
	if doubled > b.max {
		doubled = b.max
	}
	b.current = doubled
	return d
}

// reset returns the delay to the base after a successful connect
func (b *backoff) reset() {
	b.current = b.base
}
