package gateway

import "time"

// Backoff computes reconnect delays that grow multiplicatively up to a cap.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration

	current time.Duration
}

func NewBackoff(base time.Duration, factor float64, max time.Duration) *Backoff {
	return &Backoff{Base: base, Factor: factor, Max: max}
}

// Next returns the delay before the next attempt. The first call after a
// Reset returns Base; each call after that multiplies by Factor, capped at Max.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Base
	} else {
		b.current = time.Duration(float64(b.current) * b.Factor)
	}
	if b.current > b.Max {
		b.current = b.Max
	}
	return b.current
}

func (b *Backoff) Reset() {
	b.current = 0
}
