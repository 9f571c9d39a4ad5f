package chat

import (
	"time"
)

// Backoff controls how reconnects are spaced after a connection is lost.
type Backoff struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// DefaultBackoff returns the reconnect schedule used when Config leaves it
// unset: 5 attempts, 500ms base, doubling, capped at 8s.
func DefaultBackoff() *Backoff {
	return &Backoff{
		MaxAttempts: 5,
		Base:        500 * time.Millisecond,
		Max:         8 * time.Second,
	}
}

// Delay returns the delay before reconnect attempt k (0-indexed):
// min(Base * 2^k, Max).
func (b *Backoff) Delay(k int) time.Duration {
	if k < 0 {
		k = 0
	}
	d := b.Base
	for i := 0; i < k; i++ {
		if d >= b.Max {
			return b.Max
		}
		d *= 2
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Exhausted reports whether attempts reconnects have already been scheduled
// in this episode, so no more may be.
func (b *Backoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}
