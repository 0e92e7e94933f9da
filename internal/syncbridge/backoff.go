package syncbridge

import (
	"math/rand/v2"
	"time"
)

// Backoff computes the wait before retry number attempt (1-based):
// Base * Factor^(attempt-1), capped at Max. Jitter in [0,1] shaves up to
// that fraction off the delay.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
	Jitter float64

	rand func() float64
}

func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}
	factor := b.Factor
	if factor < 1 {
		factor = 2
	}
	delay := float64(base)
	for i := 1; i < attempt; i++ {
		delay *= factor
		if delay >= float64(maxDelay) {
			delay = float64(maxDelay)
			break
		}
	}
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	if b.Jitter > 0 {
		r := b.rand
		if r == nil {
			r = rand.Float64
		}
		delay -= delay * b.Jitter * r()
	}
	return time.Duration(delay)
}
