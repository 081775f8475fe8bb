package conn

import (
	"math"
	"time"
)

// Backoff computes reconnect delays that grow geometrically from Initial
// up to Max.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the wait before reconnect attempt number attempt, counted
// from zero. Delays never exceed Max and never shrink as attempts grow.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	initial := b.Initial
	if initial <= 0 {
		initial = time.Second
	}
	max := b.Max
	if max < initial {
		max = initial
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}

	d := float64(initial) * math.Pow(mult, float64(attempt))
	if d >= float64(max) || math.IsInf(d, 1) {
		return max
	}
	return time.Duration(d)
}
