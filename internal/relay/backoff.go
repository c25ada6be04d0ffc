package relay

import (
	"math"
	"time"
)

// Backoff is the outbox retry schedule: delay(n) = min(Base * Factor^(n-1), Cap).
type Backoff struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
}

var DefaultBackoff = Backoff{Base: time.Second, Factor: 2, Cap: 5 * time.Minute}

// Delay returns the wait before attempt n+1, given n failed attempts (n >= 1).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	base, factor, ceil := b.Base, b.Factor, b.Cap
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	if factor < 1 {
		factor = DefaultBackoff.Factor
	}
	if ceil <= 0 {
		ceil = DefaultBackoff.Cap
	}

	d := float64(base) * math.Pow(factor, float64(n-1))
	if d >= float64(ceil) || math.IsInf(d, 0) || math.IsNaN(d) {
		return ceil
	}
	return time.Duration(d)
}
