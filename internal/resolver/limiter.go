package resolver

import (
	"golang.org/x/time/rate"
)

// Limiter is the token bucket guarding upstream resolution calls. One token
// per attempt, refilled continuously; no waiting, a miss surfaces
// immediately as ErrRateLimited.
type Limiter struct {
	bucket *rate.Limiter
	clock  Clock
}

func NewLimiter(perSec float64, burst int, clock Clock) *Limiter {
	if clock == nil {
		clock = SystemClock
	}
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(perSec), burst),
		clock:  clock,
	}
}

// Take consumes one token if available.
func (l *Limiter) Take() bool {
	return l.bucket.AllowN(l.clock.Now(), 1)
}
