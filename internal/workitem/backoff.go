package workitem

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// backoffPolicy computes jittered exponential delays between task board
// attempts.
type backoffPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newBackoffPolicy(base, max time.Duration) backoffPolicy {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return backoffPolicy{baseDelay: base, maxDelay: max}
}

// delay returns the wait duration before the given attempt (zero-based).
func (p backoffPolicy) delay(attempt int) time.Duration {
	d := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if d > float64(p.maxDelay) {
		d = float64(p.maxDelay)
	}
	half := time.Duration(d) / 2
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
