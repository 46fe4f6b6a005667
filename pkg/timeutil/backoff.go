package timeutil

import (
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoffDelay returns the delay before the backoffCount-th
// retry attempt: initialDuration * multiplier^(backoffCount-1), capped
// at maxDuration, plus a uniformly distributed [0, jitter) addition.
func ExponentialBackoffDelay(backoffCount int, jitter time.Duration, rng rand.Rand, backoffParam BackoffParam) time.Duration {
	if backoffCount < 1 {
		backoffCount = 1
	}

	base := float64(backoffParam.InitialDuration()) * math.Pow(backoffParam.Multiplier(), float64(backoffCount-1))
	delay := time.Duration(base)

	if max := backoffParam.MaxDuration(); max > 0 && delay > max {
		delay = max
	}

	if jitter > 0 {
		delay += time.Duration(rng.Int63n(int64(jitter)))
	}

	return delay
}
