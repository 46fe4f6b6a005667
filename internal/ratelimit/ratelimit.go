// Package ratelimit is the process-global, per-key minimum-interval
// gate every outbound HTTP call passes through (spec.md §4.1).
//
// It generalizes the teacher's pkg/limiter.ConcurrentRateLimiter
// (per-key mutex, master mutex guarding map creation) from "per-host
// crawl delay" to "per logical key" and swaps its hand-rolled sleep
// computation for golang.org/x/time/rate: a rate.Limiter configured
// with burst 1 is exactly a minimum-interval gate.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a process-wide, thread-safe gate keyed by a domain or
// API name. No queue, no token accumulation beyond burst 1: strictly
// minimum-interval between releases, per spec.md §4.1.
type Limiter struct {
	mu     sync.Mutex
	perKey map[string]*rate.Limiter
}

// New returns an empty Limiter ready for use.
func New() *Limiter {
	return &Limiter{
		perKey: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until key's minimum interval has elapsed since its last
// release, then reserves the next release. It returns the actual
// delay incurred, for telemetry. Ordering among blocked callers for
// the same key is not guaranteed.
func (l *Limiter) Wait(ctx context.Context, key string, minInterval time.Duration) (time.Duration, error) {
	limiter := l.limiterFor(key, minInterval)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (l *Limiter) limiterFor(key string, minInterval time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.perKey[key]
	if !ok {
		if minInterval <= 0 {
			minInterval = time.Nanosecond
		}
		lim = rate.NewLimiter(rate.Every(minInterval), 1)
		l.perKey[key] = lim
	}
	return lim
}
