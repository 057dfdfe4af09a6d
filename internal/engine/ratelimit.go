package engine

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// maxTrackedLimiters bounds the number of per-key limiters kept in memory.
// Evicted keys start over with a full bucket.
const maxTrackedLimiters = 4096

// limiter hands out a token bucket per key (session ID or principal).
type limiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
}

func newLimiter(rps float64, burst int) *limiter {
	if burst < 1 {
		burst = 1
	}
	// lru.New only fails for a non-positive size.
	buckets, _ := lru.New[string, *rate.Limiter](maxTrackedLimiters)
	return &limiter{rps: rate.Limit(rps), burst: burst, buckets: buckets}
}

// allow consumes a token for key without waiting.
func (l *limiter) allow(key string) bool {
	l.mu.Lock()
	b, ok := l.buckets.Get(key)
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets.Add(key, b)
	}
	l.mu.Unlock()
	return b.Allow()
}

func (l *limiter) forget(key string) {
	l.buckets.Remove(key)
}
