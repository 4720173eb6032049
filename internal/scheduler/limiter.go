package scheduler

import (
	"sync"

	"golang.org/x/time/rate"
)

// TokenBucketLimiter throttles claim attempts with one token bucket per
// key, grounded on control_plane/scheduler/limiter.go's map-of-limiters
// pattern. The scheduler keys it by its own instance id, so it caps this
// instance's claim rate; it does not separate environments.
type TokenBucketLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func NewTokenBucketLimiter(r float64, b int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		b:        b,
	}
}

func (l *TokenBucketLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limiterFor(key).Allow()
}

func (l *TokenBucketLimiter) limiterFor(key string) *rate.Limiter {
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = limiter
	}
	return limiter
}
