// internal/server/handlers/ratelimit.go

package handlers

import (
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// LocationLimiter throttles location updates per user. Idle limiters fall
// out of the cache after ttl.
type LocationLimiter struct {
	limiters *cache.Cache
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
}

// NewLocationLimiter creates a limiter allowing perSecond updates per user
func NewLocationLimiter(perSecond float64, burst int, ttl time.Duration) *LocationLimiter {
	return &LocationLimiter{
		limiters: cache.New(ttl, ttl),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether userID may submit another update now
func (l *LocationLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	var limiter *rate.Limiter
	if v, ok := l.limiters.Get(userID); ok {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(l.limit, l.burst)
	}
	// Refresh the expiry on every use
	l.limiters.SetDefault(userID, limiter)

	return limiter.Allow()
}
