package router

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const defaultEvictTTL = 10 * time.Minute

// ipRateLimiter keeps one token bucket per client IP. Buckets idle for longer
// than evictTTL are dropped so the map stays bounded. Eviction stops when the
// context passed to newIPRateLimiter is done.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	r        rate.Limit
	burst    int
	evictTTL time.Duration
	now      func() time.Time
	done     chan struct{}
}

func newIPRateLimiter(ctx context.Context, r rate.Limit, burst int, evictTTL time.Duration) *ipRateLimiter {
	l := &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		r:        r,
		burst:    burst,
		evictTTL: evictTTL,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go l.cleanupLoop(ctx)
	return l
}

func (l *ipRateLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[ip] = lim
	}
	l.lastSeen[ip] = l.now()
	return lim
}

// Allow reports whether ip may make a request now.
func (l *ipRateLimiter) Allow(ip string) bool {
	return l.limiter(ip).Allow()
}

func (l *ipRateLimiter) cleanupLoop(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.evictTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict()
		}
	}
}

func (l *ipRateLimiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.evictTTL)
	for ip, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			delete(l.limiters, ip)
			delete(l.lastSeen, ip)
		}
	}
}

func (l *ipRateLimiter) retryAfter() string {
	if l.r <= 0 {
		return "1"
	}
	return strconv.Itoa(int(math.Ceil(1 / float64(l.r))))
}

// RateLimitMiddleware rejects clients that exceed their bucket with 429.
func RateLimitMiddleware(l *ipRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.Header("Retry-After", l.retryAfter())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests",
			})
			return
		}

		c.Next()
	}
}
