package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter allows one request per member per limit window. The member is
// identified by the X-Member-ID header; authentication happens upstream.
type RateLimiter struct {
	members map[string]time.Time
	mu      sync.Mutex
	limit   time.Duration
}

func NewRateLimiter(limit time.Duration) *RateLimiter {
	return &RateLimiter{
		members: make(map[string]time.Time),
		limit:   limit,
	}
}

func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		member := c.GetHeader("X-Member-ID")
		if member == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "X-Member-ID header required"})
			c.Abort()
			return
		}
		r.mu.Lock()
		last, exists := r.members[member]
		if exists && time.Since(last) < r.limit {
			r.mu.Unlock()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		r.members[member] = time.Now()
		if len(r.members) > 10000 {
			r.prune()
		}
		r.mu.Unlock()
		c.Next()
	}
}

// prune drops stale entries. Caller holds the mutex.
func (r *RateLimiter) prune() {
	cutoff := time.Now().Add(-r.limit)
	for m, t := range r.members {
		if t.Before(cutoff) {
			delete(r.members, m)
		}
	}
}
