package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/testsentry/pkg/response"
	"golang.org/x/time/rate"
)

// ipLimiter holds a rate limiter and last-seen time per IP.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPThrottle is a coarse token-bucket guard keyed by client IP. It sits in
// front of the per-route admission policies and only catches floods; the
// fine-grained limits live in admission.go.
type IPThrottle struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
}

// NewIPThrottle creates a new IPThrottle.
// rps is the allowed requests per second; burst is the max burst size.
func NewIPThrottle(rps float64, burst int) *IPThrottle {
	t := &IPThrottle{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	// Background cleanup of stale entries every 3 minutes
	go t.cleanup()
	return t
}

func (t *IPThrottle) getLimiter(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, exists := t.limiters[ip]
	if !exists {
		limiter := rate.NewLimiter(t.rps, t.burst)
		t.limiters[ip] = &ipLimiter{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// cleanup removes IP entries not seen for 5 minutes.
func (t *IPThrottle) cleanup() {
	for {
		time.Sleep(3 * time.Minute)
		t.mu.Lock()
		for ip, v := range t.limiters {
			if time.Since(v.lastSeen) > 5*time.Minute {
				delete(t.limiters, ip)
			}
		}
		t.mu.Unlock()
	}
}

// Middleware returns a Gin middleware that enforces IP-based throttling.
func (t *IPThrottle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter := t.getLimiter(ip)

		if !limiter.Allow() {
			response.TooManyRequests(c, 1)
			c.Abort()
			return
		}

		c.Next()
	}
}

// Throttle is a convenience function that creates an IPThrottle and returns its middleware.
func Throttle(rps float64, burst int) gin.HandlerFunc {
	return NewIPThrottle(rps, burst).Middleware()
}
