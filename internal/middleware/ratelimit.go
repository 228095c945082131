package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xmlangel/testcasecraft-sub009/pkg/response"
	"golang.org/x/time/rate"
)

const (
	maxTrackedClients = 10000
	clientIdleTTL     = 5 * time.Minute
)

// RateLimiter limits requests per client IP. Idle clients expire from the
// table after five minutes.
type RateLimiter struct {
	limiters *expirable.LRU[string, *rate.Limiter]
	rps      rate.Limit
	burst    int
}

// NewRateLimiter creates a new RateLimiter.
// rps is the allowed requests per second; burst is the max burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, clientIdleTTL),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	if limiter, ok := rl.limiters.Get(ip); ok {
		return limiter
	}
	limiter := rate.NewLimiter(rl.rps, rl.burst)
	// Add refreshes the entry's expiry; a concurrent first request from the
	// same IP may briefly get its own limiter.
	rl.limiters.Add(ip, limiter)
	return limiter
}

// Middleware returns a Gin middleware that enforces IP-based rate limiting.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.getLimiter(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			response.Error(c, response.NewTooManyRequests("too many requests, please try again later"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func RateLimit(rps float64, burst int) gin.HandlerFunc {
	return NewRateLimiter(rps, burst).Middleware()
}
