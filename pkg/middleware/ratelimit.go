package middleware

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter manages per-client rate limiting
type RateLimiter struct {
	perSecond float64
	burst     int
	logger    *zap.Logger
	clock     clockwork.Clock

	mu      sync.Mutex
	clients map[string]*clientLimiter

	// cleanupInterval for removing old limiters
	cleanupInterval time.Duration
	lastCleanup     time.Time
}

// clientLimiter holds the rate limiter for a single client
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perSecond requests per client,
// with a burst of twice that. A non-positive rate disables limiting.
func NewRateLimiter(perSecond float64, logger *zap.Logger, clock clockwork.Clock) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	burst := int(math.Ceil(perSecond * 2))
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		perSecond:       perSecond,
		burst:           burst,
		logger:          logger.Named("ratelimit"),
		clock:           clock,
		clients:         make(map[string]*clientLimiter),
		cleanupInterval: 10 * time.Minute,
		lastCleanup:     clock.Now(),
	}
}

// Enabled reports whether requests are limited at all
func (r *RateLimiter) Enabled() bool {
	return r.perSecond > 0
}

// getLimiter returns the rate limiter for a client
func (r *RateLimiter) getLimiter(client string) *clientLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if now.Sub(r.lastCleanup) > r.cleanupInterval {
		r.cleanup(now)
	}

	limiter, exists := r.clients[client]
	if exists {
		limiter.lastSeen = now
		return limiter
	}

	limiter = &clientLimiter{
		limiter:  rate.NewLimiter(rate.Limit(r.perSecond), r.burst),
		lastSeen: now,
	}
	r.clients[client] = limiter
	return limiter
}

// cleanup removes limiters that haven't been used in a while
func (r *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-30 * time.Minute)
	for key, limiter := range r.clients {
		if limiter.lastSeen.Before(cutoff) {
			delete(r.clients, key)
		}
	}
	r.lastCleanup = now
}

// Allow checks if a request from client is allowed
func (r *RateLimiter) Allow(client string) bool {
	if !r.Enabled() {
		return true
	}
	return r.getLimiter(client).limiter.AllowN(r.clock.Now(), 1)
}

// Clients returns the number of tracked clients
func (r *RateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// RateLimitMiddleware returns a Gin middleware that limits requests per client IP
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			rl.logger.Debug("Rate limit exceeded", zap.String("client_ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests",
			})
			return
		}
		c.Next()
	}
}
