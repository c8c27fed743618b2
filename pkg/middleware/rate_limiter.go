package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/KeshavSoni17/halo-backend/pkg/errors"
	"github.com/KeshavSoni17/halo-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiterOptions configures the rate limiter
type RateLimiterOptions struct {
	// Limit defines events per second
	Limit rate.Limit
	// Burst defines maximum burst size allowed
	Burst int
	// ExpiryDuration defines how long to keep idle key state in memory
	ExpiryDuration time.Duration
	// KeyFunc extracts the limiting key from a request
	KeyFunc func(*gin.Context) string
}

// DefaultRateLimiterOptions limits per acting user, falling back to client IP
func DefaultRateLimiterOptions() RateLimiterOptions {
	return RateLimiterOptions{
		Limit:          20,
		Burst:          40,
		ExpiryDuration: time.Hour,
		KeyFunc: func(c *gin.Context) string {
			if userID := c.GetHeader(logger.UserIDHeader); userID != "" {
				return "user:" + userID
			}
			return "ip:" + c.ClientIP()
		},
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key. It backs both the REST
// middleware and the per-connection audio limit.
type RateLimiter struct {
	mu      sync.Mutex
	options RateLimiterOptions
	entries map[string]*limiterEntry
	logger  *logger.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(log *logger.Logger, options ...RateLimiterOptions) *RateLimiter {
	opts := DefaultRateLimiterOptions()
	if len(options) > 0 {
		opts = options[0]
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = DefaultRateLimiterOptions().KeyFunc
	}

	return &RateLimiter{
		options: opts,
		entries: make(map[string]*limiterEntry),
		logger:  log.WithComponent("rate_limiter"),
	}
}

// Allow reports whether one more event for key fits in its bucket
func (r *RateLimiter) Allow(key string) bool {
	return r.getLimiter(key).Allow()
}

// Forget drops the state for key
func (r *RateLimiter) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// Middleware returns a Gin middleware for rate limiting
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := r.options.KeyFunc(c)

		if !r.Allow(key) {
			r.logger.Warn("rate limit exceeded",
				"client", key,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)

			c.Header("Retry-After", "1")
			c.Header("X-RateLimit-Limit", strconv.Itoa(r.options.Burst))
			_ = c.Error(errors.NewError(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "too many requests, please try again later"))
			c.Abort()
			return
		}

		c.Next()
	}
}

func (r *RateLimiter) getLimiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[key]
	if !exists {
		e = &limiterEntry{limiter: rate.NewLimiter(r.options.Limit, r.options.Burst)}
		r.entries[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// RunCleanup evicts idle keys every minute until ctx is done
func (r *RateLimiter) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (r *RateLimiter) evictIdle(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, v := range r.entries {
		if now.Sub(v.lastSeen) > r.options.ExpiryDuration {
			delete(r.entries, k)
		}
	}
}
