// Package api exposes the engine's HTTP trigger surface: a
// session-run endpoint plus health/ready/metrics, rate-limited the same
// way as internal/api/middleware/security.go's admin API (spec.md §4.5
// "API trigger").
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// RateLimiter wraps ulule/limiter/v3's in-memory store, matching the
// construction and header-reporting pattern of
// internal/api/middleware/security.go's SecurityMiddleware.
type RateLimiter struct {
	limiter *limiter.Limiter
	logger  *zap.Logger
}

// NewRateLimiter builds a 30-requests-per-minute limiter keyed by
// client IP, generous enough for a trigger endpoint that a single
// scheduler process calls, tight enough to stop an accidental hot loop.
func NewRateLimiter(logger *zap.Logger) *RateLimiter {
	rate := limiter.Rate{Period: 1 * time.Minute, Limit: 30}
	store := memory.NewStore()
	return &RateLimiter{limiter: limiter.New(store, rate), logger: logger}
}

// Middleware returns the gin handler enforcing the rate limit.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		ctx := c.Request.Context()

		limiterCtx, err := r.limiter.Get(ctx, ip)
		if err != nil {
			r.logger.Error("rate limiter lookup failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(limiterCtx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(limiterCtx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(limiterCtx.Reset, 10))

		if limiterCtx.Reached {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}
