// internal/middleware/ratelimit_middleware.go
package middleware

import (
	"context"
	"net/http"
	"time"

	"copydrive-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Limiter is satisfied by ratelimit.RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, scope, subject string, maxRequests int64, window time.Duration) (bool, error)
}

// RateLimit caps requests per minute for scope, keyed by user id when
// authenticated and by client IP otherwise. Limiter errors fail open.
func RateLimit(limiter Limiter, scope string, perMinute int64, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || perMinute <= 0 {
			c.Next()
			return
		}

		subject := c.ClientIP()
		if id, ok := GetUserID(c); ok {
			subject = id.String()
		}

		allowed, err := limiter.Allow(c.Request.Context(), scope, subject, perMinute, time.Minute)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", "60")
			response.Error(c, http.StatusTooManyRequests, "too many requests", nil)
			return
		}

		c.Next()
	}
}
