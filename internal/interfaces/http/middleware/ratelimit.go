package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gestionale/internal/infrastructure/ratelimit"
	"gestionale/internal/shared/utils"
)

// IPRateLimit enforces a per-IP limit on HTTP endpoints using the shared
// sliding-window limiter. A limiter failure admits the request rather than
// blocking all traffic.
func IPRateLimit(limiter ratelimit.RateLimiter, config ratelimit.RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := limiter.Allow("http:"+c.ClientIP(), config)
		if err != nil {
			c.Next()
			return
		}
		if !allowed {
			utils.ErrorResponse(c, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
			c.Abort()
			return
		}
		c.Next()
	}
}
