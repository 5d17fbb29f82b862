package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Coverall26/darkroom-cover-sub009/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimitMiddleware gates requests per client IP per route. View,
// submit and webhook routes carry separate budgets; a limiter backend
// error fails open so an unreachable redis cannot take signing down.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	logger  *zap.Logger
}

func NewRateLimitMiddleware(limiter ratelimit.Limiter, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, logger: logger}
}

func (rl *RateLimitMiddleware) Limit(route string, perMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "rl:" + route + ":" + c.ClientIP()
		decision, err := rl.limiter.Allow(c.Request.Context(), key, perMinute, time.Minute)
		if err != nil {
			rl.logger.Error("rate limiter error, allowing request",
				zap.Error(err), zap.String("route", route))
			c.Next()
			return
		}
		if !decision.Allowed {
			retryAfter := int(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "RATE_LIMITED",
				"message": "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}
