package middlewares

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"linguahub/internal/logger"
)

// SubmissionLimiter counts submissions per learner
type SubmissionLimiter interface {
	Allow(ctx context.Context, userID string) (bool, time.Duration, error)
}

// RateLimitMiddleware rejects learners that submit faster than the limiter allows.
// Limiter failures let the request through.
func RateLimitMiddleware(limiter SubmissionLimiter, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(UserIDHexKey)
		if limiter == nil || userID == "" {
			c.Next()
			return
		}
		ok, wait, err := limiter.Allow(c.Request.Context(), userID)
		if err != nil {
			log.Warn("rate limiter unavailable", "error", err)
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{
				"kind":      "rate_limited",
				"message":   "Rate limit exceeded. Please try again later.",
				"retryable": true,
			}})
			return
		}
		c.Next()
	}
}
