package middlewares

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/cashier_backend/config"
	"github.com/mmdatafocus/cashier_backend/utils"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window request counter kept in redis.
type RateLimiter struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
}

func NewRateLimiter(client redis.Cmdable, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// rateLimitKey counts per operator once authenticated, per client IP otherwise.
func rateLimitKey(c *gin.Context) string {
	if operatorId, ok := utils.GetOperatorIdFromContext(c.Request.Context()); ok && operatorId != "" {
		businessId, _ := utils.GetBusinessIdFromContext(c.Request.Context())
		return "RateLimit:" + businessId + ":" + operatorId
	}
	return "RateLimit:ip:" + c.ClientIP()
}

// Middleware lets requests through when redis is unreachable.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil || rl.client == nil {
			c.Next()
			return
		}
		key := rateLimitKey(c)
		ctx := c.Request.Context()

		count, err := rl.client.Incr(ctx, key).Result()
		if err != nil {
			config.LogError(config.GetLogger(), "rateLimitMiddleware.go", "Middleware", "Incr", key, err)
			c.Next()
			return
		}
		if count == 1 {
			if err := rl.client.Expire(ctx, key, rl.window).Err(); err != nil {
				config.LogError(config.GetLogger(), "rateLimitMiddleware.go", "Middleware", "Expire", key, err)
			}
		}
		if count > rl.limit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
			})
			return
		}
		c.Next()
	}
}
