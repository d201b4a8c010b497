package middlewares

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/cashier_backend/config"
	"github.com/mmdatafocus/cashier_backend/utils"
)

const revokedTokenPrefix = "RevokedToken:"

// AuthMiddleware requires a bearer token issued by utils.JwtGenerate and copies the
// operator and business it names into the request context.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		const bearer = "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		token := strings.TrimSpace(auth[len(bearer):])

		claims, err := utils.JwtValidate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		revoked, err := config.RedisKeyExists(c.Request.Context(), revokedTokenPrefix+claims.Id)
		if err != nil {
			config.LogError(config.GetLogger(), "authMiddleware.go", "AuthMiddleware", "Checking token revocation", claims.Id, err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}
		if revoked {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetBusinessIdInContext(ctx, claims.BusinessId)
		ctx = utils.SetOperatorIdInContext(ctx, claims.OperatorId)
		ctx = utils.SetOperatorNameInContext(ctx, claims.OperatorName)
		ctx = utils.SetIsAdminInContext(ctx, claims.IsAdmin)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RevokeToken blocks the token until it would have expired anyway.
func RevokeToken(ctx context.Context, token string) error {
	claims, err := utils.JwtValidate(token)
	if err != nil {
		return err
	}
	ttl := time.Until(time.Unix(claims.ExpiresAt, 0))
	if ttl <= 0 {
		return nil
	}
	return config.SetRedisValue(ctx, revokedTokenPrefix+claims.Id, claims.OperatorId, ttl)
}
