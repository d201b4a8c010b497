package api

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/idtoken"
)

// PushTokenValidator verifies a Google-signed OIDC token for audience.
type PushTokenValidator func(ctx context.Context, token string, audience string) (*idtoken.Payload, error)

// PushAuthConfig describes the OIDC token Pub/Sub attaches to push requests.
type PushAuthConfig struct {
	Audience string
	// ServiceAccount, when set, must match the token's verified email claim.
	ServiceAccount string
	Validate       PushTokenValidator
}

// PushAuthConfigFromEnv reads PUBSUB_PUSH_AUDIENCE and PUBSUB_PUSH_SERVICE_ACCOUNT.
func PushAuthConfigFromEnv() PushAuthConfig {
	return PushAuthConfig{
		Audience:       strings.TrimSpace(os.Getenv("PUBSUB_PUSH_AUDIENCE")),
		ServiceAccount: strings.TrimSpace(os.Getenv("PUBSUB_PUSH_SERVICE_ACCOUNT")),
		Validate:       idtoken.Validate,
	}
}

func (cfg PushAuthConfig) Enabled() bool {
	return cfg.Audience != ""
}

// PubSubPushAuth rejects push requests without a valid OIDC bearer token.
func PubSubPushAuth(cfg PushAuthConfig, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if !cfg.Enabled() || cfg.Validate == nil || token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		payload, err := cfg.Validate(c.Request.Context(), token, cfg.Audience)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"field":    "PubSubPushAuth",
				"audience": cfg.Audience,
			}).Warn("rejected push token: " + err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if cfg.ServiceAccount != "" {
			email, _ := payload.Claims["email"].(string)
			verified, _ := payload.Claims["email_verified"].(bool)
			if !verified || !strings.EqualFold(email, cfg.ServiceAccount) {
				logger.WithFields(logrus.Fields{
					"field": "PubSubPushAuth",
					"email": email,
				}).Warn("push token from unexpected service account")
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
		}
		c.Next()
	}
}
