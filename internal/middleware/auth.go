package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// ManagementAuthConfig configures the management API guard. When KeyHash is
// set it takes precedence over the plain Key; with neither set, auth is
// disabled (local development).
type ManagementAuthConfig struct {
	Key     string
	KeyHash string
}

// ManagementAuth protects the management API. Accepted token locations:
// - Authorization: Bearer <token>
// - x-api-key: <token>
// - Query parameter: ?key=<token>
func ManagementAuth(cfg ManagementAuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Key == "" && cfg.KeyHash == "" {
			c.Next()
			return
		}

		provided := extractToken(c)
		if provided == "" {
			respondUnauthorized(c, "management key not provided")
			return
		}

		if cfg.KeyHash != "" {
			if bcrypt.CompareHashAndPassword([]byte(cfg.KeyHash), []byte(provided)) != nil {
				respondUnauthorized(c, "invalid management key")
				return
			}
		} else if subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.Key)) != 1 {
			respondUnauthorized(c, "invalid management key")
			return
		}

		c.Set("management_key", provided)
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if auth != "" {
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return auth
	}
	if v := strings.TrimSpace(c.GetHeader("x-api-key")); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.Query("key")); v != "" {
		return v
	}
	return ""
}

func respondUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"message": message,
			"type":    "invalid_request_error",
			"code":    "invalid_management_key",
		},
	})
}
