package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"erp-session-core/internal/auth"
)

const claimsContextKey = "claims"

// Revocations reports tokens invalidated by logout before their expiry.
type Revocations interface {
	IsRevoked(tokenID string, nowMillis int64) bool
}

func ClaimsFromContext(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok && claims != nil && claims.UserID != ""
}

func BearerToken(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func RequireAuth(cfg auth.TokenConfig, revocations Revocations) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			return
		}

		claims, err := auth.VerifyToken(token, cfg)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			return
		}
		if revocations != nil && revocations.IsRevoked(claims.ID, time.Now().UnixMilli()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session ended"})
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}
