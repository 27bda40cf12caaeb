// Package middleware holds the gin middleware of the onboarding API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nutrition-platform/backend/internal/onboarding/domain"
	"nutrition-platform/backend/internal/security"
)

const bearerPrefix = "bearer "

// Dev-mode identity headers, honoured only when auth is disabled.
const (
	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-User-Role"
)

// TokenValidator validates access tokens. *security.TokenProvider implements it.
type TokenValidator interface {
	ValidateAccess(token string) (*security.Identity, error)
}

// Auth rejects requests without a valid Bearer access token and stores the caller identity.
func Auth(tokens TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
			return
		}
		id, err := tokens.ValidateAccess(token)
		if err != nil {
			logger.Debug("access token rejected", zap.String("path", c.FullPath()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
			return
		}
		setIdentity(c, id)
		c.Next()
	}
}

// DevAuth trusts the X-User-ID and X-User-Role headers. Never install it in production.
func DevAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		role := domain.Role(strings.TrimSpace(c.GetHeader(HeaderRole)))
		if userID == "" || !role.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "X-User-ID and X-User-Role headers required"})
			return
		}
		setIdentity(c, &security.Identity{UserID: userID, Role: role})
		c.Next()
	}
}

// extractBearer returns the token of an "Authorization: Bearer ..." value, or "".
func extractBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
