package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"nutrition-platform/backend/internal/security"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// ginIdentityKey is the gin.Context key the identity is also stored under.
const ginIdentityKey = "onboarding.identity"

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *security.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity set by the auth middleware, or nil.
func IdentityFrom(ctx context.Context) *security.Identity {
	id, _ := ctx.Value(identityKey).(*security.Identity)
	return id
}

// Identity returns the identity of the request, or nil when the route is unauthenticated.
func Identity(c *gin.Context) *security.Identity {
	if v, ok := c.Get(ginIdentityKey); ok {
		if id, ok := v.(*security.Identity); ok {
			return id
		}
	}
	return IdentityFrom(c.Request.Context())
}

func setIdentity(c *gin.Context, id *security.Identity) {
	c.Set(ginIdentityKey, id)
	c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
}
