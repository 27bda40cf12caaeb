package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nutrition-platform/backend/internal/server/middleware"
)

// HealthPath is the readiness route; it is not authenticated or logged.
const HealthPath = "/healthz"

// APIPrefix is the route group the onboarding handlers are mounted under.
const APIPrefix = "/api/v1/onboarding"

// Readiness reports whether the service's dependencies are reachable.
type Readiness interface {
	Ready(ctx context.Context) error
}

// RouteRegistrar mounts handlers on a route group.
type RouteRegistrar interface {
	RegisterRoutes(r *gin.RouterGroup)
}

// RouterDeps configures NewRouter.
type RouterDeps struct {
	Logger *zap.Logger
	// Tokens validates bearer tokens. Ignored when AuthDisabled.
	Tokens middleware.TokenValidator
	// AuthDisabled trusts the X-User-ID / X-User-Role headers instead of a token.
	AuthDisabled bool
	Health       Readiness
	Routes       []RouteRegistrar
}

// NewRouter returns the gin engine of the onboarding API.
func NewRouter(deps RouterDeps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(middleware.RequestLogger(logger, HealthPath), gin.Recovery())

	r.GET(HealthPath, func(c *gin.Context) {
		if deps.Health != nil {
			if err := deps.Health.Ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})

	var auth gin.HandlerFunc
	if deps.AuthDisabled {
		logger.Warn("authentication disabled; trusting identity headers")
		auth = middleware.DevAuth()
	} else {
		auth = middleware.Auth(deps.Tokens, logger)
	}
	api := r.Group(APIPrefix, auth)
	for _, rr := range deps.Routes {
		rr.RegisterRoutes(api)
	}
	return r
}

// NewHTTPServer wraps handler with the API's timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
