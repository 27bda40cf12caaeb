// Package server assembles the onboarding API's gRPC and HTTP servers.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "nutrition-platform/backend/internal/health/handler"
	"nutrition-platform/backend/internal/server/interceptors"
)

// Deps holds optional service dependencies for gRPC handlers.
type Deps struct {
	// Health serves grpc.health.v1. If nil, a health server without dependency checks is registered.
	Health *healthhandler.Server
}

// NewGRPCServer returns a gRPC server with OpenTelemetry stats and request logging. Health checks
// are not logged.
func NewGRPCServer(logger *zap.Logger) *grpc.Server {
	skip := map[string]bool{
		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
	return grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors.LoggingUnary(logger, skip)),
	)
}

// RegisterServices registers the gRPC services with the given server.
//
//   - grpc.health.v1.Health → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	h := deps.Health
	if h == nil {
		h = healthhandler.NewServer(nil, nil)
	}
	healthpb.RegisterHealthServer(s, h)
}
