// Server runs the onboarding HTTP API and the gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nutrition-platform/backend/internal/bootstrap"
	"nutrition-platform/backend/internal/config"
	healthhandler "nutrition-platform/backend/internal/health/handler"
	"nutrition-platform/backend/internal/logging"
	onboardinghandler "nutrition-platform/backend/internal/onboarding/handler"
	"nutrition-platform/backend/internal/security"
	"nutrition-platform/backend/internal/server"
	"nutrition-platform/backend/internal/telemetry/otel"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure, logger)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			logger.Warn("otel shutdown", zap.Error(err))
		}
	}()

	stores, err := bootstrap.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	steps, err := bootstrap.LoadRegistry(cfg, logger)
	if err != nil {
		return err
	}
	guard, err := bootstrap.LoadGuard(ctx, cfg, logger)
	if err != nil {
		return err
	}

	pipeline, err := newAnalytics(cfg, providers, logger)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	sessions := onboardinghandler.NewSessions(
		controllerFactory(steps, stores, guard, pipeline.Emitter, logger),
		stores.Drafts(),
		logger,
	)

	var pinger healthhandler.Pinger
	if stores.DB != nil {
		pinger = stores.DB
	}
	health := healthhandler.NewServer(pinger, guard)

	deps := server.RouterDeps{
		Logger:       logger,
		AuthDisabled: cfg.AuthDisabled,
		Health:       health,
		Routes:       []server.RouteRegistrar{onboardinghandler.NewHandler(sessions, steps, logger)},
	}
	if !cfg.AuthDisabled {
		tokens, err := tokenValidator(cfg)
		if err != nil {
			return err
		}
		deps.Tokens = tokens
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	httpSrv := server.NewHTTPServer(cfg.HTTPAddr, server.NewRouter(deps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	if cfg.GRPCAddr != "" {
		grpcSrv := server.NewGRPCServer(logger)
		server.RegisterServices(grpcSrv, server.Deps{Health: health})
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		g.Go(func() error {
			logger.Info("grpc server listening", zap.String("addr", cfg.GRPCAddr))
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcSrv.GracefulStop()
			return nil
		})
	}
	g.Go(func() error {
		idle := cfg.IdleTimeout()
		return sessions.RunReaper(gctx, idle, idle/6)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(sctx)
		if ferr := stores.Adapter.FlushAll(sctx); ferr != nil {
			logger.Warn("flush pending progress", zap.Error(ferr))
		}
		sessions.CloseAll()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func tokenValidator(cfg *config.Config) (*security.TokenProvider, error) {
	if cfg.JWTPublicKey == "" && cfg.JWTPrivateKey == "" {
		return nil, errors.New("config: JWT_PUBLIC_KEY is required unless AUTH_DISABLED=true")
	}
	priv, pub, err := security.LoadKeys(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("jwt keys: %w", err)
	}
	return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL()), nil
}
