package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"nutrition-platform/backend/internal/bootstrap"
	"nutrition-platform/backend/internal/config"
	"nutrition-platform/backend/internal/onboarding/analytics"
	analyticsotel "nutrition-platform/backend/internal/onboarding/analytics/otel"
	"nutrition-platform/backend/internal/onboarding/engine"
	onboardinghandler "nutrition-platform/backend/internal/onboarding/handler"
	"nutrition-platform/backend/internal/onboarding/policy"
	"nutrition-platform/backend/internal/onboarding/registry"
	"nutrition-platform/backend/internal/onboarding/wizard"
	"nutrition-platform/backend/internal/telemetry/otel"
)

type analyticsPipeline struct {
	Emitter *analytics.Emitter
	kafka   *analytics.KafkaSink
	logger  *zap.Logger
}

// newAnalytics fans events out to the log, OpenTelemetry and, when brokers are configured, Kafka.
func newAnalytics(cfg *config.Config, providers *otel.Providers, logger *zap.Logger) (*analyticsPipeline, error) {
	otelSink, err := analyticsotel.NewSink(providers.LoggerProvider, providers.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	sinks := analytics.MultiSink{analytics.NewLogSink(logger), otelSink}
	p := &analyticsPipeline{logger: logger}
	if k := analytics.NewKafkaSink(cfg.KafkaBrokersList(), cfg.KafkaTopic); k != nil {
		p.kafka = k
		sinks = append(sinks, k)
		logger.Info("analytics kafka sink enabled", zap.String("topic", cfg.KafkaTopic))
	}
	p.Emitter = analytics.NewEmitter(sinks, logger)
	return p, nil
}

// Close waits for in-flight events, then closes the Kafka writer.
func (p *analyticsPipeline) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), analytics.ShutdownDrainDuration)
	defer cancel()
	if err := p.Emitter.Drain(ctx); err != nil {
		p.logger.Warn("analytics drain", zap.Error(err))
	}
	if err := p.kafka.Close(); err != nil {
		p.logger.Warn("close kafka sink", zap.Error(err))
	}
}

func controllerFactory(steps *registry.Registry, stores *bootstrap.Stores, guard policy.Guard, pub analytics.Publisher, logger *zap.Logger) onboardinghandler.ControllerFactory {
	submitter := stores.Submitter()
	return func(sessionID string) *wizard.Controller {
		eng := engine.New(engine.Options{
			Registry:  steps,
			Store:     stores.Adapter,
			Publisher: pub,
			Logger:    logger,
			SessionID: sessionID,
		})
		return wizard.New(wizard.Options{
			Engine:    eng,
			Publisher: pub,
			Guard:     guard,
			Logger:    logger,
			SessionID: sessionID,
		}.WithSubmitter(submitter))
	}
}
