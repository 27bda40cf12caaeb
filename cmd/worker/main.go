// Worker consumes onboarding analytics events from Kafka, stores them in the onboarding_events table
// and, when LOKI_URL is set, pushes them to Loki.
// Set KAFKA_BROKERS, ANALYTICS_KAFKA_TOPIC, KAFKA_GROUP_ID and DATABASE_URL and/or LOKI_URL.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"nutrition-platform/backend/internal/config"
	"nutrition-platform/backend/internal/db"
	"nutrition-platform/backend/internal/logging"
	"nutrition-platform/backend/internal/onboarding/analytics"
	"nutrition-platform/backend/internal/onboarding/analytics/repository"
	"nutrition-platform/backend/internal/telemetry/loki"
)

const deliverTimeout = 10 * time.Second

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

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		return errors.New("worker: KAFKA_BROKERS is required")
	}
	if cfg.DatabaseURL == "" && cfg.LokiURL == "" {
		return errors.New("worker: DATABASE_URL or LOKI_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sinks analytics.MultiSink
	if cfg.DatabaseURL != "" {
		pool, err := db.OpenContext(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer pool.Close()
		sinks = append(sinks, saveSink{repository.NewPostgresRepository(pool)})
	}
	if c := loki.NewClient(cfg.LokiURL, &http.Client{Timeout: deliverTimeout}); c != nil {
		sinks = append(sinks, c)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	logger.Info("worker consuming",
		zap.String("topic", cfg.KafkaTopic),
		zap.String("group", cfg.KafkaGroupID),
		zap.Bool("database", cfg.DatabaseURL != ""),
		zap.Bool("loki", cfg.LokiURL != ""))
	consume(ctx, reader, sinks, logger)
	logger.Info("worker stopped")
	return nil
}

// saver is what the analytics repository offers.
type saver interface {
	Save(ctx context.Context, e analytics.Event) error
}

// saveSink adapts a saver to analytics.Sink.
type saveSink struct{ s saver }

func (k saveSink) Send(ctx context.Context, e analytics.Event) error { return k.s.Save(ctx, e) }

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// consume reads until ctx is done. Undecodable messages and delivery failures are logged and skipped.
func consume(ctx context.Context, r messageReader, sink analytics.Sink, logger *zap.Logger) {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read error", zap.Error(err))
			continue
		}
		e, err := analytics.Decode(msg.Value)
		if err != nil {
			logger.Warn("dropping analytics message", zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, deliverTimeout)
		if err := sink.Send(dctx, e); err != nil {
			logger.Warn("analytics delivery failed",
				zap.String("event_id", e.ID), zap.String("event_type", string(e.Type)), zap.Error(err))
		}
		cancel()
	}
}
