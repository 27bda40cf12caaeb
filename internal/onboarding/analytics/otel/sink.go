// Package otel exports onboarding analytics events as OpenTelemetry log records and metrics.
package otel

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"

	"nutrition-platform/backend/internal/onboarding/analytics"
)

const scope = "nutrition.onboarding.analytics"

// Sink is an analytics.Sink backed by OTel providers.
type Sink struct {
	logger    otellog.Logger
	events    metric.Int64Counter
	durations metric.Int64Histogram
}

// NewSink builds a Sink. Either provider may be nil, which disables that signal.
func NewSink(lp otellog.LoggerProvider, mp metric.MeterProvider) (*Sink, error) {
	s := &Sink{}
	if lp != nil {
		s.logger = lp.Logger(scope)
	}
	if mp != nil {
		meter := mp.Meter(scope)
		var err error
		s.events, err = meter.Int64Counter("onboarding.events",
			metric.WithDescription("Onboarding funnel events by type and role"))
		if err != nil {
			return nil, fmt.Errorf("otel sink counter: %w", err)
		}
		s.durations, err = meter.Int64Histogram("onboarding.step.duration_ms",
			metric.WithDescription("Time spent on a step before it was completed or skipped"),
			metric.WithUnit("ms"))
		if err != nil {
			return nil, fmt.Errorf("otel sink histogram: %w", err)
		}
	}
	return s, nil
}

// Send emits e as a log record and updates the counters. It never fails.
func (s *Sink) Send(ctx context.Context, e analytics.Event) error {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", string(e.Type)),
		attribute.String("role", string(e.Role)),
	}
	if s.events != nil {
		s.events.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if s.durations != nil && e.DurationMs > 0 {
		s.durations.Record(ctx, e.DurationMs, metric.WithAttributes(
			attribute.String("role", string(e.Role)),
			attribute.String("step_id", string(e.StepID)),
		))
	}
	if s.logger != nil {
		s.logger.Emit(ctx, record(e))
	}
	return nil
}

func record(e analytics.Event) otellog.Record {
	rec := otellog.Record{}
	rec.SetTimestamp(e.Timestamp)
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetEventName(string(e.Type))
	if body, err := json.Marshal(e); err == nil {
		rec.SetBody(otellog.BytesValue(body))
	}
	rec.AddAttributes(
		otellog.String("event_id", e.ID),
		otellog.String("event_type", string(e.Type)),
		otellog.String("user_id", e.UserID),
		otellog.String("role", string(e.Role)),
	)
	if e.SessionID != "" {
		rec.AddAttributes(otellog.String("session_id", e.SessionID))
	}
	if e.StepID != "" {
		rec.AddAttributes(otellog.String("step_id", string(e.StepID)))
	}
	if e.StepIndex != nil {
		rec.AddAttributes(otellog.Int("step_index", *e.StepIndex), otellog.Int("total_steps", e.TotalSteps))
	}
	if e.DurationMs > 0 {
		rec.AddAttributes(otellog.Int64("duration_ms", e.DurationMs))
	}
	if e.Reason != "" {
		rec.AddAttributes(otellog.String("reason", e.Reason))
	}
	return rec
}
