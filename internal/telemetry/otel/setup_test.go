package otel

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in       string
		override bool
		want     Target
		wantErr  bool
	}{
		{"localhost:4317", false, Target{"localhost:4317", true}, false},
		{"http://collector:4317", false, Target{"collector:4317", true}, false},
		{"https://collector:4317", false, Target{"collector:4317", false}, false},
		{"https://collector:4317", true, Target{"collector:4317", true}, false},
		{"https://collector:4317/v1/traces", false, Target{"collector:4317", false}, false},
		{"  collector:4317  ", false, Target{"collector:4317", true}, false},
		{"http://", false, Target{}, true},
		{"http://[::1", false, Target{}, true},
	}
	for _, tt := range tests {
		got, err := ParseEndpoint(tt.in, tt.override)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEndpoint(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEndpoint(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		p, err := NewProviders(ctx, endpoint, "test-service", false, nil)
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if p.TracerProvider == nil || p.MeterProvider == nil || p.LoggerProvider == nil {
			t.Errorf("providers = %+v", p)
		}
		if err := p.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown = %v, want nil", err)
		}
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	if _, err := NewProviders(context.Background(), "http://", "svc", false, nil); err == nil {
		t.Error("NewProviders accepted an endpoint without host")
	}
}

func TestNewProviders_WithEndpoint(t *testing.T) {
	ctx := context.Background()
	p, err := NewProviders(ctx, "localhost:4317", "test-service", true, nil)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if p.TracerProvider == nil || p.MeterProvider == nil || p.LoggerProvider == nil {
		t.Fatalf("providers = %+v", p)
	}
	sctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	// Nothing listens on the endpoint; only check that shutdown returns.
	_ = p.Shutdown(sctx)
}

func TestSetGlobal(t *testing.T) {
	p, err := NewProviders(context.Background(), "", "svc", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	prevT, prevM := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevT)
		otel.SetMeterProvider(prevM)
	})
	p.SetGlobal()
	if otel.GetTracerProvider() != p.TracerProvider {
		t.Error("global tracer provider not set")
	}
	if otel.GetMeterProvider() != p.MeterProvider {
		t.Error("global meter provider not set")
	}
	(&Providers{}).SetGlobal()
}
