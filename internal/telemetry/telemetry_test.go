package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "noshowd"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, f := range fields {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Fatalf("trace context propagator not installed: %v", fields)
	}
}

func TestInit_WithEndpoint(t *testing.T) {
	// the gRPC exporter connects lazily
	shutdown, err := Init(context.Background(), Config{OTLPEndpoint: "127.0.0.1:1", ServiceName: "noshowd", Version: "test", Insecure: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}
