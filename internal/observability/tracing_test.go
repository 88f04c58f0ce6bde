package observability

import (
	"context"
	"testing"

	"github.com/dontdude/javabox/internal/config"
)

func TestDisabledTracing(t *testing.T) {
	ts, err := NewTracerSetup(context.Background(), config.TracingConfig{})
	if err != nil {
		t.Fatalf("NewTracerSetup() error = %v", err)
	}
	if ts != nil {
		t.Fatal("NewTracerSetup() returned a provider without an endpoint")
	}

	_, span := ts.Tracer().Start(context.Background(), "noop")
	if span.IsRecording() {
		t.Error("no-op span is recording")
	}
	span.End()

	if err := ts.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestEnabledTracing(t *testing.T) {
	ts, err := NewTracerSetup(context.Background(), config.TracingConfig{
		Endpoint: "localhost:4318",
		Insecure: true,
	})
	if err != nil {
		t.Fatalf("NewTracerSetup() error = %v", err)
	}

	_, span := ts.Tracer().Start(context.Background(), "pipeline.run")
	if !span.IsRecording() {
		t.Error("span is not recording")
	}
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = ts.Shutdown(ctx)
}
