package observability

import (
	"context"
	"testing"
)

func TestSetupTracing_NoEndpoint(t *testing.T) {
	tracer, shutdown, err := SetupTracing(context.Background(), "")
	if err != nil {
		t.Fatalf("SetupTracing failed: %v", err)
	}

	_, span := tracer.Start(context.Background(), "test")
	if span.SpanContext().IsValid() {
		t.Error("expected no-op span without an endpoint")
	}
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger := NewLogger(format)
		if logger == nil {
			t.Fatalf("nil logger for format %q", format)
		}
		logger.Info("logger ready")
	}
}
