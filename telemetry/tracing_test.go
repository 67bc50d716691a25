package telemetry

import (
	"context"
	"testing"
)

func TestSetupTracing_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("DIGIPOP_OTEL_ENDPOINT", "")
	t.Setenv("DIGIPOP_OTEL_ENABLED", "")

	shutdown, err := SetupTracing(context.Background(), "digipop-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupTracing_NoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("DIGIPOP_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("DIGIPOP_OTEL_ENABLED", "false")

	shutdown, err := SetupTracing(context.Background(), "digipop-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupTracing_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so no export happens.
	t.Setenv("DIGIPOP_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("DIGIPOP_OTEL_ENABLED", "")

	shutdown, err := SetupTracing(context.Background(), "digipop-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
