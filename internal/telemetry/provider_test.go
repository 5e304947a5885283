package telemetry_test

import (
	"context"
	"testing"

	"moduleadapter/internal/telemetry"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), "test-module", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Use a non-routable address so no actual export happens.
	shutdown, err := telemetry.Setup(context.Background(), "test-module", "http://192.0.2.1:4318")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestInjectExtractRoundTrip(t *testing.T) {
	carrier := map[string]string{}
	telemetry.Inject(context.Background(), carrier)
	ctx := telemetry.Extract(context.Background(), carrier)
	if ctx == nil {
		t.Fatal("nil context")
	}
	_, span := telemetry.Tracer().Start(ctx, "noop")
	span.End()
}
