package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"cohortlive/internal/telemetry"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so no export actually happens.
	shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{
		Endpoint:    "http://192.0.2.1:4318",
		ServiceName: "cohortlive-test",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestStartEnd_WithNoopProvider(t *testing.T) {
	tracer := telemetry.Tracer("test")
	ctx, span := telemetry.Start(context.Background(), tracer, "op", "K4QD7M")
	if ctx == nil {
		t.Fatal("expected context")
	}
	telemetry.End(span, errors.New("boom"))
}
