package otel_test

import (
	"context"
	"testing"

	"github.com/louisbranch/formdesk/internal/platform/otel"
)

func TestSetupShutdownIsSafe(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		enabled  string
	}{
		{name: "noop when endpoint empty"},
		{name: "noop when explicitly disabled", endpoint: "http://localhost:4318", enabled: "false"},
		// Non-routable address so no export actually happens.
		{name: "provider when endpoint set", endpoint: "http://192.0.2.1:4318"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(otel.EnvEndpoint, tc.endpoint)
			t.Setenv(otel.EnvEnabled, tc.enabled)

			shutdown, err := otel.Setup(context.Background(), "formdesk-test")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Fatalf("shutdown error: %v", err)
			}
		})
	}
}

func TestSetupNoopShutdownIgnoresCancelledContext(t *testing.T) {
	t.Setenv(otel.EnvEndpoint, "")
	t.Setenv(otel.EnvEnabled, "")

	shutdown, err := otel.Setup(context.Background(), "noop-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}
