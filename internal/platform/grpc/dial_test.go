package grpc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestDialSuccess(t *testing.T) {
	t.Parallel()

	addr, _ := startHealthServer(t)
	conn, err := Dial(context.Background(), addr, testService, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close conn: %v", err)
	}
}

func TestDialTimeoutBoundsHealth(t *testing.T) {
	t.Parallel()

	addr, healthServer := startHealthServer(t)
	healthServer.SetServingStatus(testService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	start := time.Now()
	conn, err := Dial(context.Background(), addr, testService, 150*time.Millisecond, nil)
	if err == nil {
		_ = conn.Close()
		t.Fatal("expected error")
	}
	var dialErr *DialError
	if !errors.As(err, &dialErr) || dialErr.Stage != DialStageHealth {
		t.Fatalf("err = %v, want health stage", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout did not bound health wait, took %v", elapsed)
	}
}

func TestDialConnectStage(t *testing.T) {
	t.Parallel()

	// No transport credentials makes client construction fail.
	_, err := Dial(context.Background(), "127.0.0.1:1", "", time.Second, nil,
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()))
	var dialErr *DialError
	if !errors.As(err, &dialErr) || dialErr.Stage != DialStageConnect {
		t.Fatalf("err = %v, want connect stage", err)
	}
	if !strings.Contains(dialErr.Error(), "gRPC connect") || dialErr.Unwrap() == nil {
		t.Fatalf("unexpected error formatting: %v", dialErr)
	}
}
