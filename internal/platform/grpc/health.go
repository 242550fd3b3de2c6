// Package grpc holds the gRPC plumbing shared by formdesk servers and
// clients.
package grpc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/formdesk/internal/platform/logging"
)

const maxHealthBackoff = time.Second

// RegisterHealth registers a health service on server reporting SERVING for
// the overall server and each named service.
func RegisterHealth(server gogrpc.ServiceRegistrar, services ...string) *health.Server {
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	for _, name := range services {
		healthServer.SetServingStatus(name, grpc_health_v1.HealthCheckResponse_SERVING)
	}
	return healthServer
}

// WaitForHealth blocks until the health check of service reports SERVING
// or ctx ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logger *zap.Logger) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	logger = logging.OrNop(logger)

	client := grpc_health_v1.NewHealthClient(conn)
	backoff := 100 * time.Millisecond
	for {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		response, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		cancel()
		if err == nil && response.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			logger.Debug("gRPC health is SERVING", zap.String("service", service))
			return nil
		}
		if err != nil {
			logger.Debug("waiting for gRPC health", zap.String("service", service), zap.Error(err))
		} else {
			logger.Debug("waiting for gRPC health", zap.String("service", service), zap.Stringer("status", response.GetStatus()))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxHealthBackoff)
	}
}
