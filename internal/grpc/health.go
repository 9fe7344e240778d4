package grpc

import (
	"context"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/narvanalabs/buildgraph/internal/api/health"
)

// watchHealth re-evaluates the health checks until ctx is done.
func (s *Server) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(s.config.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshHealth(ctx)
		}
	}
}

// refreshHealth maps the aggregated health onto the gRPC health service.
// Degraded still counts as serving.
func (s *Server) refreshHealth(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.checker != nil {
		if resp := s.checker.Check(ctx); resp.Status == health.StatusUnhealthy {
			s.logger.Warn("health check failed", "components", resp.Components)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.setStatus(status)
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
