// Package grpc provides the gRPC server of the build coordinator. It exposes
// the standard gRPC health service backed by the same checks as /health.
package grpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/narvanalabs/buildgraph/internal/api/health"
)

// ServiceName is the health service name reported for the coordinator.
const ServiceName = "buildgraph.Coordinator"

// Config holds the gRPC server configuration.
type Config struct {
	Port                 int
	TLSCertFile          string
	TLSKeyFile           string
	MaxConcurrentStreams uint32
	KeepaliveTime        time.Duration
	KeepaliveTimeout     time.Duration
	// HealthInterval is how often the health checks are re-evaluated.
	HealthInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:                 9090,
		MaxConcurrentStreams: 1000,
		KeepaliveTime:        30 * time.Second,
		KeepaliveTimeout:     10 * time.Second,
		HealthInterval:       10 * time.Second,
	}
}

// HealthChecker reports the aggregated health of the service.
type HealthChecker interface {
	Check(ctx context.Context) *health.Response
}

// Server is the gRPC server.
type Server struct {
	config  *Config
	checker HealthChecker
	logger  *slog.Logger

	grpcServer *grpc.Server
	health     *grpchealth.Server
	serving    atomic.Bool
}

// NewServer creates a new gRPC server instance.
func NewServer(cfg *Config, checker HealthChecker, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultConfig().HealthInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:  cfg,
		checker: checker,
		logger:  logger.With("component", "grpc"),
		health:  grpchealth.NewServer(),
	}

	opts, err := s.buildServerOptions()
	if err != nil {
		return nil, fmt.Errorf("building server options: %w", err)
	}
	s.grpcServer = grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)

	return s, nil
}

// buildServerOptions constructs the gRPC server options.
func (s *Server) buildServerOptions() ([]grpc.ServerOption, error) {
	opts := []grpc.ServerOption{
		grpc.MaxConcurrentStreams(s.config.MaxConcurrentStreams),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    s.config.KeepaliveTime,
			Timeout: s.config.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			s.recoveryInterceptor(),
			s.loggingInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			s.streamLoggingInterceptor(),
		),
	}

	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading TLS credentials: %w", err)
		}
		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	return opts, nil
}

// Start listens on the configured port and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.serving.Store(true)
	s.refreshHealth(ctx)
	s.logger.Info("gRPC server starting", "address", lis.Addr().String())

	go s.watchHealth(ctx)
	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("serving gRPC: %w", err)
	}
	return nil
}

// Stop marks the service NOT_SERVING and gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.serving.Swap(false) {
		return nil
	}
	s.logger.Info("gRPC server stopping")
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("gRPC server stopped gracefully")
	case <-time.After(30 * time.Second):
		s.logger.Warn("gRPC server graceful stop timed out, forcing stop")
		s.grpcServer.Stop()
	case <-ctx.Done():
		s.logger.Warn("context cancelled, forcing stop")
		s.grpcServer.Stop()
	}
	return nil
}

// IsServing returns whether the server is currently serving requests.
func (s *Server) IsServing() bool {
	return s.serving.Load()
}
