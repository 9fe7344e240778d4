package grpc

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/narvanalabs/buildgraph/internal/api/health"
)

type toggleChecker struct {
	healthy atomic.Bool
}

func (c *toggleChecker) Check(ctx context.Context) *health.Response {
	if c.healthy.Load() {
		return &health.Response{Status: health.StatusHealthy}
	}
	return &health.Response{Status: health.StatusUnhealthy}
}

func startTestServer(t *testing.T, checker HealthChecker) (healthpb.HealthClient, *Server, context.CancelFunc, <-chan error) {
	t.Helper()

	lis, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.HealthInterval = 10 * time.Millisecond
	s, err := NewServer(cfg, checker, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
	})
	return healthpb.NewHealthClient(conn), s, cancel, done
}

func check(client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN
	}
	return resp.Status
}

func TestHealthFollowsChecker(t *testing.T) {
	checker := &toggleChecker{}
	checker.healthy.Store(true)
	client, s, _, _ := startTestServer(t, checker)

	require.Eventually(t, func() bool {
		return check(client, ServiceName) == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.IsServing())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(client, ""))

	checker.healthy.Store(false)
	require.Eventually(t, func() bool {
		return check(client, ServiceName) == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	checker.healthy.Store(true)
	require.Eventually(t, func() bool {
		return check(client, "") == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeStopsWithContext(t *testing.T) {
	_, s, cancel, done := startTestServer(t, nil)

	require.Eventually(t, s.IsServing, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, s.IsServing())
}
