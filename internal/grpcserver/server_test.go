package grpcserver

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"lostctl/internal/engine"
	"lostctl/internal/metrics"
)

func TestHealthTracksEngineStatus(t *testing.T) {
	var available atomic.Bool
	available.Store(true)
	m := metrics.New()
	s := New(Config{
		EngineStatus: func(context.Context) engine.Status {
			if available.Load() {
				return engine.Status{Available: true, Path: "/usr/bin/lost"}
			}
			return engine.Status{Error: errors.New("not found")}
		},
		Interval: time.Hour,
		Metrics:  m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lis := bufconn.Listen(1 << 20)
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	require.Eventually(t, func() bool {
		return check(EngineService) == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineAvailable))

	available.Store(false)
	st := s.Refresh(ctx)
	assert.False(t, st.Available)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(EngineService))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EngineAvailable))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewStartsNotServing(t *testing.T) {
	s := New(Config{})
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: EngineService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
