package grpcserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"lostctl/internal/engine"
	"lostctl/internal/metrics"
)

// EngineService is the health service name that tracks engine availability.
const EngineService = "lostctl.Engine"

// DefaultInterval is how often the engine is re-checked.
const DefaultInterval = 30 * time.Second

// Config wires the health server.
type Config struct {
	Addr         string
	EngineStatus func(ctx context.Context) engine.Status
	Interval     time.Duration
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Server publishes the standard gRPC health service. The overall status and
// EngineService report SERVING while the engine binary runs.
type Server struct {
	addr     string
	status   func(ctx context.Context) engine.Status
	interval time.Duration
	metrics  *metrics.Metrics
	log      *slog.Logger
	health   *health.Server
	grpc     *grpc.Server
}

// New creates the gRPC server with health and reflection registered.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Server{
		addr:     cfg.Addr,
		status:   cfg.EngineStatus,
		interval: interval,
		metrics:  cfg.Metrics,
		log:      logger,
		health:   health.NewServer(),
		grpc:     grpc.NewServer(),
	}
	s.health.SetServingStatus(EngineService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	return s
}

// GRPC returns the underlying server, for registering more services.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve runs the health monitor and serves on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go s.monitor(ctx)
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	s.log.Info("grpc server starting", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Refresh checks the engine once and updates the health status.
func (s *Server) Refresh(ctx context.Context) engine.Status {
	var st engine.Status
	if s.status != nil {
		st = s.status(ctx)
	}
	if s.metrics != nil {
		s.metrics.SetEngineStatus(st)
	}

	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if st.Available {
		serving = healthpb.HealthCheckResponse_SERVING
	} else {
		s.log.Warn("engine unavailable", "error", st.Error)
	}
	s.health.SetServingStatus("", serving)
	s.health.SetServingStatus(EngineService, serving)
	return st
}

func (s *Server) monitor(ctx context.Context) {
	s.Refresh(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}
