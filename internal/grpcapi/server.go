// Package grpcapi exposes the standard gRPC health service, driven by the
// readiness of the backing store.
package grpcapi

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"assetdesk.org/internal/obs"
)

// ServiceName is the health service name reported next to the overall ("") status.
const ServiceName = "assetdesk.v1.API"

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wraps a grpc.Server carrying the health service.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	probe    Pinger
	interval time.Duration
	timeout  time.Duration
}

// Option configures the Server.
type Option func(*Server)

// WithInterval sets how often the store is probed.
func WithInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// New builds the server. Both statuses start NOT_SERVING until the first probe.
func New(probe Pinger, opts ...Option) *Server {
	s := &Server{
		health:   health.NewServer(),
		probe:    probe,
		interval: 5 * time.Second,
		timeout:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.grpc = grpc.NewServer(grpc.UnaryInterceptor(logUnary))
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Health returns the health service implementation.
func (s *Server) Health() healthpb.HealthServer { return s.health }

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Monitor probes the store until ctx is done.
func (s *Server) Monitor(ctx context.Context) {
	s.Probe(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Probe pings the store once and publishes the result.
func (s *Server) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.probe.Ping(ctx); err != nil {
		obs.Logger().Warn("store probe failed", zap.Error(err))
		obs.SetReady(false)
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	obs.SetReady(true)
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	obs.Logger().Debug("grpc_call", fields...)
	return resp, err
}
