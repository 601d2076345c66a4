// Package grpc serves the standard grpc.health.v1 service so orchestrators
// can probe the gateway and its database.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/quickide/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported alongside the overall ("") status.
const ServiceName = "quickide.Gateway"

// Check probes one dependency; a non-nil error marks the gateway NOT_SERVING.
type Check func(ctx context.Context) error

type HealthServer struct {
	address  string
	logger   logging.Logger
	checks   []Check
	interval time.Duration
	health   *health.Server
}

func NewHealthServer(a string, l logging.Logger, interval time.Duration, checks ...Check) *HealthServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HealthServer{
		address:  a,
		logger:   l.With("module", "grpc_health"),
		checks:   checks,
		interval: interval,
		health:   health.NewServer(),
	}
}

func (s *HealthServer) Run(ctx context.Context) error {
	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

func (s *HealthServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)

	s.probe(ctx)
	go s.watch(ctx)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC health server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC health server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil {
		return err
	}
	return nil
}

func (s *HealthServer) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probe(ctx)
		}
	}
}

// probe runs every check and publishes the combined status.
func (s *HealthServer) probe(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING

	for _, check := range s.checks {
		checkCtx, cancel := context.WithTimeout(ctx, s.interval)
		err := check(checkCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn(ctx, "health check failed", "error", err.Error())
			status = healthpb.HealthCheckResponse_NOT_SERVING
			break
		}
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
