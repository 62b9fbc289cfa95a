// Package grpc serves the standard gRPC health protocol, reporting whether
// the document store and the other backends answer pings.
package grpc

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name probes ask for. The empty name
// reports the overall status.
const ServiceName = "sellr.v1.Sellr"

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker polls a set of named backends and publishes the combined
// result to a grpc health server.
type HealthChecker struct {
	server  *health.Server
	checks  map[string]Pinger
	timeout time.Duration
	log     *slog.Logger
}

func NewHealthChecker(checks map[string]Pinger, timeout time.Duration, log *slog.Logger) *HealthChecker {
	hc := &HealthChecker{
		server:  health.NewServer(),
		checks:  checks,
		timeout: timeout,
		log:     log,
	}
	hc.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return hc
}

// NewServer returns an instrumented grpc server with the health service and
// reflection registered.
func NewServer(hc *HealthChecker, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, hc.server)
	reflection.Register(srv)
	return srv
}

// Check pings every backend once and updates the served status.
func (hc *HealthChecker) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, p := range hc.checks {
		pingCtx, cancel := context.WithTimeout(ctx, hc.timeout)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			hc.log.WarnContext(ctx, "health check failed", "backend", name, "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	hc.set(status)
	return status
}

// Run checks every interval until ctx ends, then reports NOT_SERVING for good.
func (hc *HealthChecker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	hc.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			hc.server.Shutdown()
			return
		case <-ticker.C:
			hc.Check(ctx)
		}
	}
}

func (hc *HealthChecker) set(status healthpb.HealthCheckResponse_ServingStatus) {
	hc.server.SetServingStatus("", status)
	hc.server.SetServingStatus(ServiceName, status)
}
