// Package healthgrpc registers a standard grpc_health_v1 health service so
// this process reports health over gRPC as well as over HTTP (pkg/api's
// /healthz).
package healthgrpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// PoolHealthReporter reports whether the process is healthy. Satisfied by
// *pkg/queue.WorkerPool via its IsHealthy-bearing PoolHealth.
type PoolHealthReporter interface {
	Healthy() bool
}

// NewServer builds a *grpc.Server carrying only the health service — no
// application-level gRPC surface is exposed, since this module has no
// protoc-generated application stubs of its own.
func NewServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// WatchPoolHealth polls reporter at interval and mirrors its result into hs's
// overall serving status, until ctx is cancelled.
func WatchPoolHealth(ctx context.Context, hs *health.Server, reporter PoolHealthReporter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	setStatus := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if !reporter.Healthy() {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
	}
	setStatus()

	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			setStatus()
		}
	}
}
