package grpc

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// Health reports one process lifecycle through the standard gRPC health
// protocol for a fixed set of service names. The overall ("") status is
// always included.
type Health struct {
	server   *health.Server
	services []string
}

// NewHealth creates a health reporter that starts NOT_SERVING.
func NewHealth(services ...string) *Health {
	names := []string{""}
	for _, name := range services {
		if name != "" {
			names = append(names, name)
		}
	}
	h := &Health{server: health.NewServer(), services: names}
	h.set(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to a gRPC server.
func (h *Health) Register(server *gogrpc.Server) {
	if h == nil || server == nil {
		return
	}
	grpc_health_v1.RegisterHealthServer(server, h.server)
}

// SetServing marks every tracked service SERVING.
func (h *Health) SetServing() {
	h.set(grpc_health_v1.HealthCheckResponse_SERVING)
}

// SetNotServing marks every tracked service NOT_SERVING.
func (h *Health) SetNotServing() {
	h.set(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

// Shutdown sets every service NOT_SERVING and ignores later updates.
func (h *Health) Shutdown() {
	if h == nil {
		return
	}
	h.server.Shutdown()
}

func (h *Health) set(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	if h == nil {
		return
	}
	for _, name := range h.services {
		h.server.SetServingStatus(name, status)
	}
}

// NewServer returns a gRPC server instrumented with OTel stats handling.
func NewServer(opts ...gogrpc.ServerOption) *gogrpc.Server {
	opts = append([]gogrpc.ServerOption{gogrpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	return gogrpc.NewServer(opts...)
}
