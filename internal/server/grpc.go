package server

import (
	"FreightLane/internal/biz"
	"FreightLane/internal/conf"
	"FreightLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewGRPCServer new a gRPC server exposing the standard health service.
// Each registered downstream service appears as its own health entry.
func NewGRPCServer(c *conf.Server, registry *biz.ServiceRegistry, logger log.Logger) *grpc.Server {
	var opts = []grpc.ServerOption{
		grpc.Middleware(
			recovery.Recovery(),
		),
		grpc.CustomHealth(),
	}
	if c != nil && c.Grpc != nil {
		if c.Grpc.Network != "" {
			opts = append(opts, grpc.Network(c.Grpc.Network))
		}
		if c.Grpc.Addr != "" {
			opts = append(opts, grpc.Address(c.Grpc.Addr))
		}
		if c.Grpc.Timeout > 0 {
			opts = append(opts, grpc.Timeout(c.Grpc.Timeout))
		}
	}
	srv := grpc.NewServer(opts...)

	hs := health.NewServer()
	mirrorRegistryHealth(hs, registry, logger)
	healthpb.RegisterHealthServer(srv, hs)

	return srv
}

// mirrorRegistryHealth copies current registry health into hs and keeps it in sync.
func mirrorRegistryHealth(hs *health.Server, registry *biz.ServiceRegistry, logger log.Logger) {
	helper := log.NewHelper(log.With(logger, "module", "server/grpc"))

	for _, desc := range registry.ListAll() {
		hs.SetServingStatus(desc.Name, servingStatus(desc.Health))
	}
	registry.OnHealthChange(func(service string, status model.HealthStatus) {
		hs.SetServingStatus(service, servingStatus(status))
		helper.Debugw("msg", "grpc health updated", "service", service, "health", status)
	})
}

func servingStatus(status model.HealthStatus) healthpb.HealthCheckResponse_ServingStatus {
	switch status {
	case model.HealthHealthy, model.HealthDegraded:
		return healthpb.HealthCheckResponse_SERVING
	case model.HealthUnhealthy:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}
