// ABOUTME: gRPC server construction for the health and channelz services
// ABOUTME: Every call passes the shared credential resolver; channelz needs a system administrator

package gateway

import (
	"log/slog"
	"time"

	"google.golang.org/grpc"
	channelzsvc "google.golang.org/grpc/channelz/service"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/nursery-gateway/internal/auth"
)

// Health probes stay reachable without credentials so orchestrators can call them.
var healthMethods = []string{
	"/grpc.health.v1.Health/Check",
	"/grpc.health.v1.Health/Watch",
	"/grpc.health.v1.Health/List",
}

// newGRPCServer creates the gRPC server with auth interceptors and registers
// the health and channelz services.
func newGRPCServer(resolver *auth.Resolver, logger *slog.Logger) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			auth.UnaryInterceptor(resolver, logger, healthMethods...),
			auth.RequireSysAdminUnary(auth.ChannelzServicePrefix),
		),
		grpc.ChainStreamInterceptor(
			auth.StreamInterceptor(resolver, logger, healthMethods...),
			auth.RequireSysAdminStream(auth.ChannelzServicePrefix),
		),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	channelzsvc.RegisterChannelzServiceToServer(server)

	logger.Info("gRPC auth interceptors enabled")
	return server, healthServer
}
