// ABOUTME: gRPC gate restricting administrative services to system administrators
// ABOUTME: Used as second interceptor after authentication; other services pass through

package auth

import (
	"context"
	"strings"

	"google.golang.org/grpc"
)

// ChannelzServicePrefix is the method prefix of the gRPC channelz diagnostics service.
const ChannelzServicePrefix = "/grpc.channelz.v1.Channelz/"

// RequireSysAdminUnary returns a gRPC unary interceptor that admits only system
// administrators to methods under prefix.
func RequireSysAdminUnary(prefix string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req)
		}

		if authErr := CheckSysAdmin(FromContext(ctx)); authErr != nil {
			return nil, grpcStatus(authErr)
		}

		return handler(ctx, req)
	}
}

// RequireSysAdminStream is the streaming counterpart of RequireSysAdminUnary.
func RequireSysAdminStream(prefix string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(srv, ss)
		}

		if authErr := CheckSysAdmin(FromContext(ss.Context())); authErr != nil {
			return grpcStatus(authErr)
		}

		return handler(srv, ss)
	}
}
