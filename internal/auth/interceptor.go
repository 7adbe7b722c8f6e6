// ABOUTME: gRPC interceptors resolving bearer tokens from metadata through the shared Resolver
// ABOUTME: Unauthenticated calls are rejected except for exempt methods such as health checks

package auth

import (
	"context"
	"log/slog"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// FamilyMetadataKey carries an explicit target family on gRPC calls.
const FamilyMetadataKey = "x-family-id"

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, ctx context.Context, method string, authErr *Error) {
	if logger == nil {
		return
	}
	attrs := []any{"kind", authErr.Kind, "method", method}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, "peer_addr", p.Addr.String())
	}
	logger.Warn("grpc auth failure", attrs...)
}

// grpcStatus converts an auth failure into a gRPC status error.
func grpcStatus(authErr *Error) error {
	code := codes.Unauthenticated
	switch authErr.Status() {
	case http.StatusForbidden:
		code = codes.PermissionDenied
	case http.StatusTooManyRequests:
		code = codes.ResourceExhausted
	case http.StatusInternalServerError:
		code = codes.Internal
	}
	msg := authErr.Message
	if msg == "" {
		msg = string(authErr.Kind)
	}
	return status.Error(code, msg)
}

// credentialFromMetadata extracts the bearer token and hints from incoming metadata.
func credentialFromMetadata(ctx context.Context) (RawCredential, RequestHints) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return RawCredential{Kind: CredentialNone}, RequestHints{}
	}

	var hints RequestHints
	if v := md.Get(FamilyMetadataKey); len(v) > 0 {
		hints.FamilyID = v[0]
	}

	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return RawCredential{Kind: CredentialNone}, hints
	}
	token, errMsg := extractBearerToken(authHeaders[0])
	if errMsg != "" {
		return RawCredential{Kind: CredentialNone}, hints
	}
	return RawCredential{Kind: CredentialBearer, Value: token}, hints
}

// authenticate resolves the call's credential. Exempt methods proceed with an
// unauthenticated context instead of failing.
func authenticate(ctx context.Context, method string, resolver *Resolver, exempt map[string]bool, logger *slog.Logger) (*AuthContext, error) {
	// Full method names are not paths; family hints come only from metadata.
	cred, hints := credentialFromMetadata(ctx)

	ac := resolver.ResolveCredential(ctx, cred, hints)
	if ac.Authenticated || exempt[method] {
		return ac, nil
	}

	authErr := CheckAuthenticated(ac)
	logAuthFailure(logger, ctx, method, authErr)
	return nil, grpcStatus(authErr)
}

func exemptSet(methods []string) map[string]bool {
	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[m] = true
	}
	return set
}

// UnaryInterceptor returns a gRPC unary interceptor that authenticates requests.
// Full method names listed in exempt are served without credentials.
func UnaryInterceptor(resolver *Resolver, logger *slog.Logger, exempt ...string) grpc.UnaryServerInterceptor {
	exemptMethods := exemptSet(exempt)
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		authCtx, err := authenticate(ctx, info.FullMethod, resolver, exemptMethods, logger)
		if err != nil {
			return nil, err
		}

		ctx = WithAuth(ctx, authCtx)
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor that authenticates requests.
// Full method names listed in exempt are served without credentials.
func StreamInterceptor(resolver *Resolver, logger *slog.Logger, exempt ...string) grpc.StreamServerInterceptor {
	exemptMethods := exemptSet(exempt)
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		authCtx, err := authenticate(ss.Context(), info.FullMethod, resolver, exemptMethods, logger)
		if err != nil {
			return err
		}

		wrapped := &wrappedServerStream{
			ServerStream: ss,
			ctx:          WithAuth(ss.Context(), authCtx),
		}
		return handler(srv, wrapped)
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
