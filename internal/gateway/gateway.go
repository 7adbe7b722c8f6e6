// ABOUTME: Gateway orchestrator that coordinates the HTTP and optional gRPC servers
// ABOUTME: Owns the store, credential resolution services and their background sweeps

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/2389/nursery-gateway/internal/auth"
	"github.com/2389/nursery-gateway/internal/config"
	"github.com/2389/nursery-gateway/internal/dedupe"
	"github.com/2389/nursery-gateway/internal/metrics"
	"github.com/2389/nursery-gateway/internal/secrets"
	"github.com/2389/nursery-gateway/internal/store"
)

// Gateway orchestrates the nursery-gateway server components.
// It serves the JSON API over HTTP and, when configured, gRPC health and
// channelz services sharing the same credential resolver.
type Gateway struct {
	config *config.Config
	store  store.Store
	now    func() time.Time

	registry *auth.RevocationRegistry
	verifier *auth.JWTVerifier
	guard    *auth.Guard
	resolver *auth.Resolver
	authn    *auth.Authenticator
	cipher   *secrets.Cipher
	limiter  *loginLimiter
	replays  *dedupe.Cache[ActivityResponse]
	metrics  *metrics.Metrics

	handler    http.Handler
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server

	logger *slog.Logger
}

// OpenStore opens the configured database. NURSERY_DB_PATH overrides the
// configured path.
func OpenStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("NURSERY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(cfg.Database.Driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	gw, err := newGateway(cfg, s, logger, time.Now)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// newGateway wires every component around an already-open store.
func newGateway(cfg *config.Config, s store.Store, logger *slog.Logger, now func() time.Time) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := auth.NewRevocationRegistry(now, logger)
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenLifetime, registry, now)
	if err != nil {
		return nil, fmt.Errorf("creating token verifier: %w", err)
	}

	cipher, err := secrets.NewCipher(cfg.Secrets.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("creating settings cipher: %w", err)
	}

	guard := auth.NewGuard(auth.GuardConfig{
		Threshold:       cfg.Auth.LockoutThreshold,
		LockoutDuration: cfg.Auth.LockoutDuration,
		Now:             now,
		Logger:          logger,
	})

	m := metrics.New(metrics.Sizes{
		RevokedTokens:  registry.Len,
		TrackedSources: guard.Len,
	})
	guard.SetRecorder(m)

	resolver := auth.NewResolver(auth.ResolverConfig{
		Verifier:    verifier,
		Store:       s,
		CookieName:  cfg.Auth.CookieName,
		MultiTenant: cfg.Deployment.MultiTenant(),
		Now:         now,
		Logger:      logger,
		Recorder:    m,
	})

	gw := &Gateway{
		config:   cfg,
		store:    s,
		now:      now,
		registry: registry,
		verifier: verifier,
		guard:    guard,
		resolver: resolver,
		authn:    auth.NewAuthenticator(resolver, logger),
		cipher:   cipher,
		limiter:  newLoginLimiter(cfg.Auth.LoginRate, cfg.Auth.LoginBurst, cfg.Server.TrustProxy, now),
		replays:  dedupe.New[ActivityResponse](idempotencyTTL, maxIdempotencyKeys, now),
		metrics:  m,
		logger:   logger.With("component", "gateway"),
	}

	gw.handler = gw.routes()
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.health = newGRPCServer(resolver, logger.With("component", "grpc"))
	}

	return gw, nil
}

// Handler returns the HTTP handler serving the API.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// setupListeners creates TCP listeners for HTTP and, when configured, gRPC.
func (g *Gateway) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
		"mode", g.config.Deployment.Mode,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer == nil {
		return nil, httpLn, nil
	}

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// startServers starts the servers in goroutines, returning their error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// startSweeps runs the revocation, lockout, rate limiter and replay cache
// sweeps until ctx is done. The returned WaitGroup completes once they have all stopped.
func (g *Gateway) startSweeps(ctx context.Context) *sync.WaitGroup {
	interval := g.config.Auth.RevocationSweepInterval
	var wg sync.WaitGroup
	for _, run := range []func(context.Context, time.Duration){
		g.registry.Run,
		g.guard.Run,
		g.limiter.Run,
		g.sweepReplays,
	} {
		wg.Add(1)
		go func(run func(context.Context, time.Duration)) {
			defer wg.Done()
			run(ctx, interval)
		}(run)
	}
	return &wg
}

func (g *Gateway) sweepReplays(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.replays.Sweep(g.now()); n > 0 {
				g.logger.Debug("swept idempotency keys", "removed", n)
			}
		}
	}
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners()
	if err != nil {
		return err
	}

	sweepCtx, stopSweeps := context.WithCancel(ctx)
	sweeps := g.startSweeps(sweepCtx)

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	stopSweeps()
	sweeps.Wait()

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout, since
// the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.health != nil {
		g.health.Shutdown()
	}

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.grpcServer != nil {
		g.shutdownGRPCServer(ctx)
	}

	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the database answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
