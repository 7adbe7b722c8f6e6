// Package gateway orchestrates the nursery-gateway server components.
//
// # Overview
//
// The gateway owns the store and the credential resolution services (token
// verifier, revocation registry, brute-force guard, resolver) and serves them
// over HTTP and, optionally, gRPC. Every request is resolved at most once; the
// resulting auth.AuthContext travels on the request context to the gates and
// handlers behind them.
//
// # HTTP API
//
//	GET    /health                 liveness, no auth
//	GET    /health/ready           store ping, no auth
//	GET    /metrics                Prometheus exposition when metrics.enabled
//
//	POST   /api/auth/pin           caretaker PIN login, sets the session cookie
//	POST   /api/auth/account       account email/password login
//	POST   /api/auth/admin         system administrator login
//	POST   /api/auth/setup         setup token login
//	POST   /api/auth/logout        revoke the bearer token, clear the cookie
//	GET    /api/auth/me            describe the resolved caller
//
//	GET    /api/activities         USER and up
//	POST   /api/activities         USER and up, entitlement must be current
//	DELETE /api/activities/{id}    ADMIN and up, entitlement must be current
//	GET    /api/account/status     account owners
//	POST   /api/setup/families     setup sessions and system administrators
//	GET    /api/admin/families     system administrators
//	GET    /api/admin/audit        system administrators, filtered by
//	                               familyId, action, since, until, limit
//
// The four login routes sit behind auth.GuardMiddleware, which answers 429
// for locked-out clients before the body is read, and a per-client token
// bucket limiter.
//
// POST /api/activities honours an Idempotency-Key header: a repeated key from
// the same family within 24 hours replays the first response instead of
// logging the activity twice.
//
// Logins, lockouts, logouts and family provisioning are appended to the
// store's audit log. A failed audit write is logged and never fails the
// request.
//
// # gRPC
//
// When server.grpc_addr is set, a gRPC server exposes the standard health
// service (no credentials required) and channelz (system administrators
// only). Credentials are read from the "authorization" metadata key.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run starts the revocation, lockout and limiter sweeps alongside the
// servers and stops them before shutting the servers down.
package gateway
