// ABOUTME: HTTP route table for nursery-gateway built on chi
// ABOUTME: Groups routes by the authorization gate they sit behind

package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/2389/nursery-gateway/internal/auth"
)

// routes builds the HTTP handler.
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(g.requestIDMiddleware)
	r.Use(g.loggingMiddleware)
	r.Use(g.recoveryMiddleware)
	r.Use(g.metrics.Instrument)
	r.Use(g.bodySizeLimitMiddleware)

	// Health endpoints, no auth
	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, g.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			// Login: lockout is checked before anything else is parsed
			r.Group(func(r chi.Router) {
				r.Use(auth.GuardMiddleware(g.guard, g.config.Server.TrustProxy))
				r.Use(g.limiter.Middleware)

				r.Post("/pin", g.handlePINLogin)
				r.Post("/account", g.handleAccountLogin)
				r.Post("/admin", g.handleAdminLogin)
				r.Post("/setup", g.handleSetupLogin)
			})

			r.Group(func(r chi.Router) {
				r.Use(g.authn.RequireAuth)

				r.Post("/logout", g.handleLogout)
				r.Get("/me", g.handleMe)
			})
		})

		r.Route("/activities", func(r chi.Router) {
			r.Use(g.authn.RequireRole(auth.RoleUser))
			r.Use(g.authn.RequireWrite)

			r.Get("/", g.handleListActivities)
			r.Post("/", g.handleCreateActivity)
			r.With(g.authn.RequireRole(auth.RoleAdmin)).Delete("/{id}", g.handleDeleteActivity)
		})

		r.With(g.authn.RequireAccountOwner).Get("/account/status", g.handleAccountStatus)

		r.With(g.authn.RequireSetup).Post("/setup/families", g.handleSetupFamily)

		r.Route("/admin", func(r chi.Router) {
			r.Use(g.authn.RequireSysAdmin)

			r.Get("/families", g.handleListFamilies)
			r.Get("/audit", g.handleListAudit)
		})
	})

	return r
}
