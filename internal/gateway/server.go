package gateway

import (
	"net/http"

	"github.com/flemzord/cadence/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware(g.deps.Tracer, routePattern))

	// Public.
	r.Get("/health", g.handleHealth())
	if g.deps.Metrics != nil {
		r.Handle("/metrics", g.deps.Metrics)
	}

	// The callback is reached by the platform redirecting the user's
	// browser; the state token is its credential.
	r.Get("/oauth/{platform}/callback", g.handleCallback())

	// Control endpoints. Unauthenticated only when no auth is configured,
	// which the default loopback bind keeps local.
	r.Group(func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			var limiter *rate.Limiter
			if g.config.AuthRateLimit > 0 {
				limiter = rate.NewLimiter(rate.Limit(g.config.AuthRateLimit), max(int(g.config.AuthRateLimit), 1))
			}
			r.Use(authMiddleware(g.config.Auth, g.deps.Audit, limiter))
		}
		r.Get("/status", g.handleStatus())
		r.Get("/oauth/{platform}/authorize", g.handleAuthorize())
		r.Get("/ws/jobs", g.handleJobEvents())
		r.Route("/api", func(r chi.Router) {
			r.Post("/jobs", g.handleSchedule())
			r.Get("/jobs/{id}", g.handleJobStatus())
			r.Delete("/jobs/{id}", g.handleCancel())
			r.Get("/owners/{owner}/jobs", g.handleListJobs())
			r.Get("/owners/{owner}/tokens", g.handleTokenStatus())
			r.Post("/owners/{owner}/refresh", g.handleRefresh())
			r.Delete("/credentials/{platform}/{account}", g.handleDisconnect())
		})
	})

	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
