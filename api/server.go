/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /healthz                         Liveness
  /metrics                         Prometheus scrape endpoint
  /api/admin/*                     Admin report, adjustments, backfill, inputs
  /api/principals/{id}/*           Tenant dashboard and usage callback
  /api/scenarios/*                 Demo scenarios (admin, only with a demo source)

SECURITY:
  Every /api/admin and /api/scenarios route requires the X-Admin-Token
  header to match the configured token. With no token configured every admin call is refused.
  Tenant routes trust the {id} in the path; authenticating tenants is the
  job of the gateway in front of this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/revenue-engine/generic"
)

// AdminTokenHeader carries the admin capability.
const AdminTokenHeader = "X-Admin-Token"

// RouterConfig holds the pieces of the router that come from configuration.
type RouterConfig struct {
	AdminToken     string
	AllowedOrigins []string
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", AdminTokenHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin(cfg.AdminToken))

			r.Get("/report", h.GetAdminReport)

			r.Route("/adjustments", func(r chi.Router) {
				r.Get("/", h.ListAdjustments)
				r.Post("/", h.CreateAdjustment)
				r.Put("/{id}", h.UpdateAdjustment)
				r.Delete("/{id}", h.DeleteAdjustment)
			})

			r.Post("/backfill", h.TriggerBackfill)
			r.Get("/backfill/runs", h.ListBackfillRuns)

			r.Put("/subscriptions", h.PutSubscription)
			r.Put("/rates", h.PutRate)
			r.Post("/referrals", h.PostReferral)
		})

		// Tenant routes
		r.Route("/principals/{id}", func(r chi.Router) {
			r.Get("/dashboard", h.GetDashboard)
			r.Post("/usage", h.RecordUsage)
		})

		// Scenario routes (demo source only)
		if h.Demo != nil {
			r.Route("/scenarios", func(r chi.Router) {
				r.Use(RequireAdmin(cfg.AdminToken))

				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}

// RequireAdmin refuses requests whose X-Admin-Token does not match token.
func RequireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusForbidden, "admin capability required", generic.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
