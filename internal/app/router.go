package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/congregate/congregate/internal/accounts"
	"github.com/congregate/congregate/internal/auth"
	"github.com/congregate/congregate/internal/observability"
	"github.com/congregate/congregate/internal/rbac"
	"github.com/congregate/congregate/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	AuthHandler     *auth.Handler
	AccountsHandler *accounts.Handler
	RBACHandler     *rbac.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
	// Health reports store readiness for /healthz; nil means always healthy.
	Health func(r *http.Request) error
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Health != nil {
			if err := params.Health(r); err != nil {
				params.Logger.Warn("health check", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", func(r chi.Router) {
		if params.AuthHandler != nil {
			params.AuthHandler.MountRoutes(r)
		}
		if params.RBACHandler != nil {
			params.RBACHandler.MountAuthRoutes(r)
		}
	})
	if params.RBACHandler != nil {
		r.Route("/permissions", params.RBACHandler.MountPermissionRoutes)
		r.Route("/roles", params.RBACHandler.MountRoleRoutes)
	}
	r.Route("/users", func(r chi.Router) {
		if params.RBACHandler != nil {
			params.RBACHandler.MountUserRoleRoutes(r)
		}
		if params.AccountsHandler != nil {
			params.AccountsHandler.MountRoutes(r)
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
