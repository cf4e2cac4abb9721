package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"extdist/internal/config"
	"extdist/internal/infrastructure"
	mw "extdist/internal/middleware"
	"extdist/internal/services"
)

// NewRouter builds the full route tree with the middleware chain applied.
func NewRouter(cfg *config.Config, svc *services.Distribution, metrics *infrastructure.Metrics, logger *slog.Logger) chi.Router {
	h := NewHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.RealIP)
	r.Use(mw.StructuredLogger(logger))
	r.Use(mw.Recoverer(logger))
	r.Use(mw.Backstop(cfg.RateLimit.BackstopRPS, cfg.RateLimit.Burst, logger))
	r.Use(mw.CORS(mw.CORSConfig{AllowedOrigins: cfg.Server.AllowedOrigins}))
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Timeout(cfg.Server.RequestTimeout))

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/updates", func(r chi.Router) {
			r.Post("/check", h.CheckUpdate)
			r.Post("/info", h.PluginInfo)
		})
		r.Route("/license", func(r chi.Router) {
			r.Post("/activate", h.ActivateLicense)
			r.Post("/deactivate", h.DeactivateLicense)
			r.Post("/check", h.CheckLicense)
		})
		r.Post("/download", h.Download)
	})

	return r
}
