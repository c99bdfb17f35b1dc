package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cloo-solutions/policyrag/internal/api"
	"github.com/cloo-solutions/policyrag/internal/api/handlers"
	"github.com/cloo-solutions/policyrag/internal/api/middleware"
)

// DefaultMaxBodyBytes bounds document upload bodies.
const DefaultMaxBodyBytes int64 = 32 * 1024 * 1024

type RouterConfig struct {
	DocumentHandler *handlers.DocumentHandler
	QueryHandler    *handlers.QueryHandler
	HackRxHandler   *handlers.HackRxHandler
	AdminHandler    *handlers.AdminHandler
	Logger          *zap.Logger
	// MaxBodyBytes bounds uploads, MaxJSONBodyBytes every other request.
	MaxBodyBytes     int64
	MaxJSONBodyBytes int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	maxJSONBodyBytes := cfg.MaxJSONBodyBytes
	if maxJSONBodyBytes <= 0 {
		maxJSONBodyBytes = middleware.DefaultJSONBodyBytes
	}
	jsonBody := middleware.MaxBodyBytes(maxJSONBodyBytes)

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(cfg.Logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/documents", func(r chi.Router) {
		r.With(middleware.MaxBodyBytes(maxBodyBytes)).Post("/", cfg.DocumentHandler.Upload)
		r.Get("/", cfg.DocumentHandler.List)
		r.Get("/{id}", cfg.DocumentHandler.Get)
	})

	r.Group(func(r chi.Router) {
		r.Use(jsonBody)
		r.Post("/search", cfg.QueryHandler.Search)
		r.Post("/ask", cfg.QueryHandler.Ask)
		r.Post("/hackrx/run", cfg.HackRxHandler.Run)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/stats", cfg.AdminHandler.Stats)
			r.Post("/reindex", cfg.AdminHandler.Reindex)
			r.Post("/reset", cfg.AdminHandler.Reset)
			r.Get("/queries", cfg.AdminHandler.RecentQueries)
		})
	})

	return r
}
