package api

import (
	"net/http"

	"stream-analyst/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates and configures a Chi router with all routes
func NewRouter(h *Handler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware(cfg.HTTP.CORSAllowedOrigins))
	r.Use(MetricsMiddleware)

	// WebSocket connections live as long as the client stays, so only
	// plain requests get the timeout
	timeout := middleware.Timeout(cfg.HTTP.RequestTimeout())

	// Root routes
	r.With(timeout).Get("/", h.HandleIndex)
	r.With(timeout).Get("/index.html", h.HandleIndex)

	// Metrics endpoint for Prometheus
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Health check
		r.With(timeout).Get("/health", h.HandleHealth)

		// Panels
		r.Route("/panels", func(r chi.Router) {
			r.With(timeout).Get("/", h.HandleListPanels)

			r.Route("/{panel}", func(r chi.Router) {
				r.Get("/ws", h.HandlePanelSocket)

				r.Group(func(r chi.Router) {
					r.Use(timeout)
					r.Get("/", h.HandleGetPanel)
					r.Delete("/", h.HandleDeletePanel)
					r.Post("/analyze", h.HandleAnalyze)
					r.Post("/cancel", h.HandleCancel)
					r.Post("/retry", h.HandleRetry)
				})
			})
		})
	})

	return r
}

// CORSMiddleware returns CORS middleware with the specified allowed origins
func CORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, HX-Request, HX-Target, HX-Current-URL")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
