package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsHandler().Handler)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Use(s.apiKeyMiddleware)

		r.Get("/telemetry/{device_id}", s.handleTelemetry)
		r.Get("/rejections", s.handleListRejections)
	})

	return r
}

// corsHandler builds the CORS policy from the configured allow-list.
func (s *Server) corsHandler() *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"X-API-Key", "Content-Type"},
		AllowCredentials: true,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
