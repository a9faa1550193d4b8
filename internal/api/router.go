package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	// Prometheus scrape endpoint
	r.Get("/metrics", s.handlePrometheus)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/history", s.handleGetDeviceHistory)

				r.With(s.authMiddleware).Post("/commands", s.handleDeviceCommand)
			})
		})

		r.With(s.authMiddleware).Post("/resync", s.handleResync)
		r.With(s.authMiddleware).Get("/audit", s.handleListAudit)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	m := s.bridge.GetMetrics()

	status := "ok"
	mqttConnected := s.mqtt != nil && s.mqtt.IsConnected()
	if !mqttConnected || !m.Connected {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":             status,
		"version":            s.version,
		"mqtt_connected":     mqttConnected,
		"director_connected": m.Connected,
	})
}

// handlePrometheus serves the registered collectors in exposition format.
func (s *Server) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	if s.prom == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "metrics registry not configured")
		return
	}
	s.prom.ServeHTTP(w, r)
}
