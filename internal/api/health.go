package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nerrad567/nexlytix-core/internal/ingest"
)

// healthCheckTimeout bounds each component probe.
const healthCheckTimeout = 2 * time.Second

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components"`
}

// handleHealth reports listener state and probes the stores. Any unhealthy
// component turns the response into 503 "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		Version:    s.deps.Version,
		Components: make(map[string]string),
	}

	if s.deps.ListenerState != nil {
		state := s.deps.ListenerState()
		resp.Components["listener"] = state.String()
		if state != ingest.StateConnected {
			resp.Status = "degraded"
		}
	}

	probe := func(name string, c HealthChecker) {
		if c == nil {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := c.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", "component", name, "error", err)
			resp.Components[name] = "unavailable"
			resp.Status = "degraded"
			return
		}
		resp.Components[name] = "ok"
	}
	probe("store", s.deps.Store)
	probe("audit", s.deps.Audit)

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
