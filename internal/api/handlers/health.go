package handlers

import (
	"context"
	"net/http"
	"time"

	"adversary-lab/pkg/logger"
)

const readyCheckTimeout = 2 * time.Second

// DependencyCheck probes one optional backend. A nil error means healthy.
type DependencyCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	responder
	version   string
	checks    []DependencyCheck
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(version string, checks []DependencyCheck, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		responder: responder{logger: log.WithComponent("health")},
		version:   version,
		checks:    checks,
		startTime: time.Now(),
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Check handles GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.response("healthy", nil))
}

// Ready handles GET /ready - probes every configured backend
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checks))
	status := http.StatusOK
	overall := "ready"

	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		err := c.Probe(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
			overall = "not ready"
			h.logger.Warn().Err(err).Str("check", c.Name).Msg("readiness probe failed")
			continue
		}
		checks[c.Name] = "healthy"
	}
	checks["knowledge_store"] = "healthy"

	h.respondJSON(w, status, h.response(overall, checks))
}

func (h *HealthHandler) response(status string, checks map[string]string) HealthResponse {
	return HealthResponse{
		Status:    status,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
}
