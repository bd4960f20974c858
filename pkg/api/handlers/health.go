// Package handlers provides HTTP request handlers.
package handlers

import (
	"net/http"

	"github.com/waveflow/waveflow/pkg/api/response"
	"github.com/waveflow/waveflow/pkg/engine"
	"github.com/waveflow/waveflow/pkg/version"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	engine *engine.Engine
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(eng *engine.Engine) *HealthHandler {
	return &HealthHandler{
		engine: eng,
	}
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe).
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine.IsHealthy() {
		response.JSON(w, http.StatusOK, map[string]bool{
			"ready": true,
		})
	} else {
		response.JSON(w, http.StatusServiceUnavailable, map[string]bool{
			"ready": false,
		})
	}
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"healthy":         h.engine.IsHealthy(),
		"live_executions": h.engine.LiveExecutionCount(),
		"version":         version.Info(),
	})
}
