package handlers

import (
	"net/http"
	"time"

	"github.com/upb/llm-router/services/cache"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Cache     *cache.Stats      `json:"cache,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	router ModelRouter
	cache  *cache.Cache
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(router ModelRouter, c *cache.Cache, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		router: router,
		cache:  c,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// The service is ready once at least one model is registered. A
// disconnected cache only degrades it, since every call still completes.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if h.router == nil || h.router.Len() == 0 {
		checks["models"] = "none_registered"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["models"] = "registered"
	}

	if h.cache.Connected() {
		checks["cache"] = string(cache.StateConnected)
	} else {
		checks["cache"] = string(cache.StateDisconnected)
		if status == "healthy" {
			status = "degraded"
		}
	}

	stats := h.cache.Stats()
	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Cache:     &stats,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
