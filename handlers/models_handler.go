package handlers

import (
	"net/http"

	"github.com/upb/llm-router/services/providers"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// ModelsResponse lists the registered models in registration order
type ModelsResponse struct {
	Models       []providers.ModelInfo `json:"models"`
	DefaultModel string                `json:"default_model,omitempty"`
}

// HandleListModels handles GET /models
func (h *Handler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	models := h.router.ListModels()
	if models == nil {
		models = []providers.ModelInfo{}
	}

	if err := utils.WriteOK(w, ModelsResponse{
		Models:       models,
		DefaultModel: h.router.DefaultModel(),
	}); err != nil {
		h.logger.Error("failed to write models response", zap.Error(err))
	}
}
