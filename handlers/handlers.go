// Package handlers serves the relay HTTP API over a Router and a Cache.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/upb/llm-router/services/cache"
	"github.com/upb/llm-router/services/providers"
	"github.com/upb/llm-router/services/routing"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// ModelRouter is the routing surface the handlers depend on
type ModelRouter interface {
	RouteGenerate(ctx context.Context, req *providers.GenerateRequest, opts ...routing.RouteOption) (*providers.GenerateResult, error)
	RouteEmbed(ctx context.Context, input providers.EmbedInput, opts ...routing.RouteOption) (*routing.EmbedResult, error)
	ListModels() []providers.ModelInfo
	DefaultModel() string
	Len() int
}

// Handler serves generation, embedding and model listing requests
type Handler struct {
	router  ModelRouter
	cache   *cache.Cache
	memoTTL time.Duration
	logger  *zap.Logger
}

// NewHandler creates a new Handler. Non-stream generations and embeddings
// are memoized in c for memoTTL; a nil cache disables memoization.
func NewHandler(router ModelRouter, c *cache.Cache, memoTTL time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		router:  router,
		cache:   c,
		memoTTL: memoTTL,
		logger:  logger,
	}
}

// decodeBody parses the JSON body and validates it, writing a 400 on failure
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", map[string]interface{}{"error": err.Error()})
		return false
	}

	if err := utils.ValidateStruct(dst); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return false
	}
	return true
}

// target is the model a request asks for, the default when none is named
func (h *Handler) target(modelID string) string {
	if modelID == "" {
		return h.router.DefaultModel()
	}
	return modelID
}

func fallbackEnabled(fallback *bool) bool {
	return fallback == nil || *fallback
}

func routeOptions(modelID string, fallback *bool) []routing.RouteOption {
	opts := []routing.RouteOption{routing.WithModel(modelID)}
	if fallback != nil {
		opts = append(opts, routing.WithFallback(*fallback))
	}
	return opts
}
