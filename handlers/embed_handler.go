package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/upb/llm-router/services/cache"
	"github.com/upb/llm-router/services/providers/relay"
	"github.com/upb/llm-router/services/routing"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// HandleEmbed handles POST /embed. Results are memoized per target model
// and input texts; vectors from a fallback backend are not stored.
func (h *Handler) HandleEmbed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetReqID(ctx)

	var body relay.EmbedRequest
	if !h.decodeBody(w, r, &body) {
		return
	}

	input := body.Text.EmbedInput
	opts := routeOptions(body.ModelID, body.Fallback)
	target := h.target(body.ModelID)

	result, err := cache.RememberIf(ctx, h.cache, embedKey(target, body), h.memoTTL,
		func(ctx context.Context) (*routing.EmbedResult, error) {
			return h.router.RouteEmbed(ctx, input, opts...)
		},
		func(result *routing.EmbedResult) bool { return result.ModelID == target })
	if err != nil {
		h.logger.Warn("embed failed",
			zap.String("request_id", requestID),
			zap.String("model_id", body.ModelID),
			zap.Int("texts", input.Len()),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	resp, err := relay.NewEmbedResponse(result.ModelID, input.Single, result.Vectors)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if err := utils.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to write embed response", zap.Error(err))
	}
}

func embedKey(target string, body relay.EmbedRequest) string {
	parts := append([]string{target, strconv.FormatBool(fallbackEnabled(body.Fallback))}, body.Text.Texts...)
	return cache.Key("embed", parts...)
}
