package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/upb/llm-router/services/cache"
	"github.com/upb/llm-router/services/providers"
	"github.com/upb/llm-router/services/providers/relay"
	"github.com/upb/llm-router/services/routing"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// NDJSONContentType is the media type of streamed generate responses
const NDJSONContentType = "application/x-ndjson"

// HandleGenerate handles POST /generate. Non-stream results are memoized
// per target model and request parameters.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetReqID(ctx)

	var body relay.GenerateRequest
	if !h.decodeBody(w, r, &body) {
		return
	}

	req := &providers.GenerateRequest{
		Prompt:      body.Prompt,
		MaxTokens:   body.MaxTokens,
		Temperature: body.Temperature,
		Stream:      body.Stream,
		Extra:       body.Extra,
	}

	opts := routeOptions(body.ModelID, body.Fallback)

	if !req.Stream {
		resp, err := h.generateText(ctx, body, req, opts)
		if err != nil {
			h.generateFailed(w, requestID, body.ModelID, err)
			return
		}
		if err := utils.WriteJSON(w, http.StatusOK, resp); err != nil {
			h.logger.Error("failed to write generate response", zap.Error(err))
		}
		return
	}

	result, err := h.router.RouteGenerate(ctx, req, opts...)
	if err != nil {
		h.generateFailed(w, requestID, body.ModelID, err)
		return
	}
	h.streamGenerate(w, r, result)
}

// generateText routes a non-stream request through the cache. A reply
// from a fallback backend is returned but not stored under the target.
func (h *Handler) generateText(ctx context.Context, body relay.GenerateRequest, req *providers.GenerateRequest, opts []routing.RouteOption) (relay.GenerateResponse, error) {
	compute := func(ctx context.Context) (relay.GenerateResponse, error) {
		result, err := h.router.RouteGenerate(ctx, req, opts...)
		if err != nil {
			return relay.GenerateResponse{}, err
		}
		return relay.GenerateResponse{Text: result.Text, ModelID: result.ModelID}, nil
	}

	target := h.target(body.ModelID)
	key, ok := generateKey(target, body)
	if !ok {
		return compute(ctx)
	}
	return cache.RememberIf(ctx, h.cache, key, h.memoTTL, compute,
		func(resp relay.GenerateResponse) bool { return resp.ModelID == target })
}

func (h *Handler) generateFailed(w http.ResponseWriter, requestID, modelID string, err error) {
	h.logger.Warn("generate failed",
		zap.String("request_id", requestID),
		zap.String("model_id", modelID),
		zap.Error(err))
	HandleServiceError(w, err, h.logger)
}

// generateKey reports false when the extra parameters cannot be encoded
func generateKey(target string, body relay.GenerateRequest) (string, bool) {
	extra := ""
	if len(body.Extra) > 0 {
		raw, err := json.Marshal(body.Extra)
		if err != nil {
			return "", false
		}
		extra = string(raw)
	}
	return cache.Key("generate",
		target,
		strconv.FormatBool(fallbackEnabled(body.Fallback)),
		body.Prompt,
		strconv.Itoa(body.MaxTokens),
		strconv.FormatFloat(body.Temperature, 'g', -1, 64),
		extra,
	), true
}

// streamGenerate writes one NDJSON line per chunk. The status is already
// committed once the first line is written, so a mid-stream failure is
// reported as a final line carrying the error.
func (h *Handler) streamGenerate(w http.ResponseWriter, r *http.Request, result *providers.GenerateResult) {
	defer result.Stream.Close()

	w.Header().Set("Content-Type", NDJSONContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	chunks := 0
	for {
		if ctx.Err() != nil {
			h.logger.Debug("client disconnected during stream",
				zap.String("model_id", result.ModelID),
				zap.Int("chunks", chunks))
			return
		}

		chunk, err := result.Stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			h.logger.Warn("stream failed after start",
				zap.String("model_id", result.ModelID),
				zap.Int("chunks", chunks),
				zap.Error(err))
			_ = utils.WriteNDJSON(w, relay.GenerateResponse{ModelID: result.ModelID, Error: err.Error()})
			return
		}

		if err := utils.WriteNDJSON(w, relay.GenerateResponse{Text: chunk, ModelID: result.ModelID}); err != nil {
			h.logger.Debug("failed to write stream chunk", zap.Error(err))
			return
		}
		chunks++
	}
}
