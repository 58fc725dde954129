// Package relay forwards generate and embed calls to another router
// instance over HTTP, for backends served out of process.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-router/services/providers"
	"go.uber.org/zap"
)

const (
	providerName = "http"

	defaultTargetModel = "llama"
	defaultMaxTokens   = 256
	defaultTemperature = 0.7
	defaultTimeout     = 60 * time.Second

	// RequestIDHeader carries a per-call id to the relay server
	RequestIDHeader = "X-Request-ID"
)

type settings struct {
	ServerURL   string  `validate:"required,url"`
	TargetModel string  `validate:"required"`
	MaxTokens   int     `validate:"gt=0"`
	Temperature float64 `validate:"gte=0,lte=2"`
	Timeout     time.Duration
}

// RelayAdapter implements providers.Adapter by calling a relay server
type RelayAdapter struct {
	config     providers.ModelConfig
	settings   settings
	httpClient providers.HTTPClient
	logger     *zap.Logger
}

// NewRelayAdapter creates a new relay adapter
func NewRelayAdapter(config providers.ModelConfig, logger *zap.Logger) (*RelayAdapter, error) {
	s := settings{
		ServerURL:   strings.TrimRight(config.ServerURL, "/"),
		TargetModel: providers.StringOr(config.TargetModel, defaultTargetModel),
		MaxTokens:   providers.IntOr(config.MaxTokens, defaultMaxTokens),
		Temperature: providers.FloatOr(config.Temperature, defaultTemperature),
		Timeout:     config.TimeoutOr(defaultTimeout),
	}
	if err := providers.ValidateSettings(providers.BackendHTTP, &s); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("relay client initialized",
		zap.String("server_url", s.ServerURL),
		zap.String("target_model", s.TargetModel))

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: s.Timeout,
	}

	return &RelayAdapter{
		config:     config,
		settings:   s,
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With(zap.String("provider", providerName), zap.String("server_url", s.ServerURL)),
	}, nil
}

// Builder adapts NewRelayAdapter to providers.Builder
func Builder(config providers.ModelConfig, logger *zap.Logger) (providers.Adapter, error) {
	return NewRelayAdapter(config, logger)
}

// Generate forwards the prompt to the relay server's target model. The
// relay server's own fallback is disabled so only this router decides.
func (a *RelayAdapter) Generate(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResult, error) {
	startTime := time.Now()
	noFallback := false

	body := GenerateRequest{
		Prompt:      req.Prompt,
		ModelID:     a.settings.TargetModel,
		MaxTokens:   providers.IntOr(req.MaxTokens, a.settings.MaxTokens),
		Temperature: providers.FloatOr(req.Temperature, a.settings.Temperature),
		Stream:      req.Stream,
		Fallback:    &noFallback,
		Extra:       req.Extra,
	}

	url := a.settings.ServerURL + "/generate"

	if req.Stream {
		httpResp, err := providers.PostJSON(ctx, a.httpClient, providerName, url, a.headers(), body)
		if err != nil {
			return nil, err
		}
		return &providers.GenerateResult{
			Stream:  providers.NewLineStream(httpResp.Body, a.parseStreamLine, nil),
			Latency: time.Since(startTime),
		}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, a.settings.Timeout)
	defer cancel()

	httpResp, err := providers.PostJSON(callCtx, a.httpClient, providerName, url, a.headers(), body)
	if err != nil {
		return nil, err
	}

	var out GenerateResponse
	if err := providers.DecodeJSON(providerName, httpResp, &out); err != nil {
		return nil, err
	}
	return &providers.GenerateResult{
		Text:    out.Text,
		Latency: time.Since(startTime),
	}, nil
}

// Embed forwards texts to the relay server, preserving the input shape
func (a *RelayAdapter) Embed(ctx context.Context, input providers.EmbedInput) ([][]float32, error) {
	noFallback := false

	callCtx, cancel := context.WithTimeout(ctx, a.settings.Timeout)
	defer cancel()

	httpResp, err := providers.PostJSON(callCtx, a.httpClient, providerName, a.settings.ServerURL+"/embed", a.headers(), EmbedRequest{
		Text:     TextInput{EmbedInput: input},
		ModelID:  a.settings.TargetModel,
		Fallback: &noFallback,
	})
	if err != nil {
		return nil, err
	}

	var out EmbedResponse
	if err := providers.DecodeJSON(providerName, httpResp, &out); err != nil {
		return nil, err
	}

	vectors, err := out.Vectors(input.Single)
	if err != nil {
		return nil, providers.NewProviderError(providerName, "UNMARSHAL_ERROR", "unexpected embedding shape", httpResp.StatusCode, false, err)
	}
	return vectors, nil
}

// ModelInfo returns relay metadata
func (a *RelayAdapter) ModelInfo() providers.ModelInfo {
	return providers.ModelInfo{
		"model_name": a.settings.TargetModel,
		"model_type": providerName,
		"config":     a.config.Public(),
	}
}

func (a *RelayAdapter) headers() map[string]string {
	return map[string]string{
		RequestIDHeader: uuid.NewString(),
		"Accept":        "application/json, application/x-ndjson",
	}
}

func (a *RelayAdapter) parseStreamLine(line []byte) (string, bool, bool, error) {
	var chunk GenerateResponse
	if err := json.Unmarshal(line, &chunk); err != nil {
		a.logger.Warn("failed to decode stream chunk", zap.ByteString("chunk", line), zap.Error(err))
		return "", true, false, nil
	}
	if chunk.Error != "" {
		return "", false, false, providers.NewProviderError(providerName, "STREAM_ERROR", chunk.Error, 0, false, nil)
	}
	return chunk.Text, false, false, nil
}
