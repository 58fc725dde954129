package mistral

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/upb/llm-router/services/providers"
	"go.uber.org/zap"
)

const (
	providerName = "mistral"

	defaultAPIURL         = "https://api.mistral.ai/v1"
	defaultModel          = "mistral-medium"
	defaultEmbeddingModel = "mistral-embed"
	defaultMaxTokens      = 1024
	defaultTemperature    = 0.7
	defaultTimeout        = 60 * time.Second
	defaultStreamTimeout  = 120 * time.Second
)

// settings are the resolved, validated adapter parameters
type settings struct {
	APIKey         string  `validate:"required"`
	APIURL         string  `validate:"required,url"`
	ModelName      string  `validate:"required"`
	EmbeddingModel string  `validate:"required"`
	MaxTokens      int     `validate:"gt=0"`
	Temperature    float64 `validate:"gte=0,lte=2"`
	Timeout        time.Duration
	StreamTimeout  time.Duration
}

// MistralAdapter implements providers.Adapter for the Mistral completions API
type MistralAdapter struct {
	config     providers.ModelConfig
	settings   settings
	httpClient providers.HTTPClient
	logger     *zap.Logger
}

// NewMistralAdapter creates a new Mistral adapter
func NewMistralAdapter(config providers.ModelConfig, logger *zap.Logger) (*MistralAdapter, error) {
	s := settings{
		APIKey:         config.APIKey,
		APIURL:         providers.StringOr(config.APIURL, defaultAPIURL),
		ModelName:      providers.StringOr(config.ModelName, defaultModel),
		EmbeddingModel: providers.StringOr(config.EmbeddingModel, defaultEmbeddingModel),
		MaxTokens:      providers.IntOr(config.MaxTokens, defaultMaxTokens),
		Temperature:    providers.FloatOr(config.Temperature, defaultTemperature),
		Timeout:        config.TimeoutOr(defaultTimeout),
		StreamTimeout:  config.StreamTimeoutOr(defaultStreamTimeout),
	}
	if err := providers.ValidateSettings(providers.BackendMistral, &s); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("mistral client initialized", zap.String("model", s.ModelName))

	return &MistralAdapter{
		config:     config,
		settings:   s,
		httpClient: &http.Client{},
		logger:     logger.With(zap.String("provider", providerName)),
	}, nil
}

// Builder adapts NewMistralAdapter to providers.Builder
func Builder(config providers.ModelConfig, logger *zap.Logger) (providers.Adapter, error) {
	return NewMistralAdapter(config, logger)
}

// Generate performs a completion request
func (a *MistralAdapter) Generate(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResult, error) {
	startTime := time.Now()

	body := providers.MergeExtra(map[string]interface{}{
		"model":       a.settings.ModelName,
		"prompt":      req.Prompt,
		"max_tokens":  providers.IntOr(req.MaxTokens, a.settings.MaxTokens),
		"temperature": providers.FloatOr(req.Temperature, a.settings.Temperature),
		"stream":      req.Stream,
	}, req.Extra)

	if req.Stream {
		streamCtx, cancel := context.WithTimeout(ctx, a.settings.StreamTimeout)
		httpResp, err := providers.PostJSON(streamCtx, a.httpClient, providerName, a.settings.APIURL+"/completions", a.headers(), body)
		if err != nil {
			cancel()
			return nil, err
		}
		return &providers.GenerateResult{
			Stream:  providers.NewLineStream(httpResp.Body, a.parseStreamLine, cancel),
			Latency: time.Since(startTime),
		}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, a.settings.Timeout)
	defer cancel()

	httpResp, err := providers.PostJSON(callCtx, a.httpClient, providerName, a.settings.APIURL+"/completions", a.headers(), body)
	if err != nil {
		return nil, err
	}

	var completion completionResponse
	if err := providers.DecodeJSON(providerName, httpResp, &completion); err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, providers.NewProviderError(providerName, "EMPTY_RESPONSE", "no choices in response", httpResp.StatusCode, true, nil)
	}

	return &providers.GenerateResult{
		Text:    completion.Choices[0].Text,
		Latency: time.Since(startTime),
	}, nil
}

// Embed creates embeddings with the configured embedding model
func (a *MistralAdapter) Embed(ctx context.Context, input providers.EmbedInput) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.settings.Timeout)
	defer cancel()

	httpResp, err := providers.PostJSON(callCtx, a.httpClient, providerName, a.settings.APIURL+"/embeddings", a.headers(), providers.EmbeddingsRequest{
		Model: a.settings.EmbeddingModel,
		Input: input.Texts,
	})
	if err != nil {
		return nil, err
	}

	var embeddings providers.EmbeddingsResponse
	if err := providers.DecodeJSON(providerName, httpResp, &embeddings); err != nil {
		return nil, err
	}
	return embeddings.Vectors(providerName)
}

// ModelInfo returns model metadata without the API key
func (a *MistralAdapter) ModelInfo() providers.ModelInfo {
	return providers.ModelInfo{
		"model_name": a.settings.ModelName,
		"model_type": providerName,
		"config":     a.config.Public(),
	}
}

func (a *MistralAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.settings.APIKey}
}

func (a *MistralAdapter) parseStreamLine(line []byte) (string, bool, bool, error) {
	payload, ok := providers.SSEData(line)
	if !ok {
		payload = line
	}
	if providers.IsSSEDone(payload) {
		return "", false, true, nil
	}

	var chunk completionResponse
	if err := json.Unmarshal(payload, &chunk); err != nil {
		a.logger.Warn("failed to decode stream chunk", zap.ByteString("chunk", payload), zap.Error(err))
		return "", true, false, nil
	}
	if len(chunk.Choices) == 0 {
		return "", true, false, nil
	}
	return chunk.Choices[0].Text, false, false, nil
}

// Mistral-specific response types

type completionResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
}

type completionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}
