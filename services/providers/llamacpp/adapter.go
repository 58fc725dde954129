// Package llamacpp runs GGUF models in-process through llama.cpp. The real
// engine needs cgo and the 'llama' build tag; other builds fail at
// construction with a configuration error.
package llamacpp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/llm-router/services/providers"
	"go.uber.org/zap"
)

const (
	providerName = "llama"

	defaultContextSize = 4096
	defaultMaxTokens   = 256
	defaultTemperature = 0.7
	defaultThreads     = 4

	// allGPULayers is passed to llama.cpp when every layer should be offloaded
	allGPULayers = 999
)

type settings struct {
	ModelPath   string  `validate:"required,file"`
	ContextSize int     `validate:"gt=0"`
	GPULayers   int     `validate:"gte=-1"`
	Threads     int     `validate:"gt=0"`
	MaxTokens   int     `validate:"gt=0"`
	Temperature float64 `validate:"gte=0,lte=2"`
	Verbose     bool
}

// predictOptions is the engine-neutral view of generation parameters
type predictOptions struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
	Seed        int
	Stop        []string
	Threads     int
}

// engine is the loaded model. onToken returning false stops generation.
type engine interface {
	Predict(ctx context.Context, prompt string, opts predictOptions, onToken func(string) bool) (string, error)
	Embeddings(ctx context.Context, text string, threads int) ([]float32, error)
	Free()
}

// LlamaAdapter implements providers.Adapter over a local llama.cpp model.
// Calls into the engine are serialized.
type LlamaAdapter struct {
	config   providers.ModelConfig
	settings settings
	logger   *zap.Logger

	mu     sync.Mutex
	engine engine
}

// NewLlamaAdapter validates the configuration and loads the model
func NewLlamaAdapter(config providers.ModelConfig, logger *zap.Logger) (*LlamaAdapter, error) {
	s, err := resolveSettings(config)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	start := time.Now()
	eng, err := loadEngine(s)
	if err != nil {
		return nil, err
	}
	logger.Info("llama model loaded",
		zap.String("model_path", s.ModelPath),
		zap.Int("n_ctx", s.ContextSize),
		zap.Int("n_gpu_layers", s.GPULayers),
		zap.Duration("load_time", time.Since(start)))

	return newWithEngine(config, s, eng, logger), nil
}

// Builder adapts NewLlamaAdapter to providers.Builder
func Builder(config providers.ModelConfig, logger *zap.Logger) (providers.Adapter, error) {
	return NewLlamaAdapter(config, logger)
}

func resolveSettings(config providers.ModelConfig) (settings, error) {
	s := settings{
		ModelPath:   config.ModelPath,
		ContextSize: providers.IntOr(config.ContextSize, defaultContextSize),
		GPULayers:   config.GPULayers,
		Threads:     providers.IntOr(config.Threads, defaultThreads),
		MaxTokens:   providers.IntOr(config.MaxTokens, defaultMaxTokens),
		Temperature: providers.FloatOr(config.Temperature, defaultTemperature),
		Verbose:     config.Verbose,
	}
	if err := providers.ValidateSettings(providers.BackendLlama, &s); err != nil {
		return s, err
	}
	return s, nil
}

func newWithEngine(config providers.ModelConfig, s settings, eng engine, logger *zap.Logger) *LlamaAdapter {
	return &LlamaAdapter{
		config:   config,
		settings: s,
		engine:   eng,
		logger:   logger.With(zap.String("provider", providerName)),
	}
}

// Generate runs local inference. Streaming runs the engine in a goroutine
// that feeds the returned stream token by token.
func (a *LlamaAdapter) Generate(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := a.predictOptions(req)

	if !req.Stream {
		start := time.Now()
		a.mu.Lock()
		defer a.mu.Unlock()

		if a.engine == nil {
			return nil, providers.NewProviderError(providerName, "CLOSED", "model is closed", 0, false, nil)
		}
		text, err := a.engine.Predict(ctx, req.Prompt, opts, nil)
		if err != nil {
			return nil, providers.NewProviderError(providerName, "PREDICT_ERROR", "local inference failed", 0, false, err)
		}
		return &providers.GenerateResult{Text: text, Latency: time.Since(start)}, nil
	}

	stream := providers.NewChanStream(ctx)
	go func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		if a.engine == nil {
			stream.Finish(providers.NewProviderError(providerName, "CLOSED", "model is closed", 0, false, nil))
			return
		}
		_, err := a.engine.Predict(stream.Context(), req.Prompt, opts, stream.Send)
		if err != nil && stream.Context().Err() == nil {
			stream.Finish(fmt.Errorf("local inference failed: %w", err))
			return
		}
		stream.Finish(nil)
	}()

	return &providers.GenerateResult{Stream: stream}, nil
}

// Embed computes one embedding per text in order
func (a *LlamaAdapter) Embed(ctx context.Context, input providers.EmbedInput) ([][]float32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.engine == nil {
		return nil, providers.NewProviderError(providerName, "CLOSED", "model is closed", 0, false, nil)
	}

	out := make([][]float32, 0, input.Len())
	for _, text := range input.Texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := a.engine.Embeddings(ctx, text, a.settings.Threads)
		if err != nil {
			return nil, providers.NewProviderError(providerName, "EMBED_ERROR", "local embedding failed", 0, false, err)
		}
		out = append(out, vec)
	}
	return out, nil
}

// ModelInfo returns the model path and load parameters
func (a *LlamaAdapter) ModelInfo() providers.ModelInfo {
	return providers.ModelInfo{
		"model_name": a.settings.ModelPath,
		"model_type": providerName,
		"config":     a.config.Public(),
	}
}

// Close frees the model
func (a *LlamaAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.engine != nil {
		a.engine.Free()
		a.engine = nil
	}
	return nil
}

func (a *LlamaAdapter) predictOptions(req *providers.GenerateRequest) predictOptions {
	opts := predictOptions{
		MaxTokens:   providers.IntOr(req.MaxTokens, a.settings.MaxTokens),
		Temperature: providers.FloatOr(req.Temperature, a.settings.Temperature),
		Threads:     a.settings.Threads,
	}

	for k, v := range req.Extra {
		switch k {
		case "top_p":
			if f, ok := v.(float64); ok {
				opts.TopP = f
			}
		case "top_k":
			opts.TopK = toInt(v)
		case "seed":
			opts.Seed = toInt(v)
		case "stop":
			opts.Stop = toStrings(v)
		}
	}
	return opts
}

func gpuLayers(n int) int {
	if n < 0 {
		return allGPULayers
	}
	return n
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func toStrings(v interface{}) []string {
	switch s := v.(type) {
	case string:
		return []string{s}
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
