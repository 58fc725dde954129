package app

import (
	"context"
	"fmt"

	"github.com/upb/llm-router/config"
	"github.com/upb/llm-router/services/providers"
	"github.com/upb/llm-router/services/routing"
	"go.uber.org/zap"
)

// ModelRegistration is one model to register at startup
type ModelRegistration struct {
	ID      string
	Config  providers.ModelConfig
	Default bool
}

// BuiltinModels derives registrations from environment settings: the local
// model first, then the hosted APIs, then the relay entries. Only the local
// model asks to be the default; otherwise the first registration becomes it.
func BuiltinModels(cfg *config.Config) []ModelRegistration {
	m := cfg.Models
	var out []ModelRegistration

	if m.Llama.ModelPath != "" {
		out = append(out, ModelRegistration{
			ID: "llama",
			Config: providers.ModelConfig{
				Type:        string(providers.BackendLlama),
				ModelName:   "llama",
				ModelPath:   m.Llama.ModelPath,
				ContextSize: m.Llama.ContextSize,
				GPULayers:   m.Llama.GPULayers,
				Threads:     m.Llama.Threads,
				Verbose:     m.Llama.Verbose,
			},
			Default: true,
		})
	}

	hosted := []struct {
		id      string
		backend providers.BackendType
		cfg     config.HostedConfig
	}{
		{"mistral", providers.BackendMistral, m.Mistral},
		{"deepseek", providers.BackendDeepSeek, m.DeepSeek},
	}
	for _, h := range hosted {
		if h.cfg.APIKey == "" {
			continue
		}
		out = append(out, ModelRegistration{
			ID: h.id,
			Config: providers.ModelConfig{
				Type:           string(h.backend),
				ModelName:      h.cfg.Model,
				APIKey:         h.cfg.APIKey,
				APIURL:         h.cfg.APIURL,
				EmbeddingModel: h.cfg.EmbeddingModel,
				Timeout:        h.cfg.Timeout.Seconds(),
			},
		})
	}

	if m.Relay.ServerURL != "" {
		for _, target := range []string{"llama", "mistral"} {
			id := target + "-http"
			out = append(out, ModelRegistration{
				ID: id,
				Config: providers.ModelConfig{
					Type:        string(providers.BackendHTTP),
					ModelName:   id,
					TargetModel: target,
					ServerURL:   m.Relay.ServerURL,
					Timeout:     m.Relay.Timeout.Seconds(),
				},
			})
		}
	}

	return out
}

// RegisterModelsFromConfig registers the built-in models and then the
// models file, if configured. The first failing registration aborts.
func RegisterModelsFromConfig(ctx context.Context, router *routing.Router, cfg *config.Config, logger *zap.Logger) error {
	regs := BuiltinModels(cfg)

	if cfg.Router.ModelsFile != "" {
		mf, err := config.LoadModelsFile(cfg.Router.ModelsFile)
		if err != nil {
			return fmt.Errorf("failed to load models file: %w", err)
		}
		for _, entry := range mf.Models {
			regs = append(regs, ModelRegistration{
				ID:      entry.ID,
				Config:  entry.ModelConfig,
				Default: mf.IsDefault(entry),
			})
		}
	}

	for _, reg := range regs {
		if err := router.Register(ctx, reg.ID, reg.Config, reg.Default); err != nil {
			return fmt.Errorf("failed to register model %s: %w", reg.ID, err)
		}
	}

	if router.Len() == 0 {
		logger.Warn("no models configured, generation and embedding are unavailable")
		return nil
	}
	logger.Info("models initialized",
		zap.Int("count", router.Len()),
		zap.String("default_model", router.DefaultModel()))
	return nil
}
