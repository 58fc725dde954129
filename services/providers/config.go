package providers

import (
	"strings"
	"time"
)

// BackendType selects the adapter variant built for a registration
type BackendType string

const (
	// BackendLlama runs a local GGUF model in-process
	BackendLlama BackendType = "llama"
	// BackendMistral calls the Mistral completions API
	BackendMistral BackendType = "mistral"
	// BackendDeepSeek calls the DeepSeek chat completions API
	BackendDeepSeek BackendType = "deepseek"
	// BackendHTTP forwards calls to another router over HTTP
	BackendHTTP BackendType = "http"
)

// ParseBackendType normalizes a declared type string
func ParseBackendType(s string) BackendType {
	return BackendType(strings.ToLower(strings.TrimSpace(s)))
}

// ModelConfig describes one model registration. Only Type is common to
// every variant; each adapter validates the fields it needs.
type ModelConfig struct {
	Type string `json:"type" yaml:"type" toml:"type" validate:"required"`

	// Hosted providers
	ModelName      string `json:"model_name,omitempty" yaml:"model_name,omitempty" toml:"model_name,omitempty"`
	APIKey         string `json:"api_key,omitempty" yaml:"api_key,omitempty" toml:"api_key,omitempty"`
	APIURL         string `json:"api_url,omitempty" yaml:"api_url,omitempty" toml:"api_url,omitempty"`
	EmbeddingModel string `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty" toml:"embedding_model,omitempty"`

	// Local inference
	ModelPath   string `json:"model_path,omitempty" yaml:"model_path,omitempty" toml:"model_path,omitempty"`
	ContextSize int    `json:"n_ctx,omitempty" yaml:"n_ctx,omitempty" toml:"n_ctx,omitempty"`
	GPULayers   int    `json:"n_gpu_layers,omitempty" yaml:"n_gpu_layers,omitempty" toml:"n_gpu_layers,omitempty"`
	Threads     int    `json:"threads,omitempty" yaml:"threads,omitempty" toml:"threads,omitempty"`
	Verbose     bool   `json:"verbose,omitempty" yaml:"verbose,omitempty" toml:"verbose,omitempty"`

	// HTTP relay
	ServerURL   string `json:"server_url,omitempty" yaml:"server_url,omitempty" toml:"server_url,omitempty"`
	TargetModel string `json:"target_model,omitempty" yaml:"target_model,omitempty" toml:"target_model,omitempty"`

	// Generation defaults
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" toml:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature,omitempty"`

	// Timeout is the request timeout in seconds
	Timeout float64 `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	// StreamTimeout is the streaming request timeout in seconds
	StreamTimeout float64 `json:"stream_timeout,omitempty" yaml:"stream_timeout,omitempty" toml:"stream_timeout,omitempty"`
}

// BackendType returns the normalized declared type
func (c ModelConfig) BackendType() BackendType {
	return ParseBackendType(c.Type)
}

// TimeoutOr returns the configured timeout or def
func (c ModelConfig) TimeoutOr(def time.Duration) time.Duration {
	return seconds(c.Timeout, def)
}

// StreamTimeoutOr returns the configured streaming timeout or def
func (c ModelConfig) StreamTimeoutOr(def time.Duration) time.Duration {
	return seconds(c.StreamTimeout, def)
}

// Public returns the config as metadata with the API key removed
func (c ModelConfig) Public() map[string]interface{} {
	out := map[string]interface{}{
		"type": string(c.BackendType()),
	}
	set := func(k string, v interface{}, ok bool) {
		if ok {
			out[k] = v
		}
	}
	set("model_name", c.ModelName, c.ModelName != "")
	set("api_url", c.APIURL, c.APIURL != "")
	set("embedding_model", c.EmbeddingModel, c.EmbeddingModel != "")
	set("model_path", c.ModelPath, c.ModelPath != "")
	set("n_ctx", c.ContextSize, c.ContextSize != 0)
	set("n_gpu_layers", c.GPULayers, c.GPULayers != 0)
	set("threads", c.Threads, c.Threads != 0)
	set("verbose", c.Verbose, c.Verbose)
	set("server_url", c.ServerURL, c.ServerURL != "")
	set("target_model", c.TargetModel, c.TargetModel != "")
	set("max_tokens", c.MaxTokens, c.MaxTokens != 0)
	set("temperature", c.Temperature, c.Temperature != 0)
	set("timeout", c.Timeout, c.Timeout != 0)
	set("stream_timeout", c.StreamTimeout, c.StreamTimeout != 0)
	return out
}

func seconds(v float64, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v * float64(time.Second))
}

// IntOr returns v when positive, otherwise def
func IntOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// FloatOr returns v when positive, otherwise def
func FloatOr(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

// StringOr returns v when non-empty, otherwise def
func StringOr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
