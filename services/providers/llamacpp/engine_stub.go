//go:build !llama

package llamacpp

import (
	"github.com/upb/llm-router/services"
)

// llamaBuilt indicates this binary was compiled with real llama support
const llamaBuilt = false

// loadEngine fails fast: the llama runtime is not part of this build
func loadEngine(s settings) (engine, error) {
	return nil, services.NewDomainError(services.ErrorTypeConfiguration, "backend dependency unavailable", nil).
		WithDetail("reason", "llama support not built (missing 'llama' build tag)").
		WithDetail("model_path", s.ModelPath)
}
