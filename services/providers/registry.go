package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// Builder constructs an adapter from a model configuration
type Builder func(config ModelConfig, logger *zap.Logger) (Adapter, error)

// Factory maps declared backend types to builders
type Factory struct {
	mu       sync.RWMutex
	builders map[BackendType]Builder
}

// NewFactory creates an empty factory
func NewFactory() *Factory {
	return &Factory{
		builders: make(map[BackendType]Builder),
	}
}

// Register binds a builder to a backend type, replacing any previous one
func (f *Factory) Register(t BackendType, b Builder) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.builders[ParseBackendType(string(t))] = b
	return f
}

// Supports reports whether a builder is registered for the type
func (f *Factory) Supports(t BackendType) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, ok := f.builders[t]
	return ok
}

// Types lists the known backend types in sorted order
func (f *Factory) Types() []BackendType {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]BackendType, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Build validates the declared type and constructs the adapter
func (f *Factory) Build(config ModelConfig, logger *zap.Logger) (Adapter, error) {
	if config.Type == "" {
		return nil, services.NewConfigurationError("model config must declare a type", nil).
			WithDetail("field", "type")
	}

	t := config.BackendType()

	f.mu.RLock()
	build, ok := f.builders[t]
	f.mu.RUnlock()

	if !ok {
		return nil, services.NewConfigurationError("unknown backend type", fmt.Errorf("type %q, known: %v", config.Type, f.Types())).
			WithDetail("type", config.Type)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	adapter, err := build(config, logger)
	if err != nil {
		if services.IsConfigurationError(err) {
			return nil, err
		}
		return nil, services.NewConfigurationError("failed to construct adapter", err).
			WithDetail("type", string(t))
	}
	return adapter, nil
}

// ValidateSettings runs struct validation on adapter settings and reports
// failures as configuration errors
func ValidateSettings(backend BackendType, settings interface{}) error {
	if err := utils.ValidateStruct(settings); err != nil {
		domainErr := services.NewConfigurationError("invalid model configuration", err).
			WithDetail("type", string(backend))
		if fields := utils.GetValidationFields(err); fields != nil {
			domainErr.WithDetail("fields", fields)
		}
		return domainErr
	}
	return nil
}
