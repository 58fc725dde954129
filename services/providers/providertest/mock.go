// Package providertest provides adapter doubles for router and handler tests.
package providertest

import (
	"context"
	"sync/atomic"

	"github.com/stretchr/testify/mock"
	"github.com/upb/llm-router/services/providers"
	"go.uber.org/zap"
)

// MockAdapter is a testify mock implementing providers.Adapter
type MockAdapter struct {
	mock.Mock

	// Config is the configuration the adapter was built from
	Config providers.ModelConfig
}

// Generate implements providers.Adapter
func (m *MockAdapter) Generate(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.GenerateResult), args.Error(1)
}

// Embed implements providers.Adapter
func (m *MockAdapter) Embed(ctx context.Context, input providers.EmbedInput) ([][]float32, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

// ModelInfo implements providers.Adapter
func (m *MockAdapter) ModelInfo() providers.ModelInfo {
	return providers.ModelInfo{
		"model_name": m.Config.ModelName,
		"model_type": string(m.Config.BackendType()),
		"config":     m.Config.Public(),
	}
}

// StubAdapter returns fixed results and counts calls. It is safe for
// concurrent use.
type StubAdapter struct {
	Config providers.ModelConfig

	Text      string
	Chunks    []string
	Vector    []float32
	Err       error
	EmbedErr  error
	closed    atomic.Bool
	generates atomic.Int64
	embeds    atomic.Int64
}

// Generate returns Text or a stream over Chunks, or Err
func (s *StubAdapter) Generate(_ context.Context, req *providers.GenerateRequest) (*providers.GenerateResult, error) {
	s.generates.Add(1)
	if s.Err != nil {
		return nil, s.Err
	}
	if req.Stream {
		return &providers.GenerateResult{Stream: providers.NewSliceStream(nil, s.Chunks...)}, nil
	}
	return &providers.GenerateResult{Text: s.Text}, nil
}

// Embed returns Vector for each text, or EmbedErr
func (s *StubAdapter) Embed(_ context.Context, input providers.EmbedInput) ([][]float32, error) {
	s.embeds.Add(1)
	if s.EmbedErr != nil {
		return nil, s.EmbedErr
	}
	out := make([][]float32, input.Len())
	for i := range out {
		out[i] = append([]float32{float32(i)}, s.Vector...)
	}
	return out, nil
}

// ModelInfo reports the stub config
func (s *StubAdapter) ModelInfo() providers.ModelInfo {
	return providers.ModelInfo{
		"model_name": s.Config.ModelName,
		"model_type": string(s.Config.BackendType()),
		"config":     s.Config.Public(),
	}
}

// Close records that the adapter was released
func (s *StubAdapter) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close was called
func (s *StubAdapter) Closed() bool { return s.closed.Load() }

// GenerateCalls returns the number of Generate calls
func (s *StubAdapter) GenerateCalls() int { return int(s.generates.Load()) }

// EmbedCalls returns the number of Embed calls
func (s *StubAdapter) EmbedCalls() int { return int(s.embeds.Load()) }

// Factory returns a providers.Factory whose builders for every known type
// hand out the adapter produced by build
func Factory(build func(config providers.ModelConfig) (providers.Adapter, error)) *providers.Factory {
	builder := func(config providers.ModelConfig, _ *zap.Logger) (providers.Adapter, error) {
		return build(config)
	}
	return providers.NewFactory().
		Register(providers.BackendLlama, builder).
		Register(providers.BackendMistral, builder).
		Register(providers.BackendDeepSeek, builder).
		Register(providers.BackendHTTP, builder)
}
