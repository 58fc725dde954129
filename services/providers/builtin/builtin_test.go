package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/providers"
	"github.com/upb/llm-router/services/providers/deepseek"
	"github.com/upb/llm-router/services/providers/mistral"
	"github.com/upb/llm-router/services/providers/relay"
)

func TestNewFactory(t *testing.T) {
	factory := NewFactory()

	assert.Equal(t, []providers.BackendType{
		providers.BackendDeepSeek,
		providers.BackendHTTP,
		providers.BackendLlama,
		providers.BackendMistral,
	}, factory.Types())
}

func TestNewFactory_BuildsEachVariant(t *testing.T) {
	factory := NewFactory()

	tests := []struct {
		name   string
		config providers.ModelConfig
		check  func(t *testing.T, a providers.Adapter)
	}{
		{
			name:   "hosted A",
			config: providers.ModelConfig{Type: "Mistral", APIKey: "k"},
			check: func(t *testing.T, a providers.Adapter) {
				assert.IsType(t, &mistral.MistralAdapter{}, a)
			},
		},
		{
			name:   "hosted B",
			config: providers.ModelConfig{Type: "deepseek", APIKey: "k"},
			check: func(t *testing.T, a providers.Adapter) {
				assert.IsType(t, &deepseek.DeepSeekAdapter{}, a)
			},
		},
		{
			name:   "relay",
			config: providers.ModelConfig{Type: "HTTP", ServerURL: "http://localhost:8000"},
			check: func(t *testing.T, a providers.Adapter) {
				assert.IsType(t, &relay.RelayAdapter{}, a)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := factory.Build(tt.config, nil)
			require.NoError(t, err)
			tt.check(t, adapter)
		})
	}
}

func TestNewFactory_UnknownType(t *testing.T) {
	_, err := NewFactory().Build(providers.ModelConfig{Type: "openai"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrUnknownBackendType)
}
