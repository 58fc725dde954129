// Package builtin wires every adapter variant into a providers.Factory.
package builtin

import (
	"github.com/upb/llm-router/services/providers"
	"github.com/upb/llm-router/services/providers/deepseek"
	"github.com/upb/llm-router/services/providers/llamacpp"
	"github.com/upb/llm-router/services/providers/mistral"
	"github.com/upb/llm-router/services/providers/relay"
)

// NewFactory returns a factory that knows the local, hosted and relay
// backend types
func NewFactory() *providers.Factory {
	return providers.NewFactory().
		Register(providers.BackendLlama, llamacpp.Builder).
		Register(providers.BackendMistral, mistral.Builder).
		Register(providers.BackendDeepSeek, deepseek.Builder).
		Register(providers.BackendHTTP, relay.Builder)
}
