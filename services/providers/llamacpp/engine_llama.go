//go:build llama

package llamacpp

import (
	"context"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support
const llamaBuilt = true

type cppEngine struct {
	model *llama.LLama
}

func loadEngine(s settings) (engine, error) {
	mo := []llama.ModelOption{
		llama.SetContext(s.ContextSize),
		llama.EnableEmbeddings,
	}
	if layers := gpuLayers(s.GPULayers); layers > 0 {
		mo = append(mo, llama.SetGPULayers(layers))
	}

	m, err := llama.New(s.ModelPath, mo...)
	if err != nil {
		return nil, err
	}
	return &cppEngine{model: m}, nil
}

func (e *cppEngine) Predict(ctx context.Context, prompt string, opts predictOptions, onToken func(string) bool) (string, error) {
	e.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if onToken == nil {
			return true
		}
		return onToken(tok)
	})
	defer e.model.SetTokenCallback(nil)

	text, err := e.model.Predict(prompt, predictOptionsFor(opts)...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return text, nil
}

func (e *cppEngine) Embeddings(ctx context.Context, text string, threads int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.model.Embeddings(text, llama.SetThreads(threads))
}

func (e *cppEngine) Free() {
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
}

// predictOptionsFor converts generation parameters into go-llama.cpp options
func predictOptionsFor(opts predictOptions) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(opts.MaxTokens),
		llama.SetThreads(opts.Threads),
		llama.SetTemperature(float32(opts.Temperature)),
	}
	if opts.TopP > 0 {
		po = append(po, llama.SetTopP(float32(opts.TopP)))
	}
	if opts.TopK > 0 {
		po = append(po, llama.SetTopK(opts.TopK))
	}
	if opts.Seed != 0 {
		po = append(po, llama.SetSeed(opts.Seed))
	}
	if len(opts.Stop) > 0 {
		po = append(po, llama.SetStopWords(opts.Stop...))
	}
	return po
}
