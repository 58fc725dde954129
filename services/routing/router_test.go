package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/providers"
	"github.com/upb/llm-router/services/providers/providertest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// adapters are looked up by ModelName so each registration gets its own double
func newTestRouter(t *testing.T, adapters map[string]providers.Adapter, opts ...Option) *Router {
	t.Helper()
	factory := providertest.Factory(func(config providers.ModelConfig) (providers.Adapter, error) {
		a, ok := adapters[config.ModelName]
		if !ok {
			return nil, errors.New("no test adapter for " + config.ModelName)
		}
		return a, nil
	})
	return NewRouter(factory, opts...)
}

func register(t *testing.T, r *Router, id, backend string, asDefault bool) {
	t.Helper()
	require.NoError(t, r.Register(context.Background(), id, providers.ModelConfig{Type: backend, ModelName: id}, asDefault))
}

type recordingMetrics struct {
	mu        sync.Mutex
	attempts  []string
	fallbacks int
	failures  int
}

func (m *recordingMetrics) RecordAttempt(_, modelID, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, modelID+":"+outcome)
}

func (m *recordingMetrics) RecordFallback(string, string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
}

func (m *recordingMetrics) RecordRouteFailure(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *recordingMetrics) RecordCacheResult(string, string) {}

func TestRegister_DefaultSelection(t *testing.T) {
	r := newTestRouter(t, map[string]providers.Adapter{
		"a": &providertest.StubAdapter{},
		"b": &providertest.StubAdapter{},
		"c": &providertest.StubAdapter{},
	})

	register(t, r, "a", "llama", false)
	assert.Equal(t, "a", r.DefaultModel(), "first registration becomes default")

	register(t, r, "b", "mistral", false)
	assert.Equal(t, "a", r.DefaultModel(), "non-default registration keeps default")

	register(t, r, "c", "deepseek", true)
	assert.Equal(t, "c", r.DefaultModel())
	assert.Equal(t, 3, r.Len())
}

func TestRegister_Errors(t *testing.T) {
	r := newTestRouter(t, map[string]providers.Adapter{"a": &providertest.StubAdapter{}})

	t.Run("unknown type", func(t *testing.T) {
		err := r.Register(context.Background(), "a", providers.ModelConfig{Type: "openai", ModelName: "a"}, false)
		require.Error(t, err)
		assert.ErrorIs(t, err, services.ErrUnknownBackendType)
		assert.True(t, services.IsConfigurationError(err))
	})

	t.Run("missing type", func(t *testing.T) {
		err := r.Register(context.Background(), "a", providers.ModelConfig{ModelName: "a"}, false)
		assert.True(t, services.IsConfigurationError(err))
	})

	t.Run("empty id", func(t *testing.T) {
		err := r.Register(context.Background(), "  ", providers.ModelConfig{Type: "llama", ModelName: "a"}, false)
		assert.True(t, services.IsConfigurationError(err))
	})

	t.Run("builder failure", func(t *testing.T) {
		err := r.Register(context.Background(), "x", providers.ModelConfig{Type: "llama", ModelName: "missing"}, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no test adapter for missing")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := r.Register(ctx, "a", providers.ModelConfig{Type: "llama", ModelName: "a"}, false)
		assert.ErrorIs(t, err, context.Canceled)
	})

	assert.Equal(t, 0, r.Len(), "failed registrations leave the registry untouched")
	assert.Equal(t, "", r.DefaultModel())
}

func TestRegister_Overwrite(t *testing.T) {
	first := &providertest.StubAdapter{Text: "first"}
	second := &providertest.StubAdapter{Text: "second"}
	adapters := map[string]providers.Adapter{"first": first, "b": &providertest.StubAdapter{}}

	core, logs := observer.New(zapcore.WarnLevel)
	r := newTestRouter(t, adapters, WithLogger(zap.New(core)))

	require.NoError(t, r.Register(context.Background(), "m", providers.ModelConfig{Type: "llama", ModelName: "first"}, false))
	register(t, r, "b", "mistral", false)

	adapters["second"] = second
	require.NoError(t, r.Register(context.Background(), "m", providers.ModelConfig{Type: "mistral", ModelName: "second"}, false))

	a, err := r.Resolve("m")
	require.NoError(t, err)
	assert.Same(t, second, a)
	assert.True(t, first.Closed(), "replaced adapter is closed")
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, "m", r.DefaultModel())

	entries := logs.FilterMessage("model re-registered, previous adapter replaced").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "m", entries[0].ContextMap()["model_id"])

	models := r.ListModels()
	require.Len(t, models, 2)
	assert.Equal(t, "m", models[0]["model_id"], "overwrite keeps registration position")
}

func TestResolve(t *testing.T) {
	a := &providertest.StubAdapter{}
	b := &providertest.StubAdapter{}
	r := newTestRouter(t, map[string]providers.Adapter{"a": a, "b": b})

	_, err := r.Resolve("")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrNoBackend)
	assert.True(t, services.IsNotFoundError(err))

	register(t, r, "a", "llama", false)
	register(t, r, "b", "http", false)

	got, err := r.Resolve("")
	require.NoError(t, err)
	assert.Same(t, a, got)

	got, err = r.Resolve("b")
	require.NoError(t, err)
	assert.Same(t, b, got)

	_, err = r.Resolve("zzz")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrModelNotFound)
	assert.Equal(t, "zzz", services.GetErrorDetails(err)["model_id"])
}

func TestRouteGenerate_TargetSucceeds(t *testing.T) {
	a := &providertest.StubAdapter{Text: "from a"}
	b := &providertest.StubAdapter{Text: "from b"}
	r := newTestRouter(t, map[string]providers.Adapter{"a": a, "b": b})
	register(t, r, "a", "llama", false)
	register(t, r, "b", "mistral", false)

	res, err := r.RouteGenerate(context.Background(), &providers.GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "from a", res.Text)
	assert.Equal(t, "a", res.ModelID)
	assert.Equal(t, 0, b.GenerateCalls())

	res, err = r.RouteGenerate(context.Background(), &providers.GenerateRequest{Prompt: "hi"}, WithModel("b"))
	require.NoError(t, err)
	assert.Equal(t, "from b", res.Text)
}

func TestRouteGenerate_FallbackScenario(t *testing.T) {
	modelA := &providertest.StubAdapter{Err: errors.New("local model crashed")}
	modelB := &providertest.StubAdapter{Text: "hosted answer"}

	core, logs := observer.New(zapcore.InfoLevel)
	metrics := &recordingMetrics{}
	r := newTestRouter(t,
		map[string]providers.Adapter{"modelA": modelA, "modelB": modelB},
		WithLogger(zap.New(core)), WithMetrics(metrics),
	)
	require.NoError(t, r.Register(context.Background(), "modelA", providers.ModelConfig{Type: "llama", ModelName: "modelA"}, true))
	register(t, r, "modelB", "mistral", false)

	res, err := r.RouteGenerate(context.Background(), &providers.GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hosted answer", res.Text)
	assert.Equal(t, "modelB", res.ModelID)

	entries := logs.FilterMessage("fallback model succeeded").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "modelA", fields["requested_model"])
	assert.Equal(t, "modelB", fields["model_id"])

	assert.Equal(t, []string{"modelA:error", "modelB:success"}, metrics.attempts)
	assert.Equal(t, 1, metrics.fallbacks)
}

func TestRouteGenerate_FallbackAlwaysFindsHealthyBackend(t *testing.T) {
	adapters := map[string]providers.Adapter{
		"a": &providertest.StubAdapter{Err: errors.New("down")},
		"b": &providertest.StubAdapter{Err: errors.New("down")},
		"c": &providertest.StubAdapter{Text: "ok"},
		"d": &providertest.StubAdapter{Err: errors.New("down")},
	}
	r := newTestRouter(t, adapters)
	for _, id := range []string{"a", "b", "c", "d"} {
		register(t, r, id, "http", false)
	}

	for i := 0; i < 25; i++ {
		res, err := r.RouteGenerate(context.Background(), &providers.GenerateRequest{Prompt: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "c", res.ModelID)
	}
}

func TestRouteGenerate_NoFallback(t *testing.T) {
	boom := errors.New("boom")
	a := &providertest.StubAdapter{Err: boom}
	b := &providertest.StubAdapter{Text: "b"}
	r := newTestRouter(t, map[string]providers.Adapter{"a": a, "b": b})
	register(t, r, "a", "llama", false)
	register(t, r, "b", "mistral", false)

	_, err := r.RouteGenerate(context.Background(), &providers.GenerateRequest{Prompt: "hi"}, WithoutFallback())
	require.Error(t, err)

	failed, ok := AsAllBackendsFailed(err)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, failed.ModelIDs())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.GenerateCalls())
	assert.Equal(t, 0, b.GenerateCalls())
}

func TestRouteGenerate_SingleBackendNoRetry(t *testing.T) {
	a := &providertest.StubAdapter{Err: errors.New("boom")}
	r := newTestRouter(t, map[string]providers.Adapter{"a": a})
	register(t, r, "a", "llama", false)

	_, err := r.RouteGenerate(context.Background(), &providers.GenerateRequest{Prompt: "hi"})
	assert.True(t, IsAllBackendsFailed(err))
	assert.Equal(t, 1, a.GenerateCalls())
}

func TestRouteGenerate_AllFail(t *testing.T) {
	errA := errors.New("a down")
	errB := errors.New("b down")
	errC := errors.New("c down")
	metrics := &recordingMetrics{}
	r := newTestRouter(t, map[string]providers.Adapter{
		"a": &providertest.StubAdapter{Err: errA},
		"b": &providertest.StubAdapter{Err: errB},
		"c": &providertest.StubAdapter{Err: errC},
	}, WithOrderStrategy(RegistrationOrder{}), WithMetrics(metrics))
	register(t, r, "a", "llama", false)
	register(t, r, "b", "mistral", false)
	register(t, r, "c", "deepseek", false)

	_, err := r.RouteGenerate(context.Background(), &providers.GenerateRequest{Prompt: "hi"}, WithModel("b"))
	failed, ok := AsAllBackendsFailed(err)
	require.True(t, ok)

	assert.Equal(t, "generate", failed.Op)
	assert.Equal(t, "b", failed.Requested)
	assert.Equal(t, []string{"b", "a", "c"}, failed.ModelIDs())
	assert.ErrorIs(t, err, errC, "wraps the last error")
	assert.Len(t, failed.Errors(), 3)
	assert.Equal(t, 1, metrics.failures)
}

func TestRouteGenerate_UnknownModelDoesNotFallBack(t *testing.T) {
	a := &providertest.StubAdapter{Text: "a"}
	r := newTestRouter(t, map[string]providers.Adapter{"a": a})
	register(t, r, "a", "llama", false)

	_, err := r.RouteGenerate(context.Background(), &providers.GenerateRequest{Prompt: "hi"}, WithModel("ghost"))
	assert.ErrorIs(t, err, services.ErrModelNotFound)
	assert.Equal(t, 0, a.GenerateCalls())
}

func TestRouteGenerate_NoDefault(t *testing.T) {
	r := newTestRouter(t, nil)
	_, err := r.RouteGenerate(context.Background(), &providers.GenerateRequest{Prompt: "hi"})
	assert.ErrorIs(t, err, services.ErrNoBackend)
}

func TestRouteGenerate_EmptyPrompt(t *testing.T) {
	r := newTestRouter(t, nil)
	_, err := r.RouteGenerate(context.Background(), &providers.GenerateRequest{Prompt: " "})
	assert.ErrorIs(t, err, services.ErrEmptyPrompt)

	_, err = r.RouteGenerate(context.Background(), nil)
	assert.True(t, services.IsValidationError(err))
}

func TestRouteGenerate_Stream(t *testing.T) {
	a := &providertest.StubAdapter{Err: errors.New("cannot open stream")}
	b := &providertest.StubAdapter{Chunks: []string{"he", "llo"}}
	r := newTestRouter(t, map[string]providers.Adapter{"a": a, "b": b})
	register(t, r, "a", "llama", false)
	register(t, r, "b", "mistral", false)

	res, err := r.RouteGenerate(context.Background(), &providers.GenerateRequest{Prompt: "hi", Stream: true})
	require.NoError(t, err)
	require.True(t, res.IsStream())
	assert.Equal(t, "b", res.ModelID)

	text, err := providers.Collect(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestRouteGenerate_MidStreamFailureNotRetried(t *testing.T) {
	broken := errors.New("connection reset")
	a := &providertest.MockAdapter{}
	b := &providertest.StubAdapter{Text: "b"}
	a.On("Generate", mock.Anything, mock.Anything).
		Return(&providers.GenerateResult{Stream: providers.NewSliceStream(broken, "partial ")}, nil)

	r := newTestRouter(t, map[string]providers.Adapter{"a": a, "b": b})
	register(t, r, "a", "llama", false)
	register(t, r, "b", "mistral", false)

	res, err := r.RouteGenerate(context.Background(), &providers.GenerateRequest{Prompt: "hi", Stream: true})
	require.NoError(t, err)

	text, err := providers.Collect(res.Stream)
	assert.ErrorIs(t, err, broken)
	assert.Equal(t, "partial ", text)
	assert.Equal(t, 0, b.GenerateCalls())
	a.AssertExpectations(t)
}

func TestRouteGenerate_ContextCancelledStopsFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("boom")
	a := &providertest.MockAdapter{}
	a.On("Generate", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, boom)
	b := &providertest.StubAdapter{Text: "b"}

	r := newTestRouter(t, map[string]providers.Adapter{"a": a, "b": b})
	register(t, r, "a", "llama", false)
	register(t, r, "b", "mistral", false)

	_, err := r.RouteGenerate(ctx, &providers.GenerateRequest{Prompt: "hi"})
	failed, ok := AsAllBackendsFailed(err)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, failed.ModelIDs())
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, b.GenerateCalls())
}

func TestRouteGenerate_OverallTimeout(t *testing.T) {
	slow := &providertest.MockAdapter{}
	slow.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)
	b := &providertest.StubAdapter{Text: "b"}

	r := newTestRouter(t, map[string]providers.Adapter{"slow": slow, "b": b},
		WithOverallTimeout(20*time.Millisecond))
	register(t, r, "slow", "http", false)
	register(t, r, "b", "mistral", false)

	_, err := r.RouteGenerate(context.Background(), &providers.GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, b.GenerateCalls())
}

func TestRouteEmbed_Shapes(t *testing.T) {
	a := &providertest.StubAdapter{Vector: []float32{0.5}}
	r := newTestRouter(t, map[string]providers.Adapter{"a": a})
	register(t, r, "a", "llama", false)

	single, err := r.RouteEmbed(context.Background(), providers.SingleText("one"))
	require.NoError(t, err)
	assert.True(t, single.Single)
	assert.Equal(t, []float32{0, 0.5}, single.Vector())
	assert.Equal(t, "a", single.ModelID)

	multi, err := r.RouteEmbed(context.Background(), providers.MultiText("x", "y", "z"))
	require.NoError(t, err)
	assert.False(t, multi.Single)
	require.Len(t, multi.Vectors, 3)
	for i, v := range multi.Vectors {
		assert.Equal(t, float32(i), v[0], "vectors keep input order")
	}
}

func TestRouteEmbed_WrongCountFallsBack(t *testing.T) {
	short := &providertest.MockAdapter{}
	short.On("Embed", mock.Anything, mock.Anything).Return([][]float32{{1}}, nil)
	good := &providertest.StubAdapter{}

	r := newTestRouter(t, map[string]providers.Adapter{"short": short, "good": good})
	register(t, r, "short", "deepseek", false)
	register(t, r, "good", "http", false)

	res, err := r.RouteEmbed(context.Background(), providers.MultiText("x", "y"))
	require.NoError(t, err)
	assert.Equal(t, "good", res.ModelID)
	assert.Len(t, res.Vectors, 2)

	_, err = r.RouteEmbed(context.Background(), providers.MultiText("x", "y"), WithoutFallback())
	failed, ok := AsAllBackendsFailed(err)
	require.True(t, ok)
	assert.Equal(t, "embed", failed.Op)
	assert.Contains(t, failed.Last().Error(), "returned 1 vectors for 2 inputs")
}

func TestRouteEmbed_InvalidInput(t *testing.T) {
	r := newTestRouter(t, nil)

	_, err := r.RouteEmbed(context.Background(), providers.MultiText())
	assert.ErrorIs(t, err, services.ErrEmptyInput)

	_, err = r.RouteEmbed(context.Background(), providers.EmbedInput{Texts: []string{"a", "b"}, Single: true})
	assert.True(t, services.IsValidationError(err))
}

func TestListModels(t *testing.T) {
	r := newTestRouter(t, map[string]providers.Adapter{
		"z": &providertest.StubAdapter{Config: providers.ModelConfig{Type: "mistral", ModelName: "mistral-medium", APIKey: "secret"}},
		"a": &providertest.StubAdapter{Config: providers.ModelConfig{Type: "llama", ModelName: "local"}},
	})
	assert.Empty(t, r.ListModels())

	register(t, r, "z", "mistral", false)
	register(t, r, "a", "llama", true)

	models := r.ListModels()
	require.Len(t, models, 2)

	assert.Equal(t, "z", models[0]["model_id"])
	assert.Equal(t, false, models[0]["is_default"])
	assert.Equal(t, "mistral-medium", models[0]["model_name"])
	assert.NotContains(t, models[0]["config"], "api_key")

	assert.Equal(t, "a", models[1]["model_id"])
	assert.Equal(t, true, models[1]["is_default"])
}

func TestRouter_Concurrent(t *testing.T) {
	r := newTestRouter(t, map[string]providers.Adapter{
		"a": &providertest.StubAdapter{Err: errors.New("down")},
		"b": &providertest.StubAdapter{Text: "b", Vector: []float32{1}},
		"c": &providertest.StubAdapter{Text: "c", Vector: []float32{2}},
	})
	register(t, r, "a", "llama", false)
	register(t, r, "b", "mistral", false)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := r.RouteGenerate(context.Background(), &providers.GenerateRequest{Prompt: "hi"})
			if assert.NoError(t, err) {
				assert.NotEqual(t, "a", res.ModelID)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := r.RouteEmbed(context.Background(), providers.SingleText("t"), WithModel("b"))
			assert.NoError(t, err)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = r.Register(context.Background(), "c", providers.ModelConfig{Type: "deepseek", ModelName: "c"}, false)
		_ = r.ListModels()
	}()
	wg.Wait()
}

func TestRouter_Close(t *testing.T) {
	a := &providertest.StubAdapter{}
	b := &providertest.StubAdapter{}
	r := newTestRouter(t, map[string]providers.Adapter{"a": a, "b": b})
	register(t, r, "a", "llama", false)
	register(t, r, "b", "mistral", false)

	require.NoError(t, r.Close())
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, "", r.DefaultModel())
}
