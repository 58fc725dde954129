// Package routing resolves model ids to backend adapters and retries
// failed calls across the other registered backends.
package routing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/upb/llm-router/internal/observability"
	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/providers"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	opGenerate = "generate"
	opEmbed    = "embed"
)

type entry struct {
	adapter providers.Adapter
	config  providers.ModelConfig
}

type candidate struct {
	id      string
	adapter providers.Adapter
}

// Router owns the model registry, the default pointer and the fallback
// algorithm. It is safe for concurrent use.
type Router struct {
	mu           sync.RWMutex
	models       map[string]entry
	ids          []string
	defaultModel string

	factory        *providers.Factory
	order          OrderStrategy
	logger         *zap.Logger
	metrics        observability.Metrics
	overallTimeout time.Duration
}

// Option configures a Router
type Option func(*Router)

// WithLogger sets the router logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m observability.Metrics) Option {
	return func(r *Router) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithOrderStrategy replaces the default shuffle
func WithOrderStrategy(s OrderStrategy) Option {
	return func(r *Router) {
		if s != nil {
			r.order = s
		}
	}
}

// WithOverallTimeout bounds a whole routed call, fallbacks included.
// Zero disables the bound.
func WithOverallTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.overallTimeout = d
	}
}

// NewRouter creates an empty router that builds adapters with factory
func NewRouter(factory *providers.Factory, opts ...Option) *Router {
	r := &Router{
		models:  make(map[string]entry),
		factory: factory,
		order:   NewShuffleStrategy(nil),
		logger:  zap.NewNop(),
		metrics: observability.NopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register builds an adapter from config and stores it under modelID,
// replacing any previous registration for that id. The model becomes the
// default when asDefault is set or no default exists yet.
func (r *Router) Register(ctx context.Context, modelID string, config providers.ModelConfig, asDefault bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return services.NewConfigurationError("model id cannot be empty", nil)
	}
	if r.factory == nil {
		return services.NewConfigurationError("router has no adapter factory", nil)
	}

	adapter, err := r.factory.Build(config, r.logger.With(zap.String("model_id", modelID)))
	if err != nil {
		r.logger.Error("failed to register model",
			zap.String("model_id", modelID),
			zap.String("type", config.Type),
			zap.Error(err),
		)
		return err
	}

	r.mu.Lock()
	old, replaced := r.models[modelID]
	r.models[modelID] = entry{adapter: adapter, config: config}
	if !replaced {
		r.ids = append(r.ids, modelID)
	}
	if asDefault || r.defaultModel == "" {
		r.defaultModel = modelID
	}
	isDefault := r.defaultModel == modelID
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("model re-registered, previous adapter replaced",
			zap.String("model_id", modelID),
			zap.String("type", config.Type),
		)
		closeAdapter(old.adapter, r.logger.With(zap.String("model_id", modelID)))
	}

	r.logger.Info("model registered",
		zap.String("model_id", modelID),
		zap.String("type", string(config.BackendType())),
		zap.Bool("is_default", isDefault),
	)
	return nil
}

// Resolve returns the adapter for modelID, or the default adapter when
// modelID is empty
func (r *Router) Resolve(modelID string) (providers.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, err := r.targetLocked(modelID)
	if err != nil {
		return nil, err
	}
	return r.models[id].adapter, nil
}

// DefaultModel returns the current default model id, or "" if none
func (r *Router) DefaultModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModel
}

// Len returns the number of registered models
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// ListModels returns adapter metadata for every registered model in
// registration order, merged with model_id and is_default
func (r *Router) ListModels() []providers.ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]providers.ModelInfo, 0, len(r.ids))
	for _, id := range r.ids {
		info := r.models[id].adapter.ModelInfo().Clone()
		info["model_id"] = id
		info["is_default"] = id == r.defaultModel
		out = append(out, info)
	}
	return out
}

// RouteGenerate sends req to the target model, falling back to the other
// registered models on failure. For streaming requests only opening the
// stream is covered by fallback.
func (r *Router) RouteGenerate(ctx context.Context, req *providers.GenerateRequest, opts ...RouteOption) (*providers.GenerateResult, error) {
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return nil, services.ErrEmptyPrompt
	}

	o := newRouteOptions(opts)
	candidates, err := r.candidates(o.modelID, o.fallback)
	if err != nil {
		return nil, err
	}

	// A stream outlives this call, so its context cannot carry the overall
	// deadline; the bound then only applies between attempts.
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	deadline := time.Time{}
	if r.overallTimeout > 0 {
		if req.Stream {
			deadline = time.Now().Add(r.overallTimeout)
		} else {
			callCtx, cancel = context.WithTimeout(ctx, r.overallTimeout)
		}
	}
	defer cancel()

	return route(callCtx, r, opGenerate, candidates, deadline,
		func(ctx context.Context, c candidate) (*providers.GenerateResult, error) {
			result, err := c.adapter.Generate(ctx, req)
			if err != nil {
				return nil, err
			}
			if result == nil {
				return nil, errors.New("backend returned no result")
			}
			if req.Stream && result.Stream == nil {
				// tolerate adapters that complete eagerly
				result.Stream = providers.NewSliceStream(nil, result.Text)
			}
			result.ModelID = c.id
			return result, nil
		})
}

// EmbedResult holds vectors in input order
type EmbedResult struct {
	ModelID string
	Vectors [][]float32
	Single  bool
}

// Vector returns the only vector of a single-text request
func (e *EmbedResult) Vector() []float32 {
	if e == nil || len(e.Vectors) == 0 {
		return nil
	}
	return e.Vectors[0]
}

// RouteEmbed embeds input with the same candidate selection as
// RouteGenerate. A backend returning a different number of vectors than
// texts counts as a failed attempt.
func (r *Router) RouteEmbed(ctx context.Context, input providers.EmbedInput, opts ...RouteOption) (*EmbedResult, error) {
	if input.Len() == 0 {
		return nil, services.ErrEmptyInput
	}
	if err := input.Validate(); err != nil {
		return nil, services.WrapError(services.ErrorTypeValidation, "invalid embedding input", err)
	}

	o := newRouteOptions(opts)
	candidates, err := r.candidates(o.modelID, o.fallback)
	if err != nil {
		return nil, err
	}

	if r.overallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.overallTimeout)
		defer cancel()
	}

	return route(ctx, r, opEmbed, candidates, time.Time{},
		func(ctx context.Context, c candidate) (*EmbedResult, error) {
			vectors, err := c.adapter.Embed(ctx, input)
			if err != nil {
				return nil, err
			}
			if len(vectors) != input.Len() {
				return nil, fmt.Errorf("backend returned %d vectors for %d inputs", len(vectors), input.Len())
			}
			return &EmbedResult{ModelID: c.id, Vectors: vectors, Single: input.Single}, nil
		})
}

// Close releases every adapter that holds resources and empties the
// registry
func (r *Router) Close() error {
	r.mu.Lock()
	models := r.models
	r.models = make(map[string]entry)
	r.ids = nil
	r.defaultModel = ""
	r.mu.Unlock()

	var err error
	for id, e := range models {
		if c, ok := e.adapter.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("close %s: %w", id, cerr))
			}
		}
	}
	return err
}

// route tries each candidate in order and returns the first success
func route[T any](
	ctx context.Context,
	r *Router,
	op string,
	candidates []candidate,
	deadline time.Time,
	call func(ctx context.Context, c candidate) (T, error),
) (T, error) {
	var zero T
	requested := candidates[0].id
	failed := &AllBackendsFailedError{Op: op, Requested: requested}

	for i, c := range candidates {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				failed.Interrupted = err
				break
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				failed.Interrupted = context.DeadlineExceeded
				break
			}
		}

		start := time.Now()
		result, err := call(ctx, c)
		elapsed := time.Since(start)

		if err == nil {
			r.metrics.RecordAttempt(op, c.id, observability.OutcomeSuccess, elapsed)
			if c.id != requested {
				r.metrics.RecordFallback(op, requested, c.id)
				r.logger.Info("fallback model succeeded",
					zap.String("op", op),
					zap.String("requested_model", requested),
					zap.String("model_id", c.id),
					zap.Int("attempts", i+1),
				)
			}
			return result, nil
		}

		r.metrics.RecordAttempt(op, c.id, observability.OutcomeError, elapsed)
		r.logger.Warn("model call failed",
			zap.String("op", op),
			zap.String("model_id", c.id),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		failed.Attempts = append(failed.Attempts, Attempt{ModelID: c.id, Err: err, Duration: elapsed})
	}

	r.metrics.RecordRouteFailure(op)
	r.logger.Error("all backends failed",
		zap.String("op", op),
		zap.String("requested_model", requested),
		zap.Strings("attempted", failed.ModelIDs()),
		zap.Error(failed.Combined()),
	)
	return zero, failed
}

// candidates snapshots the target adapter followed, when fallback is on,
// by the other registered adapters in strategy order
func (r *Router) candidates(modelID string, fallback bool) ([]candidate, error) {
	r.mu.RLock()
	target, err := r.targetLocked(modelID)
	if err != nil {
		r.mu.RUnlock()
		return nil, err
	}

	out := []candidate{{id: target, adapter: r.models[target].adapter}}
	if !fallback || len(r.ids) < 2 {
		r.mu.RUnlock()
		return out, nil
	}

	rest := make([]string, 0, len(r.ids)-1)
	adapters := make(map[string]providers.Adapter, len(r.ids)-1)
	for _, id := range r.ids {
		if id == target {
			continue
		}
		rest = append(rest, id)
		adapters[id] = r.models[id].adapter
	}
	r.mu.RUnlock()

	for _, id := range r.order.Order(rest) {
		if a, ok := adapters[id]; ok {
			out = append(out, candidate{id: id, adapter: a})
		}
	}
	return out, nil
}

func (r *Router) targetLocked(modelID string) (string, error) {
	if modelID == "" {
		if r.defaultModel == "" {
			return "", services.ErrNoBackend
		}
		return r.defaultModel, nil
	}
	if _, ok := r.models[modelID]; !ok {
		return "", services.NewDomainError(services.ErrorTypeNotFound, services.ErrModelNotFound.Message, nil).
			WithDetail("model_id", modelID)
	}
	return modelID, nil
}

func closeAdapter(a providers.Adapter, logger *zap.Logger) {
	c, ok := a.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("failed to close replaced adapter", zap.Error(err))
	}
}

// RouteOption adjusts a single routed call
type RouteOption func(*routeOptions)

type routeOptions struct {
	modelID  string
	fallback bool
}

func newRouteOptions(opts []RouteOption) routeOptions {
	o := routeOptions{fallback: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithModel targets modelID instead of the default
func WithModel(modelID string) RouteOption {
	return func(o *routeOptions) {
		o.modelID = strings.TrimSpace(modelID)
	}
}

// WithFallback enables or disables fallback to other models
func WithFallback(enabled bool) RouteOption {
	return func(o *routeOptions) {
		o.fallback = enabled
	}
}

// WithoutFallback makes the first failure terminal
func WithoutFallback() RouteOption {
	return WithFallback(false)
}
