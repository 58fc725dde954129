package app

import (
	"context"
	"fmt"

	"github.com/upb/llm-router/config"
	"github.com/upb/llm-router/internal/observability"
	"github.com/upb/llm-router/services/cache"
	"github.com/upb/llm-router/services/providers"
	"github.com/upb/llm-router/services/providers/builtin"
	"github.com/upb/llm-router/services/routing"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const metricsNamespace = "llmrouter"

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Metrics is always set; Prometheus is nil when metrics are disabled
	Metrics    observability.Metrics
	Prometheus *observability.PrometheusMetrics

	// Routing
	Factory *providers.Factory
	Router  *routing.Router

	Cache *cache.Cache
}

// NewDependencies creates and wires up all application dependencies with
// the built-in adapter factory
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	return NewDependenciesWithFactory(ctx, cfg, logger, builtin.NewFactory())
}

// NewDependenciesWithFactory is NewDependencies with a caller-supplied
// adapter factory
func NewDependenciesWithFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger, factory *providers.Factory) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Factory: factory,
	}

	deps.initMetrics(cfg)
	deps.initCache(ctx, cfg)

	if err := deps.initRouter(ctx, cfg); err != nil {
		_ = deps.Cache.Close()
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NopMetrics{}
		return
	}
	d.Prometheus = observability.NewPrometheusMetrics(metricsNamespace)
	d.Metrics = d.Prometheus
}

// initCache never fails; an unreachable store leaves the cache disconnected
func (d *Dependencies) initCache(ctx context.Context, cfg *config.Config) {
	d.Cache = NewCache(ctx, cfg, d.Logger, d.Metrics)

	d.Logger.Info("cache initialized",
		zap.String("store", cfg.Cache.LogString()),
		zap.String("state", string(d.Cache.State())))
}

func (d *Dependencies) initRouter(ctx context.Context, cfg *config.Config) error {
	d.Router = routing.NewRouter(d.Factory,
		routing.WithLogger(d.Logger.Named("router")),
		routing.WithMetrics(d.Metrics),
		routing.WithOverallTimeout(cfg.Router.OverallTimeout),
	)

	if err := RegisterModelsFromConfig(ctx, d.Router, cfg, d.Logger); err != nil {
		_ = d.Router.Close()
		return err
	}
	return nil
}

// NewCache opens the configured cache store. It is also used on its own by
// operator commands that do not need the router.
func NewCache(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics observability.Metrics) *cache.Cache {
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	return cache.New(ctx, cache.Config{
		URL:             cfg.Cache.URL,
		Namespace:       cfg.Cache.Namespace,
		DefaultTTL:      cfg.Cache.DefaultTTL,
		ConnectTimeout:  cfg.Cache.ConnectTimeout,
		Table:           cfg.Cache.Table,
		CleanupInterval: cfg.Cache.CleanupInterval,
		MaxEntries:      cfg.Cache.MaxEntries,
	}, logger.Named("cache"), metrics)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var err error
	if d.Router != nil {
		if cerr := d.Router.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to close router: %w", cerr))
		}
	}
	if d.Cache != nil {
		if cerr := d.Cache.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to close cache: %w", cerr))
		} else {
			d.Logger.Info("cache closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if err != nil {
		return fmt.Errorf("errors during shutdown: %w", err)
	}
	return nil
}
