// Package cache memoizes values behind a key/value store. A cache whose
// store cannot be reached at construction stays disconnected for its
// lifetime and answers every call with a miss or false.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/llm-router/internal/observability"
	"github.com/upb/llm-router/services"
	"go.uber.org/zap"
)

// State is the connection state fixed at construction
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

const (
	// DefaultTTL applies when Set is called with a non-positive ttl
	DefaultTTL = 3600 * time.Second

	// DefaultConnectTimeout bounds the construction ping
	DefaultConnectTimeout = 3 * time.Second
)

// Config selects and tunes the backing store
type Config struct {
	// URL of a networked store; empty selects the in-process store
	URL string

	// Namespace prefixes every key and scopes Flush
	Namespace string

	DefaultTTL     time.Duration
	ConnectTimeout time.Duration

	// Table for the PostgreSQL store
	Table string

	// CleanupInterval between expiry sweeps of stores that need them
	// (in-process, PostgreSQL); zero disables sweeping
	CleanupInterval time.Duration

	// MaxEntries for the in-process store; zero means unbounded
	MaxEntries int
}

// Stats reports hit/miss counters
type Stats struct {
	State   State   `json:"state"`
	Store   string  `json:"store"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Cache is safe for concurrent use. A nil *Cache behaves like a
// disconnected one.
type Cache struct {
	store      Store
	kind       string
	state      State
	namespace  string
	defaultTTL time.Duration

	logger  *zap.Logger
	metrics observability.Metrics

	hits   atomic.Uint64
	misses atomic.Uint64

	stopCh    chan struct{}
	stopOnce  sync.Once
	workersWg sync.WaitGroup
}

// New builds a cache for cfg. It never fails: an unreachable or invalid
// store yields a disconnected cache and a logged warning.
func New(ctx context.Context, cfg Config, logger *zap.Logger, metrics observability.Metrics) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.URL == "" {
		mem := NewMemoryStore(cfg.MaxEntries)
		c := newCache(mem, KindMemory, cfg, logger, metrics)
		c.state = StateConnected
		c.startSweeper(cfg.CleanupInterval)
		logger.Info("cache using in-process store", zap.String("namespace", cfg.Namespace))
		return c
	}

	store, kind, err := OpenStore(cfg.URL, cfg, logger)
	if err != nil {
		logger.Warn("cache store misconfigured, caching disabled",
			zap.Error(services.NewStoreUnavailableError("open", err)))
		return newCache(nil, kind, cfg, logger, metrics)
	}
	return NewWithStore(ctx, store, kind, cfg, logger, metrics)
}

// NewWithStore pings store once and builds a cache over it. On failure the
// store is closed and the cache is disconnected.
func NewWithStore(ctx context.Context, store Store, kind string, cfg Config, logger *zap.Logger, metrics observability.Metrics) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := newCache(store, kind, cfg, logger, metrics)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("cache store unreachable, caching disabled",
			zap.String("store", kind),
			zap.Error(services.NewStoreUnavailableError("connect", err)))
		if cerr := store.Close(); cerr != nil {
			logger.Debug("failed to close unreachable store", zap.Error(cerr))
		}
		c.store = nil
		c.state = StateDisconnected
		return c
	}

	c.state = StateConnected
	c.startSweeper(cfg.CleanupInterval)
	logger.Info("cache store connected", zap.String("store", kind), zap.String("namespace", cfg.Namespace))
	return c
}

func newCache(store Store, kind string, cfg Config, logger *zap.Logger, metrics observability.Metrics) *Cache {
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	return &Cache{
		store:      store,
		kind:       kind,
		state:      StateDisconnected,
		namespace:  cfg.Namespace,
		defaultTTL: ttl,
		logger:     logger,
		metrics:    metrics,
		stopCh:     make(chan struct{}),
	}
}

// State reports whether the cache reached its store at construction
func (c *Cache) State() State {
	if c == nil {
		return StateDisconnected
	}
	return c.state
}

// Connected is shorthand for State() == StateConnected
func (c *Cache) Connected() bool {
	return c.State() == StateConnected
}

// Get decodes the value stored under key into dest. It reports false on a
// miss, on a store error and when the payload does not decode into dest.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	if !c.Connected() {
		c.miss()
		return false
	}

	raw, ok, err := c.store.Get(ctx, c.key(key))
	if err != nil {
		c.warn("get", key, err)
		c.miss()
		return false
	}
	if !ok {
		c.miss()
		return false
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn("cache payload could not be decoded",
			zap.String("key", key),
			zap.Error(err))
		c.miss()
		return false
	}

	c.hits.Add(1)
	c.metrics.RecordCacheResult("get", observability.OutcomeHit)
	return true
}

// Set stores value under key for ttl, or the default TTL when ttl <= 0
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) bool {
	if !c.Connected() {
		return false
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache value could not be encoded",
			zap.String("key", key),
			zap.Error(err))
		c.metrics.RecordCacheResult("set", observability.OutcomeError)
		return false
	}

	if err := c.store.Set(ctx, c.key(key), raw, ttl); err != nil {
		c.warn("set", key, err)
		c.metrics.RecordCacheResult("set", observability.OutcomeError)
		return false
	}
	c.metrics.RecordCacheResult("set", observability.OutcomeSuccess)
	return true
}

// Delete removes key
func (c *Cache) Delete(ctx context.Context, key string) bool {
	if !c.Connected() {
		return false
	}
	if err := c.store.Delete(ctx, c.key(key)); err != nil {
		c.warn("delete", key, err)
		return false
	}
	return true
}

// Flush removes every key in this cache's namespace. With an empty
// namespace that is the whole store.
func (c *Cache) Flush(ctx context.Context) bool {
	if !c.Connected() {
		return false
	}
	var err error
	if c.namespace == "" {
		err = c.store.FlushAll(ctx)
	} else {
		err = c.store.DeletePrefix(ctx, c.namespace+":")
	}
	if err != nil {
		c.warn("flush", "", err)
		return false
	}
	c.logger.Info("cache flushed", zap.String("namespace", c.namespace))
	return true
}

// FlushAll clears the entire backing store, keys of other clients
// included. Meant for test teardown and operator tooling only.
func (c *Cache) FlushAll(ctx context.Context) bool {
	if !c.Connected() {
		return false
	}
	if err := c.store.FlushAll(ctx); err != nil {
		c.warn("flush_all", "", err)
		return false
	}
	c.logger.Warn("entire cache store flushed", zap.String("store", c.kind))
	return true
}

// Stats returns a snapshot of the counters
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{State: StateDisconnected}
	}
	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{State: c.state, Store: c.kind, Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// Close stops background workers and closes the store
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.workersWg.Wait()
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// startSweeper removes expired entries every interval until Close, for
// stores implementing Sweeper
func (c *Cache) startSweeper(interval time.Duration) {
	sweeper, ok := c.store.(Sweeper)
	if !ok || interval <= 0 {
		return
	}

	c.workersWg.Add(1)
	go func() {
		defer c.workersWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.sweep(sweeper, interval)
			case <-c.stopCh:
				return
			}
		}
	}()
}

func (c *Cache) sweep(sweeper Sweeper, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	removed, err := sweeper.CleanupExpired(ctx)
	if err != nil {
		c.warn("sweep", "", err)
		return
	}
	if removed > 0 {
		c.logger.Debug("expired cache entries removed",
			zap.String("store", c.kind),
			zap.Int64("removed", removed))
	}
}

func (c *Cache) key(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}

func (c *Cache) miss() {
	if c == nil {
		return
	}
	c.misses.Add(1)
	c.metrics.RecordCacheResult("get", observability.OutcomeMiss)
}

func (c *Cache) warn(op, key string, err error) {
	c.logger.Warn("cache store unavailable",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(services.NewStoreUnavailableError(op, err)))
}
