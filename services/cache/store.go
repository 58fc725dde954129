package cache

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Store is a byte-oriented key/value backend with per-key expiry. A miss
// is (nil, false, nil); any non-nil error means the store could not answer.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix
	DeletePrefix(ctx context.Context, prefix string) error

	// FlushAll removes every key in the backing store, including keys
	// written by other clients
	FlushAll(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}

// Sweeper is implemented by stores whose expired entries linger until
// removed explicitly. The cache runs CleanupExpired every
// Config.CleanupInterval.
type Sweeper interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Store kinds reported in Stats
const (
	KindMemory   = "memory"
	KindRedis    = "redis"
	KindPostgres = "postgres"
)

// OpenStore picks a networked store from the URL scheme. The returned
// store has not been pinged.
func OpenStore(rawURL string, cfg Config, logger *zap.Logger) (Store, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid cache url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "redis", "rediss", "unix":
		store, err := NewRedisStore(rawURL)
		return store, KindRedis, err
	case "postgres", "postgresql":
		store, err := NewPostgresStore(rawURL, cfg.Table, logger)
		return store, KindPostgres, err
	default:
		return nil, "", fmt.Errorf("unsupported cache url scheme %q", u.Scheme)
	}
}
