package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Remember returns the cached value for key or computes, stores and
// returns it. Compute errors are returned and nothing is stored.
func Remember[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	return RememberIf(ctx, c, key, ttl, compute, nil)
}

// RememberIf is Remember with a keep predicate: a computed value is only
// stored when keep is nil or returns true for it.
func RememberIf[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error), keep func(T) bool) (T, error) {
	var cached T
	if c.Get(ctx, key, &cached) {
		return cached, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return value, err
	}
	if keep == nil || keep(value) {
		c.Set(ctx, key, value, ttl)
	}
	return value, nil
}

// GetAs is a typed Get
func GetAs[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var v T
	ok := c.Get(ctx, key, &v)
	return v, ok
}

// Key joins parts into a fixed-length key. Parts may contain any text.
func Key(kind string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return strings.ToLower(kind) + ":" + hex.EncodeToString(h.Sum(nil))
}
