// Package cache backs rate limits, idempotency locks and quote caching with
// Redis, falling back to process memory when no Redis address is configured.
package cache

import (
	"context"
	"errors"
	"time"
)

var ErrMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, namespace, key string) (string, error)
	Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, namespace, key, value string, ttl time.Duration) (bool, error)
	IncrWithExpire(ctx context.Context, namespace, key string, window time.Duration) (int64, error)
	Close() error
}

func keyFor(namespace, key string) string {
	return namespace + ":" + key
}

// New returns a Redis cache when addr is set, otherwise an in-memory one.
func New(addr, password string) Cache {
	if addr == "" {
		return NewMemory()
	}
	return NewRedis([]string{addr}, password)
}
