package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type Redis struct {
	client redis.UniversalClient
}

// NewRedis connects to a single node, or a cluster when more than one address is given.
func NewRedis(addrs []string, password string) *Redis {
	var rdb redis.UniversalClient
	if len(addrs) > 1 {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Password: password,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addrs[0],
			Password: password,
			DB:       0,
		})
	}
	return &Redis{client: rdb}
}

func (c *Redis) Get(ctx context.Context, namespace, key string) (string, error) {
	value, err := c.client.Get(ctx, keyFor(namespace, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return value, err
}

func (c *Redis) Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, keyFor(namespace, key), value, ttl).Err()
}

func (c *Redis) Delete(ctx context.Context, namespace, key string) error {
	return c.client.Del(ctx, keyFor(namespace, key)).Err()
}

func (c *Redis) SetNX(ctx context.Context, namespace, key, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, keyFor(namespace, key), value, ttl).Result()
}

func (c *Redis) IncrWithExpire(ctx context.Context, namespace, key string, window time.Duration) (int64, error) {
	countKey := keyFor(namespace, key)

	cnt, err := c.client.Incr(ctx, countKey).Result()
	if err != nil {
		return 0, err
	}

	// First increment opens the window
	if cnt == 1 {
		_ = c.client.Expire(ctx, countKey, window).Err()
	}
	return cnt, nil
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Redis) Close() error {
	return c.client.Close()
}
