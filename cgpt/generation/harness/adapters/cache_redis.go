package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"

	"github.com/OneOfOne/xxhash"
	"github.com/redis/go-redis/v9"
)

// maxRawKeyLen bounds keys stored verbatim; longer keys are hashed.
const maxRawKeyLen = 128

// RedisCache implements ports.Cache on Redis so photo lookups and completions
// are shared across server replicas.
type RedisCache struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisCache wraps a go-redis client. Every key is namespaced by prefix.
func NewRedisCache(rdb redis.Cmdable, prefix string) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: prefix}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func (c *RedisCache) key(k string) string {
	if len(k) > maxRawKeyLen {
		k = fmt.Sprintf("h:%016x", xxhash.ChecksumString64(k))
	}
	return c.prefix + k
}

// Get returns the cached bytes. Misses and transport errors both report !ok;
// a cache outage degrades to recomputation.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set stores value with the given TTL; ttlSeconds <= 0 stores without expiry.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	var ttl time.Duration
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	if err := c.rdb.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, c.key(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

var _ ports.Cache = (*RedisCache)(nil)
