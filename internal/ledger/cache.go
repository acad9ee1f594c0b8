package ledger

import (
	"context"
	"crypto/sha1"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResultCache stores definitive verification results.  Only (bool, nil)
// outcomes are cached; errors are always re-evaluated.
type ResultCache interface {
	Get(ctx context.Context, key string) (valid bool, hit bool)
	Set(ctx context.Context, key string, valid bool)
}

func cacheKey(signature string, expected uint64, recipient string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s:%d:%s", signature, expected, recipient)))
	return fmt.Sprintf("%x", sum[:])
}

// RedisCache is a ResultCache backed by Redis.  Redis errors are treated as
// cache misses so verification keeps working when Redis is unavailable.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedisCache returns a cache, or nil when rdb is nil.  A nil *RedisCache
// always misses.
func NewRedisCache(rdb *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if rdb == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{rdb: rdb, prefix: prefix, ttl: ttl, log: logger}
}

func (c *RedisCache) key(k string) string { return c.prefix + ":verify:" + k }

// Get implements ResultCache.
func (c *RedisCache) Get(ctx context.Context, key string) (bool, bool) {
	if c == nil {
		return false, false
	}
	v, err := c.rdb.Get(ctx, c.key(key)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("verify cache read failed", "err", err)
		}
		return false, false
	}
	return v == "1", true
}

// Set implements ResultCache.
func (c *RedisCache) Set(ctx context.Context, key string, valid bool) {
	if c == nil {
		return
	}
	v := "0"
	if valid {
		v = "1"
	}
	if err := c.rdb.Set(ctx, c.key(key), v, c.ttl).Err(); err != nil {
		c.log.Warn("verify cache write failed", "err", err)
	}
}
