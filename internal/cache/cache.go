// Package cache provides a thin Redis-backed JSON cache for data that is
// expensive to recompute but tolerant of staleness (city market-price
// lookups). Degrades to a disabled no-op cache when no Redis
// instance is reachable, mirroring the teacher's CacheManager.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client for simple get/set of JSON values.
// A nil client means caching is disabled; callers always get a cache miss
// and Set is a no-op rather than an error.
type Cache struct {
	client *redis.Client
}

// New connects to redisURL. If redisURL is empty or unreachable, caching is
// disabled and every operation degrades to a harmless no-op.
func New(ctx context.Context, redisURL string) *Cache {
	if redisURL == "" {
		log.Println("📦 cache: REDIS_URL not set, caching disabled")
		return &Cache{}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("📦 cache: invalid REDIS_URL, caching disabled: %v", err)
		return &Cache{}
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("📦 cache: redis unreachable, caching disabled: %v", err)
		return &Cache{}
	}

	log.Println("📦 cache: connected to redis")
	return &Cache{client: client}
}

// Get unmarshals the cached value for key into dest. Returns false on a
// cache miss or when caching is disabled.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if c.client == nil {
		return false, nil
	}

	raw, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("cache unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key with the given TTL. A no-op when caching is
// disabled.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection, if any.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
