package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// CacheConfig holds cache configuration
type CacheConfig struct {
	RedisURL   string        `json:"redis_url" validate:"required"`
	DefaultTTL time.Duration `json:"default_ttl" validate:"min=1s"`
	MaxRetries int           `json:"max_retries" validate:"min=1,max=10"`
	RetryDelay time.Duration `json:"retry_delay" validate:"min=100ms"`
	PoolSize   int           `json:"pool_size" validate:"min=1,max=100"`
	Namespace  string        `json:"namespace"`
}

// DefaultCacheConfig returns default cache configuration
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		RedisURL:   "redis://localhost:6379/0",
		DefaultTTL: 24 * time.Hour,
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
		PoolSize:   10,
		Namespace:  "rag",
	}
}

// CacheStats tracks cache performance
type CacheStats struct {
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	Sets        int64     `json:"sets"`
	Deletes     int64     `json:"deletes"`
	HitRatio    float64   `json:"hit_ratio"`
	LastUpdated time.Time `json:"last_updated"`
}

// Cache is a namespaced JSON cache on top of Redis.
type Cache struct {
	client   redis.UniversalClient
	config   *CacheConfig
	logger   zerolog.Logger
	mu       sync.RWMutex
	stats    CacheStats
	patterns map[string]time.Duration
}

// NewCache connects to Redis and returns a cache
func NewCache(config *CacheConfig, logger zerolog.Logger) (*Cache, error) {
	if config == nil {
		config = DefaultCacheConfig()
	}

	opt, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opt.PoolSize = config.PoolSize
	opt.MaxRetries = config.MaxRetries
	opt.MinRetryBackoff = config.RetryDelay

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	c := NewWithClient(client, config, logger)
	c.logger.Info().
		Str("redis_url", opt.Addr).
		Dur("default_ttl", config.DefaultTTL).
		Int("pool_size", config.PoolSize).
		Msg("Cache initialized")
	return c, nil
}

// NewWithClient builds a cache over an existing client shared with the
// queue and session store.
func NewWithClient(client redis.UniversalClient, config *CacheConfig, logger zerolog.Logger) *Cache {
	if config == nil {
		config = DefaultCacheConfig()
	}
	return &Cache{
		client:   client,
		config:   config,
		logger:   logger.With().Str("component", "cache").Logger(),
		stats:    CacheStats{LastUpdated: time.Now()},
		patterns: make(map[string]time.Duration),
	}
}

// SetTTLPattern sets TTL for keys matching a pattern
func (c *Cache) SetTTLPattern(pattern string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns[pattern] = ttl
}

func (c *Cache) getTTLForKey(key string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	best, bestLen := c.config.DefaultTTL, -1
	for pattern, ttl := range c.patterns {
		if matchPattern(pattern, key) && len(pattern) > bestLen {
			best, bestLen = ttl, len(pattern)
		}
	}
	return best
}

// matchPattern supports an exact key, "*" and a trailing "*" prefix match
func matchPattern(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}

func (c *Cache) buildKey(key string) string {
	if c.config.Namespace == "" {
		return key
	}
	return c.config.Namespace + ":" + key
}

func (c *Cache) ttl(key string, ttl []time.Duration) time.Duration {
	if len(ttl) > 0 && ttl[0] > 0 {
		return ttl[0]
	}
	return c.getTTLForKey(key)
}

// Set stores value as JSON
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl ...time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	finalTTL := c.ttl(key, ttl)
	if err := c.client.Set(ctx, c.buildKey(key), data, finalTTL).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to set cache value")
		return fmt.Errorf("redis set error: %w", err)
	}

	c.updateStats(func(s *CacheStats) { s.Sets++ })
	c.logger.Debug().Str("key", key).Dur("ttl", finalTTL).Int("size", len(data)).Msg("Cache value set")
	return nil
}

// Get decodes the cached JSON for key into dest
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, c.buildKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.updateStats(func(s *CacheStats) { s.Misses++ })
		return ErrCacheMiss
	}
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to get cache value")
		return fmt.Errorf("redis get error: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal error: %w", err)
	}

	c.updateStats(func(s *CacheStats) { s.Hits++ })
	return nil
}

// GetMany fetches several keys in one round trip. The result is aligned with
// keys; misses and undecodable entries are nil.
func (c *Cache) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.buildKey(k)
	}

	values, err := c.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget error: %w", err)
	}

	out := make([][]byte, len(keys))
	var hits int64
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
			hits++
		}
	}
	c.updateStats(func(s *CacheStats) {
		s.Hits += hits
		s.Misses += int64(len(keys)) - hits
	})
	return out, nil
}

// SetMany stores several JSON values in one pipeline
func (c *Cache) SetMany(ctx context.Context, entries map[string]interface{}, ttl ...time.Duration) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for key, value := range entries {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal error for %s: %w", key, err)
		}
		pipe.Set(ctx, c.buildKey(key), data, c.ttl(key, ttl))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline error: %w", err)
	}

	c.updateStats(func(s *CacheStats) { s.Sets += int64(len(entries)) })
	return nil
}

// Delete removes a value from cache
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}
	c.updateStats(func(s *CacheStats) { s.Deletes++ })
	return nil
}

// Exists checks if a key exists in cache
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	count, err := c.client.Exists(ctx, c.buildKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists error: %w", err)
	}
	return count > 0, nil
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) updateStats(fn func(*CacheStats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.stats)

	if total := c.stats.Hits + c.stats.Misses; total > 0 {
		c.stats.HitRatio = float64(c.stats.Hits) / float64(total)
	}
	c.stats.LastUpdated = time.Now()
}

// Stats returns a snapshot of cache statistics
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Close closes the underlying client
func (c *Cache) Close() error {
	c.logger.Info().Msg("Closing cache connection")
	return c.client.Close()
}
