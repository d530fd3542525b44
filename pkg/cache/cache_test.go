package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCacheConfig(t *testing.T) {
	config := DefaultCacheConfig()

	assert.Equal(t, "redis://localhost:6379/0", config.RedisURL)
	assert.Equal(t, 24*time.Hour, config.DefaultTTL)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, 10, config.PoolSize)
	assert.Equal(t, "rag", config.Namespace)
}

func TestCachePatternMatching(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		matches bool
	}{
		{"*", "anything", true},
		{"emb:*", "emb:bge-m3:abc", true},
		{"emb:*", "session:123", false},
		{"exact", "exact", true},
		{"exact", "exactish", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.matches, matchPattern(tt.pattern, tt.key))
		})
	}
}

func TestBuildKey(t *testing.T) {
	config := DefaultCacheConfig()
	config.Namespace = "test"
	cache := NewWithClient(nil, config, zerolog.Nop())

	assert.Equal(t, "test:mykey", cache.buildKey("mykey"))

	config.Namespace = ""
	assert.Equal(t, "mykey", cache.buildKey("mykey"))
}

func TestTTLPatterns(t *testing.T) {
	config := DefaultCacheConfig()
	cache := NewWithClient(nil, config, zerolog.Nop())

	cache.SetTTLPattern("emb:*", 7*24*time.Hour)
	cache.SetTTLPattern("emb:tmp:*", time.Minute)

	assert.Equal(t, 7*24*time.Hour, cache.getTTLForKey("emb:model:hash"))
	assert.Equal(t, time.Minute, cache.getTTLForKey("emb:tmp:hash"), "longest pattern wins")
	assert.Equal(t, config.DefaultTTL, cache.getTTLForKey("other:key"))
	assert.Equal(t, time.Second, cache.ttl("emb:x", []time.Duration{time.Second}))
}

func TestUpdateStats(t *testing.T) {
	cache := NewWithClient(nil, nil, zerolog.Nop())

	cache.updateStats(func(s *CacheStats) {
		s.Hits = 10
		s.Misses = 5
	})

	stats := cache.Stats()
	assert.Equal(t, int64(10), stats.Hits)
	assert.Equal(t, int64(5), stats.Misses)
	assert.InDelta(t, 0.666, stats.HitRatio, 0.01)
}

// testRedis returns a client for REDIS_URL (or localhost) and skips when
// Redis is not reachable.
func testRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCacheWithRedis(t *testing.T) {
	client := testRedis(t)
	config := DefaultCacheConfig()
	config.Namespace = "test-" + uuid.NewString()
	cache := NewWithClient(client, config, zerolog.Nop())
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "k", []float32{0.5, 1}, time.Minute))

		var got []float32
		require.NoError(t, cache.Get(ctx, "k", &got))
		assert.Equal(t, []float32{0.5, 1}, got)
	})

	t.Run("miss", func(t *testing.T) {
		var got []float32
		assert.ErrorIs(t, cache.Get(ctx, "absent", &got), ErrCacheMiss)
	})

	t.Run("many", func(t *testing.T) {
		require.NoError(t, cache.SetMany(ctx, map[string]interface{}{"a": 1, "b": 2}, time.Minute))

		values, err := cache.GetMany(ctx, []string{"a", "missing", "b"})
		require.NoError(t, err)
		require.Len(t, values, 3)
		assert.Equal(t, "1", string(values[0]))
		assert.Nil(t, values[1])
		assert.Equal(t, "2", string(values[2]))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, cache.Delete(ctx, "k"))
		exists, err := cache.Exists(ctx, "k")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}
