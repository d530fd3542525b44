package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"rag-ingest/pkg/metrics"
)

// VectorCache is the subset of pkg/cache used for embeddings
type VectorCache interface {
	GetMany(ctx context.Context, keys []string) ([][]byte, error)
	SetMany(ctx context.Context, entries map[string]interface{}, ttl ...time.Duration) error
}

// CachedEmbedder looks up vectors by model and text hash before calling
// the wrapped embedder. Cache failures fall through to the embedder.
type CachedEmbedder struct {
	next    Embedder
	cache   VectorCache
	model   string
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewCachedEmbedder wraps next with a cache
func NewCachedEmbedder(next Embedder, cache VectorCache, model string, ttl time.Duration, m *metrics.Metrics, logger zerolog.Logger) *CachedEmbedder {
	return &CachedEmbedder{
		next:    next,
		cache:   cache,
		model:   model,
		ttl:     ttl,
		metrics: m,
		logger:  logger.With().Str("component", "embedding_cache").Logger(),
	}
}

// CacheKey returns emb:{model}:{sha256(text)}
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + model + ":" + hex.EncodeToString(sum[:])
}

// EmbedDocuments serves hits from the cache and embeds the misses in one call
func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = CacheKey(c.model, text)
	}

	vectors := make([][]float32, len(texts))
	cached, err := c.cache.GetMany(ctx, keys)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Embedding cache lookup failed")
		cached = nil
	}

	var missIdx []int
	for i := range texts {
		if i < len(cached) && cached[i] != nil {
			var v []float32
			if err := json.Unmarshal(cached[i], &v); err == nil && len(v) > 0 {
				vectors[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
	}

	if c.metrics != nil {
		c.metrics.RecordEmbeddingCache(len(texts)-len(missIdx), len(missIdx))
	}
	if len(missIdx) == 0 {
		return vectors, nil
	}

	missTexts := make([]string, len(missIdx))
	for j, i := range missIdx {
		missTexts[j] = texts[i]
	}
	fresh, err := c.next.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]interface{}, len(missIdx))
	for j, i := range missIdx {
		vectors[i] = fresh[j]
		entries[keys[i]] = fresh[j]
	}
	if err := c.cache.SetMany(ctx, entries, c.ttl); err != nil {
		c.logger.Warn().Err(err).Int("entries", len(entries)).Msg("Failed to store embeddings in cache")
	}
	return vectors, nil
}

// EmbedQuery embeds one text through the cache
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
