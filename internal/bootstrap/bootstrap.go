package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rag-ingest/chunking"
	"rag-ingest/config"
	"rag-ingest/embedding"
	adapters "rag-ingest/internal/adapters/secondary"
	"rag-ingest/internal/adapters/secondary/processors"
	"rag-ingest/internal/core/ports"
	"rag-ingest/internal/core/services"
	"rag-ingest/pkg/cache"
	"rag-ingest/pkg/events"
	"rag-ingest/pkg/logger"
	"rag-ingest/pkg/metrics"
	"rag-ingest/pkg/resilience"
	"rag-ingest/pkg/security"
	"rag-ingest/queue"
	"rag-ingest/textextractor"
	"rag-ingest/vectorstore"
)

// Components is the ingestion stack shared by the server and the CLI
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	Redis     redis.UniversalClient
	Store     ports.SessionStore
	Vectors   vectorstore.Store
	Embedding *embedding.Service
	Embedder  ports.Embedder
	Registry  *textextractor.Registry
	Chunker   *chunking.Chunker
	Bus       events.EventBus
	Tokens    *security.TokenManager
	Queue     *queue.RedisQueue
	Sessions  *services.SessionServiceImpl
	Documents *services.DocumentServiceImpl
	Ingestion *services.IngestionServiceImpl
	Retrieval *services.RetrievalServiceImpl
}

// Build wires every component from cfg. Redis backs the session store,
// event bus, job queue and embedding cache when enabled; otherwise the
// in-memory store and local bus are used and ingestion runs inline.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*Components, error) {
	if log == nil {
		log = logger.Nop()
	}
	zl := *log.Logger
	c := &Components{Config: cfg, Logger: log, Metrics: m}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		c.Redis = client
		c.Store = adapters.NewRedisSessionStore(client, "rag", zl)
		c.Bus = events.NewRedisEventBus(client, nil, zl)
		if cfg.Worker.Enabled {
			c.Queue = queue.NewWithClient(client, &cfg.Worker, zl)
		}
	} else {
		c.Store = adapters.NewMemorySessionStore()
		c.Bus = events.NewLocalBus(zl)
	}

	vectors, err := vectorstore.New(ctx, &vectorstore.Config{
		Backend:        cfg.VectorStore.Backend,
		PersistPath:    cfg.VectorStore.PersistPath,
		Compress:       cfg.VectorStore.Compress,
		Collection:     cfg.VectorStore.Collection,
		WeaviateHost:   cfg.VectorStore.WeaviateHost,
		WeaviateScheme: cfg.VectorStore.WeaviateScheme,
		WeaviateAPIKey: cfg.VectorStore.WeaviateAPIKey,
		WeaviateClass:  cfg.VectorStore.WeaviateClass,
	}, zl)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("vector store: %w", err)
	}
	c.Vectors = vectors

	embedder, err := embedding.New(&embedding.Config{
		Provider:  cfg.Embedding.Provider,
		URL:       cfg.Embedding.URL,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		BatchSize: cfg.Embedding.BatchSize,
		Timeout:   cfg.Embedding.Timeout,
	}, m, zl)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("embedding: %w", err)
	}
	c.Embedding = embedder
	c.Embedder = embedder
	if cfg.Embedding.CacheEnabled && c.Redis != nil {
		vectorCache := cache.NewWithClient(c.Redis, &cache.CacheConfig{
			DefaultTTL: cfg.Embedding.CacheTTL,
			Namespace:  "rag",
		}, zl)
		c.Embedder = embedding.NewCachedEmbedder(embedder, vectorCache, embedder.Model(), cfg.Embedding.CacheTTL, m, zl)
	}

	if cfg.Security.TokensEnabled {
		c.Tokens, err = security.NewTokenManager(&security.TokenConfig{
			Secret:    cfg.Security.JWTSecret,
			Issuer:    cfg.Security.TokenIssuer,
			TTL:       cfg.Security.TokenTTL,
			ClockSkew: time.Minute,
		}, zl)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("session tokens: %w", err)
		}
	}

	c.Registry = textextractor.NewRegistry(textextractor.NewLoader(&textextractor.LoaderConfig{
		MaxFileSize:       cfg.Upload.MaxFileSize,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		AllowedMimeTypes:  cfg.Upload.AllowedMimeTypes,
	}), cfg.Session.TempRoot, zl)
	c.Chunker = chunking.NewChunker(c.Embedder)

	c.Sessions = services.NewSessionService(c.Store, c.Vectors, c.Bus, c.Tokens, cfg.Session, m, log)
	c.Documents = services.NewDocumentService(c.Sessions, c.Store, cfg.Upload, cfg.Session.TempRoot, m, log)

	deps := services.IngestionDeps{
		Store:     c.Store,
		Extractor: processors.NewDocumentProcessor(c.Registry, m, log),
		Chunker:   c.Chunker,
		Embedder:  c.Embedder,
		Vectors:   c.Vectors,
		Publisher: c.Bus,
		Metrics:   m,
		Logger:    log,
	}
	if c.Queue != nil {
		deps.Queue = adapters.NewQueueAdapter(c.Queue, m, log)
	}
	c.Ingestion = services.NewIngestionService(deps, cfg.ChunkingOptions(), resilience.RetryPolicy{
		MaxAttempts: cfg.Embedding.MaxAttempts,
		Backoff:     cfg.Embedding.RetryBackoff,
		MaxBackoff:  10 * cfg.Embedding.RetryBackoff,
	})
	c.Retrieval = services.NewRetrievalService(c.Sessions, c.Embedder, c.Vectors, cfg.Validation.MaxSearchLimit, log)

	return c, nil
}

// AsyncIngest reports whether uploads are handed to the worker queue
func (c *Components) AsyncIngest() bool {
	return c.Queue != nil
}

// Close releases the Redis connection
func (c *Components) Close() error {
	if c.Redis != nil {
		return c.Redis.Close()
	}
	return nil
}
