package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"rag-ingest/config"
	"rag-ingest/health"
	"rag-ingest/internal/adapters/primary/http"
	"rag-ingest/internal/bootstrap"
	"rag-ingest/pkg/events"
	"rag-ingest/pkg/logger"
	"rag-ingest/pkg/metrics"
	"rag-ingest/pkg/validator"
	"rag-ingest/worker"
)

func loadConfig() (*config.Config, *config.Manager) {
	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "config.json"
	}

	manager := config.NewManager(os.Getenv("ENVIRONMENT"))
	if err := manager.LoadFromFile(configFile); err != nil {
		fmt.Printf("⚠️  Config file not loaded, using environment: %v\n", err)
		if err := manager.LoadFromEnv(); err != nil {
			fmt.Printf("❌ Invalid configuration: %v\n", err)
			os.Exit(1)
		}
		return manager.GetConfig(), nil
	}
	return manager.GetConfig(), manager
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, configManager := loadConfig()

	if err := logger.Init(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		Filename:   cfg.Logging.Filename,
		TimeFormat: cfg.Logging.TimeFormat,
	}); err != nil {
		fmt.Printf("❌ Failed to initialize structured logger: %v, using default\n", err)
	}

	log := logger.Get()
	ctx := logger.WithCorrelationID(context.Background())

	log.FromContext(ctx).Info().Msg("🚀 Starting rag-ingest server")
	log.FromContext(ctx).Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Str("embedding_provider", cfg.Embedding.Provider).
		Str("vector_store", cfg.VectorStore.Backend).
		Bool("redis", cfg.Redis.Enabled).
		Bool("config_hot_reload", configManager != nil).
		Msg("📍 Configuration loaded")

	if configManager != nil {
		configManager.AddWatcher(func(oldConfig, newConfig *config.Config) error {
			if oldConfig.Logging.Level == newConfig.Logging.Level {
				return nil
			}
			level, err := zerolog.ParseLevel(newConfig.Logging.Level)
			if err != nil {
				return err
			}
			zerolog.SetGlobalLevel(level)
			log.FromContext(ctx).Info().Str("level", newConfig.Logging.Level).Msg("🔄 Log level reloaded")
			return nil
		})
		if err := configManager.StartWatching(); err != nil {
			log.FromContext(ctx).Warn().Err(err).Msg("⚠️  Config hot-reload disabled")
		} else {
			defer configManager.StopWatching()
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.Init(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
		log.FromContext(ctx).Info().
			Str("port", cfg.Metrics.Port).
			Str("path", cfg.Metrics.Path).
			Msg("📊 Metrics initialized")
	}

	validatorConfig := validator.DefaultConfig()
	validatorConfig.MaxFileSize = cfg.Upload.MaxFileSize
	validatorConfig.MinFileSize = cfg.Validation.MinFileSize
	validatorConfig.AllowedExtensions = cfg.Upload.AllowedExtensions
	validatorConfig.MaxChunkSize = cfg.Validation.MaxChunkSize
	validatorConfig.MinChunkSize = cfg.Validation.MinChunkSize
	validatorConfig.MaxChunkOverlap = cfg.Validation.MaxChunkOverlap
	validator.Init(validatorConfig)
	log.FromContext(ctx).Info().Msg("✅ Input validation initialized")

	components, err := bootstrap.Build(ctx, cfg, log, m)
	if err != nil {
		log.FromContext(ctx).Fatal().Err(err).Msg("❌ Failed to initialize ingestion pipeline")
	}
	defer components.Close()

	if configManager != nil {
		configManager.AddWatcher(func(oldConfig, newConfig *config.Config) error {
			if oldConfig.ChunkingOptions() == newConfig.ChunkingOptions() {
				return nil
			}
			if err := components.Ingestion.SetDefaults(newConfig.ChunkingOptions()); err != nil {
				return err
			}
			log.FromContext(ctx).Info().
				Str("strategy", newConfig.Chunking.Strategy).
				Int("chunk_size", newConfig.Chunking.ChunkSize).
				Msg("🔄 Chunking defaults reloaded")
			return nil
		})
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	components.Bus.Subscribe(events.DocumentFailedEvent, events.HandlerFunc(func(_ context.Context, e *events.Event) error {
		log.FromContext(ctx).Warn().
			Str("session_id", e.SessionID).
			Str("document_id", e.DocumentID).
			Interface("error", e.Data["error"]).
			Msg("⚠️  Document ingestion failed")
		return nil
	}))
	if err := components.Bus.Start(runCtx); err != nil {
		log.FromContext(ctx).Fatal().Err(err).Msg("❌ Failed to start event bus")
	}
	defer components.Bus.Stop()

	var pool *worker.Pool
	if components.Queue != nil {
		pool = worker.NewPool(components.Queue, components.Ingestion, worker.PoolConfig{
			Workers: cfg.Worker.MaxConcurrency,
		}, m, log)
		pool.Start(runCtx)
		log.FromContext(ctx).Info().
			Int("workers", pool.Size()).
			Str("queue", cfg.Worker.QueueName).
			Msg("👷 Worker pool started")
	}

	go components.Sessions.RunCleanup(runCtx, cfg.Session.CleanupInterval)

	checker := health.NewHealthChecker(cfg.Health, cfg.Server.Environment, components.Sessions)
	checker.AddCheck("session_store", components.Store, true)
	checker.AddCheck("vector_store", components.Vectors, true)
	checker.AddCheck("embedding", components.Embedding, false)
	if components.Queue != nil {
		checker.AddCheck("queue", components.Queue, false)
	}

	handler := http.NewHandler(http.HandlerConfig{
		Sessions:     components.Sessions,
		Documents:    components.Documents,
		Ingestion:    components.Ingestion,
		Retrieval:    components.Retrieval,
		Chunker:      components.Chunker,
		Defaults:     cfg.ChunkingOptions(),
		Health:       checker,
		Tokens:       components.Tokens,
		RequireToken: cfg.Security.RequireToken,
		Validator:    validator.Get(),
		AsyncIngest:  components.AsyncIngest(),
		Logger:       log,
	})
	app := http.NewApp(handler, http.AppConfig{
		Server:           cfg.Server,
		Security:         cfg.Security,
		EnableStackTrace: !cfg.IsProduction(),
		Logger:           log,
		Metrics:          m,
	})

	var metricsApp *fiber.App
	if cfg.Metrics.Enabled {
		metricsApp = fiber.New(fiber.Config{DisableStartupMessage: true})
		metricsApp.Get(cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))

		go func() {
			log.FromContext(ctx).Info().
				Str("port", cfg.Metrics.Port).
				Msg("📊 Metrics server starting")

			if err := metricsApp.Listen(":" + cfg.Metrics.Port); err != nil {
				log.FromContext(ctx).Error().Err(err).Msg("❌ Failed to start metrics server")
			}
		}()
	}

	go func() {
		log.FromContext(ctx).Info().
			Str("port", cfg.Server.Port).
			Bool("async_ingest", components.AsyncIngest()).
			Msg("🌐 HTTP Server starting")

		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.FromContext(ctx).Fatal().Err(err).Msg("❌ Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.FromContext(ctx).Info().Msg("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.FromContext(ctx).Error().Err(err).Msg("❌ Server shutdown error")
	}
	if metricsApp != nil {
		if err := metricsApp.ShutdownWithContext(shutdownCtx); err != nil {
			log.FromContext(ctx).Error().Err(err).Msg("❌ Metrics server shutdown error")
		}
	}

	cancelRun()
	if pool != nil {
		pool.Stop()
	}

	log.FromContext(ctx).Info().Msg("✅ Server stopped")
}
