package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"rag-ingest/chunking"
	"rag-ingest/config"
	"rag-ingest/embedding"
	"rag-ingest/internal/adapters/primary/cli"
	"rag-ingest/internal/bootstrap"
	"rag-ingest/pkg/logger"
	"rag-ingest/pkg/metrics"
	"rag-ingest/textextractor"
)

var version = "1.0.0"

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg := config.Load()

	// the CLI prints JSON on stdout, so logs go to stderr
	if err := logger.Init(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: cfg.Logging.TimeFormat,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to initialize logger: %v\n", err)
	}
	log := logger.Get()
	m := metrics.Init(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)

	registry := textextractor.NewRegistry(textextractor.NewLoader(&textextractor.LoaderConfig{
		MaxFileSize:       cfg.Upload.MaxFileSize,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		AllowedMimeTypes:  cfg.Upload.AllowedMimeTypes,
	}), cfg.Session.TempRoot, *log.Logger)

	cliHandler := cli.NewCLI(cli.Options{
		Config:   cfg,
		Registry: registry,
		Embedder: func() (chunking.Embedder, error) {
			return embedding.New(&embedding.Config{
				Provider:  cfg.Embedding.Provider,
				URL:       cfg.Embedding.URL,
				APIKey:    cfg.Embedding.APIKey,
				Model:     cfg.Embedding.Model,
				BatchSize: cfg.Embedding.BatchSize,
				Timeout:   cfg.Embedding.Timeout,
			}, m, *log.Logger)
		},
		Components: func(ctx context.Context) (*bootstrap.Components, error) {
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return bootstrap.Build(ctx, cfg, log, m)
		},
		Version: version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cliHandler.GetRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
