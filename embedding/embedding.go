package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/embeddings"

	apperrors "rag-ingest/pkg/errors"
	"rag-ingest/pkg/metrics"
)

// Provider names accepted in configuration
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Embedder turns texts into vectors. It matches the shape of
// langchaingo's embeddings.Embedder.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config holds embedding backend configuration
type Config struct {
	Provider      string        `json:"provider"`
	URL           string        `json:"url"`
	APIKey        string        `json:"-"`
	Model         string        `json:"model"`
	BatchSize     int           `json:"batch_size"`
	Timeout       time.Duration `json:"timeout"`
	StripNewLines bool          `json:"strip_new_lines"`
}

// DefaultModel returns the provider's own name for its default embedding
// model, or "" for an unknown provider.
func DefaultModel(provider string) string {
	switch strings.ToLower(provider) {
	case ProviderOllama, "":
		return "bge-m3"
	case ProviderOpenAI:
		return "text-embedding-3-small"
	}
	return ""
}

// DefaultConfig returns a local Ollama configuration
func DefaultConfig() *Config {
	return &Config{
		Provider:  ProviderOllama,
		URL:       "http://localhost:11434/api",
		Model:     DefaultModel(ProviderOllama),
		BatchSize: 32,
		Timeout:   60 * time.Second,
	}
}

// Service batches texts through a provider client, normalises the
// vectors and maps transport failures to EMBEDDING_UNAVAILABLE.
type Service struct {
	impl    *embeddings.EmbedderImpl
	config  *Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a Service for the configured provider
func New(config *Config, m *metrics.Metrics, logger zerolog.Logger) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var client embeddings.EmbedderClient
	switch strings.ToLower(config.Provider) {
	case ProviderOllama, "":
		client = NewOllamaClient(config.Model, config.URL)
	case ProviderOpenAI:
		client = NewOpenAIClient(config.APIKey, config.URL, config.Model)
	default:
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("unknown embedding provider %q", config.Provider))
	}
	return NewWithClient(client, config, m, logger)
}

// NewWithClient wraps an arbitrary client, used for custom backends and tests
func NewWithClient(client embeddings.EmbedderClient, config *Config, m *metrics.Metrics, logger zerolog.Logger) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}

	impl, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(config.BatchSize),
		embeddings.WithStripNewLines(config.StripNewLines),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return &Service{
		impl:    impl,
		config:  config,
		metrics: m,
		logger:  logger.With().Str("component", "embedding").Str("provider", config.Provider).Logger(),
	}, nil
}

// Model returns the configured model name
func (s *Service) Model() string { return s.config.Model }

// Provider returns the configured provider name
func (s *Service) Provider() string { return s.config.Provider }

// EmbedDocuments embeds texts in order. Empty input returns an empty result
// without contacting the backend.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	// the langchaingo embedder rewrites its input slice when stripping newlines
	input := append([]string(nil), texts...)

	start := time.Now()
	vectors, err := s.impl.EmbedDocuments(ctx, input)
	if err != nil {
		s.record("error", start)
		s.logger.Error().Err(err).Int("texts", len(texts)).Msg("Embedding request failed")
		return nil, apperrors.NewEmbeddingError(err, "embedding backend request failed").
			WithContext("provider", s.config.Provider).
			WithContext("model", s.config.Model)
	}
	if len(vectors) != len(texts) {
		s.record("error", start)
		return nil, apperrors.NewEmbeddingError(nil,
			fmt.Sprintf("embedding backend returned %d vectors for %d texts", len(vectors), len(texts)))
	}

	for i := range vectors {
		vectors[i] = Normalize(vectors[i])
	}
	s.record("success", start)
	return vectors, nil
}

// EmbedQuery embeds a single query text
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Ping embeds a short probe text
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.EmbedQuery(ctx, "ping")
	return err
}

func (s *Service) record(status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordEmbedding(s.config.Provider, status, time.Since(start))
	}
}

// Normalize scales v to unit L2 length. Zero vectors are returned as is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
