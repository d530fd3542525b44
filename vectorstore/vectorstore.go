package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rag-ingest/chunking"
	"rag-ingest/internal/core/domain"
	apperrors "rag-ingest/pkg/errors"
)

// Backend names accepted in configuration
const (
	BackendChromem  = "chromem"
	BackendWeaviate = "weaviate"
)

// Config holds vector store configuration
type Config struct {
	Backend        string `json:"backend"`
	PersistPath    string `json:"persist_path"`
	Compress       bool   `json:"compress"`
	Collection     string `json:"collection"`
	WeaviateHost   string `json:"weaviate_host"`
	WeaviateScheme string `json:"weaviate_scheme"`
	WeaviateAPIKey string `json:"-"`
	WeaviateClass  string `json:"weaviate_class"`
}

// DefaultConfig returns an embedded chromem store under ./data/vectors
func DefaultConfig() *Config {
	return &Config{
		Backend:        BackendChromem,
		PersistPath:    "./data/vectors",
		Collection:     "rag_chunks",
		WeaviateHost:   "localhost:8080",
		WeaviateScheme: "http",
		WeaviateClass:  "RagChunk",
	}
}

// Store is the contract shared by every backend
type Store interface {
	Upsert(ctx context.Context, chunks []chunking.ChunkMetadata, vectors [][]float32) error
	Search(ctx context.Context, sessionID uuid.UUID, vector []float32, limit int) ([]domain.SearchResult, error)
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
	DeleteDocument(ctx context.Context, sessionID, documentID uuid.UUID) error
	Ping(ctx context.Context) error
	Name() string
}

// New opens the configured backend
func New(ctx context.Context, config *Config, logger zerolog.Logger) (Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	switch strings.ToLower(config.Backend) {
	case BackendChromem, "":
		return NewChromemStore(config, logger)
	case BackendWeaviate:
		return NewWeaviateStore(ctx, config, logger)
	default:
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("unknown vector store backend %q", config.Backend))
	}
}

// Payload keys stored with every vector
const (
	keyChunkID        = "chunk_id"
	keySessionID      = "session_id"
	keyDocumentID     = "document_id"
	keyPage           = "page"
	keyChunkIndex     = "chunk_index"
	keyText           = "text"
	keyImageRefs      = "image_refs"
	keyEmbeddingModel = "embedding_model"
)

func checkLengths(chunks []chunking.ChunkMetadata, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return apperrors.Newf(apperrors.ProcessingError, apperrors.CodeVectorMismatch,
			"got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	return nil
}

func encodeImageRefs(refs []chunking.ImageRef) (string, error) {
	if refs == nil {
		refs = []chunking.ImageRef{}
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("encode image refs: %w", err)
	}
	return string(data), nil
}

func decodeImageRefs(raw string) []chunking.ImageRef {
	refs := []chunking.ImageRef{}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &refs)
	}
	return refs
}

func storeError(err error, op, backend string) error {
	return apperrors.NewVectorStoreError(err, op+" failed").WithContext("backend", backend)
}
