package ports

import (
	"context"

	"github.com/google/uuid"

	"rag-ingest/chunking"
	"rag-ingest/internal/core/domain"
)

// Primary Ports (inbound)

// SessionService manages upload sessions
type SessionService interface {
	CreateSession(ctx context.Context, userID, sessionID string) (*domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ValidateAccess(ctx context.Context, userID, sessionID string) (*domain.Session, error)
	ExpireSession(ctx context.Context, sessionID, reason string) error
	CleanupExpired(ctx context.Context) (int, error)
	ActiveSessions(ctx context.Context) (int, error)
}

// DocumentService stores uploads and their metadata
type DocumentService interface {
	Upload(ctx context.Context, userID, sessionID string, files []domain.Upload) (*domain.UploadResult, error)
	ListDocuments(ctx context.Context, userID, sessionID string) ([]*domain.Document, error)
	DeleteDocuments(ctx context.Context, sessionID uuid.UUID) error
}

// IngestionService runs the extract, chunk, embed and store pipeline
type IngestionService interface {
	RunUntilChunking(ctx context.Context, doc *domain.Document) (chunking.DocumentContent, error)
	Ingest(ctx context.Context, req domain.IngestionRequest) (*domain.IngestionResult, error)
	Submit(ctx context.Context, req domain.IngestionRequest) (*domain.IngestionJob, error)
	GetJob(ctx context.Context, jobID string) (*domain.IngestionJob, error)
}

// RetrievalService finds the chunks closest to a query within a session
type RetrievalService interface {
	Search(ctx context.Context, userID, sessionID, query string, limit int) ([]domain.SearchResult, error)
}

// Secondary Ports (outbound)

// SessionStore persists sessions and document metadata. Lookups of
// missing records return nil without an error.
type SessionStore interface {
	SaveSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)
	GetUserSession(ctx context.Context, userID uuid.UUID) (*domain.Session, error)
	IncrementDocumentCount(ctx context.Context, sessionID uuid.UUID, delta int) error
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
	ListSessions(ctx context.Context) ([]*domain.Session, error)

	SaveDocument(ctx context.Context, doc *domain.Document) error
	GetDocument(ctx context.Context, sessionID, documentID uuid.UUID) (*domain.Document, error)
	ListDocuments(ctx context.Context, sessionID uuid.UUID) ([]*domain.Document, error)
	DeleteDocuments(ctx context.Context, sessionID uuid.UUID) error

	Ping(ctx context.Context) error
}

// VectorStore keeps chunk vectors with their metadata, scoped by session
type VectorStore interface {
	Upsert(ctx context.Context, chunks []chunking.ChunkMetadata, vectors [][]float32) error
	Search(ctx context.Context, sessionID uuid.UUID, vector []float32, limit int) ([]domain.SearchResult, error)
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
	DeleteDocument(ctx context.Context, sessionID, documentID uuid.UUID) error
	Ping(ctx context.Context) error
	Name() string
}

// Embedder turns texts into vectors
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Extractor produces the chunker input for a stored document
type Extractor interface {
	Extract(ctx context.Context, path string, sessionID, documentID uuid.UUID) (chunking.DocumentContent, error)
}

// Queue carries ingestion jobs to workers
type Queue interface {
	Enqueue(ctx context.Context, job *domain.IngestionJob) error
	GetJob(ctx context.Context, jobID string) (*domain.IngestionJob, error)
	GetQueueStats(ctx context.Context) (*domain.QueueStats, error)
}
