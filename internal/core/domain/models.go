package domain

import (
	"io"
	"time"

	"github.com/google/uuid"

	"rag-ingest/chunking"
)

// Session is a user's upload workspace. Documents, images and vectors
// belong to exactly one session and are removed with it.
type Session struct {
	SessionID     uuid.UUID `json:"session_id"`
	UserID        uuid.UUID `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	DocumentCount int       `json:"document_count"`
	Token         string    `json:"token,omitempty"`
}

// IsExpired reports whether the session is past its expiry at now
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// DocumentStatus represents the ingestion status of an uploaded document
type DocumentStatus string

const (
	DocumentStatusUploaded   DocumentStatus = "uploaded"
	DocumentStatusQueued     DocumentStatus = "queued"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusIngested   DocumentStatus = "ingested"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document is the stored metadata of one uploaded file
type Document struct {
	SessionID    uuid.UUID      `json:"session_id"`
	DocumentID   uuid.UUID      `json:"document_id"`
	DocumentName string         `json:"document_name"`
	DocumentHash string         `json:"document_hash"`
	UploadedAt   time.Time      `json:"uploaded_at"`
	FileSize     int64          `json:"file_size"`
	Status       DocumentStatus `json:"status"`
	Path         string         `json:"-"`
	Extension    string         `json:"extension"`
	ChunkCount   int            `json:"chunk_count"`
	ImageCount   int            `json:"image_count"`
	JobID        string         `json:"job_id,omitempty"`
	Error        string         `json:"error,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Upload is one file of an upload request
type Upload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// UploadError describes a file rejected during upload
type UploadError struct {
	Filename string `json:"filename"`
	Code     string `json:"code"`
	Error    string `json:"error"`
}

// UploadResult lists the stored documents and the rejected files
type UploadResult struct {
	Documents []*Document   `json:"documents"`
	Errors    []UploadError `json:"errors"`
}

// IngestionRequest asks for one uploaded document to be ingested
type IngestionRequest struct {
	SessionID  uuid.UUID         `json:"session_id"`
	DocumentID uuid.UUID         `json:"document_id"`
	Options    *chunking.Options `json:"options,omitempty"`
}

// IngestionResult summarises a finished pipeline run
type IngestionResult struct {
	SessionID      uuid.UUID                `json:"session_id"`
	DocumentID     uuid.UUID                `json:"document_id"`
	ChunkCount     int                      `json:"chunk_count"`
	ImageCount     int                      `json:"image_count"`
	EmbeddingModel string                   `json:"embedding_model"`
	Duration       time.Duration            `json:"duration"`
	Chunks         []chunking.ChunkMetadata `json:"chunks,omitempty"`
}

// SearchResult is one retrieved chunk and its similarity to the query
type SearchResult struct {
	Chunk chunking.ChunkMetadata `json:"chunk"`
	Score float32                `json:"score"`
}

// JobStatus represents the job processing status
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// IngestionJob is the queued form of an IngestionRequest
type IngestionJob struct {
	ID          string                 `json:"id"`
	Request     IngestionRequest       `json:"request"`
	Status      JobStatus              `json:"status"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// QueueStats represents queue statistics
type QueueStats struct {
	QueueName   string    `json:"queue_name"`
	PendingJobs int64     `json:"pending_jobs"`
	Timestamp   time.Time `json:"timestamp"`
}
