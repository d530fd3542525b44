package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"rag-ingest/chunking"
	"rag-ingest/internal/core/domain"
	"rag-ingest/internal/core/ports"
	apperrors "rag-ingest/pkg/errors"
	"rag-ingest/pkg/events"
	"rag-ingest/pkg/logger"
	"rag-ingest/pkg/metrics"
	"rag-ingest/pkg/resilience"
	"rag-ingest/utils"
)

// IngestionDeps holds the collaborators of the ingestion pipeline. Queue,
// Publisher, Metrics and Logger may be nil.
type IngestionDeps struct {
	Store     ports.SessionStore
	Extractor ports.Extractor
	Chunker   *chunking.Chunker
	Embedder  ports.Embedder
	Vectors   ports.VectorStore
	Queue     ports.Queue
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

// IngestionServiceImpl implements the IngestionService port: extract,
// chunk, embed and store one document.
type IngestionServiceImpl struct {
	IngestionDeps
	mu           sync.RWMutex
	defaults     chunking.Options
	retry        resilience.RetryPolicy
	embedBreaker *resilience.CircuitBreaker
	storeBreaker *resilience.CircuitBreaker
	now          func() time.Time
}

// NewIngestionService creates the pipeline. defaults apply to requests
// without chunking options; retry bounds the embedding and vector store
// calls.
func NewIngestionService(deps IngestionDeps, defaults chunking.Options, retry resilience.RetryPolicy) *IngestionServiceImpl {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if retry.Retryable == nil {
		retry.Retryable = retryable
	}
	zl := *deps.Logger.Logger
	return &IngestionServiceImpl{
		IngestionDeps: deps,
		defaults:      defaults,
		retry:         retry,
		embedBreaker:  resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig("embedding"), zl),
		storeBreaker:  resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig("vector_store"), zl),
		now:           time.Now,
	}
}

var _ ports.IngestionService = (*IngestionServiceImpl)(nil)

// Defaults returns the chunking options used for requests without options
func (s *IngestionServiceImpl) Defaults() chunking.Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

// SetDefaults replaces the default chunking options. Invalid options are
// rejected and the previous defaults stay in place.
func (s *IngestionServiceImpl) SetDefaults(opts chunking.Options) error {
	if _, _, err := opts.Resolve(); err != nil {
		return err
	}
	s.mu.Lock()
	s.defaults = opts
	s.mu.Unlock()
	return nil
}

// retryable keeps retries for backend outages; bad input fails at once.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if _, ok := apperrors.As(err); !ok {
		return true
	}
	return apperrors.IsType(err, apperrors.UnavailableError)
}

// RunUntilChunking extracts the stored file into chunker input
func (s *IngestionServiceImpl) RunUntilChunking(ctx context.Context, doc *domain.Document) (chunking.DocumentContent, error) {
	if doc == nil || doc.Path == "" {
		return chunking.DocumentContent{}, apperrors.NewValidationError("document has no stored file")
	}
	return s.Extractor.Extract(ctx, doc.Path, doc.SessionID, doc.DocumentID)
}

// Ingest runs the whole pipeline for one uploaded document and records the
// outcome on the document.
func (s *IngestionServiceImpl) Ingest(ctx context.Context, req domain.IngestionRequest) (*domain.IngestionResult, error) {
	start := s.now()
	ctx = logger.WithSessionID(ctx, req.SessionID.String())
	ctx = logger.WithDocumentID(ctx, req.DocumentID.String())

	doc, err := s.document(ctx, req.SessionID, req.DocumentID)
	if err != nil {
		return nil, err
	}

	opts := s.Defaults()
	if req.Options != nil {
		model := opts.EmbeddingModel
		opts = *req.Options
		if opts.EmbeddingModel == "" {
			opts.EmbeddingModel = model
		}
	}
	strategy, model, err := opts.Resolve()
	if err != nil {
		return nil, s.fail(ctx, doc, err)
	}

	s.setStatus(ctx, doc, domain.DocumentStatusProcessing, "")
	s.Logger.LogIngestionStart(ctx, doc.SessionID.String(), doc.DocumentID.String(), doc.DocumentName, string(strategy.Name()))

	content, err := s.RunUntilChunking(ctx, doc)
	if err != nil {
		return nil, s.fail(ctx, doc, err)
	}

	stageStart := s.now()
	chunks, err := s.Chunker.Chunk(ctx, content, doc.SessionID, doc.DocumentID, opts)
	if err != nil {
		return nil, s.fail(ctx, doc, err)
	}
	s.recordChunking(string(strategy.Name()), doc.DocumentName, s.now().Sub(stageStart), chunks)
	if len(chunks) == 0 {
		return nil, s.fail(ctx, doc, apperrors.NewNoChunksError(doc.DocumentID.String()))
	}

	stageStart = s.now()
	vectors, err := s.embed(ctx, chunking.Texts(chunks))
	if err != nil {
		return nil, s.fail(ctx, doc, err)
	}
	s.recordStage("embed", stageStart)

	stageStart = s.now()
	if err := s.replace(ctx, doc, chunks, vectors); err != nil {
		return nil, s.fail(ctx, doc, err)
	}
	s.recordStage("store", stageStart)

	duration := s.now().Sub(start)
	doc.ChunkCount = len(chunks)
	doc.ImageCount = len(content.Images)
	s.setStatus(ctx, doc, domain.DocumentStatusIngested, "")

	if s.Metrics != nil {
		s.Metrics.RecordIngestion(utils.DocumentType(doc.DocumentName), "success", doc.FileSize)
		s.Metrics.RecordVectorUpsert(s.Vectors.Name(), len(chunks))
	}
	s.publish(ctx, events.NewDocumentIngestedEvent(eventSource, doc.SessionID.String(), doc.DocumentID.String(), len(chunks), model))
	s.Logger.LogIngestionComplete(ctx, doc.SessionID.String(), doc.DocumentID.String(), len(chunks), duration)

	return &domain.IngestionResult{
		SessionID:      doc.SessionID,
		DocumentID:     doc.DocumentID,
		ChunkCount:     len(chunks),
		ImageCount:     len(content.Images),
		EmbeddingModel: model,
		Duration:       duration,
		Chunks:         chunks,
	}, nil
}

func (s *IngestionServiceImpl) document(ctx context.Context, sessionID, documentID uuid.UUID) (*domain.Document, error) {
	doc, err := s.Store.GetDocument(ctx, sessionID, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apperrors.New(apperrors.NotFoundError, apperrors.CodeDocumentNotFound, "document not found").
			WithContext("session_id", sessionID.String()).
			WithContext("document_id", documentID.String())
	}
	return doc, nil
}

func (s *IngestionServiceImpl) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := resilience.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.embedBreaker.Execute(func() error {
			var err error
			vectors, err = s.Embedder.EmbedDocuments(ctx, texts)
			return err
		})
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, apperrors.NewEmbeddingError(err, "embedding backend unavailable")
	}
	return vectors, err
}

// replace drops the document's previous chunks before storing the new ones,
// so a re-ingest that yields fewer chunks leaves nothing stale behind.
func (s *IngestionServiceImpl) replace(ctx context.Context, doc *domain.Document, chunks []chunking.ChunkMetadata, vectors [][]float32) error {
	err := resilience.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.storeBreaker.Execute(func() error {
			if err := s.Vectors.DeleteDocument(ctx, doc.SessionID, doc.DocumentID); err != nil {
				return err
			}
			return s.Vectors.Upsert(ctx, chunks, vectors)
		})
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return apperrors.NewVectorStoreError(err, "vector store unavailable")
	}
	return err
}

func (s *IngestionServiceImpl) fail(ctx context.Context, doc *domain.Document, err error) error {
	s.setStatus(ctx, doc, domain.DocumentStatusFailed, err.Error())
	if s.Metrics != nil {
		s.Metrics.RecordIngestion(utils.DocumentType(doc.DocumentName), "failed", doc.FileSize)
	}
	s.publish(ctx, events.NewDocumentFailedEvent(eventSource, doc.SessionID.String(), doc.DocumentID.String(), err))
	s.Logger.LogError(ctx, err, "Ingestion failed", map[string]interface{}{
		"session_id":  doc.SessionID.String(),
		"document_id": doc.DocumentID.String(),
	})
	return err
}

func (s *IngestionServiceImpl) setStatus(ctx context.Context, doc *domain.Document, status domain.DocumentStatus, msg string) {
	doc.Status = status
	doc.Error = msg
	doc.UpdatedAt = s.now().UTC()
	if err := s.Store.SaveDocument(ctx, doc); err != nil {
		s.Logger.LogError(ctx, err, "Failed to update document status", map[string]interface{}{
			"document_id": doc.DocumentID.String(),
			"status":      string(status),
		})
	}
}

// Submit queues the document for a worker. Without a queue it fails.
func (s *IngestionServiceImpl) Submit(ctx context.Context, req domain.IngestionRequest) (*domain.IngestionJob, error) {
	if s.Queue == nil {
		return nil, apperrors.NewQueueError("ingestion queue is not configured")
	}

	doc, err := s.document(ctx, req.SessionID, req.DocumentID)
	if err != nil {
		return nil, err
	}

	job := &domain.IngestionJob{
		ID:      uuid.NewString(),
		Request: req,
	}
	if err := s.Queue.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	doc.JobID = job.ID
	s.setStatus(ctx, doc, domain.DocumentStatusQueued, "")
	return job, nil
}

// GetJob returns a queued job's status
func (s *IngestionServiceImpl) GetJob(ctx context.Context, jobID string) (*domain.IngestionJob, error) {
	if s.Queue == nil {
		return nil, apperrors.New(apperrors.NotFoundError, apperrors.CodeJobNotFound, "job not found").
			WithContext("job_id", jobID)
	}
	return s.Queue.GetJob(ctx, jobID)
}

func (s *IngestionServiceImpl) publish(ctx context.Context, event *events.Event) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, event); err != nil {
		s.Logger.LogError(ctx, err, "Failed to publish event", map[string]interface{}{
			"event_type": string(event.Type),
		})
	}
}

func (s *IngestionServiceImpl) recordStage(stage string, start time.Time) {
	if s.Metrics != nil {
		s.Metrics.RecordStage(stage, s.now().Sub(start))
	}
}

func (s *IngestionServiceImpl) recordChunking(strategy, filename string, d time.Duration, chunks []chunking.ChunkMetadata) {
	if s.Metrics == nil || len(chunks) == 0 {
		return
	}
	total := 0
	for _, c := range chunks {
		total += len([]rune(c.Text))
	}
	s.Metrics.RecordChunking(strategy, utils.DocumentType(filename), d, len(chunks), float64(total)/float64(len(chunks)))
}
