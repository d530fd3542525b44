package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"rag-ingest/internal/core/domain"
	apperrors "rag-ingest/pkg/errors"
	"rag-ingest/pkg/logger"
	"rag-ingest/pkg/metrics"
	"rag-ingest/queue"
)

// JobSource is the queue side a worker consumes. *queue.RedisQueue
// implements it.
type JobSource interface {
	Name() string
	Dequeue(ctx context.Context) (*domain.IngestionJob, error)
	CompleteJob(ctx context.Context, jobID string, result map[string]interface{}) error
	FailJob(ctx context.Context, jobID string, errorMsg string, retryable bool) (bool, error)
	GetQueueStats(ctx context.Context) (*domain.QueueStats, error)
}

// Processor runs one ingestion request
type Processor interface {
	Ingest(ctx context.Context, req domain.IngestionRequest) (*domain.IngestionResult, error)
}

var _ JobSource = (*queue.RedisQueue)(nil)

// Worker pulls ingestion jobs from the queue and runs them one at a time
type Worker struct {
	id        string
	source    JobSource
	processor Processor
	metrics   *metrics.Metrics
	logger    *logger.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	isRunning    bool
	runningMutex sync.RWMutex
	errorBackoff time.Duration
}

// NewWorker creates a stopped worker
func NewWorker(source JobSource, processor Processor, m *metrics.Metrics, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		id:           uuid.New().String(),
		source:       source,
		processor:    processor,
		metrics:      m,
		logger:       log,
		ctx:          ctx,
		cancel:       cancel,
		errorBackoff: time.Second,
	}
}

// ID returns the worker id
func (w *Worker) ID() string { return w.id }

func (w *Worker) Start() {
	w.runningMutex.Lock()
	defer w.runningMutex.Unlock()

	if w.isRunning {
		return
	}
	w.isRunning = true
	w.logger.Info().Str("worker_id", w.id).Msg("Worker starting")

	w.wg.Add(1)
	go w.workerRoutine()
}

// Stop cancels polling and waits for the job in flight to finish
func (w *Worker) Stop() {
	w.runningMutex.Lock()
	if !w.isRunning {
		w.runningMutex.Unlock()
		return
	}
	w.isRunning = false
	w.runningMutex.Unlock()

	w.cancel()
	w.wg.Wait()
	w.logger.Info().Str("worker_id", w.id).Msg("Worker stopped")
}

func (w *Worker) IsRunning() bool {
	w.runningMutex.RLock()
	defer w.runningMutex.RUnlock()
	return w.isRunning
}

func (w *Worker) workerRoutine() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		job, err := w.source.Dequeue(w.ctx)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrNoJob) {
				continue
			}
			w.logger.Error().Err(err).Str("worker_id", w.id).Msg("Failed to dequeue job")
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(w.errorBackoff):
			}
			continue
		}

		w.processJob(job)
	}
}

// processJob runs the job to completion. It uses a fresh context so a
// shutdown does not abort a document half way through the pipeline.
func (w *Worker) processJob(job *domain.IngestionJob) {
	ctx := logger.WithCorrelationID(context.Background())
	start := time.Now()

	w.logger.Info().
		Str("worker_id", w.id).
		Str("job_id", job.ID).
		Str("document_id", job.Request.DocumentID.String()).
		Int("attempt", job.RetryCount+1).
		Msg("Processing ingestion job")

	result, err := w.processor.Ingest(ctx, job.Request)
	if err != nil {
		w.fail(ctx, job, err)
		return
	}

	payload := map[string]interface{}{
		"session_id":      result.SessionID.String(),
		"document_id":     result.DocumentID.String(),
		"chunk_count":     result.ChunkCount,
		"image_count":     result.ImageCount,
		"embedding_model": result.EmbeddingModel,
		"duration_ms":     result.Duration.Milliseconds(),
	}
	if err := w.source.CompleteJob(ctx, job.ID, payload); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job completed")
	}
	if w.metrics != nil {
		w.metrics.RecordQueueOperation(w.source.Name(), "completed")
	}

	w.logger.Info().
		Str("worker_id", w.id).
		Str("job_id", job.ID).
		Int("chunk_count", result.ChunkCount).
		Dur("duration", time.Since(start)).
		Msg("Ingestion job completed")
}

// fail reports the error to the queue. Errors caused by the request itself
// fail the job without another attempt.
func (w *Worker) fail(ctx context.Context, job *domain.IngestionJob, jobErr error) {
	retried, err := w.source.FailJob(ctx, job.ID, jobErr.Error(), !permanent(jobErr))
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job failed")
	}

	status := "failed"
	if retried {
		status = "retrying"
	}
	if w.metrics != nil {
		w.metrics.RecordQueueOperation(w.source.Name(), status)
	}
	w.logger.Warn().
		Err(jobErr).
		Str("worker_id", w.id).
		Str("job_id", job.ID).
		Bool("retrying", retried).
		Msg("Ingestion job failed")
}

func permanent(err error) bool {
	appErr, ok := apperrors.As(err)
	if !ok {
		return false
	}
	switch appErr.Type {
	case apperrors.ValidationError, apperrors.NotFoundError, apperrors.ProcessingError:
		return true
	}
	return false
}
