package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-ingest/internal/core/domain"
	apperrors "rag-ingest/pkg/errors"
	"rag-ingest/pkg/metrics"
	"rag-ingest/queue"
)

// chanSource serves jobs from a channel and records how they ended
type chanSource struct {
	jobs chan *domain.IngestionJob

	mu        sync.Mutex
	completed map[string]map[string]interface{}
	failed    map[string]bool
	done      chan string
}

func newChanSource() *chanSource {
	return &chanSource{
		jobs:      make(chan *domain.IngestionJob, 16),
		completed: make(map[string]map[string]interface{}),
		failed:    make(map[string]bool),
		done:      make(chan string, 16),
	}
}

func (s *chanSource) Name() string { return "test_queue" }

func (s *chanSource) Dequeue(ctx context.Context) (*domain.IngestionJob, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job := <-s.jobs:
		return job, nil
	case <-time.After(20 * time.Millisecond):
		return nil, queue.ErrNoJob
	}
}

func (s *chanSource) CompleteJob(_ context.Context, jobID string, result map[string]interface{}) error {
	s.mu.Lock()
	s.completed[jobID] = result
	s.mu.Unlock()
	s.done <- jobID
	return nil
}

func (s *chanSource) FailJob(_ context.Context, jobID string, _ string, retryable bool) (bool, error) {
	s.mu.Lock()
	s.failed[jobID] = retryable
	s.mu.Unlock()
	s.done <- jobID
	return retryable, nil
}

func (s *chanSource) GetQueueStats(context.Context) (*domain.QueueStats, error) {
	return &domain.QueueStats{QueueName: s.Name(), PendingJobs: int64(len(s.jobs))}, nil
}

type funcProcessor func(ctx context.Context, req domain.IngestionRequest) (*domain.IngestionResult, error)

func (f funcProcessor) Ingest(ctx context.Context, req domain.IngestionRequest) (*domain.IngestionResult, error) {
	return f(ctx, req)
}

func newJob() *domain.IngestionJob {
	return &domain.IngestionJob{
		ID:      uuid.NewString(),
		Request: domain.IngestionRequest{SessionID: uuid.New(), DocumentID: uuid.New()},
	}
}

func waitDone(t *testing.T, source *chanSource, n int) []string {
	t.Helper()
	var ids []string
	for len(ids) < n {
		select {
		case id := <-source.done:
			ids = append(ids, id)
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d jobs finished", len(ids), n)
		}
	}
	return ids
}

func TestWorker(t *testing.T) {
	t.Run("start and stop", func(t *testing.T) {
		w := NewWorker(newChanSource(), funcProcessor(nil), nil, nil)
		assert.NotEmpty(t, w.ID())
		assert.False(t, w.IsRunning())

		w.Start()
		w.Start()
		assert.True(t, w.IsRunning())

		w.Stop()
		assert.False(t, w.IsRunning())
		w.Stop()
	})

	t.Run("completes jobs", func(t *testing.T) {
		source := newChanSource()
		processor := funcProcessor(func(_ context.Context, req domain.IngestionRequest) (*domain.IngestionResult, error) {
			return &domain.IngestionResult{
				SessionID:      req.SessionID,
				DocumentID:     req.DocumentID,
				ChunkCount:     4,
				EmbeddingModel: "BAAI/bge-m3",
			}, nil
		})
		w := NewWorker(source, processor, nil, nil)
		w.Start()
		defer w.Stop()

		job := newJob()
		source.jobs <- job
		waitDone(t, source, 1)

		source.mu.Lock()
		defer source.mu.Unlock()
		result := source.completed[job.ID]
		require.NotNil(t, result)
		assert.Equal(t, 4, result["chunk_count"])
		assert.Equal(t, job.Request.DocumentID.String(), result["document_id"])
	})

	t.Run("outages are retried", func(t *testing.T) {
		source := newChanSource()
		processor := funcProcessor(func(context.Context, domain.IngestionRequest) (*domain.IngestionResult, error) {
			return nil, apperrors.NewEmbeddingError(errors.New("refused"), "embedding request failed")
		})
		w := NewWorker(source, processor, nil, nil)
		w.Start()
		defer w.Stop()

		job := newJob()
		source.jobs <- job
		waitDone(t, source, 1)

		source.mu.Lock()
		defer source.mu.Unlock()
		assert.True(t, source.failed[job.ID])
	})

	t.Run("bad requests are not retried", func(t *testing.T) {
		source := newChanSource()
		processor := funcProcessor(func(_ context.Context, req domain.IngestionRequest) (*domain.IngestionResult, error) {
			return nil, apperrors.NewNoChunksError(req.DocumentID.String())
		})
		w := NewWorker(source, processor, nil, nil)
		w.Start()
		defer w.Stop()

		job := newJob()
		source.jobs <- job
		waitDone(t, source, 1)

		source.mu.Lock()
		defer source.mu.Unlock()
		retryable, ok := source.failed[job.ID]
		require.True(t, ok)
		assert.False(t, retryable)
	})
}

func TestPermanent(t *testing.T) {
	assert.True(t, permanent(apperrors.NewValidationError("bad")))
	assert.True(t, permanent(apperrors.NewNotFoundError("document")))
	assert.False(t, permanent(apperrors.NewEmbeddingError(nil, "down")))
	assert.False(t, permanent(errors.New("plain")))
}

func TestPool(t *testing.T) {
	source := newChanSource()
	var mu sync.Mutex
	seen := map[uuid.UUID]bool{}
	processor := funcProcessor(func(_ context.Context, req domain.IngestionRequest) (*domain.IngestionResult, error) {
		mu.Lock()
		seen[req.DocumentID] = true
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return &domain.IngestionResult{SessionID: req.SessionID, DocumentID: req.DocumentID}, nil
	})

	m := metrics.NewWithRegistry(prometheus.NewRegistry(), "test", "worker")
	pool := NewPool(source, processor, PoolConfig{Workers: 3, CheckInterval: 10 * time.Millisecond}, m, nil)
	pool.Start(context.Background())
	assert.Equal(t, 3, pool.Size())

	for i := 0; i < 8; i++ {
		source.jobs <- newJob()
	}
	waitDone(t, source, 8)

	pool.Stop()
	assert.Equal(t, 0, pool.Size())
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 8)
}
