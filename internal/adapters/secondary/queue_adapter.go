package adapters

import (
	"context"

	"rag-ingest/internal/core/domain"
	"rag-ingest/internal/core/ports"
	"rag-ingest/pkg/logger"
	"rag-ingest/pkg/metrics"
	"rag-ingest/queue"
)

// QueueAdapter exposes the Redis queue as ports.Queue and records queue
// metrics for every operation.
type QueueAdapter struct {
	redisQueue *queue.RedisQueue
	metrics    *metrics.Metrics
	logger     *logger.Logger
}

// NewQueueAdapter creates a new queue adapter
func NewQueueAdapter(redisQueue *queue.RedisQueue, m *metrics.Metrics, log *logger.Logger) ports.Queue {
	return &QueueAdapter{
		redisQueue: redisQueue,
		metrics:    m,
		logger:     log,
	}
}

func (q *QueueAdapter) Enqueue(ctx context.Context, job *domain.IngestionJob) error {
	err := q.redisQueue.Enqueue(ctx, job)

	status := "enqueued"
	if err != nil {
		status = "enqueue_failed"
	}
	if q.metrics != nil {
		q.metrics.RecordQueueOperation(q.redisQueue.Name(), status)
	}
	if q.logger != nil && err == nil {
		q.logger.LogQueueOperation(ctx, "enqueue", q.redisQueue.Name(), 1)
	}
	return err
}

func (q *QueueAdapter) GetJob(ctx context.Context, jobID string) (*domain.IngestionJob, error) {
	return q.redisQueue.GetJob(ctx, jobID)
}

func (q *QueueAdapter) GetQueueStats(ctx context.Context) (*domain.QueueStats, error) {
	stats, err := q.redisQueue.GetQueueStats(ctx)
	if err != nil {
		return nil, err
	}
	if q.metrics != nil {
		q.metrics.SetQueueSize(stats.QueueName, float64(stats.PendingJobs))
	}
	return stats, nil
}
