package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"rag-ingest/config"
	"rag-ingest/internal/core/domain"
	apperrors "rag-ingest/pkg/errors"
)

// ErrNoJob is returned by Dequeue when the poll timed out without a job
var ErrNoJob = errors.New("no job available")

// RedisQueue carries ingestion jobs over a Redis list. Job records live
// under job:{id} so their status can be read while the job is in flight.
type RedisQueue struct {
	client redis.UniversalClient
	config *config.WorkerConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewWithClient creates a queue over an existing client
func NewWithClient(client redis.UniversalClient, workerConfig *config.WorkerConfig, logger zerolog.Logger) *RedisQueue {
	cfg := *workerConfig
	if cfg.QueueName == "" {
		cfg.QueueName = "ingestion_queue"
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 24 * time.Hour
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	return &RedisQueue{
		client: client,
		config: &cfg,
		logger: logger.With().Str("component", "queue").Str("queue", cfg.QueueName).Logger(),
		now:    time.Now,
	}
}

// Name returns the Redis list name
func (q *RedisQueue) Name() string {
	return q.config.QueueName
}

func jobKey(jobID string) string {
	return "job:" + jobID
}

// Enqueue pushes a new job and stores its record
func (q *RedisQueue) Enqueue(ctx context.Context, job *domain.IngestionJob) error {
	job.Status = domain.JobStatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.config.RetryCount
	}
	return q.push(ctx, job)
}

func (q *RedisQueue) push(ctx context.Context, job *domain.IngestionJob) error {
	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.Set(ctx, jobKey(job.ID), jobData, q.config.JobTTL).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ProcessingError, apperrors.CodeQueueFailure, "failed to store job details")
	}
	if err := q.client.LPush(ctx, q.config.QueueName, job.ID).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ProcessingError, apperrors.CodeQueueFailure, "failed to enqueue job")
	}

	q.logger.Debug().Str("job_id", job.ID).Int("retry_count", job.RetryCount).Msg("Job enqueued")
	return nil
}

// Dequeue blocks up to the poll timeout for the next job and marks it as
// processing. It returns ErrNoJob when the poll timed out.
func (q *RedisQueue) Dequeue(ctx context.Context) (*domain.IngestionJob, error) {
	result, err := q.client.BRPop(ctx, q.config.PollTimeout, q.config.QueueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoJob
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("invalid queue result")
	}

	job, err := q.GetJob(ctx, result[1])
	if err != nil {
		return nil, err
	}

	now := q.now()
	job.Status = domain.JobStatusProcessing
	job.StartedAt = &now
	if err := q.updateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to update job status: %w", err)
	}
	return job, nil
}

// CompleteJob marks a job as completed with its result
func (q *RedisQueue) CompleteJob(ctx context.Context, jobID string, result map[string]interface{}) error {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := q.now()
	job.Status = domain.JobStatusCompleted
	job.Result = result
	job.Error = ""
	job.CompletedAt = &now
	return q.updateJob(ctx, job)
}

// FailJob records a failure. A retryable job is re-queued after the retry
// delay until MaxRetries is reached, then marked failed. It reports whether
// the job will be retried.
func (q *RedisQueue) FailJob(ctx context.Context, jobID string, errorMsg string, retryable bool) (bool, error) {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}

	job.RetryCount++
	job.Error = errorMsg

	if !retryable || job.RetryCount >= job.MaxRetries {
		now := q.now()
		job.Status = domain.JobStatusFailed
		job.CompletedAt = &now
		return false, q.updateJob(ctx, job)
	}

	job.Status = domain.JobStatusRetrying
	if err := q.updateJob(ctx, job); err != nil {
		return false, err
	}

	go func() {
		time.Sleep(q.config.RetryDelay)
		if err := q.push(context.Background(), job); err != nil {
			q.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to re-enqueue job")
		}
	}()
	return true, nil
}

// GetJob returns the stored job record
func (q *RedisQueue) GetJob(ctx context.Context, jobID string) (*domain.IngestionJob, error) {
	jobData, err := q.client.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.New(apperrors.NotFoundError, apperrors.CodeJobNotFound, "job not found").
				WithContext("job_id", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job domain.IngestionJob
	if err := json.Unmarshal(jobData, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// GetQueueStats returns the number of jobs waiting in the list
func (q *RedisQueue) GetQueueStats(ctx context.Context) (*domain.QueueStats, error) {
	queueLength, err := q.client.LLen(ctx, q.config.QueueName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get queue length: %w", err)
	}

	return &domain.QueueStats{
		QueueName:   q.config.QueueName,
		PendingJobs: queueLength,
		Timestamp:   q.now(),
	}, nil
}

// Ping checks the Redis connection
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) updateJob(ctx context.Context, job *domain.IngestionJob) error {
	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.Set(ctx, jobKey(job.ID), jobData, q.config.JobTTL).Err(); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}
