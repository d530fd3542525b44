package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-ingest/config"
	"rag-ingest/internal/core/domain"
	apperrors "rag-ingest/pkg/errors"
)

// newTestQueue returns a queue on a unique list and skips when Redis is
// not reachable.
func newTestQueue(t *testing.T, retries int) *RedisQueue {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}

	q := NewWithClient(client, &config.WorkerConfig{
		QueueName:   "test_ingestion_" + uuid.NewString(),
		RetryCount:  retries,
		RetryDelay:  50 * time.Millisecond,
		JobTTL:      time.Minute,
		PollTimeout: time.Second,
	}, zerolog.Nop())

	t.Cleanup(func() {
		client.Del(context.Background(), q.Name())
		client.Close()
	})
	return q
}

func newJob() *domain.IngestionJob {
	return &domain.IngestionJob{
		ID: uuid.NewString(),
		Request: domain.IngestionRequest{
			SessionID:  uuid.New(),
			DocumentID: uuid.New(),
		},
	}
}

func TestRedisQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("enqueue and dequeue", func(t *testing.T) {
		q := newTestQueue(t, 2)
		job := newJob()
		require.NoError(t, q.Enqueue(ctx, job))

		stored, err := q.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, stored.Status)
		assert.Equal(t, job.Request.DocumentID, stored.Request.DocumentID)
		assert.Equal(t, 2, stored.MaxRetries)

		stats, err := q.GetQueueStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.PendingJobs)

		dequeued, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, job.ID, dequeued.ID)
		assert.Equal(t, domain.JobStatusProcessing, dequeued.Status)
		assert.NotNil(t, dequeued.StartedAt)
	})

	t.Run("complete", func(t *testing.T) {
		q := newTestQueue(t, 2)
		job := newJob()
		require.NoError(t, q.Enqueue(ctx, job))
		_, err := q.Dequeue(ctx)
		require.NoError(t, err)

		require.NoError(t, q.CompleteJob(ctx, job.ID, map[string]interface{}{"chunk_count": 3}))

		done, err := q.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, done.Status)
		assert.EqualValues(t, 3, done.Result["chunk_count"])
		assert.NotNil(t, done.CompletedAt)
	})

	t.Run("fail retries then gives up", func(t *testing.T) {
		q := newTestQueue(t, 2)
		job := newJob()
		require.NoError(t, q.Enqueue(ctx, job))
		_, err := q.Dequeue(ctx)
		require.NoError(t, err)

		retry, err := q.FailJob(ctx, job.ID, "embedder down", true)
		require.NoError(t, err)
		assert.True(t, retry)

		retried, err := q.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusRetrying, retried.Status)
		assert.Equal(t, 1, retried.RetryCount)

		again, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, job.ID, again.ID)

		retry, err = q.FailJob(ctx, job.ID, "embedder still down", true)
		require.NoError(t, err)
		assert.False(t, retry)

		final, err := q.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, final.Status)
		assert.Equal(t, 2, final.RetryCount)
		assert.Equal(t, "embedder still down", final.Error)
	})

	t.Run("permanent failure skips retries", func(t *testing.T) {
		q := newTestQueue(t, 3)
		job := newJob()
		require.NoError(t, q.Enqueue(ctx, job))
		_, err := q.Dequeue(ctx)
		require.NoError(t, err)

		retry, err := q.FailJob(ctx, job.ID, "no chunks", false)
		require.NoError(t, err)
		assert.False(t, retry)

		final, err := q.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, final.Status)
	})

	t.Run("empty poll", func(t *testing.T) {
		q := newTestQueue(t, 1)
		start := time.Now()
		job, err := q.Dequeue(ctx)
		assert.Nil(t, job)
		assert.ErrorIs(t, err, ErrNoJob)
		assert.Less(t, time.Since(start), 3*time.Second)
	})

	t.Run("unknown job", func(t *testing.T) {
		q := newTestQueue(t, 1)
		_, err := q.GetJob(ctx, "missing")
		assert.True(t, apperrors.IsCode(err, apperrors.CodeJobNotFound))
	})

	t.Run("cancelled context", func(t *testing.T) {
		q := newTestQueue(t, 1)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		assert.Error(t, q.Enqueue(cancelled, newJob()))
	})
}
