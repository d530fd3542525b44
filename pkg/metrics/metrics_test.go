package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg, "test", "ingest")

	t.Run("chunking counters", func(t *testing.T) {
		m.RecordChunking("recursive", "pdf", 20*time.Millisecond, 4, 900)
		m.RecordChunking("recursive", "pdf", time.Millisecond, 0, 0)
		assert.Equal(t, 4.0, testutil.ToFloat64(m.ChunksCreatedTotal.WithLabelValues("recursive", "pdf")))
	})

	t.Run("ingestion outcome", func(t *testing.T) {
		m.RecordIngestion("txt", "ingested", 512)
		m.RecordIngestion("txt", "failed", 0)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsIngestedTotal.WithLabelValues("txt", "ingested")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsIngestedTotal.WithLabelValues("txt", "failed")))
	})

	t.Run("embedding cache", func(t *testing.T) {
		m.RecordEmbeddingCache(3, 2)
		assert.Equal(t, 3.0, testutil.ToFloat64(m.EmbeddingCacheTotal.WithLabelValues("hit")))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.EmbeddingCacheTotal.WithLabelValues("miss")))
	})

	t.Run("gauges", func(t *testing.T) {
		m.SetActiveSessions(7)
		m.SetQueueSize("ingestion_queue", 3)
		assert.Equal(t, 7.0, testutil.ToFloat64(m.ActiveSessions))
		assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueSize.WithLabelValues("ingestion_queue")))
	})
}

func TestGlobalMetricsRegisterOnce(t *testing.T) {
	first := Init("rag", "ingest")
	assert.NotPanics(t, func() { Init("rag", "ingest") })
	assert.Same(t, first, Get())
}
