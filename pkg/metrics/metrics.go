package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Ingestion pipeline metrics
	DocumentsIngestedTotal *prometheus.CounterVec
	IngestionDuration      *prometheus.HistogramVec
	DocumentSizeBytes      *prometheus.HistogramVec
	EmbeddingDuration      *prometheus.HistogramVec
	EmbeddingBatchesTotal  *prometheus.CounterVec
	EmbeddingCacheTotal    *prometheus.CounterVec
	VectorUpsertsTotal     *prometheus.CounterVec

	// Chunking metrics
	ChunksCreatedTotal *prometheus.CounterVec
	ChunkSizeRunes     *prometheus.HistogramVec
	ChunkingDuration   *prometheus.HistogramVec

	// Queue and session metrics
	QueueSize                *prometheus.GaugeVec
	QueueItemsProcessedTotal *prometheus.CounterVec
	ActiveWorkers            prometheus.Gauge
	ActiveSessions           prometheus.Gauge
	UploadsRejectedTotal     *prometheus.CounterVec
}

// New creates metrics registered on the default Prometheus registry
func New(namespace, subsystem string) *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, namespace, subsystem)
}

// NewWithRegistry creates metrics registered on reg
func NewWithRegistry(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		DocumentsIngestedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "documents_ingested_total",
				Help:      "Total number of documents run through the ingestion pipeline",
			},
			[]string{"type", "status"},
		),

		IngestionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ingestion_stage_duration_seconds",
				Help:      "Duration of ingestion stages in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),

		DocumentSizeBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "document_size_bytes",
				Help:      "Size of uploaded documents in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 2, 15),
			},
			[]string{"type"},
		),

		EmbeddingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "embedding_duration_seconds",
				Help:      "Duration of embedding calls in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider"},
		),

		EmbeddingBatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "embedding_batches_total",
				Help:      "Total number of embedding batches sent to the provider",
			},
			[]string{"provider", "status"},
		),

		EmbeddingCacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "embedding_cache_lookups_total",
				Help:      "Embedding cache lookups by result",
			},
			[]string{"result"},
		),

		VectorUpsertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "vector_upserts_total",
				Help:      "Total number of chunk vectors written to the vector store",
			},
			[]string{"backend"},
		),

		ChunksCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "chunks_created_total",
				Help:      "Total number of chunks created",
			},
			[]string{"strategy", "document_type"},
		),

		ChunkSizeRunes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "chunk_size_runes",
				Help:      "Average chunk length per document in runes",
				Buckets:   []float64{100, 300, 500, 1000, 1500, 2000, 4000, 8000},
			},
			[]string{"strategy"},
		),

		ChunkingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "chunking_duration_seconds",
				Help:      "Duration of chunking process in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"strategy"},
		),

		QueueSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_size",
				Help:      "Current number of pending ingestion jobs",
			},
			[]string{"queue_name"},
		),

		QueueItemsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_items_processed_total",
				Help:      "Total number of ingestion jobs processed",
			},
			[]string{"queue_name", "status"},
		),

		ActiveWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "active_workers",
				Help:      "Current number of running ingestion workers",
			},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "active_sessions",
				Help:      "Current number of active upload sessions",
			},
		),

		UploadsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "uploads_rejected_total",
				Help:      "Total number of rejected upload files",
			},
			[]string{"reason"},
		),
	}
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordIngestion records the outcome of one document run
func (m *Metrics) RecordIngestion(docType, status string, sizeBytes int64) {
	m.DocumentsIngestedTotal.WithLabelValues(docType, status).Inc()
	if sizeBytes > 0 {
		m.DocumentSizeBytes.WithLabelValues(docType).Observe(float64(sizeBytes))
	}
}

// RecordStage records the duration of a pipeline stage (extract, chunk, embed, store)
func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	m.IngestionDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordEmbedding records one provider batch
func (m *Metrics) RecordEmbedding(provider, status string, duration time.Duration) {
	m.EmbeddingBatchesTotal.WithLabelValues(provider, status).Inc()
	m.EmbeddingDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordEmbeddingCache records cache hits and misses
func (m *Metrics) RecordEmbeddingCache(hits, misses int) {
	m.EmbeddingCacheTotal.WithLabelValues("hit").Add(float64(hits))
	m.EmbeddingCacheTotal.WithLabelValues("miss").Add(float64(misses))
}

// RecordVectorUpsert records vectors written to a backend
func (m *Metrics) RecordVectorUpsert(backend string, count int) {
	m.VectorUpsertsTotal.WithLabelValues(backend).Add(float64(count))
}

// RecordChunking records chunking metrics
func (m *Metrics) RecordChunking(strategy, docType string, duration time.Duration, chunkCount int, avgChunkSize float64) {
	m.ChunksCreatedTotal.WithLabelValues(strategy, docType).Add(float64(chunkCount))
	m.ChunkingDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	if chunkCount > 0 {
		m.ChunkSizeRunes.WithLabelValues(strategy).Observe(avgChunkSize)
	}
}

// RecordQueueOperation records a processed job
func (m *Metrics) RecordQueueOperation(queueName, status string) {
	m.QueueItemsProcessedTotal.WithLabelValues(queueName, status).Inc()
}

// SetQueueSize sets current queue size
func (m *Metrics) SetQueueSize(queueName string, size float64) {
	m.QueueSize.WithLabelValues(queueName).Set(size)
}

// SetActiveWorkers sets the number of active workers
func (m *Metrics) SetActiveWorkers(count float64) {
	m.ActiveWorkers.Set(count)
}

// SetActiveSessions sets the number of active sessions
func (m *Metrics) SetActiveSessions(count float64) {
	m.ActiveSessions.Set(count)
}

// RecordUploadRejected counts a rejected upload file
func (m *Metrics) RecordUploadRejected(reason string) {
	m.UploadsRejectedTotal.WithLabelValues(reason).Inc()
}

var (
	globalMetrics *Metrics
	globalOnce    sync.Once
)

// Init initializes global metrics. Only the first call registers collectors.
func Init(namespace, subsystem string) *Metrics {
	globalOnce.Do(func() {
		globalMetrics = New(namespace, subsystem)
	})
	return globalMetrics
}

// Get returns the global metrics instance
func Get() *Metrics {
	return Init("rag", "ingest")
}
