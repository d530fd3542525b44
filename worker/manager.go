package worker

import (
	"context"
	"sync"
	"time"

	"rag-ingest/pkg/logger"
	"rag-ingest/pkg/metrics"
)

// PoolConfig sizes a worker pool
type PoolConfig struct {
	Workers       int
	CheckInterval time.Duration
}

// Pool runs a fixed number of workers over one job source and reports the
// queue depth while it runs.
type Pool struct {
	source    JobSource
	processor Processor
	config    PoolConfig
	metrics   *metrics.Metrics
	logger    *logger.Logger

	workers      []*Worker
	workersMutex sync.RWMutex
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewPool creates a stopped pool
func NewPool(source JobSource, processor Processor, config PoolConfig, m *metrics.Metrics, log *logger.Logger) *Pool {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 10 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pool{
		source:    source,
		processor: processor,
		config:    config,
		metrics:   m,
		logger:    log,
	}
}

// Start launches the workers and the queue monitor
func (p *Pool) Start(ctx context.Context) {
	p.workersMutex.Lock()
	defer p.workersMutex.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.config.Workers; i++ {
		w := NewWorker(p.source, p.processor, p.metrics, p.logger)
		p.workers = append(p.workers, w)
		w.Start()
	}
	if p.metrics != nil {
		p.metrics.SetActiveWorkers(float64(len(p.workers)))
	}

	p.wg.Add(1)
	go p.monitor(ctx)

	p.logger.Info().Int("workers", len(p.workers)).Msg("Worker pool started")
}

// Stop stops every worker, waiting for jobs in flight
func (p *Pool) Stop() {
	p.workersMutex.Lock()
	if p.cancel == nil {
		p.workersMutex.Unlock()
		return
	}
	p.cancel()
	p.cancel = nil
	workers := p.workers
	p.workers = nil
	p.workersMutex.Unlock()

	p.wg.Wait()

	var stopWg sync.WaitGroup
	for _, w := range workers {
		stopWg.Add(1)
		go func(w *Worker) {
			defer stopWg.Done()
			w.Stop()
		}(w)
	}
	stopWg.Wait()

	if p.metrics != nil {
		p.metrics.SetActiveWorkers(0)
	}
	p.logger.Info().Msg("Worker pool stopped")
}

// Size returns the number of running workers
func (p *Pool) Size() int {
	p.workersMutex.RLock()
	defer p.workersMutex.RUnlock()
	return len(p.workers)
}

func (p *Pool) monitor(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := p.source.GetQueueStats(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Warn().Err(err).Msg("Failed to read queue stats")
				}
				continue
			}
			if p.metrics != nil {
				p.metrics.SetQueueSize(stats.QueueName, float64(stats.PendingJobs))
			}
			p.logger.Debug().
				Int64("pending", stats.PendingJobs).
				Int("workers", p.Size()).
				Msg("Queue status")
		}
	}
}
