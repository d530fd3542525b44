package memory

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPoolClosed is returned by Acquire after Close
var ErrPoolClosed = errors.New("buffer pool closed")

// PoolConfig holds buffer pool configuration
type PoolConfig struct {
	InitialBuffers int `json:"initial_buffers"`
	MaxBuffers     int `json:"max_buffers"`
	BufferSize     int `json:"buffer_size"`
}

// DefaultPoolConfig returns 64KB copy buffers, at most 32 in flight
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		InitialBuffers: 4,
		MaxBuffers:     32,
		BufferSize:     64 * 1024,
	}
}

// PoolStats tracks buffer pool usage
type PoolStats struct {
	CurrentBuffers  int           `json:"current_buffers"`
	InUse           int           `json:"in_use"`
	PeakInUse       int           `json:"peak_in_use"`
	AcquireCount    int64         `json:"acquire_count"`
	WaitCount       int64         `json:"wait_count"`
	AverageHoldTime time.Duration `json:"average_hold_time"`
}

// Pool hands out fixed-size byte buffers. At most MaxBuffers exist at once,
// so Acquire blocks while all of them are in use. This bounds the memory
// spent on concurrent upload copies.
type Pool struct {
	config  *PoolConfig
	buffers chan *Buffer
	mu      sync.Mutex
	stats   PoolStats
	held    time.Duration
	closed  bool
}

// Buffer is a pooled byte slice. It must be released exactly once.
type Buffer struct {
	data     []byte
	pool     *Pool
	acquired time.Time
}

// NewPool creates a buffer pool
func NewPool(config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.MaxBuffers < 1 {
		config.MaxBuffers = 1
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 64 * 1024
	}
	if config.InitialBuffers > config.MaxBuffers {
		config.InitialBuffers = config.MaxBuffers
	}

	p := &Pool{
		config:  config,
		buffers: make(chan *Buffer, config.MaxBuffers),
	}
	for i := 0; i < config.InitialBuffers; i++ {
		p.buffers <- &Buffer{data: make([]byte, config.BufferSize), pool: p}
	}
	p.stats.CurrentBuffers = config.InitialBuffers
	return p
}

// Acquire returns a free buffer, allocating one while under MaxBuffers and
// otherwise waiting for a release or ctx
func (p *Pool) Acquire(ctx context.Context) (*Buffer, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	var buffer *Buffer
	select {
	case buffer = <-p.buffers:
	default:
		p.mu.Lock()
		if p.stats.CurrentBuffers < p.config.MaxBuffers {
			p.stats.CurrentBuffers++
			buffer = &Buffer{data: make([]byte, p.config.BufferSize), pool: p}
		} else {
			p.stats.WaitCount++
		}
		p.mu.Unlock()

		if buffer == nil {
			select {
			case buffer = <-p.buffers:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	buffer.acquired = time.Now()
	p.mu.Lock()
	p.stats.AcquireCount++
	p.stats.InUse++
	if p.stats.InUse > p.stats.PeakInUse {
		p.stats.PeakInUse = p.stats.InUse
	}
	p.mu.Unlock()
	return buffer, nil
}

// Release returns the buffer to its pool
func (b *Buffer) Release() {
	p := b.pool
	p.mu.Lock()
	p.stats.InUse--
	p.held += time.Since(b.acquired)
	p.mu.Unlock()

	b.acquired = time.Time{}
	p.buffers <- b
}

// Data returns the buffer's bytes
func (b *Buffer) Data() []byte {
	return b.data
}

// Stats returns a snapshot of the pool statistics
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	if released := stats.AcquireCount - int64(stats.InUse); released > 0 {
		stats.AverageHoldTime = p.held / time.Duration(released)
	}
	return stats
}

// Close makes later Acquire calls fail. Buffers already handed out may
// still be released.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}
