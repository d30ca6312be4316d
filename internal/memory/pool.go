// Package memory implements the shared, size-bounded segment pool that
// backs all partitions of a task.
//
// The pool hands out fixed-size segments wrapped in reference-counted
// buffers and takes them back when the last reference is recycled. It is
// deliberately small relative to the produced data: when a request finds
// no free segment the pool sweeps its registered reclaim targets, asking
// partitions to surrender their in-memory buffers to disk, and then waits
// a bounded time for segments to flow back as the spill writes complete.
package memory

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dataflowlab/shuffle/internal/errors"
	"github.com/dataflowlab/shuffle/internal/observability"
	"github.com/dataflowlab/shuffle/pkg/buffer"
)

// Ensure implementation satisfies interfaces at compile time.
var (
	_ buffer.Provider = (*Pool)(nil)
	_ buffer.Recycler = (*Pool)(nil)
)

// ReclaimTarget is anything that can give pool memory back by spilling
// it to disk. Partitions register themselves while they hold segments.
type ReclaimTarget interface {
	// ReleaseMemory migrates in-memory buffers to disk and returns the
	// number of buffers moved.
	ReleaseMemory() (int, error)
}

// PoolConfig contains pool sizing.
type PoolConfig struct {
	SegmentSize    int
	Segments       int
	RequestTimeout time.Duration
}

// Pool is a bounded pool of fixed-size memory segments.
type Pool struct {
	segmentSize    int
	capacity       int
	requestTimeout time.Duration
	logger         *slog.Logger
	metrics        *observability.Metrics

	free  chan []byte
	inUse atomic.Int64

	targetMu sync.Mutex
	targets  []ReclaimTarget
}

// NewPool creates a pool with config.Segments segments of
// config.SegmentSize bytes each, all allocated up front.
func NewPool(config PoolConfig, logger *slog.Logger, metrics *observability.Metrics) (*Pool, error) {
	if config.SegmentSize <= 0 {
		return nil, fmt.Errorf("pool segment size must be positive, got %d", config.SegmentSize)
	}
	if config.Segments <= 0 {
		return nil, fmt.Errorf("pool must have at least one segment, got %d", config.Segments)
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}

	free := make(chan []byte, config.Segments)
	for i := 0; i < config.Segments; i++ {
		free <- make([]byte, config.SegmentSize)
	}

	logger.Info("buffer pool created",
		"segments", config.Segments,
		"segment_size", humanize.IBytes(uint64(config.SegmentSize)),
		"total", humanize.IBytes(uint64(config.Segments*config.SegmentSize)),
	)

	return &Pool{
		segmentSize:    config.SegmentSize,
		capacity:       config.Segments,
		requestTimeout: config.RequestTimeout,
		logger:         logger,
		metrics:        metrics,
		free:           free,
	}, nil
}

// SegmentSize returns the fixed capacity of pool segments.
func (p *Pool) SegmentSize() int {
	return p.segmentSize
}

// Capacity returns the total number of segments the pool owns.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Available returns the number of free segments right now.
func (p *Pool) Available() int {
	return len(p.free)
}

// Request returns a writable data buffer backed by a free segment. When
// the pool is exhausted it forces registered partitions to spill and
// waits up to the configured timeout for a segment to come back.
func (p *Pool) Request() (*buffer.Buffer, error) {
	select {
	case seg := <-p.free:
		return p.wrap(seg), nil
	default:
	}

	// Exhausted: reclaim memory from the partitions holding it. The
	// segments come back asynchronously as spill writes complete.
	p.reclaim()

	select {
	case seg := <-p.free:
		return p.wrap(seg), nil
	case <-time.After(p.requestTimeout):
		if p.metrics != nil {
			p.metrics.PoolRequests.WithLabelValues("exhausted").Inc()
		}
		return nil, errors.ErrPoolExhausted
	}
}

// Recycle takes a segment back. Implements buffer.Recycler; invoked when
// the last reference to a pooled buffer is dropped.
func (p *Pool) Recycle(segment []byte) {
	select {
	case p.free <- segment:
		p.inUse.Add(-1)
		if p.metrics != nil {
			p.metrics.PoolSegmentsInUse.Dec()
		}
	default:
		// A segment that does not fit was never ours; drop it.
		p.logger.Warn("discarding foreign segment returned to pool", "size", len(segment))
	}
}

// Register adds a reclaim target to the sweep set.
func (p *Pool) Register(t ReclaimTarget) {
	p.targetMu.Lock()
	defer p.targetMu.Unlock()
	p.targets = append(p.targets, t)
}

// Deregister removes a reclaim target.
func (p *Pool) Deregister(t ReclaimTarget) {
	p.targetMu.Lock()
	defer p.targetMu.Unlock()
	for i, existing := range p.targets {
		if existing == t {
			p.targets = append(p.targets[:i], p.targets[i+1:]...)
			return
		}
	}
}

func (p *Pool) wrap(segment []byte) *buffer.Buffer {
	p.inUse.Add(1)
	if p.metrics != nil {
		p.metrics.PoolSegmentsInUse.Inc()
		p.metrics.PoolRequests.WithLabelValues("success").Inc()
	}
	return buffer.New(segment, 0, buffer.KindData, p)
}

func (p *Pool) reclaim() {
	p.targetMu.Lock()
	targets := make([]ReclaimTarget, len(p.targets))
	copy(targets, p.targets)
	p.targetMu.Unlock()

	if p.metrics != nil {
		p.metrics.PoolReclaims.Inc()
	}

	var reclaimed int
	for _, t := range targets {
		n, err := t.ReleaseMemory()
		if err != nil {
			p.logger.Error("reclaim target failed to release memory", "error", err)
			continue
		}
		reclaimed += n
		if len(p.free) > 0 {
			break
		}
	}
	p.logger.Debug("pool reclaim sweep finished", "targets", len(targets), "buffers_spilled", reclaimed)
}
