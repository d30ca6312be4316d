package partition

import (
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dataflowlab/shuffle/internal/memory"
	"github.com/dataflowlab/shuffle/internal/observability"
	"github.com/dataflowlab/shuffle/internal/spill"
)

// Manager owns the partitions of one producing task. It hands out
// partitions by index, creating them on demand, and registers each with
// the shared pool so memory pressure can reach it. Uses double-checked
// locking for efficient concurrent access.
type Manager struct {
	pool     *memory.Pool
	spillMgr *spill.Manager
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu         sync.RWMutex
	partitions map[int]*Partition
}

// NewManager creates a partition manager backed by the given pool and
// spill manager.
func NewManager(pool *memory.Pool, spillMgr *spill.Manager, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		pool:       pool,
		spillMgr:   spillMgr,
		logger:     logger,
		metrics:    metrics,
		partitions: make(map[int]*Partition),
	}
}

// GetOrCreate returns the partition for the index, creating it if
// needed.
func (m *Manager) GetOrCreate(index int) *Partition {
	m.mu.RLock()
	p, exists := m.partitions[index]
	m.mu.RUnlock()

	if exists {
		return p
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if p, exists := m.partitions[index]; exists {
		return p
	}

	p = New(index, m.pool, m.spillMgr, m.logger, m.metrics)
	m.partitions[index] = p
	m.pool.Register(p)

	if m.metrics != nil {
		m.metrics.PartitionsCreated.Inc()
	}
	m.logger.Debug("created partition", "partition", index)
	return p
}

// Get returns the partition for the index if it exists.
func (m *Manager) Get(index int) (*Partition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, exists := m.partitions[index]
	return p, exists
}

// Count returns the number of live partitions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.partitions)
}

// ReleaseAll releases every partition, removing each from the pool's
// reclaim sweep. Releases run concurrently since each can block on
// in-flight spill I/O; the first error wins.
func (m *Manager) ReleaseAll() error {
	m.mu.Lock()
	partitions := m.partitions
	m.partitions = make(map[int]*Partition)
	m.mu.Unlock()

	var g errgroup.Group
	for _, p := range partitions {
		g.Go(func() error {
			m.pool.Deregister(p)
			return p.Release()
		})
	}
	return g.Wait()
}
