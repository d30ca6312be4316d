// Package partition implements the producer-side buffer store for one
// shuffle output partition.
//
// A partition starts out in-memory and spills to disk if asked to do so.
// Buffers come from a shared pool; the pool is also the actor that
// triggers the release of buffers when it needs them back, at which point
// all in-memory buffers are written to disk and every later append goes
// straight to disk. Partitions of this type are fully produced before
// they can be consumed. When the single reader attaches it observes the
// buffers either all in memory or all spilled, and the matching reader
// variant is fixed for the rest of the partition's life.
//
// Thread safety relies on two locks. The queue lock serializes every
// access to the buffer queue, the spill-writer presence, the backlog
// counters and the attached reader, so that reader attachment and
// memory-pressure response are never stuck behind a long producer call.
// The partition lock serializes the structural producer operations
// Append, Finish and Release against each other.
package partition

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/dataflowlab/shuffle/internal/errors"
	"github.com/dataflowlab/shuffle/internal/observability"
	"github.com/dataflowlab/shuffle/internal/spill"
	"github.com/dataflowlab/shuffle/pkg/buffer"
	pkgpartition "github.com/dataflowlab/shuffle/pkg/partition"
)

// Partition holds all produced buffers for one output partition index
// until a single consumer drains them.
type Partition struct {
	index    int
	provider buffer.Provider
	spillMgr *spill.Manager
	logger   *slog.Logger
	metrics  *observability.Metrics

	// mu serializes Append, Finish and Release against each other.
	mu sync.Mutex

	// queueMu guards queue, spillWriter, reader and finished. It is
	// taken on its own by CreateReader and ReleaseMemory so those stay
	// responsive while a structural call blocks on disk I/O.
	queueMu     sync.Mutex
	queue       bufferQueue
	spillWriter *spill.Writer
	reader      pkgpartition.Reader
	finished    bool

	// released is read without any lock from monitoring paths.
	released atomic.Bool
}

// New creates an empty in-memory partition.
func New(index int, provider buffer.Provider, spillMgr *spill.Manager, logger *slog.Logger, metrics *observability.Metrics) *Partition {
	return &Partition{
		index:    index,
		provider: provider,
		spillMgr: spillMgr,
		logger:   logger,
		metrics:  metrics,
	}
}

// Index returns the partition index.
func (p *Partition) Index() int {
	return p.index
}

// Append hands one buffer to the partition, taking ownership. It returns
// false when the partition was already finished or released; the buffer
// has been recycled in that case and the producer should treat the
// partition as closed. An I/O error on the disk path is returned after
// the buffer's memory has been reclaimed.
func (p *Partition) Append(b *buffer.Buffer) (bool, error) {
	if b == nil {
		panic("partition: append of nil buffer")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.append(b)
}

// append requires p.mu.
func (p *Partition) append(b *buffer.Buffer) (bool, error) {
	p.queueMu.Lock()
	if p.finished || p.released.Load() {
		p.queueMu.Unlock()
		b.Recycle()
		if p.metrics != nil {
			p.metrics.BuffersDropped.WithLabelValues(p.label()).Inc()
		}
		return false, nil
	}

	if p.spillWriter == nil {
		p.queue.add(b)
		p.queue.increaseBacklog(b)
		p.queueMu.Unlock()
		p.observeAppend(b, "memory")
		return true, nil
	}

	// The writer exists and can never go away again, so it is safe to
	// use outside the queue lock. The block write must not run under
	// the lock: queue inspection by other threads never waits on I/O.
	w := p.spillWriter
	p.queueMu.Unlock()

	err := w.WriteBlock(b.Retain())
	if err != nil {
		b.Recycle()
		return false, &errors.PartitionError{Partition: p.index, Op: "append", Err: err}
	}

	p.queueMu.Lock()
	p.queue.recordStatistics(b)
	p.queue.increaseBacklog(b)
	p.queueMu.Unlock()

	p.observeAppend(b, "disk")
	b.Recycle()
	return true, nil
}

// Finish appends the end-of-partition marker and, if the partition has
// spilled, waits for the writer to complete and seals the file. Finishing
// an already finished or released partition is a no-op.
//
// The finished flag is published only after the spill file is sealed:
// CreateReader gates on the flag alone, so a reader attaching while the
// seal is still in flight must not see a spilled partition whose blocks
// are only partially on disk.
func (p *Partition) Finish() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	added, err := p.append(buffer.NewEndOfPartitionMarker())
	if err != nil {
		return &errors.PartitionError{Partition: p.index, Op: "finish", Err: err}
	}
	if !added {
		return nil
	}

	// A pool sweep can install a writer between the marker append and
	// the flag store, so re-check after sealing. The writer reference
	// is set at most once, making a second pass the worst case.
	var sealed *spill.Writer
	for {
		p.queueMu.Lock()
		w := p.spillWriter
		if w == nil || w == sealed {
			p.finished = true
			p.queueMu.Unlock()
			return nil
		}
		p.queueMu.Unlock()

		if err := w.Finish(); err != nil {
			return &errors.PartitionError{Partition: p.index, Op: "finish", Err: err}
		}
		sealed = w
	}
}

// Release frees everything the partition still owns. It is idempotent
// and safe at any lifecycle stage. When a reader is attached, cleanup of
// the queue remainder and any spill file is delegated to it; otherwise
// the partition recycles all queued buffers itself and deletes the spill
// file, blocking until an in-flight spill write has completed.
func (p *Partition) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var view pkgpartition.Reader
	var err error

	p.queueMu.Lock()
	if p.released.Load() {
		p.queueMu.Unlock()
		return nil
	}

	for _, b := range p.queue.bufs {
		b.Recycle()
	}
	p.queue.clear()

	view = p.reader

	// With no consumer attached the partition cleans up its own disk
	// state. This waits for in-flight spill writes, which can stall
	// the caller; release runs on shutdown paths that tolerate it.
	if view == nil && p.spillWriter != nil {
		err = p.spillWriter.CloseAndDelete()
	}

	p.released.Store(true)
	p.queueMu.Unlock()

	if view != nil {
		if relErr := view.ReleaseAllResources(); relErr != nil && err == nil {
			err = relErr
		}
	}

	if p.metrics != nil {
		p.metrics.PartitionsReleased.Inc()
		p.metrics.BuffersInBacklog.WithLabelValues(p.label()).Set(0)
	}
	p.logger.Debug("released partition", "partition", p.index)

	if err != nil {
		return &errors.PartitionError{Partition: p.index, Op: "release", Err: err}
	}
	return nil
}

// CreateReader attaches the single consumer of this partition. The
// partition must be finished. The reader variant is chosen by the spill
// state at this instant and never changes again: a spilled partition is
// replayed from its sealed file, an in-memory one is drained straight
// from the queue.
func (p *Partition) CreateReader(onAvailable pkgpartition.AvailabilityCallback) (pkgpartition.Reader, error) {
	p.queueMu.Lock()

	if !p.finished {
		p.queueMu.Unlock()
		return nil, &errors.PartitionError{Partition: p.index, Op: "reader", Err: errors.ErrNotFinished}
	}
	if p.reader != nil {
		p.queueMu.Unlock()
		return nil, &errors.PartitionError{Partition: p.index, Op: "reader", Err: errors.ErrAlreadyConsumed}
	}
	if p.released.Load() {
		p.queueMu.Unlock()
		return nil, &errors.PartitionError{Partition: p.index, Op: "reader", Err: errors.ErrPartitionReleased}
	}

	if p.spillWriter != nil {
		r, err := newDiskReplayReader(p, p.spillWriter.Path(), p.provider.SegmentSize(), p.queue.totalBuffers)
		if err != nil {
			p.queueMu.Unlock()
			return nil, &errors.PartitionError{Partition: p.index, Op: "reader", Err: err}
		}
		p.reader = r
	} else {
		p.reader = newLiveQueueReader(p, onAvailable)
	}

	view := p.reader
	p.queueMu.Unlock()

	// The partition is finished, so everything there will ever be to
	// read is already readable.
	if onAvailable != nil {
		onAvailable()
	}
	return view, nil
}

// ReleaseMemory is called by the shared pool when it needs capacity back.
// It migrates all queued buffers to a newly created spill writer and
// returns the number moved. After a reader has attached the decision is
// the reader's: the live variant sheds its own memory, a replay reader
// holds none.
func (p *Partition) ReleaseMemory() (int, error) {
	p.queueMu.Lock()

	if p.released.Load() {
		// A sweep can still hold a reference to a released partition;
		// creating a writer for it would leak an orphan spill file.
		p.queueMu.Unlock()
		return 0, nil
	}

	if r := p.reader; r != nil {
		p.queueMu.Unlock()
		if mr, ok := r.(pkgpartition.MemoryReleaser); ok {
			return mr.ReleaseMemory()
		}
		return 0, nil
	}

	if p.spillWriter != nil {
		// Already spilled, nothing resident.
		p.queueMu.Unlock()
		return 0, nil
	}

	w, err := p.spillMgr.CreateWriter()
	if err != nil {
		p.queueMu.Unlock()
		return 0, &errors.PartitionError{Partition: p.index, Op: "spill", Err: err}
	}
	p.spillWriter = w

	// Migrating under the queue lock keeps append routing consistent:
	// no buffer can be both left in memory and believed on disk. This
	// is the documented slow path, run by the pool-management thread.
	numBuffers := p.queue.len()
	var spilledBytes int64
	for i := 0; i < numBuffers; i++ {
		b := p.queue.pollFirst()
		spilledBytes += int64(b.Size())
		if err := w.WriteBlock(b); err != nil {
			p.queueMu.Unlock()
			return i, &errors.PartitionError{Partition: p.index, Op: "spill", Err: err}
		}
	}

	// A finished partition can be attached at any moment, and attachment
	// gates on the finished flag alone. Seal before dropping the lock so
	// the reader never opens a file with blocks still in flight.
	if p.finished {
		if err := w.Finish(); err != nil {
			p.queueMu.Unlock()
			return numBuffers, &errors.PartitionError{Partition: p.index, Op: "spill", Err: err}
		}
	}
	p.queueMu.Unlock()

	p.logger.Debug("spilling partition to disk",
		"partition", p.index,
		"buffers", numBuffers,
		"bytes", humanize.IBytes(uint64(spilledBytes)),
		"path", w.Path(),
	)
	if p.metrics != nil {
		p.metrics.SpillsTriggered.Inc()
		p.metrics.SpilledBuffers.Add(float64(numBuffers))
		p.metrics.SpilledBytes.Add(float64(spilledBytes))
	}
	return numBuffers, nil
}

// IsFinished reports whether the end-of-partition marker was appended.
func (p *Partition) IsFinished() bool {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	return p.finished
}

// IsReleased reports whether the partition has been released. Readable
// from any goroutine without taking a lock.
func (p *Partition) IsReleased() bool {
	return p.released.Load()
}

// GetBuffersInBacklog returns the number of unconsumed data buffers.
func (p *Partition) GetBuffersInBacklog() int {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	return p.queue.backlog
}

// decreaseBacklog is invoked by a reader as it hands a buffer downstream
// and returns the post-decrement backlog for the flow-control signal.
func (p *Partition) decreaseBacklog(b *buffer.Buffer) int {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	backlog := p.queue.decreaseBacklog(b)
	if p.metrics != nil {
		p.metrics.BuffersInBacklog.WithLabelValues(p.label()).Set(float64(backlog))
	}
	return backlog
}

// TotalBuffers returns the number of buffers ever appended, including
// the terminal marker once finished.
func (p *Partition) TotalBuffers() int64 {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	return p.queue.totalBuffers
}

// TotalBytes returns the number of payload bytes ever appended.
func (p *Partition) TotalBytes() int64 {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	return p.queue.totalBytes
}

// UnsynchronizedGetNumberOfQueuedBuffers returns a best-effort queued
// buffer count for monitoring. It deliberately takes no lock, so the
// value may be stale.
func (p *Partition) UnsynchronizedGetNumberOfQueuedBuffers() int {
	n := len(p.queue.bufs)
	if n < 0 {
		return 0
	}
	return n
}

// String returns a human-readable summary for diagnostics.
func (p *Partition) String() string {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	return fmt.Sprintf("Partition %d [%d buffers (%s), %d buffers in backlog, finished? %t, reader? %t, spilled? %t]",
		p.index,
		p.queue.totalBuffers,
		humanize.IBytes(uint64(p.queue.totalBytes)),
		p.queue.backlog,
		p.finished,
		p.reader != nil,
		p.spillWriter != nil,
	)
}

func (p *Partition) label() string {
	return fmt.Sprintf("%d", p.index)
}

func (p *Partition) observeAppend(b *buffer.Buffer, destination string) {
	if p.metrics == nil {
		return
	}
	label := p.label()
	p.metrics.BuffersAppended.WithLabelValues(label, destination).Inc()
	p.metrics.BytesAppended.WithLabelValues(label).Add(float64(b.Size()))
	if b.IsData() {
		p.metrics.BuffersInBacklog.WithLabelValues(label).Inc()
	}
}
