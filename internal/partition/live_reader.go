package partition

import (
	"io"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/dataflowlab/shuffle/internal/errors"
	"github.com/dataflowlab/shuffle/internal/spill"
	pkgpartition "github.com/dataflowlab/shuffle/pkg/partition"
)

// Ensure implementation satisfies interfaces at compile time.
var (
	_ pkgpartition.Reader         = (*LiveQueueReader)(nil)
	_ pkgpartition.MemoryReleaser = (*LiveQueueReader)(nil)
)

// LiveQueueReader drains a finished partition straight from its
// still-resident in-memory queue. While it is attached it is also the
// owner of the memory-pressure response: the pool asks it, not the
// partition, to shed memory, and it answers by spilling the unconsumed
// remainder to disk and replaying it from there.
type LiveQueueReader struct {
	parent      *Partition
	onAvailable pkgpartition.AvailabilityCallback
	released    atomic.Bool

	// replay and spilled are guarded by parent.queueMu. Once replay is
	// set the in-memory queue has been fully migrated and stays empty.
	replay  *spill.Reader
	spilled *spill.Writer
}

func newLiveQueueReader(parent *Partition, onAvailable pkgpartition.AvailabilityCallback) *LiveQueueReader {
	return &LiveQueueReader{
		parent:      parent,
		onAvailable: onAvailable,
	}
}

// Next returns the next buffer in append order, or nil once the terminal
// marker has been handed out. Ownership of the buffer moves to the
// caller.
func (r *LiveQueueReader) Next() (*pkgpartition.BufferAndBacklog, error) {
	if r.released.Load() {
		return nil, errors.ErrReaderReleased
	}
	p := r.parent

	p.queueMu.Lock()
	if r.replay == nil {
		b := p.queue.pollFirst()
		if b == nil {
			p.queueMu.Unlock()
			return nil, nil
		}
		backlog := p.queue.decreaseBacklog(b)
		p.queueMu.Unlock()
		return &pkgpartition.BufferAndBacklog{Buffer: b, Backlog: backlog}, nil
	}
	replay := r.replay
	p.queueMu.Unlock()

	b, err := replay.Next()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pkgpartition.BufferAndBacklog{Buffer: b, Backlog: p.decreaseBacklog(b)}, nil
}

// ReleaseMemory migrates every not-yet-consumed buffer to a freshly
// created spill file, seals it and continues the drain from disk. The
// queue lock is held across the migration so append-order is preserved
// relative to concurrent drains; this is the documented slow path run by
// the pool-management thread.
func (r *LiveQueueReader) ReleaseMemory() (int, error) {
	p := r.parent

	p.queueMu.Lock()
	if r.released.Load() || r.replay != nil {
		p.queueMu.Unlock()
		return 0, nil
	}

	w, err := p.spillMgr.CreateWriter()
	if err != nil {
		p.queueMu.Unlock()
		return 0, &errors.PartitionError{Partition: p.index, Op: "spill", Err: err}
	}

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

	// Seal before replay so every block is durable and readable.
	if err := w.Finish(); err != nil {
		p.queueMu.Unlock()
		return numBuffers, &errors.PartitionError{Partition: p.index, Op: "spill", Err: err}
	}
	replay, err := spill.OpenReader(w.Path())
	if err != nil {
		p.queueMu.Unlock()
		return numBuffers, &errors.PartitionError{Partition: p.index, Op: "spill", Err: err}
	}
	r.spilled = w
	r.replay = replay
	p.queueMu.Unlock()

	p.logger.Debug("live reader spilled remainder to disk",
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

	if r.onAvailable != nil {
		r.onAvailable()
	}
	return numBuffers, nil
}

// ReleaseAllResources recycles whatever is still queued and removes any
// spill file created while shedding memory. Idempotent.
func (r *LiveQueueReader) ReleaseAllResources() error {
	if r.released.Swap(true) {
		return nil
	}
	p := r.parent

	p.queueMu.Lock()
	for _, b := range p.queue.bufs {
		b.Recycle()
	}
	p.queue.clear()
	replay, spilled := r.replay, r.spilled
	p.queueMu.Unlock()

	var err error
	if replay != nil {
		err = replay.Close()
	}
	if spilled != nil {
		if dErr := spilled.CloseAndDelete(); dErr != nil && err == nil {
			err = dErr
		}
	}
	return err
}

// IsReleased reports whether the reader has been released.
func (r *LiveQueueReader) IsReleased() bool {
	return r.released.Load()
}
