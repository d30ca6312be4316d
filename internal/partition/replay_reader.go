package partition

import (
	"io"
	"sync/atomic"

	"github.com/dataflowlab/shuffle/internal/errors"
	"github.com/dataflowlab/shuffle/internal/spill"
	pkgpartition "github.com/dataflowlab/shuffle/pkg/partition"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgpartition.Reader = (*DiskReplayReader)(nil)

// DiskReplayReader replays a fully spilled partition from its sealed
// file, independent of the partition's in-memory state. It holds no pool
// memory, so it deliberately does not implement the memory-release
// capability.
type DiskReplayReader struct {
	parent       *Partition
	reader       *spill.Reader
	segmentSize  int
	totalBuffers int64
	released     atomic.Bool
}

func newDiskReplayReader(parent *Partition, path string, segmentSize int, totalBuffers int64) (*DiskReplayReader, error) {
	reader, err := spill.OpenReader(path)
	if err != nil {
		return nil, err
	}
	return &DiskReplayReader{
		parent:       parent,
		reader:       reader,
		segmentSize:  segmentSize,
		totalBuffers: totalBuffers,
	}, nil
}

// Next returns the next replayed buffer, or nil once the file has been
// exhausted.
func (r *DiskReplayReader) Next() (*pkgpartition.BufferAndBacklog, error) {
	if r.released.Load() {
		return nil, errors.ErrReaderReleased
	}

	b, err := r.reader.Next()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pkgpartition.BufferAndBacklog{Buffer: b, Backlog: r.parent.decreaseBacklog(b)}, nil
}

// TotalBuffers returns the number of blocks in the sealed file as
// recorded when the partition finished, terminal marker included.
func (r *DiskReplayReader) TotalBuffers() int64 {
	return r.totalBuffers
}

// SegmentSize returns the pool segment size the blocks were produced
// with.
func (r *DiskReplayReader) SegmentSize() int {
	return r.segmentSize
}

// ReleaseAllResources closes the replay handle and deletes the spill
// file; once a reader has attached, the file belongs to it. Idempotent.
func (r *DiskReplayReader) ReleaseAllResources() error {
	if r.released.Swap(true) {
		return nil
	}
	return r.reader.CloseAndDelete()
}

// IsReleased reports whether the reader has been released.
func (r *DiskReplayReader) IsReleased() bool {
	return r.released.Load()
}
