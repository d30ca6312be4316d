// Package buffer defines the reference-counted memory segment passed
// between producers, partitions and readers.
//
// A Buffer wraps a fixed-capacity segment obtained from a pool. Ownership
// is tracked with an explicit reference count: Retain adds a reference,
// Recycle drops one, and the segment is handed back to its Recycler when
// the count reaches zero. A buffer carries either records (KindData) or a
// control event (KindEvent); flow-control backlog accounting only counts
// data buffers.
package buffer

import (
	"fmt"
	"sync/atomic"
)

// Kind discriminates buffer payloads.
type Kind uint8

const (
	// KindData marks a buffer carrying serialized records.
	KindData Kind = iota
	// KindEvent marks a buffer carrying a control event.
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// endOfPartitionTag is the single-byte payload of the terminal marker
// appended when a partition is finished.
const endOfPartitionTag byte = 0xFE

// Recycler receives a segment back once the last reference to the buffer
// holding it has been dropped.
type Recycler interface {
	Recycle(segment []byte)
}

// Provider hands out pooled buffers to producers.
// All implementations must be thread-safe.
type Provider interface {
	// Request returns a writable data buffer backed by a free pool
	// segment. It fails when the pool is exhausted and nothing could
	// be reclaimed.
	Request() (*Buffer, error)

	// SegmentSize returns the fixed capacity of pool segments.
	SegmentSize() int
}

// Buffer is a reference-counted view over a fixed-capacity segment.
type Buffer struct {
	segment  []byte
	size     int
	kind     Kind
	recycler Recycler
	refs     atomic.Int32
}

// New wraps a pool segment into a buffer with one reference. The recycler
// is invoked with the segment when the last reference is recycled; it may
// be nil for segments that are not pooled.
func New(segment []byte, size int, kind Kind, recycler Recycler) *Buffer {
	if size < 0 || size > len(segment) {
		panic(fmt.Sprintf("buffer: size %d out of range for segment of %d bytes", size, len(segment)))
	}
	b := &Buffer{
		segment:  segment,
		size:     size,
		kind:     kind,
		recycler: recycler,
	}
	b.refs.Store(1)
	return b
}

// NewUnpooled wraps a standalone payload into a buffer that does not
// return to any pool. Used for control events and for replaying spilled
// blocks.
func NewUnpooled(payload []byte, kind Kind) *Buffer {
	return New(payload, len(payload), kind, nil)
}

// NewEndOfPartitionMarker returns the terminal control buffer appended
// when a partition finishes.
func NewEndOfPartitionMarker() *Buffer {
	return NewUnpooled([]byte{endOfPartitionTag}, KindEvent)
}

// Retain increments the reference count and returns the buffer for
// chaining.
func (b *Buffer) Retain() *Buffer {
	if b.refs.Add(1) <= 1 {
		panic("buffer: retain of already recycled buffer")
	}
	return b
}

// Recycle drops one reference. The segment is returned to the recycler
// when the count reaches zero. Recycling more often than retaining is a
// programming error and panics.
func (b *Buffer) Recycle() {
	refs := b.refs.Add(-1)
	if refs < 0 {
		panic("buffer: recycle of already recycled buffer")
	}
	if refs == 0 && b.recycler != nil {
		b.recycler.Recycle(b.segment)
	}
}

// IsData reports whether the buffer carries records rather than a control
// event.
func (b *Buffer) IsData() bool {
	return b.kind == KindData
}

// IsEndOfPartition reports whether the buffer is the terminal marker.
func (b *Buffer) IsEndOfPartition() bool {
	return b.kind == KindEvent && b.size == 1 && b.segment[0] == endOfPartitionTag
}

// Kind returns the payload kind.
func (b *Buffer) Kind() Kind {
	return b.kind
}

// Bytes returns the written portion of the segment. The slice is only
// valid while the caller holds a reference.
func (b *Buffer) Bytes() []byte {
	return b.segment[:b.size]
}

// Size returns the number of payload bytes written into the segment.
func (b *Buffer) Size() int {
	return b.size
}

// Capacity returns the full segment capacity.
func (b *Buffer) Capacity() int {
	return len(b.segment)
}

// SetSize adjusts the payload length after a producer has written into
// the segment via Segment.
func (b *Buffer) SetSize(size int) {
	if size < 0 || size > len(b.segment) {
		panic(fmt.Sprintf("buffer: size %d out of range for segment of %d bytes", size, len(b.segment)))
	}
	b.size = size
}

// Segment exposes the whole backing segment for producers filling the
// buffer.
func (b *Buffer) Segment() []byte {
	return b.segment
}

// RefCount returns the current reference count.
func (b *Buffer) RefCount() int32 {
	return b.refs.Load()
}
