// Package partition defines the consumer-facing interfaces for draining
// a produced partition.
//
// A partition is consumed through exactly one Reader, obtained from the
// producer-side store once the partition has been finished. The reader
// either walks the still-resident in-memory queue or replays a sealed
// spill file; the variant is fixed when the reader is created.
package partition

import (
	"github.com/dataflowlab/shuffle/pkg/buffer"
)

// AvailabilityCallback is invoked whenever previously unavailable data
// becomes readable, waking a transport thread blocked on the reader.
// Implementations must be safe to call from any goroutine and must not
// block.
type AvailabilityCallback func()

// BufferAndBacklog pairs a drained buffer with the backlog remaining
// after it was handed out, so the consumer can forward the backlog as a
// flow-control signal.
type BufferAndBacklog struct {
	Buffer  *buffer.Buffer
	Backlog int
}

// Reader streams a partition's buffers to the transport layer.
// Implementations are safe for use by a single consumer goroutine.
type Reader interface {
	// Next returns the next buffer in append order together with the
	// backlog after the hand-off, or nil when no buffer is currently
	// available. Ownership of the returned buffer transfers to the
	// caller, who must recycle it.
	Next() (*BufferAndBacklog, error)

	// ReleaseAllResources frees everything the reader still holds,
	// including any spill file. Idempotent.
	ReleaseAllResources() error

	// IsReleased reports whether the reader has been released.
	IsReleased() bool
}

// MemoryReleaser is the optional capability of readers that can shed
// in-memory buffers under pool pressure. Only the live-queue reader
// variant implements it; a disk replay reader holds no pool memory.
type MemoryReleaser interface {
	// ReleaseMemory migrates the reader's remaining in-memory buffers
	// to disk and returns the number of buffers moved.
	ReleaseMemory() (int, error)
}
