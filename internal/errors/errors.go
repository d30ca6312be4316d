// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrNotFinished       = errors.New("partition has not been finished yet, blocking partitions can only be consumed after they have been finished")
	ErrAlreadyConsumed   = errors.New("partition is being or already has been consumed, partitions may only be consumed once")
	ErrPartitionReleased = errors.New("partition has been released")
	ErrWriterClosed      = errors.New("spill writer is closed")
	ErrReaderReleased    = errors.New("reader has been released")
	ErrPoolExhausted     = errors.New("buffer pool is exhausted")
	ErrChecksumMismatch  = errors.New("spill block checksum mismatch")
)

// SpillError represents a failure of a spill file operation.
type SpillError struct {
	Op   string
	Path string
	Err  error
}

func (e *SpillError) Error() string {
	return fmt.Sprintf("spill error: operation=%s path=%s: %v", e.Op, e.Path, e.Err)
}

func (e *SpillError) Unwrap() error {
	return e.Err
}

// PartitionError represents a failure of a partition lifecycle operation.
type PartitionError struct {
	Partition int
	Op        string
	Err       error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition error: partition=%d operation=%s: %v", e.Partition, e.Op, e.Err)
}

func (e *PartitionError) Unwrap() error {
	return e.Err
}

// IsIllegalState reports whether the error is a protocol violation by the
// caller rather than an I/O failure. Illegal-state conditions are never
// retried.
func IsIllegalState(err error) bool {
	return errors.Is(err, ErrNotFinished) ||
		errors.Is(err, ErrAlreadyConsumed) ||
		errors.Is(err, ErrPartitionReleased)
}
