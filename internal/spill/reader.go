package spill

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/zeebo/xxh3"

	"github.com/dataflowlab/shuffle/internal/errors"
	"github.com/dataflowlab/shuffle/pkg/buffer"
)

// Reader replays the blocks of a sealed spill file in write order.
// It is safe for use by a single goroutine.
type Reader struct {
	path   string
	file   *os.File
	br     *bufio.Reader
	closed bool
}

// OpenReader opens a sealed spill file for sequential replay.
func OpenReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &errors.SpillError{Op: "open", Path: path, Err: err}
	}
	return &Reader{
		path: path,
		file: file,
		br:   bufio.NewReaderSize(file, 1<<16),
	}, nil
}

// Next reads the next block and returns it as an unpooled buffer of the
// recorded kind. It returns io.EOF once the file is exhausted and
// ErrChecksumMismatch (wrapped) when a block fails verification.
func (r *Reader) Next() (*buffer.Buffer, error) {
	if r.closed {
		return nil, &errors.SpillError{Op: "read", Path: r.path, Err: errors.ErrReaderReleased}
	}

	var header [blockHeaderSize]byte
	if _, err := io.ReadFull(r.br, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		// A truncated header means a torn final block.
		return nil, &errors.SpillError{Op: "read", Path: r.path, Err: err}
	}

	length := binary.BigEndian.Uint32(header[0:4])
	kind := buffer.Kind(header[4])
	sum := binary.BigEndian.Uint64(header[5:13])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.br, payload); err != nil {
		return nil, &errors.SpillError{Op: "read", Path: r.path, Err: err}
	}

	if xxh3.Hash(payload) != sum {
		return nil, &errors.SpillError{Op: "read", Path: r.path, Err: errors.ErrChecksumMismatch}
	}

	return buffer.NewUnpooled(payload, kind), nil
}

// Close closes the underlying file without removing it.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.file.Close(); err != nil {
		return &errors.SpillError{Op: "close", Path: r.path, Err: err}
	}
	return nil
}

// CloseAndDelete closes the file and removes it from disk.
func (r *Reader) CloseAndDelete() error {
	err := r.Close()
	if rmErr := os.Remove(r.path); rmErr != nil && err == nil {
		err = &errors.SpillError{Op: "delete", Path: r.path, Err: rmErr}
	}
	return err
}

// Path returns the spill file path.
func (r *Reader) Path() string {
	return r.path
}
