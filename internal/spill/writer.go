package spill

import (
	"bufio"
	"encoding/binary"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zeebo/xxh3"

	"github.com/dataflowlab/shuffle/internal/errors"
	"github.com/dataflowlab/shuffle/internal/observability"
	"github.com/dataflowlab/shuffle/pkg/buffer"
)

// Block layout: 4 bytes payload length, 1 byte kind, 8 bytes xxh3
// checksum of the payload, then the payload itself.
const blockHeaderSize = 4 + 1 + 8

// Writer is an append-only spill channel for one partition. Blocks are
// handed to a single background goroutine that performs the disk I/O, so
// WriteBlock only blocks when the request queue is full.
//
// WriteBlock, Finish and CloseAndDelete must not be called concurrently;
// the owning partition serializes them under its lock. The writer owns
// one reference per submitted buffer and recycles it once the block has
// been written (or dropped on a failure path).
type Writer struct {
	path         string
	file         *os.File
	buf          *bufio.Writer
	syncOnFinish bool
	logger       *slog.Logger
	metrics      *observability.Metrics

	requests chan *buffer.Buffer
	done     chan struct{}

	mu            sync.Mutex
	err           error
	blocksWritten int64
	bytesWritten  int64

	closed  bool
	deleted bool
}

func newWriter(path string, file *os.File, queueDepth int, syncOnFinish bool, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &Writer{
		path:         path,
		file:         file,
		buf:          bufio.NewWriterSize(file, 1<<16),
		syncOnFinish: syncOnFinish,
		logger:       logger,
		metrics:      metrics,
		requests:     make(chan *buffer.Buffer, queueDepth),
		done:         make(chan struct{}),
	}
	go w.writeLoop()
	return w
}

// WriteBlock submits one buffer for appending to the spill file, taking
// ownership of one reference. The buffer is recycled on every path,
// including failure. An earlier I/O failure is reported immediately
// without submitting the block.
func (w *Writer) WriteBlock(b *buffer.Buffer) error {
	if w.closed {
		b.Recycle()
		return errors.ErrWriterClosed
	}
	if err := w.firstError(); err != nil {
		b.Recycle()
		return err
	}

	w.requests <- b
	return nil
}

// Finish seals the writer: it waits until every submitted block is on
// disk, flushes and closes the file. No block can be written afterwards.
func (w *Writer) Finish() error {
	if w.closed {
		return w.firstError()
	}
	w.closed = true

	// Sentinel value stops the write loop after draining the queue.
	w.requests <- nil
	<-w.done

	if err := w.buf.Flush(); err != nil {
		w.latchError(&errors.SpillError{Op: "flush", Path: w.path, Err: err})
	}
	if w.syncOnFinish {
		if err := w.file.Sync(); err != nil {
			w.latchError(&errors.SpillError{Op: "sync", Path: w.path, Err: err})
		}
	}
	if err := w.file.Close(); err != nil {
		w.latchError(&errors.SpillError{Op: "close", Path: w.path, Err: err})
	}

	blocks, bytes := w.stats()
	w.logger.Debug("sealed spill file",
		"path", w.path,
		"blocks", blocks,
		"size", humanize.IBytes(uint64(bytes)),
	)

	return w.firstError()
}

// CloseAndDelete stops the writer, waiting for any in-flight block, and
// removes the backing file. Used when the partition is released before a
// reader attached. Idempotent.
func (w *Writer) CloseAndDelete() error {
	if !w.closed {
		w.closed = true
		w.requests <- nil
		<-w.done
		// Sealing errors are irrelevant, the file is going away.
		_ = w.buf.Flush()
		_ = w.file.Close()
	}

	if w.deleted {
		return nil
	}
	w.deleted = true

	if err := os.Remove(w.path); err != nil {
		if w.metrics != nil {
			w.metrics.SpillErrors.WithLabelValues("delete").Inc()
		}
		return &errors.SpillError{Op: "delete", Path: w.path, Err: err}
	}
	return nil
}

// Path returns the spill file path.
func (w *Writer) Path() string {
	return w.path
}

// BlocksWritten returns the number of blocks durably handed to the file
// so far.
func (w *Writer) BlocksWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blocksWritten
}

func (w *Writer) stats() (int64, int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blocksWritten, w.bytesWritten
}

func (w *Writer) firstError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) latchError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) writeLoop() {
	defer close(w.done)

	var header [blockHeaderSize]byte
	for b := range w.requests {
		if b == nil {
			return
		}

		if w.firstError() != nil {
			// Past the first failure, blocks are dropped but their
			// memory still goes back to the pool.
			b.Recycle()
			continue
		}

		start := time.Now()
		payload := b.Bytes()

		binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
		header[4] = byte(b.Kind())
		binary.BigEndian.PutUint64(header[5:13], xxh3.Hash(payload))

		err := w.writeAll(header[:], payload)
		b.Recycle()

		if err != nil {
			w.latchError(&errors.SpillError{Op: "write", Path: w.path, Err: err})
			if w.metrics != nil {
				w.metrics.SpillErrors.WithLabelValues("write").Inc()
			}
			continue
		}

		w.mu.Lock()
		w.blocksWritten++
		w.bytesWritten += int64(blockHeaderSize + len(payload))
		w.mu.Unlock()

		if w.metrics != nil {
			w.metrics.SpillWriteDuration.Observe(time.Since(start).Seconds())
		}
	}
}

func (w *Writer) writeAll(header, payload []byte) error {
	if _, err := w.buf.Write(header); err != nil {
		return err
	}
	_, err := w.buf.Write(payload)
	return err
}
