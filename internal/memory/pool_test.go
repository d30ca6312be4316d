package memory

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	apperrors "github.com/dataflowlab/shuffle/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPool(t *testing.T, segments int) *Pool {
	t.Helper()
	p, err := NewPool(PoolConfig{
		SegmentSize:    64,
		Segments:       segments,
		RequestTimeout: 50 * time.Millisecond,
	}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	return p
}

func TestNewPoolValidation(t *testing.T) {
	if _, err := NewPool(PoolConfig{SegmentSize: 0, Segments: 4}, testLogger(), nil); err == nil {
		t.Error("expected error for zero segment size")
	}
	if _, err := NewPool(PoolConfig{SegmentSize: 64, Segments: 0}, testLogger(), nil); err == nil {
		t.Error("expected error for zero segments")
	}
}

func TestRequestAndRecycle(t *testing.T) {
	p := newTestPool(t, 2)

	if p.Available() != 2 {
		t.Fatalf("Available() = %d, want 2", p.Available())
	}

	b, err := p.Request()
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if b.Capacity() != 64 {
		t.Errorf("Capacity() = %d, want 64", b.Capacity())
	}
	if p.Available() != 1 {
		t.Errorf("Available() after request = %d, want 1", p.Available())
	}

	b.Recycle()
	if p.Available() != 2 {
		t.Errorf("Available() after recycle = %d, want 2", p.Available())
	}
}

func TestRequestExhaustedWithoutTargets(t *testing.T) {
	p := newTestPool(t, 1)

	b, err := p.Request()
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	if _, err := p.Request(); !errors.Is(err, apperrors.ErrPoolExhausted) {
		t.Errorf("Request() on empty pool = %v, want ErrPoolExhausted", err)
	}
	b.Recycle()
}

type fakeTarget struct {
	pool     *Pool
	held     [][]byte
	released int
}

func (f *fakeTarget) ReleaseMemory() (int, error) {
	n := len(f.held)
	for _, seg := range f.held {
		f.pool.Recycle(seg)
	}
	f.held = nil
	f.released += n
	return n, nil
}

func TestReclaimSweepFreesSegments(t *testing.T) {
	p := newTestPool(t, 2)

	target := &fakeTarget{pool: p}
	p.Register(target)

	for i := 0; i < 2; i++ {
		b, err := p.Request()
		if err != nil {
			t.Fatalf("Request() %d error = %v", i, err)
		}
		// Hand the raw segment to the target, mimicking a partition
		// holding pool memory.
		target.held = append(target.held, b.Segment())
	}

	b, err := p.Request()
	if err != nil {
		t.Fatalf("Request() under pressure error = %v", err)
	}
	if target.released != 2 {
		t.Errorf("target released %d segments, want 2", target.released)
	}
	b.Recycle()
}

func TestDeregisterRemovesTarget(t *testing.T) {
	p := newTestPool(t, 1)

	target := &fakeTarget{pool: p}
	p.Register(target)
	p.Deregister(target)

	b, err := p.Request()
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if _, err := p.Request(); !errors.Is(err, apperrors.ErrPoolExhausted) {
		t.Errorf("Request() = %v, want ErrPoolExhausted after deregistration", err)
	}
	if target.released != 0 {
		t.Errorf("deregistered target was swept, released = %d", target.released)
	}
	b.Recycle()
}

func TestSegmentSizeAndCapacity(t *testing.T) {
	p := newTestPool(t, 3)
	if p.SegmentSize() != 64 {
		t.Errorf("SegmentSize() = %d, want 64", p.SegmentSize())
	}
	if p.Capacity() != 3 {
		t.Errorf("Capacity() = %d, want 3", p.Capacity())
	}
}
