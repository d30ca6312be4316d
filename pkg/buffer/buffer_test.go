package buffer

import (
	"testing"
)

type countingRecycler struct {
	calls    int
	segments [][]byte
}

func (r *countingRecycler) Recycle(segment []byte) {
	r.calls++
	r.segments = append(r.segments, segment)
}

func TestNewSetsSingleReference(t *testing.T) {
	seg := make([]byte, 64)
	b := New(seg, 10, KindData, nil)

	if b.RefCount() != 1 {
		t.Errorf("RefCount() = %d, want 1", b.RefCount())
	}
	if b.Size() != 10 {
		t.Errorf("Size() = %d, want 10", b.Size())
	}
	if b.Capacity() != 64 {
		t.Errorf("Capacity() = %d, want 64", b.Capacity())
	}
	if !b.IsData() {
		t.Error("expected data buffer")
	}
}

func TestRecycleReturnsSegmentExactlyOnce(t *testing.T) {
	rec := &countingRecycler{}
	seg := make([]byte, 32)
	b := New(seg, 32, KindData, rec)

	b.Retain()
	b.Recycle()
	if rec.calls != 0 {
		t.Fatalf("recycler invoked with %d references outstanding", b.RefCount())
	}

	b.Recycle()
	if rec.calls != 1 {
		t.Errorf("recycler calls = %d, want 1", rec.calls)
	}
}

func TestRecycleBelowZeroPanics(t *testing.T) {
	b := NewUnpooled([]byte("x"), KindData)
	b.Recycle()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on double recycle")
		}
	}()
	b.Recycle()
}

func TestRetainAfterFreePanics(t *testing.T) {
	b := NewUnpooled([]byte("x"), KindData)
	b.Recycle()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on retain after recycle")
		}
	}()
	b.Retain()
}

func TestEndOfPartitionMarker(t *testing.T) {
	m := NewEndOfPartitionMarker()

	if m.IsData() {
		t.Error("marker must not count as a data buffer")
	}
	if !m.IsEndOfPartition() {
		t.Error("IsEndOfPartition() = false, want true")
	}
	if m.Size() != 1 {
		t.Errorf("Size() = %d, want 1", m.Size())
	}

	d := NewUnpooled([]byte{endOfPartitionTag}, KindData)
	if d.IsEndOfPartition() {
		t.Error("data buffer must not be detected as marker")
	}
}

func TestBytesTracksSetSize(t *testing.T) {
	seg := make([]byte, 16)
	b := New(seg, 0, KindData, nil)

	copy(b.Segment(), "hello")
	b.SetSize(5)

	if got := string(b.Bytes()); got != "hello" {
		t.Errorf("Bytes() = %q, want %q", got, "hello")
	}
}

func TestKindString(t *testing.T) {
	if KindData.String() != "data" {
		t.Errorf("KindData.String() = %q", KindData.String())
	}
	if KindEvent.String() != "event" {
		t.Errorf("KindEvent.String() = %q", KindEvent.String())
	}
}
