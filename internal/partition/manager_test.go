package partition

import (
	"sync"
	"testing"
	"time"

	"github.com/dataflowlab/shuffle/internal/memory"
	"github.com/dataflowlab/shuffle/internal/spill"
)

func newTestManager(t *testing.T) (*Manager, *memory.Pool) {
	t.Helper()
	pool, err := memory.NewPool(memory.PoolConfig{
		SegmentSize:    128,
		Segments:       8,
		RequestTimeout: 100 * time.Millisecond,
	}, testLogger(), nil)
	if err != nil {
		t.Fatalf("memory.NewPool() error = %v", err)
	}
	spillMgr, err := spill.NewManager(spill.ManagerConfig{Dir: t.TempDir()}, testLogger(), nil)
	if err != nil {
		t.Fatalf("spill.NewManager() error = %v", err)
	}
	return NewManager(pool, spillMgr, testLogger(), nil), pool
}

func TestManagerGetOrCreateIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)

	p1 := m.GetOrCreate(3)
	p2 := m.GetOrCreate(3)
	if p1 != p2 {
		t.Error("GetOrCreate returned different partitions for the same index")
	}
	if p1.Index() != 3 {
		t.Errorf("Index() = %d, want 3", p1.Index())
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

func TestManagerGet(t *testing.T) {
	m, _ := newTestManager(t)

	if _, ok := m.Get(0); ok {
		t.Error("Get() on empty manager should report absence")
	}
	created := m.GetOrCreate(0)
	got, ok := m.Get(0)
	if !ok || got != created {
		t.Error("Get() should return the created partition")
	}
}

func TestManagerConcurrentGetOrCreate(t *testing.T) {
	m, _ := newTestManager(t)

	var wg sync.WaitGroup
	results := make([]*Partition, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot] = m.GetOrCreate(7)
		}(i)
	}
	wg.Wait()

	for i := 1; i < 16; i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent GetOrCreate produced distinct partitions")
		}
	}
}

func TestManagerReleaseAll(t *testing.T) {
	m, _ := newTestManager(t)

	parts := make([]*Partition, 4)
	for i := range parts {
		parts[i] = m.GetOrCreate(i)
		mustAppend(t, parts[i], dataBuffer("x", nil))
	}

	if err := m.ReleaseAll(); err != nil {
		t.Fatalf("ReleaseAll() error = %v", err)
	}
	for i, p := range parts {
		if !p.IsReleased() {
			t.Errorf("partition %d not released", i)
		}
	}
	if m.Count() != 0 {
		t.Errorf("Count() after ReleaseAll = %d, want 0", m.Count())
	}

	// Releasing an already empty manager is fine.
	if err := m.ReleaseAll(); err != nil {
		t.Errorf("second ReleaseAll() error = %v", err)
	}
}

func TestPoolReclaimSpillsRegisteredPartition(t *testing.T) {
	m, pool := newTestManager(t)
	p := m.GetOrCreate(0)

	// Take every segment and park it in the partition.
	for i := 0; i < pool.Capacity(); i++ {
		b, err := pool.Request()
		if err != nil {
			t.Fatalf("Request() %d error = %v", i, err)
		}
		b.SetSize(b.Capacity())
		mustAppend(t, p, b)
	}
	if pool.Available() != 0 {
		t.Fatalf("Available() = %d, want 0", pool.Available())
	}

	// The next request must force the partition to spill and succeed
	// once segments flow back from the spill writer.
	b, err := pool.Request()
	if err != nil {
		t.Fatalf("Request() under pressure error = %v", err)
	}
	b.Recycle()

	if got := p.UnsynchronizedGetNumberOfQueuedBuffers(); got != 0 {
		t.Errorf("queued buffers after reclaim = %d, want 0", got)
	}
}
