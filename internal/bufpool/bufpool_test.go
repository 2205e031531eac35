package bufpool

import (
	"errors"
	"testing"

	"github.com/latticedb/storecore/internal/diskmgr"
)

func newTestPool(t *testing.T, poolSize int) (*BufferPool, *diskmgr.Manager) {
	t.Helper()
	disk, err := diskmgr.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	bp, err := New(disk, Config{PoolSizePages: poolSize, PageTableConcurrency: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return bp, disk
}

func TestCreateAndFetchPage(t *testing.T) {
	bp, _ := newTestPool(t, 4)
	pinned, err := bp.CreatePage(1)
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	id := pinned.ID()
	pinned.Page.Bytes()[100] = 0x42
	if err := pinned.Unpin(true); err != nil {
		t.Fatalf("Unpin: %v", err)
	}

	fetched, err := bp.FetchPage(id)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if fetched.Page.Bytes()[100] != 0x42 {
		t.Fatalf("expected cached write to be visible on refetch")
	}
	if err := fetched.Unpin(false); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
}

func TestEvictionFlushesDirtyPageAndReload(t *testing.T) {
	bp, _ := newTestPool(t, 1) // force eviction on the second page

	p1, err := bp.CreatePage(1)
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	id1 := p1.ID()
	p1.Page.Bytes()[0] = 0xAA
	if err := p1.Unpin(true); err != nil {
		t.Fatalf("Unpin: %v", err)
	}

	p2, err := bp.CreatePage(1)
	if err != nil {
		t.Fatalf("CreatePage (should evict p1): %v", err)
	}
	if err := p2.Unpin(false); err != nil {
		t.Fatalf("Unpin: %v", err)
	}

	reloaded, err := bp.FetchPage(id1)
	if err != nil {
		t.Fatalf("FetchPage after eviction: %v", err)
	}
	if reloaded.Page.Bytes()[0] != 0xAA {
		t.Fatalf("expected evicted dirty page to have been flushed to disk")
	}
	if err := reloaded.Unpin(false); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
}

func TestBufferPoolFullWhenAllPinned(t *testing.T) {
	bp, _ := newTestPool(t, 2)
	p1, err := bp.CreatePage(1)
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	p2, err := bp.CreatePage(1)
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if _, err := bp.CreatePage(1); !errors.Is(err, ErrBufferPoolFull) {
		t.Fatalf("expected BufferPoolFull with both frames pinned, got %v", err)
	}
	_ = p1
	_ = p2
}

func TestUnpinUnknownPageIsError(t *testing.T) {
	bp, _ := newTestPool(t, 2)
	err := bp.UnpinPage(diskmgr.PageID{TableID: 1, PageIndex: 99}, false)
	if err == nil {
		t.Fatalf("expected error unpinning a non-resident page")
	}
}

func TestFlushAllDirtyPagesThenIdempotent(t *testing.T) {
	bp, _ := newTestPool(t, 4)
	p, err := bp.CreatePage(1)
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if err := p.Unpin(true); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	if err := bp.FlushAllDirtyPages(); err != nil {
		t.Fatalf("FlushAllDirtyPages: %v", err)
	}
	// second call should be a no-op (nothing dirty left)
	if err := bp.FlushAllDirtyPages(); err != nil {
		t.Fatalf("FlushAllDirtyPages (idempotent): %v", err)
	}
}
