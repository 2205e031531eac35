// Package bufpool implements the fixed-size buffer pool that caches
// table pages in memory with pin/eviction discipline: a frame array, a
// concurrent page table, a free list, an LRU replacer, and per-page load
// deduplication.
package bufpool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/latticedb/storecore/internal/diskmgr"
	"github.com/latticedb/storecore/internal/page"
)

// Errors surfaced by the buffer pool.
var (
	ErrBufferPoolFull    = errors.New("bufpool: no unpinned frame available for eviction")
	ErrCouldNotLoadPage  = errors.New("bufpool: could not load page from disk")
	ErrCouldNotFlushPage = errors.New("bufpool: could not flush page to disk")
)

// Config holds the buffer pool's tunables.
type Config struct {
	// PoolSizePages is the number of frames held in memory.
	PoolSizePages int
	// PageTableConcurrency shards the per-page load-dedup lock map to
	// reduce contention; it does not shard the page table itself (a
	// sync.Map already gives a concurrent-safe map).
	PageTableConcurrency int
}

type frame struct {
	index    int
	buf      []byte
	id       diskmgr.PageID
	pinCount int32
	dirty    bool
	valid    bool

	linked     bool
	prev, next *frame
}

type evictedPage struct {
	id   diskmgr.PageID
	data []byte
}

type loadLockShard struct {
	mu    sync.Mutex
	locks map[diskmgr.PageID]*semaphore.Weighted
}

// BufferPool is the frame cache sitting between the B+Tree/engine layers
// and the disk manager. It is safe for concurrent use.
type BufferPool struct {
	disk *diskmgr.Manager
	cfg  Config

	mu         sync.Mutex // replacer_lock: frame metadata, free list, LRU links
	frames     []*frame
	freeFrames []int
	lruHead    *frame // LRU candidate
	lruTail    *frame // MRU

	pageTable sync.Map // diskmgr.PageID -> int (frame index)

	loadShards []loadLockShard
}

// New allocates a pool of cfg.PoolSizePages frames backed by disk.
func New(disk *diskmgr.Manager, cfg Config) (*BufferPool, error) {
	if cfg.PoolSizePages <= 0 {
		return nil, fmt.Errorf("bufpool: pool_size_pages must be positive, got %d", cfg.PoolSizePages)
	}
	if cfg.PageTableConcurrency <= 0 {
		cfg.PageTableConcurrency = 1
	}
	bp := &BufferPool{
		disk:       disk,
		cfg:        cfg,
		frames:     make([]*frame, cfg.PoolSizePages),
		freeFrames: make([]int, cfg.PoolSizePages),
		loadShards: make([]loadLockShard, cfg.PageTableConcurrency),
	}
	for i := range bp.frames {
		bp.frames[i] = &frame{index: i, buf: make([]byte, page.Size)}
		bp.freeFrames[i] = i
	}
	for i := range bp.loadShards {
		bp.loadShards[i].locks = make(map[diskmgr.PageID]*semaphore.Weighted)
	}
	log.Printf("bufpool: allocated %d frames (%s)", cfg.PoolSizePages,
		humanize.Bytes(uint64(cfg.PoolSizePages)*uint64(page.Size)))
	return bp, nil
}

// ── LRU linked-list helpers (replacer_lock must already be held) ─────────

func (bp *BufferPool) unlink(f *frame) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		bp.lruHead = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else {
		bp.lruTail = f.prev
	}
	f.prev, f.next, f.linked = nil, nil, false
}

func (bp *BufferPool) linkTail(f *frame) {
	f.prev = bp.lruTail
	f.next = nil
	if bp.lruTail != nil {
		bp.lruTail.next = f
	} else {
		bp.lruHead = f
	}
	bp.lruTail = f
	f.linked = true
}

func (bp *BufferPool) touchMRU(f *frame) {
	if f.linked {
		bp.unlink(f)
	}
	bp.linkTail(f)
}

// ── Frame acquisition ─────────────────────────────────────────────────────

// obtainFrame reserves a frame for reuse: either the next free frame, or
// the LRU victim (the head-most frame with pin_count == 0). The returned
// frame has pin_count == 1 and valid == false ("in limbo") so no other
// caller can select it before the caller finishes loading real content
// into it via finalizeFrame or undoes the reservation via revertFrame.
// If a valid dirty page was displaced, its old id and a copy of its bytes
// are returned for the caller to flush outside the lock.
func (bp *BufferPool) obtainFrame() (int, *evictedPage, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if n := len(bp.freeFrames); n > 0 {
		idx := bp.freeFrames[n-1]
		bp.freeFrames = bp.freeFrames[:n-1]
		bp.frames[idx].pinCount = 1
		return idx, nil, nil
	}

	var victim *frame
	for f := bp.lruHead; f != nil; f = f.next {
		if f.pinCount == 0 {
			victim = f
			break
		}
	}
	if victim == nil {
		log.Printf("bufpool: pool full (%d frames, all pinned)", len(bp.frames))
		return -1, nil, ErrBufferPoolFull
	}

	var evicted *evictedPage
	if victim.valid {
		bp.pageTable.Delete(victim.id)
		if victim.dirty {
			data := make([]byte, len(victim.buf))
			copy(data, victim.buf)
			evicted = &evictedPage{id: victim.id, data: data}
		}
	}
	victim.valid = false
	victim.dirty = false
	victim.pinCount = 1
	return victim.index, evicted, nil
}

// finalizeFrame commits a reserved frame as holding id's content.
func (bp *BufferPool) finalizeFrame(idx int, id diskmgr.PageID, dirty bool) {
	bp.mu.Lock()
	f := bp.frames[idx]
	f.id = id
	f.valid = true
	f.dirty = dirty
	bp.touchMRU(f)
	bp.mu.Unlock()
	bp.pageTable.Store(id, idx)
}

// revertFrame undoes a reservation after a failed load: the frame goes
// back to the free list and leaves no trace in the page table or LRU.
func (bp *BufferPool) revertFrame(idx int) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	f := bp.frames[idx]
	if f.linked {
		bp.unlink(f)
	}
	f.valid = false
	f.pinCount = 0
	f.dirty = false
	bp.freeFrames = append(bp.freeFrames, idx)
}

// ── Load-lock sharding ─────────────────────────────────────────────────────

func hashPageID(id diskmgr.PageID) uint32 {
	h := uint32(2166136261)
	for _, b := range []byte{
		byte(id.TableID), byte(id.TableID >> 8), byte(id.TableID >> 16), byte(id.TableID >> 24),
		byte(id.PageIndex), byte(id.PageIndex >> 8), byte(id.PageIndex >> 16), byte(id.PageIndex >> 24),
	} {
		h ^= uint32(b)
		h *= 16777619
	}
	return h
}

func (bp *BufferPool) loadLock(id diskmgr.PageID) *semaphore.Weighted {
	shard := &bp.loadShards[hashPageID(id)%uint32(len(bp.loadShards))]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	sem, ok := shard.locks[id]
	if !ok {
		sem = semaphore.NewWeighted(1)
		shard.locks[id] = sem
	}
	return sem
}

// ── Public operations ──────────────────────────────────────────────────────

// TableFileExists reports whether tableID already has a file on disk,
// independent of whether any of its pages are currently cached. Higher
// layers (the storage engine's catalog bootstrap) use this to decide
// whether to create or open a table's B+Tree.
func (bp *BufferPool) TableFileExists(tableID diskmgr.TableID) bool {
	return bp.disk.TableFileExists(tableID)
}

// CreatePage allocates a new page for tableID on disk, obtains a frame for
// it (evicting if necessary), and returns it pinned and marked dirty.
func (bp *BufferPool) CreatePage(tableID diskmgr.TableID) (*PinnedPage, error) {
	if !bp.disk.TableFileExists(tableID) {
		if err := bp.disk.CreateTableFile(tableID); err != nil {
			return nil, err
		}
	}
	id, err := bp.disk.AllocateNewPage(tableID)
	if err != nil {
		return nil, err
	}

	idx, evicted, err := bp.obtainFrame()
	if err != nil {
		return nil, err
	}
	if evicted != nil {
		if err := bp.disk.WritePage(evicted.id, evicted.data); err != nil {
			bp.revertFrame(idx)
			return nil, fmt.Errorf("%w: %v", ErrCouldNotFlushPage, err)
		}
	}

	f := bp.frames[idx]
	for i := range f.buf {
		f.buf[i] = 0
	}
	bp.finalizeFrame(idx, id, true)
	return &PinnedPage{pool: bp, id: id, Page: page.Wrap(f.buf)}, nil
}

// FetchPage returns the page at id, pinned, loading it from disk if it is
// not already resident.
func (bp *BufferPool) FetchPage(id diskmgr.PageID) (*PinnedPage, error) {
	if p, ok := bp.tryFastFetch(id); ok {
		return p, nil
	}

	sem := bp.loadLock(id)
	if err := sem.Acquire(context.Background(), 1); err != nil {
		return nil, fmt.Errorf("bufpool: acquiring load lock for %v: %w", id, err)
	}
	defer sem.Release(1)

	if p, ok := bp.tryFastFetch(id); ok {
		return p, nil
	}

	idx, evicted, err := bp.obtainFrame()
	if err != nil {
		return nil, err
	}
	if evicted != nil {
		if err := bp.disk.WritePage(evicted.id, evicted.data); err != nil {
			bp.revertFrame(idx)
			return nil, fmt.Errorf("%w: %v", ErrCouldNotFlushPage, err)
		}
	}

	f := bp.frames[idx]
	if err := bp.disk.ReadPage(id, f.buf); err != nil {
		bp.revertFrame(idx)
		return nil, fmt.Errorf("%w: %v", ErrCouldNotLoadPage, err)
	}
	bp.finalizeFrame(idx, id, false)
	return &PinnedPage{pool: bp, id: id, Page: page.Wrap(f.buf)}, nil
}

func (bp *BufferPool) tryFastFetch(id diskmgr.PageID) (*PinnedPage, bool) {
	v, ok := bp.pageTable.Load(id)
	if !ok {
		return nil, false
	}
	idx := v.(int)
	bp.mu.Lock()
	f := bp.frames[idx]
	if !f.valid || f.id != id {
		bp.mu.Unlock()
		return nil, false
	}
	f.pinCount++
	bp.touchMRU(f)
	bp.mu.Unlock()
	return &PinnedPage{pool: bp, id: id, Page: page.Wrap(f.buf)}, true
}

// UnpinPage decrements id's pin count and ORs markDirty into its dirty
// flag. Unpinning a page that is not resident, or over-unpinning past a
// pin count of 0, is a programming error.
func (bp *BufferPool) UnpinPage(id diskmgr.PageID, markDirty bool) error {
	v, ok := bp.pageTable.Load(id)
	if !ok {
		return fmt.Errorf("bufpool: unpin of non-resident page %v", id)
	}
	idx := v.(int)
	bp.mu.Lock()
	defer bp.mu.Unlock()
	f := bp.frames[idx]
	if f.pinCount <= 0 {
		return fmt.Errorf("bufpool: unpin of page %v with pin_count already 0", id)
	}
	f.pinCount--
	if markDirty {
		f.dirty = true
	}
	return nil
}

// FlushPage writes id to disk and clears its dirty flag if it is resident
// and dirty. It reports whether a write occurred.
func (bp *BufferPool) FlushPage(id diskmgr.PageID) (bool, error) {
	v, ok := bp.pageTable.Load(id)
	if !ok {
		return false, nil
	}
	idx := v.(int)

	bp.mu.Lock()
	f := bp.frames[idx]
	if !f.valid || f.id != id || !f.dirty {
		bp.mu.Unlock()
		return false, nil
	}
	data := make([]byte, len(f.buf))
	copy(data, f.buf)
	bp.mu.Unlock()

	if err := bp.disk.WritePage(id, data); err != nil {
		return false, fmt.Errorf("%w: %v", ErrCouldNotFlushPage, err)
	}

	bp.mu.Lock()
	if f.valid && f.id == id {
		f.dirty = false
	}
	bp.mu.Unlock()
	return true, nil
}

// FlushAllDirtyPages flushes every currently resident dirty page. It is
// best-effort: failures are logged and joined into the returned error,
// but every page is still attempted.
func (bp *BufferPool) FlushAllDirtyPages() error {
	var ids []diskmgr.PageID
	bp.pageTable.Range(func(k, _ any) bool {
		ids = append(ids, k.(diskmgr.PageID))
		return true
	})

	var errs []error
	flushed := 0
	for _, id := range ids {
		ok, err := bp.FlushPage(id)
		if err != nil {
			log.Printf("bufpool: flush of page %v failed: %v", id, err)
			errs = append(errs, err)
			continue
		}
		if ok {
			flushed++
		}
	}
	if flushed > 0 {
		log.Printf("bufpool: flushed %s dirty pages", humanize.Comma(int64(flushed)))
	}
	return errors.Join(errs...)
}

// Dispose flushes every dirty page and releases the pool's buffers. The
// pool must not be used afterward.
func (bp *BufferPool) Dispose() error {
	err := bp.FlushAllDirtyPages()
	bp.mu.Lock()
	for _, f := range bp.frames {
		f.buf = nil
	}
	bp.mu.Unlock()
	return err
}
