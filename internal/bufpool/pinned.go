package bufpool

import (
	"sync/atomic"

	"github.com/latticedb/storecore/internal/diskmgr"
	"github.com/latticedb/storecore/internal/page"
)

// PinnedPage is the pin-acquisition guard: holding one keeps its frame
// ineligible for eviction until Unpin releases it, exactly once, with the
// dirty flag the caller earned.
type PinnedPage struct {
	pool    *BufferPool
	id      diskmgr.PageID
	Page    *page.Page
	unpined int32
}

// ID returns the page identity this guard pins.
func (p *PinnedPage) ID() diskmgr.PageID { return p.id }

// Unpin releases the pin, ORing dirty into the frame's dirty flag. Calling
// Unpin more than once on the same guard is a programming error; the
// second call is a no-op rather than double-decrementing the pool's pin
// count.
func (p *PinnedPage) Unpin(dirty bool) error {
	if !atomic.CompareAndSwapInt32(&p.unpined, 0, 1) {
		return nil
	}
	return p.pool.UnpinPage(p.id, dirty)
}
