package btree

import (
	"fmt"
	"sort"

	"github.com/latticedb/storecore/internal/bufpool"
	"github.com/latticedb/storecore/internal/codec"
	"github.com/latticedb/storecore/internal/diskmgr"
	"github.com/latticedb/storecore/internal/page"
	"github.com/latticedb/storecore/internal/schema"
)

// internalNode wraps a pinned InternalNode page, storing separator
// entries (key, child page id) plus a distinguished rightmost child.
type internalNode struct {
	pinned   *bufpool.PinnedPage
	table    *schema.Table
	keySpecs []codec.ColumnSpec
}

func wrapInternal(pinned *bufpool.PinnedPage, table *schema.Table) (*internalNode, error) {
	keySpecs, err := table.KeySpecs()
	if err != nil {
		return nil, err
	}
	return &internalNode{pinned: pinned, table: table, keySpecs: keySpecs}, nil
}

func (n *internalNode) p() *page.Page    { return n.pinned.Page }
func (n *internalNode) itemCount() int32 { return n.p().ItemCount() }
func (n *internalNode) tableID() diskmgr.TableID { return n.pinned.ID().TableID }

type internalEntry struct {
	key   codec.Key
	child diskmgr.PageID
}

func (n *internalNode) encodeEntry(key codec.Key, child diskmgr.PageID) ([]byte, error) {
	keyBytes, err := codec.EncodeKey(n.keySpecs, key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(keyBytes)+8)
	copy(out, keyBytes)
	codec.PutInt32(out[len(keyBytes):], int32(child.TableID))
	codec.PutInt32(out[len(keyBytes)+4:], child.PageIndex)
	return out, nil
}

func (n *internalNode) decodeEntry(raw []byte) (internalEntry, error) {
	if len(raw) < 8 {
		return internalEntry{}, fmt.Errorf("%w: truncated internal entry", ErrInvalidOperation)
	}
	keyBytes := raw[:len(raw)-8]
	childBytes := raw[len(raw)-8:]
	key, err := codec.DecodeKey(n.keySpecs, keyBytes)
	if err != nil {
		return internalEntry{}, err
	}
	child := diskmgr.PageID{
		TableID:   diskmgr.TableID(codec.GetInt32(childBytes[0:4])),
		PageIndex: codec.GetInt32(childBytes[4:8]),
	}
	return internalEntry{key: key, child: child}, nil
}

func (n *internalNode) entryAt(i int32) (internalEntry, error) {
	raw, err := page.GetRecord(n.p(), i)
	if err != nil {
		return internalEntry{}, err
	}
	return n.decodeEntry(raw)
}

func (n *internalNode) keyAt(i int32) (codec.Key, error) {
	e, err := n.entryAt(i)
	if err != nil {
		return nil, err
	}
	return e.key, nil
}

func (n *internalNode) findSlotIndex(key codec.Key) (int32, error) {
	return findSlotIndex(n.itemCount(), n.keyAt, n.keySpecs, key)
}

func (n *internalNode) rightmostChild() diskmgr.PageID {
	return diskmgr.PageID{TableID: n.tableID(), PageIndex: n.p().RightmostChildIndex()}
}

func (n *internalNode) setRightmostChild(child diskmgr.PageID) {
	n.p().SetRightmostChildIndex(child.PageIndex)
}

// lookupChildPage resolves key to the child page that would contain it. A
// slot's own child holds only keys strictly less than its separator — the
// separator value itself always lives on the far side, promoted up as the
// first key of whatever was split off to its right. So an exact hit on a
// separator routes one slot further, same as a miss landing just past it.
func (n *internalNode) lookupChildPage(key codec.Key) (diskmgr.PageID, error) {
	idx, err := n.findSlotIndex(key)
	if err != nil {
		return diskmgr.PageID{}, err
	}
	next := idx + 1
	if idx < 0 {
		next = ^idx
	}
	if next == n.itemCount() {
		return n.rightmostChild(), nil
	}
	e, err := n.entryAt(next)
	if err != nil {
		return diskmgr.PageID{}, err
	}
	return e.child, nil
}

// setChildAt rewrites the child pointer of the entry at slot i, keeping
// its key unchanged.
func (n *internalNode) setChildAt(i int32, child diskmgr.PageID) error {
	e, err := n.entryAt(i)
	if err != nil {
		return err
	}
	data, err := n.encodeEntry(e.key, child)
	if err != nil {
		return err
	}
	ok, err := page.TryUpdateRecord(n.p(), i, data)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: rewriting child pointer at slot %d did not fit", ErrInvalidOperation, i)
	}
	return nil
}

// tryInsert inserts a new (key, child) entry in separator order. It
// returns false (without mutating the page) if there isn't room, and
// ErrDuplicateKey if the separator key already exists.
func (n *internalNode) tryInsert(key codec.Key, child diskmgr.PageID) (bool, error) {
	idx, err := n.findSlotIndex(key)
	if err != nil {
		return false, err
	}
	if idx >= 0 {
		return false, fmt.Errorf("%w: separator %v", ErrDuplicateKey, key)
	}
	data, err := n.encodeEntry(key, child)
	if err != nil {
		return false, err
	}
	return page.TryAddRecord(n.p(), data, ^idx)
}

func (n *internalNode) allEntries() ([]internalEntry, error) {
	count := n.itemCount()
	out := make([]internalEntry, 0, count)
	for i := int32(0); i < count; i++ {
		raw, err := page.GetRecord(n.p(), i)
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			continue
		}
		e, err := n.decodeEntry(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (n *internalNode) sortEntries(entries []internalEntry) {
	sort.Slice(entries, func(i, j int) bool {
		c, _ := codec.CompareKeys(n.keySpecs, entries[i].key, entries[j].key)
		return c < 0
	})
}

// splitAndInsert builds the sorted (N+1)-entry list, leaves the lower half
// in this node with rightmost set to the median's child, moves the upper
// half into newRight with the old rightmost, and promotes the median key
// (its former child becomes this node's new rightmost).
func (n *internalNode) splitAndInsert(newKey codec.Key, newChild diskmgr.PageID, newRight *internalNode) (codec.Key, error) {
	existing, err := n.allEntries()
	if err != nil {
		return nil, err
	}
	all := make([]internalEntry, 0, len(existing)+1)
	all = append(all, existing...)
	all = append(all, internalEntry{key: newKey, child: newChild})
	n.sortEntries(all)

	median := len(all) / 2
	left := all[:median]
	promoted := all[median]
	right := all[median+1:]

	oldRightmost := n.rightmostChild()
	parentIdx := n.p().ParentPageIndex()

	if _, err := page.Initialize(n.p().Bytes(), page.InternalNode, parentIdx); err != nil {
		return nil, err
	}
	for i, e := range left {
		data, err := n.encodeEntry(e.key, e.child)
		if err != nil {
			return nil, err
		}
		ok, err := page.TryAddRecord(n.p(), data, int32(i))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: left half of internal split does not fit an empty page", ErrInvalidOperation)
		}
	}
	n.setRightmostChild(promoted.child)

	for i, e := range right {
		data, err := newRight.encodeEntry(e.key, e.child)
		if err != nil {
			return nil, err
		}
		ok, err := page.TryAddRecord(newRight.p(), data, int32(i))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: right half of internal split does not fit an empty page", ErrInvalidOperation)
		}
	}
	newRight.setRightmostChild(oldRightmost)

	return promoted.key, nil
}

// children returns every child page id this node points to: every entry's
// child plus the rightmost. Used when reparenting a split internal node's
// grandchildren.
func (n *internalNode) children() ([]diskmgr.PageID, error) {
	entries, err := n.allEntries()
	if err != nil {
		return nil, err
	}
	out := make([]diskmgr.PageID, 0, len(entries)+1)
	for _, e := range entries {
		out = append(out, e.child)
	}
	out = append(out, n.rightmostChild())
	return out, nil
}
