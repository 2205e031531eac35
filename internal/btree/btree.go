package btree

import (
	"fmt"
	"sync"

	"github.com/latticedb/storecore/internal/bufpool"
	"github.com/latticedb/storecore/internal/codec"
	"github.com/latticedb/storecore/internal/diskmgr"
	"github.com/latticedb/storecore/internal/page"
	"github.com/latticedb/storecore/internal/schema"
)

// splitResult is the contract handed back up the insert call stack when a
// child split and its separator still needs to be promoted into its
// parent.
type splitResult struct {
	separator    codec.Key
	parentPageID diskmgr.PageID
	leftChild    diskmgr.PageID
	rightChild   diskmgr.PageID
}

// Tree is the clustered primary-key B+Tree orchestrator for one table. It
// holds a handle to the buffer pool (injected, never a global singleton)
// and the table's schema.
type Tree struct {
	pool    *bufpool.BufferPool
	table   *schema.Table
	tableID diskmgr.TableID

	headerPageID diskmgr.PageID

	mu            sync.RWMutex
	rootPageIndex int32
}

// CreateTree formats a brand-new table: page 0 as the TableHeader, page 1
// as an empty root leaf. It fails if the table already has pages (the
// header allocation must land at index 0).
func CreateTree(pool *bufpool.BufferPool, tableID diskmgr.TableID, table *schema.Table) (*Tree, error) {
	headerPinned, err := pool.CreatePage(tableID)
	if err != nil {
		return nil, err
	}
	if headerPinned.ID().PageIndex != 0 {
		_ = headerPinned.Unpin(false)
		return nil, fmt.Errorf("%w: table %d already has pages; the table-header page must land at index 0", ErrInvalidOperation, tableID)
	}
	if _, err := page.Initialize(headerPinned.Page.Bytes(), page.TableHeader, page.InvalidIndex); err != nil {
		_ = headerPinned.Unpin(false)
		return nil, err
	}

	rootPinned, err := pool.CreatePage(tableID)
	if err != nil {
		_ = headerPinned.Unpin(true)
		return nil, err
	}
	if _, err := page.Initialize(rootPinned.Page.Bytes(), page.LeafNode, page.InvalidIndex); err != nil {
		_ = rootPinned.Unpin(false)
		_ = headerPinned.Unpin(true)
		return nil, err
	}
	headerPinned.Page.SetRootPageIndex(rootPinned.ID().PageIndex)

	rootIdx := rootPinned.ID().PageIndex
	if err := rootPinned.Unpin(true); err != nil {
		_ = headerPinned.Unpin(true)
		return nil, err
	}
	if err := headerPinned.Unpin(true); err != nil {
		return nil, err
	}

	return &Tree{
		pool:          pool,
		table:         table,
		tableID:       tableID,
		headerPageID:  diskmgr.PageID{TableID: tableID, PageIndex: 0},
		rootPageIndex: rootIdx,
	}, nil
}

// OpenTree loads an existing table's tree by reading its table-header page.
func OpenTree(pool *bufpool.BufferPool, tableID diskmgr.TableID, table *schema.Table) (*Tree, error) {
	headerID := diskmgr.PageID{TableID: tableID, PageIndex: 0}
	headerPinned, err := pool.FetchPage(headerID)
	if err != nil {
		return nil, err
	}
	if headerPinned.Page.Type() != page.TableHeader {
		_ = headerPinned.Unpin(false)
		return nil, fmt.Errorf("%w: page 0 of table %d is not a TableHeader", ErrInvalidPageType, tableID)
	}
	root := headerPinned.Page.RootPageIndex()
	if err := headerPinned.Unpin(false); err != nil {
		return nil, err
	}
	return &Tree{
		pool:          pool,
		table:         table,
		tableID:       tableID,
		headerPageID:  headerID,
		rootPageIndex: root,
	}, nil
}

func (t *Tree) rootID() diskmgr.PageID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return diskmgr.PageID{TableID: t.tableID, PageIndex: t.rootPageIndex}
}

// rotateRoot persists newRootIndex to the table-header page and updates
// the in-memory cache.
func (t *Tree) rotateRoot(newRootIndex int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	headerPinned, err := t.pool.FetchPage(t.headerPageID)
	if err != nil {
		return err
	}
	headerPinned.Page.SetRootPageIndex(newRootIndex)
	if err := headerPinned.Unpin(true); err != nil {
		return err
	}
	t.rootPageIndex = newRootIndex
	return nil
}

// Search returns the record for key, or ok=false if it does not exist.
func (t *Tree) Search(key codec.Key) (codec.Record, bool, error) {
	id := t.rootID()
	for {
		pinned, err := t.pool.FetchPage(id)
		if err != nil {
			return nil, false, err
		}
		switch pinned.Page.Type() {
		case page.LeafNode:
			l, err := wrapLeaf(pinned, t.table)
			if err != nil {
				_ = pinned.Unpin(false)
				return nil, false, err
			}
			rec, ok, err := l.Search(key)
			if uerr := pinned.Unpin(false); uerr != nil {
				return nil, false, uerr
			}
			return rec, ok, err
		case page.InternalNode:
			n, err := wrapInternal(pinned, t.table)
			if err != nil {
				_ = pinned.Unpin(false)
				return nil, false, err
			}
			child, err := n.lookupChildPage(key)
			if uerr := pinned.Unpin(false); uerr != nil {
				return nil, false, uerr
			}
			if err != nil {
				return nil, false, err
			}
			id = child
		default:
			_ = pinned.Unpin(false)
			return nil, false, fmt.Errorf("%w: page type %v", ErrInvalidPageType, pinned.Page.Type())
		}
	}
}

// Insert adds record to the tree, keyed by its schema-defined primary
// key. It returns ErrDuplicateKey, leaving the tree as if the insert had
// never been attempted, if the key already exists.
func (t *Tree) Insert(record codec.Record) error {
	pkIndexes, err := t.table.PrimaryKeyIndexes()
	if err != nil {
		return err
	}
	key := codec.ExtractKey(record, pkIndexes)
	sr, err := t.insertRecursive(t.rootID(), record, key, diskmgr.PageID{})
	if err != nil {
		return err
	}
	if sr != nil {
		// The root always has parent_page_index == -1, so any split that
		// reaches it is resolved in place by allocating a new root rather
		// than bubbling a SplitResult past the top of the recursion.
		return fmt.Errorf("%w: split result reached the top of Insert unresolved", ErrInvalidOperation)
	}
	return nil
}

func (t *Tree) insertRecursive(pageID diskmgr.PageID, record codec.Record, key codec.Key, parentOfThisPageID diskmgr.PageID) (*splitResult, error) {
	pinned, err := t.pool.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	switch pinned.Page.Type() {
	case page.LeafNode:
		return t.insertIntoLeaf(pinned, record, key, parentOfThisPageID)
	case page.InternalNode:
		return t.insertIntoInternal(pinned, record, key, parentOfThisPageID)
	default:
		_ = pinned.Unpin(false)
		return nil, fmt.Errorf("%w: page type %v", ErrInvalidPageType, pinned.Page.Type())
	}
}

func (t *Tree) insertIntoLeaf(pinned *bufpool.PinnedPage, record codec.Record, key codec.Key, parentOfThisPageID diskmgr.PageID) (*splitResult, error) {
	l, err := wrapLeaf(pinned, t.table)
	if err != nil {
		_ = pinned.Unpin(false)
		return nil, err
	}

	ok, err := l.TryInsert(record)
	if err != nil {
		_ = pinned.Unpin(false)
		return nil, err
	}
	if ok {
		return nil, pinned.Unpin(true)
	}

	// Full: split into a freshly allocated right leaf.
	newRightPinned, err := t.pool.CreatePage(t.tableID)
	if err != nil {
		_ = pinned.Unpin(false)
		return nil, err
	}
	if _, err := page.Initialize(newRightPinned.Page.Bytes(), page.LeafNode, pinned.Page.ParentPageIndex()); err != nil {
		_ = newRightPinned.Unpin(false)
		_ = pinned.Unpin(false)
		return nil, err
	}
	newRight, err := wrapLeaf(newRightPinned, t.table)
	if err != nil {
		_ = newRightPinned.Unpin(false)
		_ = pinned.Unpin(false)
		return nil, err
	}

	var rightSibling *leaf
	var rightSiblingPinned *bufpool.PinnedPage
	if nextIdx := pinned.Page.NextPageIndex(); nextIdx != page.InvalidIndex {
		rightSiblingPinned, err = t.pool.FetchPage(diskmgr.PageID{TableID: t.tableID, PageIndex: nextIdx})
		if err != nil {
			_ = newRightPinned.Unpin(false)
			_ = pinned.Unpin(false)
			return nil, err
		}
		rightSibling, err = wrapLeaf(rightSiblingPinned, t.table)
		if err != nil {
			_ = rightSiblingPinned.Unpin(false)
			_ = newRightPinned.Unpin(false)
			_ = pinned.Unpin(false)
			return nil, err
		}
	}

	sep, err := l.splitAndInsert(record, newRight, rightSibling)
	if err != nil {
		if rightSiblingPinned != nil {
			_ = rightSiblingPinned.Unpin(false)
		}
		_ = newRightPinned.Unpin(false)
		_ = pinned.Unpin(false)
		return nil, err
	}
	if rightSiblingPinned != nil {
		if err := rightSiblingPinned.Unpin(true); err != nil {
			_ = newRightPinned.Unpin(true)
			_ = pinned.Unpin(true)
			return nil, err
		}
	}

	leftPageID := pinned.ID()
	rightPageID := newRightPinned.ID()

	if pinned.Page.ParentPageIndex() == page.InvalidIndex {
		return nil, t.becomeNewRoot(pinned, newRightPinned, sep, leftPageID, rightPageID)
	}

	if err := newRightPinned.Unpin(true); err != nil {
		_ = pinned.Unpin(true)
		return nil, err
	}
	if err := pinned.Unpin(true); err != nil {
		return nil, err
	}
	return &splitResult{separator: sep, parentPageID: parentOfThisPageID, leftChild: leftPageID, rightChild: rightPageID}, nil
}

func (t *Tree) insertIntoInternal(pinned *bufpool.PinnedPage, record codec.Record, key codec.Key, parentOfThisPageID diskmgr.PageID) (*splitResult, error) {
	n, err := wrapInternal(pinned, t.table)
	if err != nil {
		_ = pinned.Unpin(false)
		return nil, err
	}
	childID, err := n.lookupChildPage(key)
	if err != nil {
		_ = pinned.Unpin(false)
		return nil, err
	}

	// pinned stays pinned across the recursive call, so a splitResult
	// handed back always names a parent page this frame still holds.
	sr, err := t.insertRecursive(childID, record, key, pinned.ID())
	if err != nil {
		_ = pinned.Unpin(false)
		return nil, err
	}
	if sr == nil {
		return nil, pinned.Unpin(false)
	}
	if sr.parentPageID != pinned.ID() {
		_ = pinned.Unpin(false)
		return nil, fmt.Errorf("%w: split result's parent %v does not match the pinned parent %v", ErrInvalidOperation, sr.parentPageID, pinned.ID())
	}

	ins, err := n.findSlotIndex(sr.separator)
	if err != nil {
		_ = pinned.Unpin(false)
		return nil, err
	}
	if ins >= 0 {
		_ = pinned.Unpin(false)
		return nil, fmt.Errorf("%w: promoted key %v already present in parent", ErrInvalidOperation, sr.separator)
	}
	insPos := ^ins
	if insPos == n.itemCount() {
		n.setRightmostChild(sr.rightChild)
	} else if err := n.setChildAt(insPos, sr.rightChild); err != nil {
		_ = pinned.Unpin(false)
		return nil, err
	}

	ok, err := n.tryInsert(sr.separator, sr.leftChild)
	if err != nil {
		_ = pinned.Unpin(false)
		return nil, err
	}
	if ok {
		return nil, pinned.Unpin(true)
	}

	// This internal node is also full: split it.
	newRightPinned, err := t.pool.CreatePage(t.tableID)
	if err != nil {
		_ = pinned.Unpin(false)
		return nil, err
	}
	if _, err := page.Initialize(newRightPinned.Page.Bytes(), page.InternalNode, pinned.Page.ParentPageIndex()); err != nil {
		_ = newRightPinned.Unpin(false)
		_ = pinned.Unpin(false)
		return nil, err
	}
	newRight, err := wrapInternal(newRightPinned, t.table)
	if err != nil {
		_ = newRightPinned.Unpin(false)
		_ = pinned.Unpin(false)
		return nil, err
	}

	newSep, err := n.splitAndInsert(sr.separator, sr.leftChild, newRight)
	if err != nil {
		_ = newRightPinned.Unpin(false)
		_ = pinned.Unpin(false)
		return nil, err
	}
	if err := t.reparentChildren(newRight, newRightPinned.ID()); err != nil {
		_ = newRightPinned.Unpin(true)
		_ = pinned.Unpin(true)
		return nil, err
	}

	leftPageID := pinned.ID()
	rightPageID := newRightPinned.ID()

	if pinned.Page.ParentPageIndex() == page.InvalidIndex {
		return nil, t.becomeNewRoot(pinned, newRightPinned, newSep, leftPageID, rightPageID)
	}

	if err := newRightPinned.Unpin(true); err != nil {
		_ = pinned.Unpin(true)
		return nil, err
	}
	if err := pinned.Unpin(true); err != nil {
		return nil, err
	}
	return &splitResult{separator: newSep, parentPageID: parentOfThisPageID, leftChild: leftPageID, rightChild: rightPageID}, nil
}

// becomeNewRoot allocates a fresh InternalNode root over left/right,
// reparents both, and rotates the table header to point at it. It always
// unpins left and right (dirty) before returning, on every path.
func (t *Tree) becomeNewRoot(leftPinned, rightPinned *bufpool.PinnedPage, separator codec.Key, leftPageID, rightPageID diskmgr.PageID) error {
	newRootPinned, err := t.pool.CreatePage(t.tableID)
	if err != nil {
		_ = rightPinned.Unpin(true)
		_ = leftPinned.Unpin(true)
		return err
	}
	if _, err := page.Initialize(newRootPinned.Page.Bytes(), page.InternalNode, page.InvalidIndex); err != nil {
		_ = newRootPinned.Unpin(false)
		_ = rightPinned.Unpin(true)
		_ = leftPinned.Unpin(true)
		return err
	}
	newRoot, err := wrapInternal(newRootPinned, t.table)
	if err != nil {
		_ = newRootPinned.Unpin(false)
		_ = rightPinned.Unpin(true)
		_ = leftPinned.Unpin(true)
		return err
	}
	if ok, err := newRoot.tryInsert(separator, leftPageID); err != nil || !ok {
		_ = newRootPinned.Unpin(false)
		_ = rightPinned.Unpin(true)
		_ = leftPinned.Unpin(true)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: separator did not fit an empty new root", ErrInvalidOperation)
	}
	newRoot.setRightmostChild(rightPageID)

	leftPinned.Page.SetParentPageIndex(newRootPinned.ID().PageIndex)
	rightPinned.Page.SetParentPageIndex(newRootPinned.ID().PageIndex)

	newRootIndex := newRootPinned.ID().PageIndex
	if err := newRootPinned.Unpin(true); err != nil {
		_ = rightPinned.Unpin(true)
		_ = leftPinned.Unpin(true)
		return err
	}
	if err := rightPinned.Unpin(true); err != nil {
		_ = leftPinned.Unpin(true)
		return err
	}
	if err := leftPinned.Unpin(true); err != nil {
		return err
	}
	return t.rotateRoot(newRootIndex)
}

// reparentChildren rewrites parent_page_index on every child of n
// (including its rightmost) to point at newParentID — required whenever
// an internal node splits and some of its children move to the new
// sibling.
func (t *Tree) reparentChildren(n *internalNode, newParentID diskmgr.PageID) error {
	children, err := n.children()
	if err != nil {
		return err
	}
	for _, childID := range children {
		childPinned, err := t.pool.FetchPage(childID)
		if err != nil {
			return err
		}
		childPinned.Page.SetParentPageIndex(newParentID.PageIndex)
		if err := childPinned.Unpin(true); err != nil {
			return err
		}
	}
	return nil
}

// ── Scans ──────────────────────────────────────────────────────────────────

// seedLeaf returns the page id of the leaf that would contain min, or the
// leftmost leaf if min is nil.
func (t *Tree) seedLeaf(min *codec.Key) (diskmgr.PageID, error) {
	id := t.rootID()
	for {
		pinned, err := t.pool.FetchPage(id)
		if err != nil {
			return diskmgr.PageID{}, err
		}
		switch pinned.Page.Type() {
		case page.LeafNode:
			leafID := pinned.ID()
			return leafID, pinned.Unpin(false)
		case page.InternalNode:
			n, err := wrapInternal(pinned, t.table)
			if err != nil {
				_ = pinned.Unpin(false)
				return diskmgr.PageID{}, err
			}
			var next diskmgr.PageID
			if min == nil {
				if n.itemCount() > 0 {
					e, err := n.entryAt(0)
					if err != nil {
						_ = pinned.Unpin(false)
						return diskmgr.PageID{}, err
					}
					next = e.child
				} else {
					next = n.rightmostChild()
				}
			} else {
				next, err = n.lookupChildPage(*min)
				if err != nil {
					_ = pinned.Unpin(false)
					return diskmgr.PageID{}, err
				}
			}
			if err := pinned.Unpin(false); err != nil {
				return diskmgr.PageID{}, err
			}
			id = next
		default:
			_ = pinned.Unpin(false)
			return diskmgr.PageID{}, fmt.Errorf("%w: page type %v", ErrInvalidPageType, pinned.Page.Type())
		}
	}
}

// Scan calls fn for every record with min ≤/< key ≤/< max (per the
// inclusive flags), in ascending primary-key order, following the leaf
// chain via next_page_index. fn returns false to stop early. A nil min or
// max means unbounded on that side.
func (t *Tree) Scan(min *codec.Key, minInclusive bool, max *codec.Key, maxInclusive bool, fn func(codec.Record) (bool, error)) error {
	keySpecs, err := t.table.KeySpecs()
	if err != nil {
		return err
	}
	if min != nil && max != nil {
		c, err := codec.CompareKeys(keySpecs, *min, *max)
		if err != nil {
			return err
		}
		if c > 0 {
			return nil
		}
	}

	leafPageID, err := t.seedLeaf(min)
	if err != nil {
		return err
	}

	start := int32(0)
	first := true
	for leafPageID.PageIndex != page.InvalidIndex {
		pinned, err := t.pool.FetchPage(leafPageID)
		if err != nil {
			return err
		}
		l, err := wrapLeaf(pinned, t.table)
		if err != nil {
			_ = pinned.Unpin(false)
			return err
		}

		if first {
			first = false
			switch {
			case min == nil:
				start = 0
			default:
				idx, err := l.findSlotIndex(*min)
				if err != nil {
					_ = pinned.Unpin(false)
					return err
				}
				switch {
				case idx < 0:
					start = ^idx
				case !minInclusive:
					start = idx + 1
				default:
					start = idx
				}
			}
		}

		stop := false
		count := l.itemCount()
		for i := start; i < count; i++ {
			raw, err := page.GetRecord(l.p(), i)
			if err != nil {
				_ = pinned.Unpin(false)
				return err
			}
			if len(raw) == 0 {
				continue
			}
			rec, err := codec.Deserialize(l.specs, raw)
			if err != nil {
				_ = pinned.Unpin(false)
				return err
			}
			if max != nil {
				key := codec.ExtractKey(rec, l.pkIndexes)
				c, err := codec.CompareKeys(keySpecs, key, *max)
				if err != nil {
					_ = pinned.Unpin(false)
					return err
				}
				if (maxInclusive && c > 0) || (!maxInclusive && c >= 0) {
					stop = true
					break
				}
			}
			cont, err := fn(rec)
			if err != nil {
				_ = pinned.Unpin(false)
				return err
			}
			if !cont {
				stop = true
				break
			}
		}

		next := l.p().NextPageIndex()
		if err := pinned.Unpin(false); err != nil {
			return err
		}
		if stop {
			return nil
		}
		leafPageID = diskmgr.PageID{TableID: t.tableID, PageIndex: next}
		start = 0
	}
	return nil
}

// ScanRange eagerly collects Scan's results.
func (t *Tree) ScanRange(min *codec.Key, minInclusive bool, max *codec.Key, maxInclusive bool) ([]codec.Record, error) {
	var out []codec.Record
	err := t.Scan(min, minInclusive, max, maxInclusive, func(r codec.Record) (bool, error) {
		out = append(out, r)
		return true, nil
	})
	return out, err
}

// ScanByColumn supports non-indexed catalog lookups: a full leaf-chain
// scan emitting every record whose named column equals value (null equals
// null; a type mismatch is an error).
func (t *Tree) ScanByColumn(columnName string, value any) ([]codec.Record, error) {
	idx, ok := t.table.ColumnIndex(columnName)
	if !ok {
		return nil, fmt.Errorf("%w: column %q not found", ErrInvalidOperation, columnName)
	}
	spec := t.table.Columns[idx].Spec()
	var out []codec.Record
	err := t.Scan(nil, true, nil, true, func(r codec.Record) (bool, error) {
		eq, err := codec.ValuesEqual(spec, r[idx], value)
		if err != nil {
			return false, err
		}
		if eq {
			out = append(out, r)
		}
		return true, nil
	})
	return out, err
}
