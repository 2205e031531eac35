package btree

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/latticedb/storecore/internal/bufpool"
	"github.com/latticedb/storecore/internal/codec"
	"github.com/latticedb/storecore/internal/diskmgr"
	"github.com/latticedb/storecore/internal/page"
	"github.com/latticedb/storecore/internal/schema"
)

func newTestTree(t *testing.T, table *schema.Table, poolSize int) *Tree {
	t.Helper()
	disk, err := diskmgr.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	bp, err := bufpool.New(disk, bufpool.Config{PoolSizePages: poolSize, PageTableConcurrency: 4})
	if err != nil {
		t.Fatalf("bufpool.New: %v", err)
	}
	tree, err := CreateTree(bp, 1, table)
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	return tree
}

func intTable() *schema.Table {
	return &schema.Table{
		Name: "ints",
		Columns: []schema.Column{
			{Name: "id", Type: codec.Int, Nullable: false},
			{Name: "flag", Type: codec.Boolean, Nullable: false},
		},
		PrimaryKey: []string{"id"},
	}
}

func varcharTable() *schema.Table {
	return &schema.Table{
		Name: "strs",
		Columns: []schema.Column{
			{Name: "id", Type: codec.Int, Nullable: false},
			{Name: "payload", Type: codec.Varchar, Nullable: false},
		},
		PrimaryKey: []string{"id"},
	}
}

func intRecord(id int32, flag bool) codec.Record {
	return codec.Record{id, flag}
}

func TestTreeSearchMissOnEmptyTree(t *testing.T) {
	tree := newTestTree(t, intTable(), 16)
	_, ok, err := tree.Search(codec.Key{int32(1)})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if ok {
		t.Fatalf("expected no record in an empty tree")
	}
}

func TestTreeInsertAndSearchSingle(t *testing.T) {
	tree := newTestTree(t, intTable(), 16)
	if err := tree.Insert(intRecord(7, true)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	rec, ok, err := tree.Search(codec.Key{int32(7)})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !ok {
		t.Fatalf("expected to find inserted record")
	}
	if rec[0].(int32) != 7 || rec[1].(bool) != true {
		t.Fatalf("unexpected record: %v", rec)
	}
	if _, ok, _ := tree.Search(codec.Key{int32(8)}); ok {
		t.Fatalf("expected key 8 to be absent")
	}
}

func TestTreeDuplicateKeyRejected(t *testing.T) {
	tree := newTestTree(t, intTable(), 16)
	if err := tree.Insert(intRecord(1, true)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := tree.Insert(intRecord(1, false))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	rec, _, _ := tree.Search(codec.Key{int32(1)})
	if rec[1].(bool) != true {
		t.Fatalf("duplicate insert attempt must not have mutated the existing record")
	}
}

// TestTreeSequentialInsertForcesRootSplit inserts enough ascending keys to
// overflow a single leaf page, exercising the leaf-split + new-root path:
// the root starts as a LeafNode and must become an InternalNode with two
// leaf children once the fixed-size 2-column schema's ~600-record-per-page
// capacity is exceeded.
func TestTreeSequentialInsertForcesRootSplit(t *testing.T) {
	const n = 900
	tree := newTestTree(t, intTable(), 64)
	for i := int32(0); i < n; i++ {
		if err := tree.Insert(intRecord(i, i%2 == 0)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	rootID := tree.rootID()
	rootPinned, err := tree.pool.FetchPage(rootID)
	if err != nil {
		t.Fatalf("FetchPage(root): %v", err)
	}
	if rootPinned.Page.Type() != page.InternalNode {
		t.Fatalf("expected the root to have become an InternalNode after overflow, got %v", rootPinned.Page.Type())
	}
	if err := rootPinned.Unpin(false); err != nil {
		t.Fatalf("Unpin: %v", err)
	}

	for i := int32(0); i < n; i++ {
		rec, ok, err := tree.Search(codec.Key{i})
		if err != nil {
			t.Fatalf("Search(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("expected key %d to be found after root split", i)
		}
		if rec[0].(int32) != i {
			t.Fatalf("key %d returned wrong record: %v", i, rec)
		}
	}
}

func TestTreeScanRangeBounds(t *testing.T) {
	tree := newTestTree(t, intTable(), 16)
	for i := int32(0); i < 10; i++ {
		if err := tree.Insert(intRecord(i, false)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	min := codec.Key{int32(3)}
	max := codec.Key{int32(7)}

	inclusive, err := tree.ScanRange(&min, true, &max, true)
	if err != nil {
		t.Fatalf("ScanRange inclusive: %v", err)
	}
	wantInclusive := []int32{3, 4, 5, 6, 7}
	if got := keysOf(inclusive); !int32SlicesEqual(got, wantInclusive) {
		t.Fatalf("inclusive scan: got %v, want %v", got, wantInclusive)
	}

	exclusive, err := tree.ScanRange(&min, false, &max, false)
	if err != nil {
		t.Fatalf("ScanRange exclusive: %v", err)
	}
	wantExclusive := []int32{4, 5, 6}
	if got := keysOf(exclusive); !int32SlicesEqual(got, wantExclusive) {
		t.Fatalf("exclusive scan: got %v, want %v", got, wantExclusive)
	}

	all, err := tree.ScanRange(nil, true, nil, true)
	if err != nil {
		t.Fatalf("ScanRange unbounded: %v", err)
	}
	if len(all) != 10 {
		t.Fatalf("expected all 10 records, got %d", len(all))
	}
}

// bigKeyTable is a (K VARCHAR PK, V INT) schema sized so that a key's
// serialized length (bigKeyLen) leaves room for exactly one record per
// leaf page and exactly one separator entry per internal page — the
// smallest construction that can reach a height-3 tree by hand.
func bigKeyTable() *schema.Table {
	return &schema.Table{
		Name: "wide",
		Columns: []schema.Column{
			{Name: "k", Type: codec.Varchar, Nullable: false},
			{Name: "v", Type: codec.Int, Nullable: false},
		},
		PrimaryKey: []string{"k"},
	}
}

const bigKeyLen = 4090

func wideRecord(key string, v int32) codec.Record {
	return codec.Record{key, v}
}

// newLeafWithRecord allocates a fresh leaf page parented at parentIdx and
// inserts a single record into it.
func newLeafWithRecord(t *testing.T, tree *Tree, parentIdx int32, record codec.Record) (*leaf, diskmgr.PageID) {
	t.Helper()
	pinned, err := tree.pool.CreatePage(tree.tableID)
	if err != nil {
		t.Fatalf("CreatePage(leaf): %v", err)
	}
	if _, err := page.Initialize(pinned.Page.Bytes(), page.LeafNode, parentIdx); err != nil {
		t.Fatalf("Initialize(leaf): %v", err)
	}
	l, err := wrapLeaf(pinned, tree.table)
	if err != nil {
		t.Fatalf("wrapLeaf: %v", err)
	}
	ok, err := l.TryInsert(record)
	if err != nil {
		t.Fatalf("TryInsert: %v", err)
	}
	if !ok {
		t.Fatalf("seed record of length %d did not fit an empty leaf page", bigKeyLen)
	}
	return l, pinned.ID()
}

// newEmptyInternal allocates a fresh, childless internal page parented at
// parentIdx; its entry and rightmost child are filled in by the caller
// once the pages they point to exist.
func newEmptyInternal(t *testing.T, tree *Tree, parentIdx int32) (*internalNode, diskmgr.PageID) {
	t.Helper()
	pinned, err := tree.pool.CreatePage(tree.tableID)
	if err != nil {
		t.Fatalf("CreatePage(internal): %v", err)
	}
	if _, err := page.Initialize(pinned.Page.Bytes(), page.InternalNode, parentIdx); err != nil {
		t.Fatalf("Initialize(internal): %v", err)
	}
	n, err := wrapInternal(pinned, tree.table)
	if err != nil {
		t.Fatalf("wrapInternal: %v", err)
	}
	return n, pinned.ID()
}

// TestTreeGrandparentSplitProducesNewRoot hand-builds a height-3 tree (an
// internal root over two internal children, each over two leaves) with
// every internal node already at its one-entry capacity. Inserting a key
// that lands in an already-full leaf forces a leaf split whose promoted
// separator finds its parent also full, which splits in turn and finds
// the grandparent (the tree's root) also full — exercising the two-level
// cascade up to a brand new root in one insert.
//
// Keys, in ascending order: A < B0 < B < C < N. B0 starts as the sole
// record in the leaf that B will land in and split; A, C, and N are each
// seeded alone in their own leaf by the construction step, and B is absent
// until the triggering insert.
func TestTreeGrandparentSplitProducesNewRoot(t *testing.T) {
	tree := newTestTree(t, bigKeyTable(), 64)

	keyA := strings.Repeat("A", bigKeyLen)
	keyB0 := "B" + strings.Repeat("0", bigKeyLen-1)
	keyB := strings.Repeat("B", bigKeyLen)
	keyC := strings.Repeat("C", bigKeyLen)
	keyN := strings.Repeat("N", bigKeyLen)

	rootN, rootID := newEmptyInternal(t, tree, page.InvalidIndex)
	leftN, leftID := newEmptyInternal(t, tree, rootID.PageIndex)
	rightN, rightID := newEmptyInternal(t, tree, rootID.PageIndex)

	leafA, leafAID := newLeafWithRecord(t, tree, leftID.PageIndex, wideRecord(keyA, 1))
	leafB0, leafB0ID := newLeafWithRecord(t, tree, leftID.PageIndex, wideRecord(keyB0, 2))
	leafC, leafCID := newLeafWithRecord(t, tree, rightID.PageIndex, wideRecord(keyC, 3))
	leafN, leafNID := newLeafWithRecord(t, tree, rightID.PageIndex, wideRecord(keyN, 4))

	leafA.p().SetNextPageIndex(leafB0ID.PageIndex)
	leafB0.p().SetPrevPageIndex(leafAID.PageIndex)
	leafB0.p().SetNextPageIndex(leafCID.PageIndex)
	leafC.p().SetPrevPageIndex(leafB0ID.PageIndex)
	leafC.p().SetNextPageIndex(leafNID.PageIndex)
	leafN.p().SetPrevPageIndex(leafCID.PageIndex)

	if ok, err := leftN.tryInsert(codec.Key{keyB0}, leafAID); err != nil || !ok {
		t.Fatalf("left.tryInsert(B0): ok=%v err=%v", ok, err)
	}
	leftN.setRightmostChild(leafB0ID)

	if ok, err := rightN.tryInsert(codec.Key{keyN}, leafCID); err != nil || !ok {
		t.Fatalf("right.tryInsert(N): ok=%v err=%v", ok, err)
	}
	rightN.setRightmostChild(leafNID)

	if ok, err := rootN.tryInsert(codec.Key{keyC}, leftID); err != nil || !ok {
		t.Fatalf("root.tryInsert(C): ok=%v err=%v", ok, err)
	}
	rootN.setRightmostChild(rightID)

	for _, p := range []*bufpool.PinnedPage{rootN.pinned, leftN.pinned, rightN.pinned, leafA.pinned, leafB0.pinned, leafC.pinned, leafN.pinned} {
		if err := p.Unpin(true); err != nil {
			t.Fatalf("Unpin: %v", err)
		}
	}

	if err := tree.rotateRoot(rootID.PageIndex); err != nil {
		t.Fatalf("rotateRoot: %v", err)
	}

	if err := tree.Insert(wideRecord(keyB, 5)); err != nil {
		t.Fatalf("Insert(B): %v", err)
	}

	newRootID := tree.rootID()
	if newRootID.PageIndex == rootID.PageIndex {
		t.Fatalf("expected the cascading split to allocate a brand new root page")
	}
	newRootPinned, err := tree.pool.FetchPage(newRootID)
	if err != nil {
		t.Fatalf("FetchPage(new root): %v", err)
	}
	if newRootPinned.Page.Type() != page.InternalNode {
		t.Fatalf("expected the new root to be an InternalNode, got %v", newRootPinned.Page.Type())
	}
	if got := newRootPinned.Page.ItemCount(); got != 1 {
		t.Fatalf("expected the new root to hold exactly one entry, got %d", got)
	}
	if err := newRootPinned.Unpin(false); err != nil {
		t.Fatalf("Unpin: %v", err)
	}

	for _, key := range []string{keyA, keyB, keyC, keyN} {
		rec, ok, err := tree.Search(codec.Key{key})
		if err != nil {
			t.Fatalf("Search(%q...): %v", key[:1], err)
		}
		if !ok {
			t.Fatalf("expected to find key %q... after the cascading split", key[:1])
		}
		if rec[0].(string) != key {
			t.Fatalf("Search(%q...) returned the wrong record", key[:1])
		}
	}
}

func keysOf(records []codec.Record) []int32 {
	out := make([]int32, len(records))
	for i, r := range records {
		out[i] = r[0].(int32)
	}
	return out
}

func int32SlicesEqual(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestTreeByteBalancedSplitFavorsLargerLeftSide inserts records with a
// Varchar column of varying size and checks that the leaf split, once
// triggered, is not a naive item-count midpoint: with one oversized record
// among many small ones, the byte-balanced rule must place more small
// records on the side that excludes the oversized one.
func TestTreeByteBalancedSplitFavorsLargerLeftSide(t *testing.T) {
	tree := newTestTree(t, varcharTable(), 64)
	small := "x"
	for i := int32(0); i < 50; i++ {
		if err := tree.Insert(codec.Record{i, small}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	big := fmt.Sprintf("%08000d", 0) // ~8000 bytes, forces an immediate split
	if err := tree.Insert(codec.Record{int32(1000), big}); err != nil {
		t.Fatalf("Insert(big): %v", err)
	}

	rootID := tree.rootID()
	rootPinned, err := tree.pool.FetchPage(rootID)
	if err != nil {
		t.Fatalf("FetchPage(root): %v", err)
	}
	gotSplit := rootPinned.Page.Type() == page.InternalNode
	if err := rootPinned.Unpin(false); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	if !gotSplit {
		t.Fatalf("expected the oversized record to force a split")
	}

	rec, ok, err := tree.Search(codec.Key{int32(1000)})
	if err != nil {
		t.Fatalf("Search(big): %v", err)
	}
	if !ok || rec[1].(string) != big {
		t.Fatalf("expected to find the oversized record intact after split")
	}
	for i := int32(0); i < 50; i++ {
		if _, ok, err := tree.Search(codec.Key{i}); err != nil || !ok {
			t.Fatalf("expected to still find small record %d after split: ok=%v err=%v", i, ok, err)
		}
	}
}
