package btree

import (
	"fmt"
	"sort"

	"github.com/latticedb/storecore/internal/bufpool"
	"github.com/latticedb/storecore/internal/codec"
	"github.com/latticedb/storecore/internal/page"
	"github.com/latticedb/storecore/internal/schema"
)

// leaf wraps a pinned LeafNode page, storing full records in primary-key
// order plus the doubly linked leaf-chain pointers.
type leaf struct {
	pinned    *bufpool.PinnedPage
	table     *schema.Table
	specs     []codec.ColumnSpec
	keySpecs  []codec.ColumnSpec
	pkIndexes []int
}

func wrapLeaf(pinned *bufpool.PinnedPage, table *schema.Table) (*leaf, error) {
	keySpecs, err := table.KeySpecs()
	if err != nil {
		return nil, err
	}
	pkIndexes, err := table.PrimaryKeyIndexes()
	if err != nil {
		return nil, err
	}
	return &leaf{
		pinned:    pinned,
		table:     table,
		specs:     table.ColumnSpecs(),
		keySpecs:  keySpecs,
		pkIndexes: pkIndexes,
	}, nil
}

func (l *leaf) p() *page.Page   { return l.pinned.Page }
func (l *leaf) itemCount() int32 { return l.p().ItemCount() }

func (l *leaf) recordAt(i int32) (codec.Record, error) {
	raw, err := page.GetRecord(l.p(), i)
	if err != nil {
		return nil, err
	}
	return codec.Deserialize(l.specs, raw)
}

func (l *leaf) keyAt(i int32) (codec.Key, error) {
	rec, err := l.recordAt(i)
	if err != nil {
		return nil, err
	}
	return codec.ExtractKey(rec, l.pkIndexes), nil
}

func (l *leaf) findSlotIndex(key codec.Key) (int32, error) {
	return findSlotIndex(l.itemCount(), l.keyAt, l.keySpecs, key)
}

// Search returns the record for key, or ok=false if no such key exists.
func (l *leaf) Search(key codec.Key) (codec.Record, bool, error) {
	idx, err := l.findSlotIndex(key)
	if err != nil {
		return nil, false, err
	}
	if idx < 0 {
		return nil, false, nil
	}
	rec, err := l.recordAt(idx)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// TryInsert inserts record in primary-key order. It returns false (without
// mutating the page) if there isn't room; it returns ErrDuplicateKey if
// the primary key already exists.
func (l *leaf) TryInsert(record codec.Record) (bool, error) {
	key := codec.ExtractKey(record, l.pkIndexes)
	idx, err := l.findSlotIndex(key)
	if err != nil {
		return false, err
	}
	if idx >= 0 {
		return false, fmt.Errorf("%w: %v", ErrDuplicateKey, key)
	}
	data, err := codec.Serialize(l.specs, record)
	if err != nil {
		return false, err
	}
	return page.TryAddRecord(l.p(), data, ^idx)
}

// TryUpdate overwrites the record whose primary key matches record's.
func (l *leaf) TryUpdate(record codec.Record) (bool, error) {
	key := codec.ExtractKey(record, l.pkIndexes)
	idx, err := l.findSlotIndex(key)
	if err != nil {
		return false, err
	}
	if idx < 0 {
		return false, ErrRecordNotFound
	}
	data, err := codec.Serialize(l.specs, record)
	if err != nil {
		return false, err
	}
	return page.TryUpdateRecord(l.p(), idx, data)
}

// Delete tombstones the record at key, if any.
func (l *leaf) Delete(key codec.Key) (bool, error) {
	idx, err := l.findSlotIndex(key)
	if err != nil {
		return false, err
	}
	if idx < 0 {
		return false, nil
	}
	if err := page.DeleteRecord(l.p(), idx); err != nil {
		return false, err
	}
	return true, nil
}

// allRecords returns every live (non-tombstoned) record in slot order.
func (l *leaf) allRecords() ([]codec.Record, error) {
	n := l.itemCount()
	out := make([]codec.Record, 0, n)
	for i := int32(0); i < n; i++ {
		raw, err := page.GetRecord(l.p(), i)
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			continue
		}
		rec, err := codec.Deserialize(l.specs, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (l *leaf) sortByKey(records []codec.Record) {
	sort.Slice(records, func(i, j int) bool {
		ki := codec.ExtractKey(records[i], l.pkIndexes)
		kj := codec.ExtractKey(records[j], l.pkIndexes)
		c, _ := codec.CompareKeys(l.keySpecs, ki, kj)
		return c < 0
	})
}

// hasVarcharColumn reports whether this leaf's schema has any Varchar
// column, which triggers the byte-balanced split rule instead of a plain
// item-count midpoint.
func (l *leaf) hasVarcharColumn() bool {
	for _, s := range l.specs {
		if s.Type == codec.Varchar {
			return true
		}
	}
	return false
}

// splitMidpoint returns the index of the first record that goes to the
// right side. Without a Varchar column it is len(sorted)/2. With one, it
// walks sorted, serialized records accumulating size and stops at the
// first record whose cumulative size exceeds half the total; that record
// stays on the left. The resulting left/right imbalance is accepted, not
// bounded.
func (l *leaf) splitMidpoint(sorted []codec.Record) (int, error) {
	if !l.hasVarcharColumn() {
		return len(sorted) / 2, nil
	}
	sizes := make([]int, len(sorted))
	total := 0
	for i, rec := range sorted {
		data, err := codec.Serialize(l.specs, rec)
		if err != nil {
			return 0, err
		}
		sizes[i] = len(data)
		total += len(data)
	}
	half := total / 2
	cum := 0
	for i, sz := range sizes {
		cum += sz
		if cum > half {
			// Clamp so the right side never comes up empty: if the mass is
			// concentrated in the last record, mid would otherwise land on
			// len(sorted) and produce a one-sided split.
			if i+1 >= len(sorted) {
				return len(sorted) - 1, nil
			}
			return i + 1, nil
		}
	}
	return len(sorted) - 1, nil
}

// splitAndInsert builds the sorted union of this leaf's existing records
// and newRecord, splits them across this leaf (re-initialized in place)
// and newRight, splices the leaf chain (consulting rightSibling if given),
// and returns the separator key — the primary key of the first record on
// the right side.
func (l *leaf) splitAndInsert(newRecord codec.Record, newRight *leaf, rightSibling *leaf) (codec.Key, error) {
	existing, err := l.allRecords()
	if err != nil {
		return nil, err
	}
	all := make([]codec.Record, 0, len(existing)+1)
	all = append(all, existing...)
	all = append(all, newRecord)
	l.sortByKey(all)

	mid, err := l.splitMidpoint(all)
	if err != nil {
		return nil, err
	}
	if mid <= 0 || mid >= len(all) {
		return nil, fmt.Errorf("%w: split produced an empty side (mid=%d of %d)", ErrInvalidOperation, mid, len(all))
	}

	parentIdx := l.p().ParentPageIndex()
	oldNext := l.p().NextPageIndex()

	if _, err := page.Initialize(l.p().Bytes(), page.LeafNode, parentIdx); err != nil {
		return nil, err
	}
	for i, rec := range all[:mid] {
		data, err := codec.Serialize(l.specs, rec)
		if err != nil {
			return nil, err
		}
		ok, err := page.TryAddRecord(l.p(), data, int32(i))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: left half of split does not fit an empty page", ErrInvalidOperation)
		}
	}
	for i, rec := range all[mid:] {
		data, err := codec.Serialize(newRight.specs, rec)
		if err != nil {
			return nil, err
		}
		ok, err := page.TryAddRecord(newRight.p(), data, int32(i))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: right half of split does not fit an empty page", ErrInvalidOperation)
		}
	}

	thisIdx := l.pinned.ID().PageIndex
	rightIdx := newRight.pinned.ID().PageIndex
	l.p().SetNextPageIndex(rightIdx)
	newRight.p().SetPrevPageIndex(thisIdx)
	newRight.p().SetNextPageIndex(oldNext)
	if rightSibling != nil {
		rightSibling.p().SetPrevPageIndex(rightIdx)
	}

	return codec.ExtractKey(all[mid], l.pkIndexes), nil
}
