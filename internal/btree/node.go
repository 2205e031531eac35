// Package btree implements the clustered primary-key index: leaf and
// internal node wrappers over slotted pages, and the orchestrator driving
// recursive insert/search/scan.
package btree

import "github.com/latticedb/storecore/internal/codec"

// findSlotIndex binary-searches itemCount slots, each compared via keyAt,
// for target. A hit returns its slot index (≥ 0). A miss returns the
// bitwise complement of the insertion point, so callers recover it via
// ^result.
// Duplicate keys are rejected by callers, not here.
func findSlotIndex(itemCount int32, keyAt func(int32) (codec.Key, error), keySpecs []codec.ColumnSpec, target codec.Key) (int32, error) {
	lo, hi := int32(0), itemCount
	for lo < hi {
		mid := lo + (hi-lo)/2
		k, err := keyAt(mid)
		if err != nil {
			return 0, err
		}
		c, err := codec.CompareKeys(keySpecs, target, k)
		if err != nil {
			return 0, err
		}
		switch {
		case c == 0:
			return mid, nil
		case c < 0:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return ^lo, nil
}
