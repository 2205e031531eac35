package page

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Errors surfaced by the slotted-page layer. Higher layers (the B+Tree node
// wrappers, the engine) translate these into their own error kinds as
// needed; here they stay close to stdlib idiom.
var (
	ErrOutOfRange = errors.New("page: index out of range")
)

const slotSize = 8 // record_offset i32 + record_length i32

func slotOffset(index int32) int {
	return HeaderSize + int(index)*slotSize
}

// FreeSpace returns the number of bytes available for a new record plus its
// slot, clamped to ≥ 0.
func FreeSpace(p *Page) int32 {
	endOfSlots := int32(HeaderSize) + p.ItemCount()*slotSize
	free := p.DataStartOffset() - endOfSlots
	if free < 0 {
		return 0
	}
	return free
}

func readSlot(p *Page, index int32) (offset, length int32) {
	o := slotOffset(index)
	offset = int32(binary.LittleEndian.Uint32(p.buf[o:]))
	length = int32(binary.LittleEndian.Uint32(p.buf[o+4:]))
	return
}

func writeSlot(p *Page, index int32, offset, length int32) {
	o := slotOffset(index)
	binary.LittleEndian.PutUint32(p.buf[o:], uint32(offset))
	binary.LittleEndian.PutUint32(p.buf[o+4:], uint32(length))
}

// TryAddRecord inserts bytes as a new record at slot index atIndex, shifting
// slots [atIndex, ItemCount) right by one slot to make room. It never
// compacts the heap. Returns false (without mutating the page) if there is
// not enough free space.
func TryAddRecord(p *Page, data []byte, atIndex int32) (bool, error) {
	count := p.ItemCount()
	if atIndex < 0 || atIndex > count {
		return false, fmt.Errorf("%w: insert index %d, item_count %d", ErrOutOfRange, atIndex, count)
	}
	needed := int32(len(data)) + slotSize
	if needed > FreeSpace(p) {
		return false, nil
	}
	newDataStart := p.DataStartOffset() - int32(len(data))
	copy(p.buf[newDataStart:], data)

	// Shift slots [atIndex, count) one slot to the right, highest index first.
	for i := count - 1; i >= atIndex; i-- {
		off, length := readSlot(p, i)
		writeSlot(p, i+1, off, length)
	}
	writeSlot(p, atIndex, newDataStart, int32(len(data)))

	p.SetItemCount(count + 1)
	p.SetDataStartOffset(newDataStart)
	return true, nil
}

// GetRecord returns a zero-copy view of the record at index. Tombstones
// (record_length == 0) return an empty, non-nil slice.
func GetRecord(p *Page, index int32) ([]byte, error) {
	count := p.ItemCount()
	if index < 0 || index >= count {
		return nil, fmt.Errorf("%w: get index %d, item_count %d", ErrOutOfRange, index, count)
	}
	off, length := readSlot(p, index)
	if length == 0 {
		return p.buf[0:0], nil
	}
	return p.buf[off : off+length], nil
}

// DeleteRecord tombstones the slot at index. It does not reclaim heap space.
func DeleteRecord(p *Page, index int32) error {
	count := p.ItemCount()
	if index < 0 || index >= count {
		return fmt.Errorf("%w: delete index %d, item_count %d", ErrOutOfRange, index, count)
	}
	writeSlot(p, index, 0, 0)
	return nil
}

// TryUpdateRecord overwrites the record at index with newData. If newData
// fits within the slot's existing allocation it is written in place;
// otherwise new heap space is allocated and the slot is repointed at it,
// leaving the old heap bytes unreclaimed (no slot is tombstoned).
// Returns false (without mutating the page) if there is no room for an
// out-of-place rewrite.
func TryUpdateRecord(p *Page, index int32, newData []byte) (bool, error) {
	count := p.ItemCount()
	if index < 0 || index >= count {
		return false, fmt.Errorf("%w: update index %d, item_count %d", ErrOutOfRange, index, count)
	}
	off, length := readSlot(p, index)
	if int32(len(newData)) <= length {
		copy(p.buf[off:], newData)
		writeSlot(p, index, off, int32(len(newData)))
		return true, nil
	}

	// The slot being overwritten doesn't need a new slot-array entry, only
	// heap space for the new copy; the old heap bytes are abandoned in place.
	if int32(len(newData)) > FreeSpace(p) {
		return false, nil
	}
	newOff := p.DataStartOffset() - int32(len(newData))
	copy(p.buf[newOff:], newData)
	writeSlot(p, index, newOff, int32(len(newData)))
	p.SetDataStartOffset(newOff)
	return true, nil
}
