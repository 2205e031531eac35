// Package page implements the fixed-size, slotted-page storage unit that
// every other layer of storecore is built on: the buffer pool caches pages,
// the B+Tree wraps them as leaf/internal nodes, and the disk manager reads
// and writes them at Size-aligned file offsets.
package page

import (
	"encoding/binary"
	"fmt"
)

// Size is the fixed size, in bytes, of every page in every table file.
const Size = 8192

// HeaderSize is the size of the common 32-byte page header present on
// every page regardless of its Type.
const HeaderSize = 32

// InvalidIndex represents a null page-index pointer (root-less, leaf-less,
// parent-less, etc).
const InvalidIndex int32 = -1

// Type identifies the kind of content stored on a page.
type Type uint8

const (
	Invalid Type = iota
	LeafNode
	InternalNode
	TableHeader
)

func (t Type) String() string {
	switch t {
	case LeafNode:
		return "LeafNode"
	case InternalNode:
		return "InternalNode"
	case TableHeader:
		return "TableHeader"
	default:
		return "Invalid"
	}
}

// Header field offsets within the 32-byte little-endian header.
const (
	offPageLSN           = 0  // 8 bytes, reserved
	offItemCount         = 8  // 4 bytes
	offDataStartOffset   = 12 // 4 bytes
	offParentPageIndex   = 16 // 4 bytes
	offTypePtr1          = 20 // 4 bytes
	offTypePtr2          = 24 // 4 bytes
	offPageType          = 28 // 1 byte
	// bytes 29..32 are padding, always zero.
)

// Page is a fixed-size buffer owned by a buffer-pool frame. Page never
// allocates; every accessor reads or writes directly into the backing
// buffer passed to Wrap.
type Page struct {
	buf []byte
}

// Wrap returns a Page view over an existing Size-byte buffer. It does not
// copy or initialize the buffer.
func Wrap(buf []byte) *Page {
	if len(buf) != Size {
		panic(fmt.Sprintf("page: buffer must be %d bytes, got %d", Size, len(buf)))
	}
	return &Page{buf: buf}
}

// Bytes returns the underlying buffer.
func (p *Page) Bytes() []byte { return p.buf }

// Type returns the page's type tag.
func (p *Page) Type() Type { return Type(p.buf[offPageType]) }

func (p *Page) setType(t Type) { p.buf[offPageType] = byte(t) }

// ItemCount returns the number of slots (including tombstones).
func (p *Page) ItemCount() int32 {
	return int32(binary.LittleEndian.Uint32(p.buf[offItemCount:]))
}

func (p *Page) SetItemCount(n int32) {
	binary.LittleEndian.PutUint32(p.buf[offItemCount:], uint32(n))
}

// DataStartOffset is the heap pointer; records grow downward from Size.
func (p *Page) DataStartOffset() int32 {
	return int32(binary.LittleEndian.Uint32(p.buf[offDataStartOffset:]))
}

func (p *Page) SetDataStartOffset(off int32) {
	binary.LittleEndian.PutUint32(p.buf[offDataStartOffset:], uint32(off))
}

// ParentPageIndex is -1 if this page is a root.
func (p *Page) ParentPageIndex() int32 {
	return int32(binary.LittleEndian.Uint32(p.buf[offParentPageIndex:]))
}

func (p *Page) SetParentPageIndex(idx int32) {
	binary.LittleEndian.PutUint32(p.buf[offParentPageIndex:], uint32(idx))
}

func (p *Page) typePtr1() int32 {
	return int32(binary.LittleEndian.Uint32(p.buf[offTypePtr1:]))
}

func (p *Page) setTypePtr1(v int32) {
	binary.LittleEndian.PutUint32(p.buf[offTypePtr1:], uint32(v))
}

func (p *Page) typePtr2() int32 {
	return int32(binary.LittleEndian.Uint32(p.buf[offTypePtr2:]))
}

func (p *Page) setTypePtr2(v int32) {
	binary.LittleEndian.PutUint32(p.buf[offTypePtr2:], uint32(v))
}

// ── Leaf-specific accessors (type_ptr_1 = prev, type_ptr_2 = next) ────────

func (p *Page) PrevPageIndex() int32  { return p.typePtr1() }
func (p *Page) SetPrevPageIndex(v int32) { p.setTypePtr1(v) }
func (p *Page) NextPageIndex() int32  { return p.typePtr2() }
func (p *Page) SetNextPageIndex(v int32) { p.setTypePtr2(v) }

// ── Internal-specific accessor (type_ptr_1 = rightmost child) ─────────────

func (p *Page) RightmostChildIndex() int32     { return p.typePtr1() }
func (p *Page) SetRightmostChildIndex(v int32) { p.setTypePtr1(v) }

// ── TableHeader-specific accessor (type_ptr_1 = root page index) ─────────

func (p *Page) RootPageIndex() int32     { return p.typePtr1() }
func (p *Page) SetRootPageIndex(v int32) { p.setTypePtr1(v) }

// Initialize formats buf as an empty page of the given kind. It zeros the
// header, sets ItemCount=0 and DataStartOffset=Size, and sets kind-specific
// pointers to InvalidIndex. parentIndex is recorded as-is (-1 for a root).
// Initialize rejects Invalid.
func Initialize(buf []byte, kind Type, parentIndex int32) (*Page, error) {
	if kind == Invalid {
		return nil, fmt.Errorf("page: cannot initialize a page as Invalid")
	}
	for i := range buf[:HeaderSize] {
		buf[i] = 0
	}
	p := Wrap(buf)
	p.setType(kind)
	p.SetItemCount(0)
	p.SetDataStartOffset(Size)
	p.SetParentPageIndex(parentIndex)
	switch kind {
	case LeafNode:
		p.SetPrevPageIndex(InvalidIndex)
		p.SetNextPageIndex(InvalidIndex)
	case InternalNode:
		p.SetRightmostChildIndex(InvalidIndex)
	case TableHeader:
		p.SetRootPageIndex(InvalidIndex)
	}
	return p, nil
}
