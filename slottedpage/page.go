// Package slottedpage implements the in-page record layout every data
// page in the engine uses: a growing-up slot directory, a growing-down
// data region, in-place relocation, and compaction. It operates on raw
// page-sized byte buffers handed to it by the buffer manager — it never
// owns the buffer's lifetime itself.
package slottedpage

import (
	"encoding/binary"

	"coredb/storage"
)

/*
Slotted page binary layout (all values little-endian):

	Offset  Size  Field
	──────────────────────────────────────────────
	0       2     SlotCount       uint16
	2       2     FirstFreeSlot   uint16
	4       4     DataStart       uint32
	8       4     FreeSpace       uint32
	──────────────────────────────────────────────
	12            HeaderSize
	12            Slot[0] start — grows up
	...
	PageSize      data region end — grows down

A slot is 8 bytes, one of:
  - empty:   all zero bytes
  - inline:  offset:u32, size:u24, isRedirectTarget flag, reserved bits
  - redirect: target page index (47 bits) + target slot id (16 bits),
    marked by the top bit of the 8-byte word

See slot.go for the exact bit packing.
*/
const (
	offSlotCount     = 0
	offFirstFreeSlot = 2
	offDataStart     = 4
	offFreeSpace     = 8

	// HeaderSize is the fixed header size in bytes.
	HeaderSize = 12

	// SlotSize is the byte size of one slot directory entry.
	SlotSize = 8
)

// Page is a view over a page-sized byte buffer, interpreted as a slotted
// page. It holds no bytes of its own; callers own the buffer (typically a
// buffer.Frame's Data()) for as long as they hold the corresponding latch.
type Page struct {
	buf []byte
}

// New wraps buf, which must be exactly storage.PageSize bytes, as a Page.
func New(buf []byte) *Page {
	storage.Assertf(len(buf) == storage.PageSize, "slottedpage.New: buffer is %d bytes, want %d", len(buf), storage.PageSize)
	return &Page{buf: buf}
}

// Init stamps a fresh, empty slotted page header into buf. Data bytes are
// left untouched by contract; callers get a freshly allocated, zeroed
// buffer.Frame on first load of a new page.
func Init(buf []byte) *Page {
	p := New(buf)
	p.setSlotCount(0)
	p.setFirstFreeSlot(0)
	p.setDataStart(uint32(storage.PageSize))
	p.setFreeSpace(uint32(storage.PageSize - HeaderSize))
	return p
}

func (p *Page) SlotCount() uint16     { return binary.LittleEndian.Uint16(p.buf[offSlotCount:]) }
func (p *Page) FirstFreeSlot() uint16 { return binary.LittleEndian.Uint16(p.buf[offFirstFreeSlot:]) }
func (p *Page) DataStart() uint32     { return binary.LittleEndian.Uint32(p.buf[offDataStart:]) }
func (p *Page) FreeSpace() uint32     { return binary.LittleEndian.Uint32(p.buf[offFreeSpace:]) }

func (p *Page) setSlotCount(v uint16)     { binary.LittleEndian.PutUint16(p.buf[offSlotCount:], v) }
func (p *Page) setFirstFreeSlot(v uint16) { binary.LittleEndian.PutUint16(p.buf[offFirstFreeSlot:], v) }
func (p *Page) setDataStart(v uint32)     { binary.LittleEndian.PutUint32(p.buf[offDataStart:], v) }
func (p *Page) setFreeSpace(v uint32)     { binary.LittleEndian.PutUint32(p.buf[offFreeSpace:], v) }

// FragmentedFreeSpace is the contiguous gap between the end of the slot
// directory and the start of the data region — the space allocate() can
// hand out without first compacting.
func (p *Page) FragmentedFreeSpace() uint32 {
	return p.DataStart() - uint32(HeaderSize) - uint32(p.SlotCount())*SlotSize
}

func (p *Page) slotOffset(slotID uint16) int {
	return HeaderSize + int(slotID)*SlotSize
}

func (p *Page) slotAt(slotID uint16) slot {
	storage.Assertf(slotID < p.SlotCount(), "slot %d out of range (slot_count=%d)", slotID, p.SlotCount())
	off := p.slotOffset(slotID)
	return decodeSlot(binary.LittleEndian.Uint64(p.buf[off : off+SlotSize]))
}

func (p *Page) setSlotAt(slotID uint16, s slot) {
	off := p.slotOffset(slotID)
	binary.LittleEndian.PutUint64(p.buf[off:off+SlotSize], s.encode())
}
