package slottedpage

import "coredb/storage"

// needsNewSlot reports whether Allocate will have to grow the slot
// directory rather than reuse FirstFreeSlot.
func (p *Page) needsNewSlot() bool {
	return p.FirstFreeSlot() >= p.SlotCount()
}

// Allocate reserves dataSize bytes for a new record and returns its slot
// id. It compacts the page first if the fragmented free region can't fit
// the request, per the accounting invariant that FreeSpace always
// reflects the largest allocation possible after compaction.
func (p *Page) Allocate(dataSize uint32, isRedirectTarget bool) uint16 {
	slotOverhead := uint32(0)
	if p.needsNewSlot() {
		slotOverhead = SlotSize
	}
	storage.Assertf(p.FreeSpace() >= dataSize+slotOverhead,
		"allocate(%d): free_space=%d insufficient", dataSize, p.FreeSpace())

	if p.FragmentedFreeSpace() < dataSize+slotOverhead {
		p.Compactify()
	}

	var slotID uint16
	if p.needsNewSlot() {
		slotID = p.SlotCount()
		p.setSlotCount(slotID + 1)
		p.setFreeSpace(p.FreeSpace() - SlotSize)
	} else {
		slotID = p.FirstFreeSlot()
	}

	newDataStart := p.DataStart() - dataSize
	p.setDataStart(newDataStart)
	p.setFreeSpace(p.FreeSpace() - dataSize)
	p.setSlotAt(slotID, inlineSlot(newDataStart, dataSize, isRedirectTarget))

	p.advanceFirstFreeSlot()
	return slotID
}

// advanceFirstFreeSlot scans forward from the current FirstFreeSlot for
// the next empty slot, stopping at SlotCount.
func (p *Page) advanceFirstFreeSlot() {
	free := p.FirstFreeSlot()
	count := p.SlotCount()
	for free < count && !p.slotAt(free).isEmpty {
		free++
	}
	p.setFirstFreeSlot(free)
}

// Relocate resizes the record in slotID to newSize. slotID must name a
// live inline record (a redirect target keeps its flag); relocating an
// empty or redirect slot is a bug in the SP segment layer above this one.
func (p *Page) Relocate(slotID uint16, newSize uint32) {
	s := p.slotAt(slotID)
	storage.Assertf(!s.isRedirect && !s.isEmpty, "relocate(%d): slot is redirect or empty", slotID)
	storage.Assertf(newSize <= s.size || p.FreeSpace() >= newSize-s.size,
		"relocate(%d): growing by %d exceeds free_space=%d", slotID, newSize-s.size, p.FreeSpace())

	switch {
	case newSize <= s.size:
		p.setFreeSpace(p.FreeSpace() + s.size - newSize)
		p.setSlotAt(slotID, inlineSlot(s.offset, newSize, s.isRedirectTarget))

	case p.FragmentedFreeSpace() >= newSize:
		newOffset := p.DataStart() - newSize
		p.setDataStart(newOffset)
		p.setFreeSpace(p.FreeSpace() + s.size - newSize)
		copy(p.buf[newOffset:newOffset+s.size], p.buf[s.offset:s.offset+s.size])
		p.setSlotAt(slotID, inlineSlot(newOffset, newSize, s.isRedirectTarget))

	default:
		// not enough fragmented space: grow the slot's recorded size
		// first so compactify knows how much room to make for it
		p.setSlotAt(slotID, inlineSlot(s.offset, newSize, s.isRedirectTarget))
		p.Compactify()
	}
}

// Erase releases slotID's bytes back to FreeSpace and, if it was the
// trailing slot, pops it (and any trailing empties before it) off the
// directory entirely.
func (p *Page) Erase(slotID uint16) {
	s := p.slotAt(slotID)

	p.setFreeSpace(p.FreeSpace() + s.size)
	if slotID < p.FirstFreeSlot() {
		p.setFirstFreeSlot(slotID)
	}
	if !s.isRedirect && s.offset == p.DataStart() {
		p.setDataStart(p.DataStart() + s.size)
	}

	p.setSlotAt(slotID, emptySlot())

	if slotID+1 == p.SlotCount() {
		count := p.SlotCount()
		freeSpace := p.FreeSpace()
		for count > 0 && p.slotAt(count-1).isEmpty {
			count--
			freeSpace += SlotSize
		}
		p.setSlotCount(count)
		p.setFreeSpace(freeSpace)
		if p.FirstFreeSlot() > count {
			p.setFirstFreeSlot(count)
		}
	}
}

// Compactify rewrites the page so that every live (non-empty,
// non-redirect) record's bytes sit contiguously at the high-address end,
// in slot order, leaving FreeSpace equal to FragmentedFreeSpace.
func (p *Page) Compactify() {
	tmp := make([]byte, storage.PageSize)
	tmpPage := New(tmp)

	dataStart := uint32(storage.PageSize)
	slotCount := p.SlotCount()

	for s := uint16(0); s < slotCount; s++ {
		src := p.slotAt(s)
		if src.isEmpty || src.isRedirect {
			tmpPage.setSlotAt(s, src)
			continue
		}

		dataStart -= src.size
		n := src.size
		if src.offset+n > uint32(storage.PageSize) {
			n = uint32(storage.PageSize) - src.offset
		}
		copy(tmp[dataStart:dataStart+n], p.buf[src.offset:src.offset+n])

		tmpPage.setSlotAt(s, inlineSlot(dataStart, src.size, src.isRedirectTarget))
	}

	tmpPage.setSlotCount(slotCount)
	tmpPage.setFirstFreeSlot(p.FirstFreeSlot())
	tmpPage.setDataStart(dataStart)
	tmpPage.setFreeSpace(tmpPage.FragmentedFreeSpace())

	copy(p.buf, tmp)
}
