package slottedpage

// SlotInfo is the read-only view of a slot exposed to callers outside this
// package (the SP segment). It never exposes the raw bit packing.
type SlotInfo struct {
	IsEmpty          bool
	IsRedirect       bool
	IsRedirectTarget bool
	Size             uint32

	TargetPageIndex uint64
	TargetSlotID    uint16
}

// Slot returns the decoded directory entry for slotID.
func (p *Page) Slot(slotID uint16) SlotInfo {
	s := p.slotAt(slotID)
	return SlotInfo{
		IsEmpty:          s.isEmpty,
		IsRedirect:       s.isRedirect,
		IsRedirectTarget: s.isRedirectTarget,
		Size:             s.size,
		TargetPageIndex:  s.targetPageIndex,
		TargetSlotID:     s.targetSlotID,
	}
}

// Data returns the backing bytes for slotID's record. slotID must name a
// non-empty, non-redirect (inline or redirect-target) slot.
func (p *Page) Data(slotID uint16) []byte {
	s := p.slotAt(slotID)
	return p.buf[s.offset : s.offset+s.size]
}

// MakeRedirect turns slotID into a redirect slot pointing at the given
// target, reclaiming its old bytes into FreeSpace first.
func (p *Page) MakeRedirect(slotID uint16, targetPageIndex uint64, targetSlotID uint16) {
	old := p.slotAt(slotID)
	if !old.isEmpty && !old.isRedirect {
		p.setFreeSpace(p.FreeSpace() + old.size)
		if old.offset == p.DataStart() {
			p.setDataStart(p.DataStart() + old.size)
		}
	}
	p.setSlotAt(slotID, redirectSlot(targetPageIndex, targetSlotID))
}
