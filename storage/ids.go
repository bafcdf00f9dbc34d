package storage

// PageID is the 64-bit handle that crosses every component boundary in the
// engine. The upper 16 bits are a segment id; the lower 48 bits are the
// page's index within that segment.
type PageID uint64

// NewPageID packs a segment id and a segment-relative page index into a
// single PageID.
func NewPageID(segmentID uint16, pageIndex uint64) PageID {
	return PageID(uint64(segmentID)<<48 | (pageIndex & segmentPageMask))
}

// SegmentID returns the upper 16 bits of a page id.
func (p PageID) SegmentID() uint16 {
	return uint16(p >> 48)
}

// SegmentPageID returns the lower 48 bits of a page id: its index within
// its segment.
func (p PageID) SegmentPageID() uint64 {
	return uint64(p) & segmentPageMask
}

const segmentPageMask = (uint64(1) << 48) - 1

// TID is a tuple identifier used by the SP segment: the upper 48 bits are
// the segment-relative page index the record lives on, the lower 16 bits
// are the slot id within that page's slotted directory.
type TID uint64

// NewTID packs a page index and slot id into a TID.
func NewTID(pageIndex uint64, slotID uint16) TID {
	return TID((pageIndex&segmentPageMask)<<16 | uint64(slotID))
}

// PageIndex returns the segment-relative page index encoded in the TID.
func (t TID) PageIndex() uint64 {
	return uint64(t) >> 16
}

// SlotID returns the slot id encoded in the TID.
func (t TID) SlotID() uint16 {
	return uint16(uint64(t) & 0xFFFF)
}

// PageID combines the TID's page index with a segment id to produce a full
// PageID, the form the buffer manager understands.
func (t TID) PageID(segmentID uint16) PageID {
	return NewPageID(segmentID, t.PageIndex())
}
