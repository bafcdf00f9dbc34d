// Package spsegment implements tuple-id (TID) allocate/read/write/resize
// /erase atop slotted pages and a free-space inventory, including
// redirect management for records that outgrow their page.
package spsegment

import (
	"fmt"

	"coredb/buffer"
	"coredb/fsi"
	"coredb/slottedpage"
	"coredb/storage"
)

// Segment owns one table's data pages: a buffer-manager-backed slotted
// page segment plus the free-space inventory that tracks it. Pages are
// allocated lazily and never physically deallocated.
type Segment struct {
	segmentID uint16
	buf       *buffer.Manager
	fsi       *fsi.Segment

	allocatedPages uint64
}

// NewSegment builds a Segment whose data pages live in segmentID and
// whose free-space inventory lives in fsiSegmentID.
func NewSegment(segmentID, fsiSegmentID uint16, buf *buffer.Manager) (*Segment, error) {
	s := &Segment{segmentID: segmentID, buf: buf}
	fsiSeg, err := fsi.NewSegment(fsiSegmentID, buf, &s.allocatedPages)
	if err != nil {
		return nil, fmt.Errorf("sp segment: %w", err)
	}
	s.fsi = fsiSeg
	return s, nil
}

func (s *Segment) pageID(pageIndex uint64) storage.PageID {
	return storage.NewPageID(s.segmentID, pageIndex)
}

// newPage allocates the next page in this segment and returns its fixed,
// exclusively latched frame, freshly initialized as an empty slotted
// page. Callers must Unfix it.
func (s *Segment) newPage() (*buffer.Frame, error) {
	pageIndex := s.allocatedPages
	s.allocatedPages++
	frame, err := s.buf.Fix(s.pageID(pageIndex), true)
	if err != nil {
		return nil, err
	}
	slottedpage.Init(frame.Data())
	return frame, nil
}

// Allocate reserves space for a new record of the given size, returning
// its TID. It asks the FSI for a candidate page, falls back to a brand
// new page, and validates the candidate's real free space before
// committing — the FSI's cache is only an optimistic lower bound.
func (s *Segment) Allocate(size uint32, isRedirectTarget bool) (storage.TID, error) {
	needed := size + slottedpage.SlotSize

	pageIndex, found := s.fsi.Find(needed)

	var frame *buffer.Frame
	var err error
	if found {
		frame, err = s.buf.Fix(s.pageID(pageIndex), true)
	} else {
		frame, err = s.newPage()
		pageIndex = s.allocatedPages - 1
	}
	if err != nil {
		return 0, err
	}

	page := slottedpage.New(frame.Data())
	if found && page.FreeSpace() < needed {
		// FSI cache was stale; unfix and retry against a strictly
		// larger class before giving up and creating a new page
		s.buf.Unfix(frame, false, true)

		nextClass := fsi.Encode(needed) + 1
		var retryFound bool
		if nextClass < 16 {
			pageIndex, retryFound = s.fsi.Find(fsi.Decode(nextClass))
		}

		if retryFound {
			frame, err = s.buf.Fix(s.pageID(pageIndex), true)
		} else {
			frame, err = s.newPage()
			pageIndex = s.allocatedPages - 1
		}
		if err != nil {
			return 0, err
		}
		page = slottedpage.New(frame.Data())
	}

	slotID := page.Allocate(size, isRedirectTarget)
	freeSpace := page.FreeSpace()
	s.buf.Unfix(frame, true, true)

	if err := s.fsi.Update(pageIndex, freeSpace); err != nil {
		return 0, err
	}
	return storage.NewTID(pageIndex, slotID), nil
}

// slotHandle bundles a fixed frame, its slotted-page view, and one
// decoded slot, so redirect-following code can read a consistent triple
// without re-fixing.
type slotHandle struct {
	frame  *buffer.Frame
	page   *slottedpage.Page
	slot   slottedpage.SlotInfo
	tid    storage.TID
}

func (s *Segment) getSlot(tid storage.TID, exclusive bool) (slotHandle, error) {
	frame, err := s.buf.Fix(tid.PageID(s.segmentID), exclusive)
	if err != nil {
		return slotHandle{}, err
	}
	page := slottedpage.New(frame.Data())
	return slotHandle{frame: frame, page: page, slot: page.Slot(tid.SlotID()), tid: tid}, nil
}

// Read copies min(len(buf), record size) bytes of tid's record into buf
// and returns the number of bytes copied. It follows at most one
// redirect hop. An erased slot, including a trailing one that Erase popped
// off the directory, reads as 0 bytes.
func (s *Segment) Read(tid storage.TID, buf []byte) (int, error) {
	frame, err := s.buf.Fix(tid.PageID(s.segmentID), false)
	if err != nil {
		return 0, err
	}
	page := slottedpage.New(frame.Data())
	if tid.SlotID() >= page.SlotCount() {
		s.buf.Unfix(frame, false, false)
		return 0, nil
	}
	h := slotHandle{frame: frame, page: page, slot: page.Slot(tid.SlotID()), tid: tid}
	storage.Assertf(!h.slot.IsRedirectTarget, "sp segment: read addressed a redirect target directly")

	if h.slot.IsEmpty {
		s.buf.Unfix(h.frame, false, false)
		return 0, nil
	}

	if !h.slot.IsRedirect {
		n := copy(buf, h.page.Data(tid.SlotID()))
		s.buf.Unfix(h.frame, false, false)
		return n, nil
	}

	rTid := storage.NewTID(h.slot.TargetPageIndex, h.slot.TargetSlotID)
	s.buf.Unfix(h.frame, false, false)

	rh, err := s.getSlot(rTid, false)
	if err != nil {
		return 0, err
	}
	storage.Assertf(rh.slot.IsRedirectTarget && !rh.slot.IsEmpty, "sp segment: redirect target is empty or not marked")
	n := copy(buf, rh.page.Data(rTid.SlotID()))
	s.buf.Unfix(rh.frame, false, false)
	return n, nil
}

// Write copies min(len(record), slot size) bytes of record into tid's
// record, never resizing it. It follows at most one redirect hop.
func (s *Segment) Write(tid storage.TID, record []byte) (int, error) {
	h, err := s.getSlot(tid, true)
	if err != nil {
		return 0, err
	}

	if !h.slot.IsRedirect {
		n := copy(h.page.Data(tid.SlotID()), record)
		s.buf.Unfix(h.frame, true, true)
		return n, nil
	}

	rTid := storage.NewTID(h.slot.TargetPageIndex, h.slot.TargetSlotID)
	s.buf.Unfix(h.frame, false, true)

	rh, err := s.getSlot(rTid, true)
	if err != nil {
		return 0, err
	}
	storage.Assertf(rh.slot.IsRedirectTarget, "sp segment: redirect target not marked as such")
	n := copy(rh.page.Data(rTid.SlotID()), record)
	s.buf.Unfix(rh.frame, true, true)
	return n, nil
}

// Resize changes tid's record length. The TID addressed by the caller is
// the record's stable external identity and is never turned into a
// redirect target itself. A record that still fits where it is (a shrink,
// or a grow to a length no larger than its page's free space) is
// relocated in place; otherwise a redirect target allocated through the
// FSI absorbs the grown payload and the original slot becomes (or stays)
// a redirect to it.
func (s *Segment) Resize(tid storage.TID, newLength uint32) error {
	h, err := s.getSlot(tid, true)
	if err != nil {
		return err
	}
	storage.Assertf(!h.slot.IsRedirectTarget, "sp segment: resize addressed a redirect target directly")

	if !h.slot.IsRedirect {
		return s.resizeDirect(h, newLength)
	}
	return s.resizeRedirect(h, newLength)
}

func (s *Segment) resizeDirect(h slotHandle, newLength uint32) error {
	slotID := h.tid.SlotID()
	if newLength == h.slot.Size {
		s.buf.Unfix(h.frame, false, true)
		return nil
	}

	if newLength < h.slot.Size || h.page.FreeSpace() >= newLength {
		h.page.Relocate(slotID, newLength)
		freeSpace := h.page.FreeSpace()
		s.buf.Unfix(h.frame, true, true)
		return s.fsi.Update(h.tid.PageIndex(), freeSpace)
	}

	// doesn't fit: the record grows a redirect target on another page
	old := append([]byte(nil), h.page.Data(slotID)...)
	s.buf.Unfix(h.frame, true, true)

	newTID, err := s.Allocate(newLength, true)
	if err != nil {
		return err
	}
	if _, err := s.Write(newTID, old); err != nil {
		return err
	}

	h2, err := s.getSlot(h.tid, true)
	if err != nil {
		return err
	}
	h2.page.MakeRedirect(slotID, newTID.PageIndex(), newTID.SlotID())
	freeSpace := h2.page.FreeSpace()
	s.buf.Unfix(h2.frame, true, true)
	return s.fsi.Update(h2.tid.PageIndex(), freeSpace)
}

func (s *Segment) resizeRedirect(h slotHandle, newLength uint32) error {
	rTid := storage.NewTID(h.slot.TargetPageIndex, h.slot.TargetSlotID)
	rh, err := s.getSlot(rTid, true)
	if err != nil {
		s.buf.Unfix(h.frame, false, true)
		return err
	}
	storage.Assertf(rh.slot.IsRedirectTarget, "sp segment: redirect target not marked as such")

	if newLength < rh.slot.Size || rh.page.FreeSpace() >= newLength-rh.slot.Size {
		s.buf.Unfix(h.frame, false, true)
		rh.page.Relocate(rTid.SlotID(), newLength)
		freeSpace := rh.page.FreeSpace()
		s.buf.Unfix(rh.frame, true, true)
		return s.fsi.Update(rTid.PageIndex(), freeSpace)
	}

	// re-redirect: new target, copy bytes, erase old target
	old := append([]byte(nil), rh.page.Data(rTid.SlotID())...)

	newTID, err := s.Allocate(newLength, true)
	if err != nil {
		s.buf.Unfix(h.frame, false, true)
		s.buf.Unfix(rh.frame, false, true)
		return err
	}
	if _, err := s.Write(newTID, old); err != nil {
		s.buf.Unfix(h.frame, false, true)
		s.buf.Unfix(rh.frame, false, true)
		return err
	}

	rh.page.Erase(rTid.SlotID())
	oldFreeSpace := rh.page.FreeSpace()
	s.buf.Unfix(rh.frame, true, true)
	if err := s.fsi.Update(rTid.PageIndex(), oldFreeSpace); err != nil {
		s.buf.Unfix(h.frame, false, true)
		return err
	}

	h.page.MakeRedirect(h.tid.SlotID(), newTID.PageIndex(), newTID.SlotID())
	s.buf.Unfix(h.frame, true, true)
	return nil
}

// Erase removes tid's record, following and erasing a redirect target
// too if present, and updating the FSI for every affected page.
func (s *Segment) Erase(tid storage.TID) error {
	h, err := s.getSlot(tid, true)
	if err != nil {
		return err
	}

	if !h.slot.IsRedirect {
		h.page.Erase(tid.SlotID())
		freeSpace := h.page.FreeSpace()
		s.buf.Unfix(h.frame, true, true)
		return s.fsi.Update(tid.PageIndex(), freeSpace)
	}

	rTid := storage.NewTID(h.slot.TargetPageIndex, h.slot.TargetSlotID)
	h.page.Erase(tid.SlotID())
	freeSpace := h.page.FreeSpace()
	s.buf.Unfix(h.frame, true, true)

	rh, err := s.getSlot(rTid, true)
	if err != nil {
		return err
	}
	storage.Assertf(rh.slot.IsRedirectTarget, "sp segment: redirect target not marked as such")
	rh.page.Erase(rTid.SlotID())
	rFreeSpace := rh.page.FreeSpace()
	s.buf.Unfix(rh.frame, true, true)

	if err := s.fsi.Update(rTid.PageIndex(), rFreeSpace); err != nil {
		return err
	}
	return s.fsi.Update(tid.PageIndex(), freeSpace)
}
