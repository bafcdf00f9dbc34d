package fsi

import (
	"fmt"
	"sync"

	"coredb/buffer"
	"coredb/storage"
)

const invalidPageIndex = -1

// pagesPerFSIPage is how many data pages one FSI page's nibbles cover:
// two nibbles per byte, PAGE_SIZE bytes per FSI page.
const pagesPerFSIPage = uint64(2 * storage.PageSize)

// Segment is the free-space inventory for one table's data pages. It owns
// its own 16-bit segment id (distinct from the data pages it tracks) and
// keeps a 16-entry free-page cache in memory, rebuilt once at
// construction and kept up to date by Update.
type Segment struct {
	segmentID uint16
	buf       *buffer.Manager

	// allocatedPages points at the data segment's page counter, shared
	// with the owning SP segment: the FSI only ever describes pages that
	// already exist.
	allocatedPages *uint64

	mu    sync.Mutex
	cache [16]int64
}

// NewSegment builds a Segment over segmentID's FSI pages, tracking
// free space for a data segment whose current page count is read through
// allocatedPages. It bootstraps its free-page cache by scanning every
// already-allocated page's class.
func NewSegment(segmentID uint16, buf *buffer.Manager, allocatedPages *uint64) (*Segment, error) {
	s := &Segment{segmentID: segmentID, buf: buf, allocatedPages: allocatedPages}
	for i := range s.cache {
		s.cache[i] = invalidPageIndex
	}
	if err := s.bootstrap(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Segment) fsiPageID(fsiIndex uint64) storage.PageID {
	return storage.NewPageID(s.segmentID, fsiIndex)
}

func (s *Segment) bootstrap() error {
	cur := uint64(0)
	total := *s.allocatedPages

	for cur < total {
		fsiIndex := cur / pagesPerFSIPage
		frame, err := s.buf.Fix(s.fsiPageID(fsiIndex), false)
		if err != nil {
			return fmt.Errorf("fsi bootstrap: fix fsi page %d: %w", fsiIndex, err)
		}
		data := frame.Data()

		for byteOff := 0; byteOff < storage.PageSize && cur < total; byteOff++ {
			b := data[byteOff]

			upper := Class(b >> 4)
			if s.cache[upper] == invalidPageIndex {
				s.cache[upper] = int64(cur)
			}
			cur++
			if cur >= total {
				break
			}

			lower := Class(b & 0x0F)
			if s.cache[lower] == invalidPageIndex {
				s.cache[lower] = int64(cur)
			}
			cur++
		}

		s.buf.Unfix(frame, false, false)
	}
	return nil
}

// Update records target page's current free space. It rewrites the
// page's nibble in its FSI page, then repairs the free-page cache: the
// target's new class gets a candidate entry if it's the earliest known,
// and any other class it used to represent is re-scanned forward from the
// page after it.
func (s *Segment) Update(targetPage uint64, freeSpace uint32) error {
	class := Encode(freeSpace)

	fsiIndex := targetPage / pagesPerFSIPage
	frame, err := s.buf.Fix(s.fsiPageID(fsiIndex), true)
	if err != nil {
		return fmt.Errorf("fsi update: fix fsi page %d: %w", fsiIndex, err)
	}

	offsetInFSI := targetPage % pagesPerFSIPage
	byteOff := offsetInFSI / 2
	data := frame.Data()
	old := data[byteOff]
	if offsetInFSI%2 == 0 {
		data[byteOff] = (old & 0x0F) | byte(class)<<4
	} else {
		data[byteOff] = (old & 0xF0) | byte(class)
	}
	s.buf.Unfix(frame, true, true)

	return s.updateFreeCache(targetPage, class)
}

func (s *Segment) updateFreeCache(pageIndex uint64, newClass Class) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevClass := Class(16)
	for c := Class(0); c < 16; c++ {
		if s.cache[c] == int64(pageIndex) {
			if c != newClass {
				prevClass = c
			}
			break
		}
	}

	if s.cache[newClass] == invalidPageIndex || pageIndex < uint64(s.cache[newClass]) {
		s.cache[newClass] = int64(pageIndex)
	}

	if prevClass >= 16 {
		return nil
	}

	// the old entry vacated its class; find the next earliest page of
	// that class, scanning forward from just past pageIndex
	cur := pageIndex + 1
	total := *s.allocatedPages

	for cur < total {
		fsiIndex := cur / pagesPerFSIPage
		frame, err := s.buf.Fix(s.fsiPageID(fsiIndex), false)
		if err != nil {
			return fmt.Errorf("fsi update_free_cache: fix fsi page %d: %w", fsiIndex, err)
		}
		data := frame.Data()

		for cur < total && cur/pagesPerFSIPage == fsiIndex {
			offsetInFSI := cur % pagesPerFSIPage
			byteOff := offsetInFSI / 2
			var cls Class
			if offsetInFSI%2 == 0 {
				cls = Class(data[byteOff] >> 4)
			} else {
				cls = Class(data[byteOff] & 0x0F)
			}
			if cls == prevClass {
				s.cache[prevClass] = int64(cur)
				s.buf.Unfix(frame, false, false)
				return nil
			}
			cur++
		}
		s.buf.Unfix(frame, false, false)
	}

	s.cache[prevClass] = invalidPageIndex
	return nil
}

// Find returns the cached page of the lowest class at or above
// Encode(requiredSpace), or ok=false if the cache has no candidate. The
// result is optimistic: callers must re-validate the page's actual free
// space before trusting it.
func (s *Segment) Find(requiredSpace uint32) (pageIndex uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := Encode(requiredSpace); c < 16; c++ {
		if s.cache[c] != invalidPageIndex {
			return uint64(s.cache[c]), true
		}
	}
	return 0, false
}
