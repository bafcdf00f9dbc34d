package diskio

import (
	"fmt"
	"sync"

	"coredb/storage"
)

// Opener creates or opens the backing File for a segment id. Store calls
// Opener lazily the first time any page of that segment is read or
// written, so that first touch is also when a new segment's file is
// created.
type Opener func(segmentID uint16) (File, error)

// Store is the segment-file layer the buffer manager sits on top of: one
// backing File per 16-bit segment id, opened on demand and resized on
// demand, each guarded by its own latch taken shared for reads/writes and
// exclusive only for create/resize — exactly the sharing policy §5
// prescribes for segment files.
type Store struct {
	open Opener

	mu       sync.RWMutex
	segments map[uint16]*segmentEntry
}

type segmentEntry struct {
	latch sync.RWMutex
	file  File
}

// NewStore builds a Store that opens segment files with the given Opener.
func NewStore(open Opener) *Store {
	return &Store{open: open, segments: make(map[uint16]*segmentEntry)}
}

// PosixDir returns an Opener that creates one file per segment id inside
// dir, named by the segment id — "one file per segment, named by segment
// id" (§6).
func PosixDir(dir string) Opener {
	return func(segmentID uint16) (File, error) {
		return NewPosixFile(fmt.Sprintf("%s/%d.seg", dir, segmentID))
	}
}

// InMemory returns an Opener that hands out a fresh in-memory file per
// segment id, for tests and throwaway databases.
func InMemory() Opener {
	return func(uint16) (File, error) {
		return NewMemFile(), nil
	}
}

func (s *Store) entry(segmentID uint16) (*segmentEntry, error) {
	s.mu.RLock()
	e, ok := s.segments[segmentID]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.segments[segmentID]; ok {
		// someone created it while we waited for the exclusive latch
		return e, nil
	}

	f, err := s.open(segmentID)
	if err != nil {
		return nil, fmt.Errorf("open segment %d: %w", segmentID, err)
	}
	e = &segmentEntry{file: f}
	s.segments[segmentID] = e
	return e, nil
}

// ReadPage reads the page at pid's segment-relative index, growing the
// segment file first if the page lies beyond its current end.
func (s *Store) ReadPage(pid storage.PageID) ([]byte, error) {
	e, err := s.entry(pid.SegmentID())
	if err != nil {
		return nil, err
	}

	offset := int64(pid.SegmentPageID()) * storage.PageSize
	minSize := offset + storage.PageSize

	e.latch.RLock()
	size, err := e.file.Size()
	e.latch.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrIO, err)
	}

	if size < minSize {
		e.latch.Lock()
		size, err = e.file.Size()
		if err == nil && size < minSize {
			err = e.file.Resize(minSize)
		}
		e.latch.Unlock()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrIO, err)
		}
	}

	e.latch.RLock()
	data, err := e.file.ReadBlock(offset, storage.PageSize)
	e.latch.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrIO, err)
	}
	return data, nil
}

// WritePage persists data (which must be exactly storage.PageSize bytes)
// at pid's segment-relative offset.
func (s *Store) WritePage(pid storage.PageID, data []byte) error {
	if len(data) != storage.PageSize {
		return fmt.Errorf("write page %d: data is %d bytes, want %d", pid, len(data), storage.PageSize)
	}

	e, err := s.entry(pid.SegmentID())
	if err != nil {
		return err
	}

	offset := int64(pid.SegmentPageID()) * storage.PageSize

	e.latch.RLock()
	defer e.latch.RUnlock()
	if err := e.file.WriteBlock(data, offset); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrIO, err)
	}
	return nil
}

// Close closes every opened segment file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, e := range s.segments {
		if err := e.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
