package buffer

import (
	"fmt"
	"sync"

	"coredb/diskio"
	"coredb/storage"
)

// ErrBufferFull is returned by Fix when every frame is pinned and none can
// be evicted to make room for the requested page.
var ErrBufferFull = storage.ErrBufferFull

// Manager is the 2Q buffer pool. Once-touched pages live in the FIFO
// queue; a page that is fixed a second time graduates to the LRU queue,
// where repeat touches move it to the back. Eviction always prefers the
// FIFO queue over the LRU queue, so a single burst of cold scans cannot
// flush out pages that have already proven they're worth keeping.
type Manager struct {
	store     *diskio.Store
	pageCount int
	log       storage.Logger

	pageTableLatch sync.RWMutex
	pageTable      map[storage.PageID]*Frame

	fifoLatch sync.RWMutex
	fifoList  []*Frame

	lruLatch sync.RWMutex
	lruList  []*Frame
}

// NewManager builds a Manager backed by store, holding at most pageCount
// pages resident at once.
func NewManager(store *diskio.Store, pageCount int) *Manager {
	return &Manager{
		store:     store,
		pageCount: pageCount,
		log:       storage.NopLogger,
		pageTable: make(map[storage.PageID]*Frame),
		fifoList:  make([]*Frame, 0, pageCount),
		lruList:   make([]*Frame, 0, pageCount),
	}
}

// SetLogger swaps in a non-discarding logger for trace output.
func (m *Manager) SetLogger(l storage.Logger) { m.log = l }

func (m *Manager) frameFor(pid storage.PageID) *Frame {
	m.pageTableLatch.RLock()
	if f, ok := m.pageTable[pid]; ok {
		m.pageTableLatch.RUnlock()
		return f
	}
	m.pageTableLatch.RUnlock()

	m.pageTableLatch.Lock()
	defer m.pageTableLatch.Unlock()
	if f, ok := m.pageTable[pid]; ok {
		return f
	}
	f := &Frame{pid: pid, state: notLoaded}
	m.pageTable[pid] = f
	return f
}

// Fix returns the Frame for pid, loading it from disk on first touch.
// When exclusive is true the frame's latch is held for writing; otherwise
// it is held for reading. The caller must call Unfix exactly once for
// every successful Fix.
func (m *Manager) Fix(pid storage.PageID, exclusive bool) (*Frame, error) {
	frame := m.frameFor(pid)

	if exclusive {
		frame.pageLatch.Lock()
	} else {
		frame.pageLatch.RLock()
	}

	switch frame.state {
	case inFifo:
		m.promoteFromFifo(frame)
	case inLru:
		m.touchLru(frame)
	case notLoaded:
		if err := m.loadPage(frame); err != nil {
			if exclusive {
				frame.pageLatch.Unlock()
			} else {
				frame.pageLatch.RUnlock()
			}
			return nil, err
		}
	case loading:
		frame.loadingLatch.Lock()
		frame.loadingLatch.Unlock()
		if frame.state != inFifo && frame.state != inLru {
			if exclusive {
				frame.pageLatch.Unlock()
			} else {
				frame.pageLatch.RUnlock()
			}
			return nil, fmt.Errorf("fix page %d: %w", pid, ErrBufferFull)
		}
	}

	return frame, nil
}

// Unfix releases a frame obtained from Fix. dirty marks the page as
// needing to be written back before it can be evicted.
func (m *Manager) Unfix(frame *Frame, dirty bool, exclusive bool) {
	if dirty {
		frame.dirty = true
	}
	if exclusive {
		frame.pageLatch.Unlock()
	} else {
		frame.pageLatch.RUnlock()
	}
}

func (m *Manager) promoteFromFifo(frame *Frame) {
	m.fifoLatch.Lock()
	m.lruLatch.Lock()
	defer m.lruLatch.Unlock()
	defer m.fifoLatch.Unlock()

	if frame.state == inLru {
		// raced with another promotion; nothing left to do
		return
	}

	for i, f := range m.fifoList {
		if f == frame {
			m.fifoList = append(m.fifoList[:i], m.fifoList[i+1:]...)
			m.lruList = append(m.lruList, frame)
			frame.state = inLru
			return
		}
	}
	panic("buffer: frame marked inFifo but missing from fifo list")
}

func (m *Manager) touchLru(frame *Frame) {
	m.lruLatch.Lock()
	defer m.lruLatch.Unlock()

	for i, f := range m.lruList {
		if f == frame {
			m.lruList = append(m.lruList[:i], m.lruList[i+1:]...)
			m.lruList = append(m.lruList, frame)
			return
		}
	}
	panic("buffer: frame marked inLru but missing from lru list")
}

func (m *Manager) loadPage(frame *Frame) error {
	frame.loadingLatch.Lock()
	defer frame.loadingLatch.Unlock()

	if frame.state == inFifo || frame.state == inLru {
		// someone else loaded it while we waited for the loading latch
		return nil
	}

	frame.state = loading
	if !m.insertIntoFifo(frame) {
		frame.state = notLoaded
		return fmt.Errorf("fix page %d: %w", frame.pid, ErrBufferFull)
	}

	data, err := m.store.ReadPage(frame.pid)
	if err != nil {
		frame.state = notLoaded
		return err
	}
	frame.data = data
	frame.state = inFifo
	m.log.Printf("[buffer] loaded page=%d", frame.pid)
	return nil
}

// insertIntoFifo places frame at the tail of the FIFO queue, evicting a
// victim first if the pool is already full. Victims are sought in the
// FIFO queue before the LRU queue, matching the policy's bias toward
// keeping proven-hot pages.
func (m *Manager) insertIntoFifo(frame *Frame) bool {
	m.fifoLatch.Lock()

	m.lruLatch.RLock()
	if len(m.fifoList)+len(m.lruList) < m.pageCount {
		m.fifoList = append(m.fifoList, frame)
		m.lruLatch.RUnlock()
		m.fifoLatch.Unlock()
		return true
	}
	m.lruLatch.RUnlock()

	if i := lockEvictable(m.fifoList); i != -1 {
		victim := m.fifoList[i]
		m.fifoList = append(m.fifoList[:i], m.fifoList[i+1:]...)
		m.fifoList = append(m.fifoList, frame)
		m.fifoLatch.Unlock()

		m.retire(victim, inFifo)
		return true
	}

	m.lruLatch.Lock()
	if i := lockEvictable(m.lruList); i != -1 {
		victim := m.lruList[i]
		m.lruList = append(m.lruList[:i], m.lruList[i+1:]...)
		m.lruLatch.Unlock()

		m.fifoList = append(m.fifoList, frame)
		m.fifoLatch.Unlock()

		m.retire(victim, inLru)
		return true
	}
	m.lruLatch.Unlock()
	m.fifoLatch.Unlock()
	return false
}

// lockEvictable scans frameList for the first frame whose page latch can
// be taken exclusively without blocking, and returns its index, or -1 if
// every frame in the list is currently pinned. The caller already holds
// the list's latch exclusively.
func lockEvictable(frameList []*Frame) int {
	for i, f := range frameList {
		if f.pageLatch.TryLock() {
			return i
		}
	}
	return -1
}

// retire flushes victim if dirty and marks it not-loaded, releasing the
// exclusive page latch lockEvictable acquired on it. wantState documents
// the state the caller observed the victim in, for the invariant check.
func (m *Manager) retire(victim *Frame, wantState pageState) {
	if victim.state != wantState {
		victim.pageLatch.Unlock()
		panic("buffer: victim frame changed state while being evicted")
	}

	if victim.dirty {
		if err := m.flush(victim); err != nil {
			m.log.Printf("[buffer] flush failed during eviction of page=%d: %v", victim.pid, err)
		}
	}
	m.log.Printf("[buffer] evicted page=%d dirty=%v", victim.pid, victim.dirty)

	victim.state = notLoaded
	victim.data = nil
	victim.pageLatch.Unlock()
}

func (m *Manager) flush(frame *Frame) error {
	if err := m.store.WritePage(frame.pid, frame.data); err != nil {
		return fmt.Errorf("flush page %d: %w", frame.pid, err)
	}
	frame.dirty = false
	return nil
}

// FlushAll writes every dirty frame back to disk. Used for checkpoints
// and orderly shutdown.
func (m *Manager) FlushAll() error {
	m.fifoLatch.RLock()
	defer m.fifoLatch.RUnlock()
	m.lruLatch.RLock()
	defer m.lruLatch.RUnlock()

	var firstErr error
	for _, list := range [][]*Frame{m.fifoList, m.lruList} {
		for _, f := range list {
			f.pageLatch.Lock()
			if f.dirty {
				if err := m.flush(f); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			f.pageLatch.Unlock()
		}
	}
	return firstErr
}

// Close flushes every dirty frame and releases the underlying segment
// store's resources.
func (m *Manager) Close() error {
	if err := m.FlushAll(); err != nil {
		return err
	}
	return m.store.Close()
}

// FifoPageIDs returns, in FIFO order, the page ids currently in the FIFO
// queue. Exposed for tests; not meant for production call sites.
func (m *Manager) FifoPageIDs() []storage.PageID {
	m.fifoLatch.RLock()
	defer m.fifoLatch.RUnlock()
	ids := make([]storage.PageID, len(m.fifoList))
	for i, f := range m.fifoList {
		ids[i] = f.pid
	}
	return ids
}

// LruPageIDs returns, in LRU order (least to most recently used), the
// page ids currently in the LRU queue. Exposed for tests.
func (m *Manager) LruPageIDs() []storage.PageID {
	m.lruLatch.RLock()
	defer m.lruLatch.RUnlock()
	ids := make([]storage.PageID, len(m.lruList))
	for i, f := range m.lruList {
		ids[i] = f.pid
	}
	return ids
}
