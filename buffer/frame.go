// Package buffer implements the engine's page cache: a fixed-size pool of
// BufferFrames kept warm with the 2Q replacement policy (a FIFO queue for
// once-touched pages, an LRU queue for pages that have proven themselves
// worth keeping), sitting on top of the diskio segment store.
package buffer

import (
	"sync"

	"coredb/storage"
)

// pageState mirrors the lifecycle a frame moves through: never loaded, in
// the FIFO queue, in the LRU queue, or in the middle of being loaded by
// some other fixer.
type pageState uint8

const (
	notLoaded pageState = iota
	loading
	inFifo
	inLru
)

// Frame is one slot of the buffer pool. It is never copied and never
// recycled across page ids — once a PageID is seen, its Frame stays in
// the page table for the Manager's lifetime, even after eviction, so
// that concurrent fixers always resolve to the same frame.
type Frame struct {
	pid   storage.PageID
	state pageState

	// pageLatch guards the frame's data and is held by every fixer for
	// the duration of their fix, shared for reads and exclusive for
	// writes — the latch a caller actually holds when get_data is safe.
	pageLatch sync.RWMutex
	// loadingLatch serializes concurrent first-touch loads of the same
	// frame: only one fixer performs the disk read, the rest wait on it.
	loadingLatch sync.Mutex

	dirty bool
	data  []byte
}

// PageID returns the identity of the page cached in this frame.
func (f *Frame) PageID() storage.PageID { return f.pid }

// Data returns the frame's page-sized buffer. Callers must hold the
// frame's latch (via a live Fix) before touching it.
func (f *Frame) Data() []byte { return f.data }
