package btree

import (
	"fmt"
	"sync"
	"sync/atomic"

	"coredb/buffer"
	"coredb/storage"
)

// Tree is an ordered map over fixed-length keys and values, backed by
// one page per node and concurrent latch-coupled access through the
// buffer manager. All nodes live in segmentID; node page indices are a
// monotonically increasing counter and are never reused.
type Tree[K, V any] struct {
	segmentID uint16
	buf       *buffer.Manager

	keyCodec   Codec[K]
	valueCodec Codec[V]
	innerCap   int
	leafCap    int

	nodeCount uint64

	rootMu sync.Mutex
	root   storage.PageID
	height uint16
}

// New builds a Tree with a single, empty leaf as its root.
func New[K, V any](segmentID uint16, buf *buffer.Manager, keyCodec Codec[K], valueCodec Codec[V]) (*Tree[K, V], error) {
	t := &Tree[K, V]{
		segmentID:  segmentID,
		buf:        buf,
		keyCodec:   keyCodec,
		valueCodec: valueCodec,
		innerCap:   innerCapacity(keyCodec.Size()),
		leafCap:    leafCapacity(keyCodec.Size(), valueCodec.Size()),
	}
	storage.Assertf(t.innerCap >= 2, "btree: page too small to hold an inner node with >=2 children")
	storage.Assertf(t.leafCap >= 1, "btree: page too small to hold a single leaf entry")

	pid := t.createNewNode()
	frame, err := buf.Fix(pid, true)
	if err != nil {
		return nil, fmt.Errorf("btree: create root: %w", err)
	}
	leaf := t.leafView(frame.Data())
	leaf.SetLevel(0)
	leaf.SetCount(0)
	buf.Unfix(frame, true, true)

	t.root = pid
	t.height = 1
	return t, nil
}

func (t *Tree[K, V]) createNewNode() storage.PageID {
	idx := atomic.AddUint64(&t.nodeCount, 1) - 1
	return storage.NewPageID(t.segmentID, idx)
}

func (t *Tree[K, V]) snapshotRoot() (storage.PageID, uint16) {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()
	return t.root, t.height
}

// growRoot allocates a new inner root with the given separator and two
// children, installs it as the tree's root, and returns its frame still
// fixed exclusively for the caller to finish populating or to unfix.
func (t *Tree[K, V]) growRoot(level uint16, sepKey K, left, right storage.PageID) (*buffer.Frame, error) {
	pid := t.createNewNode()
	frame, err := t.buf.Fix(pid, true)
	if err != nil {
		return nil, fmt.Errorf("btree: grow root: %w", err)
	}
	newRoot := t.innerView(frame.Data())
	newRoot.SetLevel(level)
	newRoot.SetCount(2)
	newRoot.SetKey(0, sepKey)
	newRoot.SetChild(0, left.SegmentPageID())
	newRoot.SetChild(1, right.SegmentPageID())

	t.rootMu.Lock()
	t.root = pid
	t.height++
	t.rootMu.Unlock()

	return frame, nil
}

func (t *Tree[K, V]) childPageID(pageIndex uint64) storage.PageID {
	return storage.NewPageID(t.segmentID, pageIndex)
}

// Lookup returns the value stored for key, if any.
func (t *Tree[K, V]) Lookup(key K) (value V, found bool, err error) {
	for {
		rootPid, _ := t.snapshotRoot()
		currentFrame, err := t.buf.Fix(rootPid, false)
		if err != nil {
			return value, false, err
		}
		if curRoot, _ := t.snapshotRoot(); curRoot != rootPid {
			t.buf.Unfix(currentFrame, false, false)
			continue
		}

		var parentFrame *buffer.Frame
		for {
			if isLeaf(currentFrame.Data()) {
				break
			}
			inner := t.innerView(currentFrame.Data())
			idx, _ := inner.LowerBound(key)
			childPid := t.childPageID(inner.Child(idx))

			childFrame, err := t.buf.Fix(childPid, false)
			if err != nil {
				if parentFrame != nil {
					t.buf.Unfix(parentFrame, false, false)
				}
				t.buf.Unfix(currentFrame, false, false)
				return value, false, err
			}
			if parentFrame != nil {
				t.buf.Unfix(parentFrame, false, false)
			}
			parentFrame = currentFrame
			currentFrame = childFrame
		}

		leaf := t.leafView(currentFrame.Data())
		idx, ok := leaf.LowerBound(key)
		if ok {
			value = leaf.Value(idx)
		}

		if parentFrame != nil {
			t.buf.Unfix(parentFrame, false, false)
		}
		t.buf.Unfix(currentFrame, false, false)
		return value, ok, nil
	}
}

// Insert adds key mapped to value, overwriting any existing mapping for
// key. It descends optimistically with shared latches first; if any node
// on the path turns out to be full it releases everything and restarts
// with exclusive latches held the whole way down, splitting as needed
// before restarting once more from the top.
func (t *Tree[K, V]) Insert(key K, value V) error {
	exclusive := false

	for {
		rootPid, height := t.snapshotRoot()
		currentPid := rootPid
		currentExclusive := exclusive || height == 1
		currentFrame, err := t.buf.Fix(currentPid, currentExclusive)
		if err != nil {
			return err
		}
		if curRoot, _ := t.snapshotRoot(); curRoot != currentPid {
			t.buf.Unfix(currentFrame, false, currentExclusive)
			continue
		}

		var parentFrame *buffer.Frame
		var parentExclusive bool
		restart := false

		for !isLeaf(currentFrame.Data()) {
			inner := t.innerView(currentFrame.Data())

			if !inner.HasSpace() {
				if !exclusive {
					t.buf.Unfix(currentFrame, false, currentExclusive)
					if parentFrame != nil {
						t.buf.Unfix(parentFrame, false, parentExclusive)
					}
					exclusive = true
					restart = true
					break
				}

				rightPid := t.createNewNode()
				rightFrame, err := t.buf.Fix(rightPid, true)
				if err != nil {
					return err
				}
				splitKey := inner.Split(t.innerView(rightFrame.Data()))

				if parentFrame != nil {
					parentInner := t.innerView(parentFrame.Data())
					parentInner.InsertSplit(splitKey, rightPid.SegmentPageID())
					t.buf.Unfix(rightFrame, true, true)
					t.buf.Unfix(currentFrame, true, true)
					t.buf.Unfix(parentFrame, true, parentExclusive)
				} else {
					newRootFrame, err := t.growRoot(inner.Level()+1, splitKey, currentPid, rightPid)
					if err != nil {
						return err
					}
					t.buf.Unfix(rightFrame, true, true)
					t.buf.Unfix(currentFrame, true, true)
					t.buf.Unfix(newRootFrame, true, true)
				}

				exclusive = false
				restart = true
				break
			}

			idx, _ := inner.LowerBound(key)
			childPid := t.childPageID(inner.Child(idx))
			nextExclusive := exclusive || inner.Level() == 1

			childFrame, err := t.buf.Fix(childPid, nextExclusive)
			if err != nil {
				return err
			}
			if parentFrame != nil {
				t.buf.Unfix(parentFrame, false, parentExclusive)
			}
			parentFrame, parentExclusive = currentFrame, currentExclusive
			currentFrame, currentExclusive = childFrame, nextExclusive
			currentPid = childPid
		}

		if restart {
			continue
		}

		leaf := t.leafView(currentFrame.Data())
		if !leaf.HasSpace() {
			if !exclusive {
				t.buf.Unfix(currentFrame, false, currentExclusive)
				if parentFrame != nil {
					t.buf.Unfix(parentFrame, false, parentExclusive)
				}
				exclusive = true
				continue
			}

			rightPid := t.createNewNode()
			rightFrame, err := t.buf.Fix(rightPid, true)
			if err != nil {
				return err
			}
			splitKey := leaf.Split(t.leafView(rightFrame.Data()))

			if parentFrame != nil {
				parentInner := t.innerView(parentFrame.Data())
				parentInner.InsertSplit(splitKey, rightPid.SegmentPageID())
				t.buf.Unfix(rightFrame, true, true)
				t.buf.Unfix(currentFrame, true, true)
				t.buf.Unfix(parentFrame, true, parentExclusive)
			} else {
				newRootFrame, err := t.growRoot(leaf.Level()+1, splitKey, currentPid, rightPid)
				if err != nil {
					return err
				}
				t.buf.Unfix(rightFrame, true, true)
				t.buf.Unfix(currentFrame, true, true)
				t.buf.Unfix(newRootFrame, true, true)
			}

			exclusive = false
			continue
		}

		leaf.Insert(key, value)
		t.buf.Unfix(currentFrame, true, currentExclusive)
		if parentFrame != nil {
			t.buf.Unfix(parentFrame, false, parentExclusive)
		}
		return nil
	}
}

// Erase removes key if present. The tree never merges or rebalances
// under-full nodes after an erase; height can only grow, never shrink.
func (t *Tree[K, V]) Erase(key K) error {
	for {
		rootPid, height := t.snapshotRoot()
		currentExclusive := height == 1
		currentFrame, err := t.buf.Fix(rootPid, currentExclusive)
		if err != nil {
			return err
		}
		if curRoot, _ := t.snapshotRoot(); curRoot != rootPid {
			t.buf.Unfix(currentFrame, false, currentExclusive)
			continue
		}

		var parentFrame *buffer.Frame
		var parentExclusive bool

		for !isLeaf(currentFrame.Data()) {
			inner := t.innerView(currentFrame.Data())
			idx, _ := inner.LowerBound(key)
			childPid := t.childPageID(inner.Child(idx))
			nextExclusive := inner.Level() == 1

			childFrame, err := t.buf.Fix(childPid, nextExclusive)
			if err != nil {
				return err
			}
			if parentFrame != nil {
				t.buf.Unfix(parentFrame, false, parentExclusive)
			}
			parentFrame, parentExclusive = currentFrame, currentExclusive
			currentFrame, currentExclusive = childFrame, nextExclusive
		}

		leaf := t.leafView(currentFrame.Data())
		erased := leaf.Erase(key)

		if parentFrame != nil {
			t.buf.Unfix(parentFrame, false, parentExclusive)
		}
		t.buf.Unfix(currentFrame, erased, currentExclusive)
		return nil
	}
}
