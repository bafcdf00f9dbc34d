package btree

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"coredb/buffer"
	"coredb/diskio"

	mapset "github.com/deckarep/golang-set/v2"
)

func newTestTree(t *testing.T) *Tree[uint64, uint64] {
	t.Helper()
	store := diskio.NewStore(diskio.InMemory())
	mgr := buffer.NewManager(store, 256)
	tree, err := New[uint64, uint64](1, mgr, Uint64Codec{}, Uint64Codec{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tree
}

// TestLeafFillNoSplit exercises scenario S1: inserting fewer keys than a
// single leaf can hold never grows the tree past height 1.
func TestLeafFillNoSplit(t *testing.T) {
	tree := newTestTree(t)

	n := tree.leafCap - 1
	for i := 0; i < n; i++ {
		if err := tree.Insert(uint64(i), uint64(i)*10); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	if _, height := tree.snapshotRoot(); height != 1 {
		t.Fatalf("height = %d, want 1 after inserting fewer than a leaf's capacity", height)
	}

	for i := 0; i < n; i++ {
		v, ok, err := tree.Lookup(uint64(i))
		if err != nil {
			t.Fatalf("Lookup(%d): %v", i, err)
		}
		if !ok || v != uint64(i)*10 {
			t.Fatalf("Lookup(%d) = (%d, %v), want (%d, true)", i, v, ok, uint64(i)*10)
		}
	}
}

// TestFirstSplitGrowsHeight exercises scenario S2: overflowing a single
// leaf's capacity forces the first split and grows the tree to height 2,
// and every previously inserted key is still reachable afterward.
func TestFirstSplitGrowsHeight(t *testing.T) {
	tree := newTestTree(t)

	n := tree.leafCap*2 + 5
	for i := 0; i < n; i++ {
		if err := tree.Insert(uint64(i), uint64(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	if _, height := tree.snapshotRoot(); height < 2 {
		t.Fatalf("height = %d, want >= 2 after overflowing a leaf", height)
	}

	for i := 0; i < n; i++ {
		v, ok, err := tree.Lookup(uint64(i))
		if err != nil {
			t.Fatalf("Lookup(%d): %v", i, err)
		}
		if !ok || v != uint64(i) {
			t.Fatalf("Lookup(%d) = (%d, %v), want (%d, true)", i, v, ok, i)
		}
	}
}

// TestEraseAll exercises scenario S3: inserting a batch of keys and then
// erasing every one of them leaves none of them reachable, without ever
// shrinking the tree's height back down.
func TestEraseAll(t *testing.T) {
	tree := newTestTree(t)

	n := tree.leafCap * 3
	for i := 0; i < n; i++ {
		if err := tree.Insert(uint64(i), uint64(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	_, heightAfterInsert := tree.snapshotRoot()

	for i := 0; i < n; i++ {
		if err := tree.Erase(uint64(i)); err != nil {
			t.Fatalf("Erase(%d): %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		_, ok, err := tree.Lookup(uint64(i))
		if err != nil {
			t.Fatalf("Lookup(%d): %v", i, err)
		}
		if ok {
			t.Fatalf("Lookup(%d) found a value after erasing all keys", i)
		}
	}

	_, heightAfterErase := tree.snapshotRoot()
	if heightAfterErase < heightAfterInsert {
		t.Fatalf("height shrank from %d to %d; erase must never merge nodes", heightAfterInsert, heightAfterErase)
	}
}

// TestKeysStayOrdered checks invariant #6 indirectly: it inserts a random
// permutation of keys and then looks up every key. The tree has no sibling
// pointers to scan, and node search is a binary search, so every Lookup
// agreeing with what was inserted relies on each node keeping its keys in
// order.
func TestKeysStayOrdered(t *testing.T) {
	tree := newTestTree(t)

	r := rand.New(rand.NewSource(7))
	n := tree.leafCap * 4
	keys := r.Perm(n)
	for _, k := range keys {
		if err := tree.Insert(uint64(k), uint64(k)*2); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	for i := 0; i < n; i++ {
		v, ok, err := tree.Lookup(uint64(i))
		if err != nil {
			t.Fatalf("Lookup(%d): %v", i, err)
		}
		if !ok || v != uint64(i)*2 {
			t.Fatalf("Lookup(%d) = (%d, %v), want (%d, true)", i, v, ok, i*2)
		}
	}
}

// TestInsertIsIdempotentOnKey checks invariant #7: re-inserting an
// existing key overwrites its value rather than creating a duplicate
// entry.
func TestInsertIsIdempotentOnKey(t *testing.T) {
	tree := newTestTree(t)

	if err := tree.Insert(5, 100); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tree.Insert(5, 200); err != nil {
		t.Fatalf("Insert (overwrite): %v", err)
	}

	v, ok, err := tree.Lookup(5)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || v != 200 {
		t.Fatalf("Lookup(5) = (%d, %v), want (200, true)", v, ok)
	}
}

// TestConcurrentDisjointRangeInsert exercises scenario S7 and invariant #8:
// many goroutines each own a disjoint range of keys and insert their whole
// range concurrently. Latch coupling must keep every insert visible with
// no lost updates and no corruption, regardless of how splits interleave.
func TestConcurrentDisjointRangeInsert(t *testing.T) {
	tree := newTestTree(t)

	const workers = 8
	const perWorker = 300

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			base := uint64(w * perWorker)
			for i := uint64(0); i < perWorker; i++ {
				if err := tree.Insert(base+i, (base+i)*3); err != nil {
					errs <- fmt.Errorf("worker %d insert %d: %w", w, base+i, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	expected := mapset.NewSet[uint64]()
	for k := uint64(0); k < workers*perWorker; k++ {
		expected.Add(k)
	}

	seen := mapset.NewSet[uint64]()
	for k := uint64(0); k < workers*perWorker; k++ {
		v, ok, err := tree.Lookup(k)
		if err != nil {
			t.Fatalf("Lookup(%d): %v", k, err)
		}
		if !ok {
			t.Fatalf("key %d missing after concurrent insert", k)
		}
		if v != k*3 {
			t.Fatalf("Lookup(%d) = %d, want %d", k, v, k*3)
		}
		seen.Add(k)
	}

	if !seen.Equal(expected) {
		t.Fatalf("seen keys don't match expected set: missing=%v extra=%v",
			expected.Difference(seen), seen.Difference(expected))
	}
}
