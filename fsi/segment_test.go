package fsi

import (
	"testing"

	"coredb/buffer"
	"coredb/diskio"
	"coredb/storage"
)

func newTestSegment(t *testing.T, allocatedPages *uint64) (*Segment, *buffer.Manager) {
	t.Helper()
	store := diskio.NewStore(diskio.InMemory())
	mgr := buffer.NewManager(store, 64)
	seg, err := NewSegment(1, mgr, allocatedPages)
	if err != nil {
		t.Fatalf("NewSegment: %v", err)
	}
	return seg, mgr
}

func TestUpdateThenFindReturnsThatClassOrBetter(t *testing.T) {
	allocated := uint64(10)
	seg, _ := newTestSegment(t, &allocated)

	if err := seg.Update(3, storage.PageSize-10); err != nil {
		t.Fatalf("Update: %v", err)
	}

	pid, ok := seg.Find(storage.PageSize - 10)
	if !ok {
		t.Fatal("Find: expected a candidate page, got none")
	}
	if pid != 3 {
		t.Errorf("Find = %d, want 3", pid)
	}
}

func TestFindReturnsNoneWhenCacheEmpty(t *testing.T) {
	allocated := uint64(0)
	seg, _ := newTestSegment(t, &allocated)

	if _, ok := seg.Find(100); ok {
		t.Error("Find on an empty cache should return ok=false")
	}
}

// TestCacheRepopulatesAfterVacating mirrors the end-to-end FSI scenario:
// several pages share a free-space class; making the cache's
// representative page vacate that class (by updating it to a different
// class) must make Find for the old class resolve to the next known page
// of that class, or none if there isn't one.
func TestCacheRepopulatesAfterVacating(t *testing.T) {
	allocated := uint64(40)
	seg, _ := newTestSegment(t, &allocated)

	targetClass := Class(5)
	required := Decode(targetClass)

	for _, p := range []uint64{2, 6, 19} {
		if err := seg.Update(p, required); err != nil {
			t.Fatalf("Update(%d): %v", p, err)
		}
	}

	pid, ok := seg.Find(required)
	if !ok || pid != 2 {
		t.Fatalf("Find before vacate = (%d, %v), want (2, true)", pid, ok)
	}

	// page 2 moves to a totally different (higher) class, vacating its
	// former representative slot for class targetClass
	if err := seg.Update(2, storage.PageSize-1); err != nil {
		t.Fatalf("Update(2, vacate): %v", err)
	}

	pid, ok = seg.Find(required)
	if !ok {
		t.Fatal("Find after vacate: expected page 6 to still be a candidate")
	}
	if pid != 6 {
		t.Errorf("Find after vacate = %d, want 6", pid)
	}
}

func TestBootstrapScansExistingPages(t *testing.T) {
	store := diskio.NewStore(diskio.InMemory())
	mgr := buffer.NewManager(store, 64)
	allocated := uint64(5)

	seg, err := NewSegment(1, mgr, &allocated)
	if err != nil {
		t.Fatalf("NewSegment: %v", err)
	}
	if err := seg.Update(1, storage.PageSize/4); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := mgr.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}

	mgr2 := buffer.NewManager(store, 64)
	seg2, err := NewSegment(1, mgr2, &allocated)
	if err != nil {
		t.Fatalf("NewSegment (rebootstrap): %v", err)
	}

	pid, ok := seg2.Find(storage.PageSize / 4)
	if !ok || pid != 1 {
		t.Errorf("bootstrapped Find = (%d, %v), want (1, true)", pid, ok)
	}
}
