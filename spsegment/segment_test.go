package spsegment

import (
	"bytes"
	"testing"

	"coredb/buffer"
	"coredb/diskio"
	"coredb/storage"
)

func newTestSegment(t *testing.T) *Segment {
	t.Helper()
	store := diskio.NewStore(diskio.InMemory())
	mgr := buffer.NewManager(store, 64)
	seg, err := NewSegment(1, 2, mgr)
	if err != nil {
		t.Fatalf("NewSegment: %v", err)
	}
	return seg
}

func TestAllocateWriteReadRoundTrip(t *testing.T) {
	seg := newTestSegment(t)

	tid, err := seg.Allocate(64, false)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	want := bytes.Repeat([]byte{0x42}, 64)
	if _, err := seg.Write(tid, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := make([]byte, 64)
	n, err := seg.Read(tid, got)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 64 || !bytes.Equal(got, want) {
		t.Fatalf("Read = %v (n=%d), want %v", got, n, want)
	}
}

// TestResizeGrowBeyondPageCreatesRedirect exercises scenario S4: growing
// a record past what its page can hold turns the original slot into a
// redirect, and the read that follows it still sees the original bytes
// in their original position.
func TestResizeGrowBeyondPageCreatesRedirect(t *testing.T) {
	seg := newTestSegment(t)

	quarter := storage.PageSize / 4
	threeQuarters := storage.PageSize * 3 / 4

	tid, err := seg.Allocate(uint32(quarter), false)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	pattern := bytes.Repeat([]byte{0x7A}, quarter)
	if _, err := seg.Write(tid, pattern); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := seg.Resize(tid, uint32(threeQuarters)); err != nil {
		t.Fatalf("Resize: %v", err)
	}

	got := make([]byte, quarter)
	n, err := seg.Read(tid, got)
	if err != nil {
		t.Fatalf("Read after resize: %v", err)
	}
	if n != quarter || !bytes.Equal(got, pattern) {
		t.Fatalf("Read after resize = %v (n=%d), want original pattern", got, n)
	}
}

// TestReadWriteNeverFollowTwoRedirectHops checks invariant #5 by growing a
// record twice, the second time to more than its page has free, and
// confirming the record is still reachable in a single hop.
func TestReadWriteNeverFollowTwoRedirectHops(t *testing.T) {
	seg := newTestSegment(t)

	tid, err := seg.Allocate(32, false)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := seg.Write(tid, bytes.Repeat([]byte{1}, 32)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := seg.Resize(tid, uint32(storage.PageSize)*3/4); err != nil {
		t.Fatalf("Resize (first grow): %v", err)
	}
	if err := seg.Resize(tid, uint32(storage.PageSize)*7/8); err != nil {
		t.Fatalf("Resize (second grow): %v", err)
	}

	h, err := seg.getSlot(tid, false)
	if err != nil {
		t.Fatalf("getSlot: %v", err)
	}
	if !h.slot.IsRedirect {
		t.Fatal("expected original slot to be a redirect after growing twice")
	}
	rTid := storage.NewTID(h.slot.TargetPageIndex, h.slot.TargetSlotID)
	seg.buf.Unfix(h.frame, false, false)

	rh, err := seg.getSlot(rTid, false)
	if err != nil {
		t.Fatalf("getSlot (target): %v", err)
	}
	if rh.slot.IsRedirect {
		t.Fatal("redirect target must not itself be a redirect — that would be two hops")
	}
	seg.buf.Unfix(rh.frame, false, false)
}

func TestEraseReclaimsRedirectTarget(t *testing.T) {
	seg := newTestSegment(t)

	tid, err := seg.Allocate(uint32(storage.PageSize/4), false)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := seg.Resize(tid, uint32(storage.PageSize)*3/4); err != nil {
		t.Fatalf("Resize: %v", err)
	}

	if err := seg.Erase(tid); err != nil {
		t.Fatalf("Erase: %v", err)
	}

	n, err := seg.Read(tid, make([]byte, 8))
	if err != nil {
		t.Fatalf("Read after erase: %v", err)
	}
	if n != 0 {
		t.Errorf("Read after erase = %d bytes, want 0 (erased slot should read empty)", n)
	}
}
