// Package btree implements a disk-resident, latch-coupled B+tree over
// fixed-length keys and values: optimistic-then-exclusive inserts with
// full-path restart after a split, and a two-slot (parent, current)
// latch window during lookup and erase.
package btree

import "encoding/binary"

// Codec is the fixed-length encode/decode/compare contract a Tree needs
// for its key and value types. Size must be constant for a given Codec —
// the tree computes node capacities from it once, at construction.
type Codec[T any] interface {
	Size() int
	Encode(buf []byte, v T)
	Decode(buf []byte) T
	Compare(a, b T) int
}

// Uint64Codec is the Codec for plain uint64 keys or values, little-endian
// encoded, the shape the end-to-end test scenarios use.
type Uint64Codec struct{}

func (Uint64Codec) Size() int { return 8 }

func (Uint64Codec) Encode(buf []byte, v uint64) { binary.LittleEndian.PutUint64(buf, v) }

func (Uint64Codec) Decode(buf []byte) uint64 { return binary.LittleEndian.Uint64(buf) }

func (Uint64Codec) Compare(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// lowerBoundBranchless finds the index of the first of n ordered elements
// that is not less than the probe, using the branch-light binary search
// the tree's node layout is built around. less(i) must report whether
// element i is strictly less than the probe value.
func lowerBoundBranchless(n int, less func(i int) bool) int {
	if n == 0 {
		return 0
	}
	i := 0
	for l := n; ; {
		half := l / 2
		if half == 0 {
			break
		}
		mid := i + half
		if less(mid) {
			i = mid
		}
		l -= half
	}
	if less(i) {
		i++
	}
	return i
}
