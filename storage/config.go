// Package storage holds the constants, identifiers, and error taxonomy
// shared by every layer of the storage engine: buffer manager, slotted
// page, FSI segment, SP segment, and B+tree.
package storage

// PageSize is the compile-time page size shared by every page in the
// engine (heap pages, FSI pages, and B+tree nodes alike). It must match
// between runs that share a data directory — nothing on disk records it.
const PageSize = 4096
