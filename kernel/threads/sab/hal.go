package sab

import "errors"

// MemoryProvider abstracts access to the shared region. Implementations may
// be backed by an mmap'd file (multi-process sharing, see hal_native.go) or
// an in-memory buffer (single-process hosts, tests). Every operation takes
// (offset, length) — never a native pointer (spec §9 "shared pointers
// across heterogeneous heaps").
type MemoryProvider interface {
	Size() uint32
	ReadAt(offset uint32, dest []byte) error
	WriteAt(offset uint32, src []byte) error
	AtomicLoad32(offset uint32) (uint32, error)
	AtomicStore32(offset uint32, val uint32) error
	AtomicAdd32(offset uint32, delta uint32) (uint32, error)
	AtomicCAS32(offset uint32, old, new uint32) (bool, error)
	// Bytes returns a direct, bounds-checked view into [offset, offset+size)
	// for callers that need slice-level access (the ring transport's
	// variable-length payload copies). Mutations through the returned
	// slice are visible to all holders of the same provider.
	Bytes(offset, size uint32) ([]byte, error)
	Close() error
}

var ErrOutOfBounds = errors.New("offset out of bounds")
var ErrMisaligned = errors.New("offset is not 4-byte aligned")
