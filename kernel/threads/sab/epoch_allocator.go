package sab

import (
	"errors"
	"hash/crc32"
	"sync"
)

// EpochAllocator hands out Atomic Flags indices from the reserved
// per-supervisor pool (spec §3.2) to supervisors identified by a string ID,
// so each can hold a private epoch counter alongside the named system
// flags. Grounded on the teacher's epoch_allocator.go bitmap/hash-table
// design, adapted to allocate purely in-process (the bitmap itself is not
// part of the shared-memory contract — only the flag *values* it points at
// are shared, and those are managed through foundation.EpochFlags).
type EpochAllocator struct {
	mu          sync.Mutex
	usedBitmap  [4]uint8 // 32 bits covers indices 0..31 (SizeAtomicFlags/4)
	nextHint    uint32
	allocations map[uint32]uint32 // supervisorID hash -> flag index
}

// NewEpochAllocator creates an allocator with the named flags (indices
// 0..SupervisorPoolBase-1) pre-marked used.
func NewEpochAllocator() *EpochAllocator {
	ea := &EpochAllocator{
		nextHint:    SupervisorPoolBase,
		allocations: make(map[uint32]uint32),
	}
	for i := uint32(0); i < SupervisorPoolBase; i++ {
		ea.markUsed(i)
	}
	return ea
}

var ErrEpochPoolExhausted = errors.New("epoch allocator: pool exhausted")

// AllocateEpoch returns the flag index reserved for supervisorID,
// allocating a fresh one from the pool on first call (idempotent per spec
// §8 "register(did); register(did) returns the same offset" applied to
// supervisor epoch allocation).
func (ea *EpochAllocator) AllocateEpoch(supervisorID string) (uint32, error) {
	ea.mu.Lock()
	defer ea.mu.Unlock()

	hash := crc32.ChecksumIEEE([]byte(supervisorID))
	if idx, ok := ea.allocations[hash]; ok {
		return idx, nil
	}

	idx, err := ea.findFree()
	if err != nil {
		return 0, err
	}
	ea.markUsed(idx)
	ea.allocations[hash] = idx
	ea.nextHint = idx + 1
	return idx, nil
}

// FreeEpoch releases supervisorID's allocated flag index, if any.
func (ea *EpochAllocator) FreeEpoch(supervisorID string) error {
	ea.mu.Lock()
	defer ea.mu.Unlock()

	hash := crc32.ChecksumIEEE([]byte(supervisorID))
	idx, ok := ea.allocations[hash]
	if !ok {
		return errors.New("epoch allocator: supervisor not allocated")
	}
	ea.markFree(idx)
	delete(ea.allocations, hash)
	if idx < ea.nextHint {
		ea.nextHint = idx
	}
	return nil
}

// GetEpochIndex returns the flag index already allocated to supervisorID.
func (ea *EpochAllocator) GetEpochIndex(supervisorID string) (uint32, error) {
	ea.mu.Lock()
	defer ea.mu.Unlock()
	hash := crc32.ChecksumIEEE([]byte(supervisorID))
	idx, ok := ea.allocations[hash]
	if !ok {
		return 0, errors.New("epoch allocator: supervisor not allocated")
	}
	return idx, nil
}

// AllocatedCount returns the number of indices currently allocated from the
// pool (excludes the named flags).
func (ea *EpochAllocator) AllocatedCount() uint32 {
	ea.mu.Lock()
	defer ea.mu.Unlock()
	return uint32(len(ea.allocations))
}

// AvailableCount returns the remaining pool capacity.
func (ea *EpochAllocator) AvailableCount() uint32 {
	ea.mu.Lock()
	defer ea.mu.Unlock()
	return SupervisorPoolSize - uint32(len(ea.allocations))
}

func (ea *EpochAllocator) findFree() (uint32, error) {
	end := uint32(SupervisorPoolBase + SupervisorPoolSize)
	for i := ea.nextHint; i < end; i++ {
		if !ea.isUsed(i) {
			return i, nil
		}
	}
	for i := uint32(SupervisorPoolBase); i < ea.nextHint; i++ {
		if !ea.isUsed(i) {
			return i, nil
		}
	}
	return 0, ErrEpochPoolExhausted
}

func (ea *EpochAllocator) markUsed(index uint32) {
	ea.usedBitmap[index/8] |= 1 << (index % 8)
}

func (ea *EpochAllocator) markFree(index uint32) {
	ea.usedBitmap[index/8] &^= 1 << (index % 8)
}

func (ea *EpochAllocator) isUsed(index uint32) bool {
	return ea.usedBitmap[index/8]&(1<<(index%8)) != 0
}
