package sab

import (
	"encoding/binary"
	"errors"
)

// Ring is a lock-free MPMC length-prefixed ring buffer occupying a region
// whose first RingHeaderSize bytes are the (head_idx, tail_idx) header,
// followed by a payload arena. Grounded on the teacher's
// supervisor/sab_bridge.go writeToSAB/readFromSAB algorithm, generalized
// off one hardcoded outbox into a reusable type usable for the Inbox,
// Outbox-Host, and Outbox-Kernel regions alike.
type Ring struct {
	mem         MemoryProvider
	regionOff   uint32
	regionSize  uint32
	dataCap     uint32 // regionSize - RingHeaderSize
	dataOff     uint32 // regionOff + RingHeaderSize
	headOff     uint32
	tailOff     uint32
	dirtyFlag   *EpochFlagsSignaller
}

// EpochFlagsSignaller is the minimal surface Ring needs from an epoch
// waiter to bump the paired dirty flag on commit — kept as an interface so
// Ring never imports foundation directly (sab is a lower layer).
type EpochFlagsSignaller interface {
	Signal() uint32
}

var (
	ErrFull     = errors.New("ring is full")
	ErrOversize = errors.New("payload exceeds ring capacity")
)

// NewRing constructs a ring over [regionOff, regionOff+regionSize) of mem.
// dirtyFlag, if non-nil, is signalled after every successful Enqueue commit
// (spec §4.2 step 8).
func NewRing(mem MemoryProvider, regionOff, regionSize uint32, dirtyFlag EpochFlagsSignaller) (*Ring, error) {
	if regionSize <= RingHeaderSize {
		return nil, errors.New("ring region too small for header")
	}
	if !IsValidOffset(regionOff, regionSize, SizeTier(mem.Size())) {
		return nil, ErrOutOfBounds
	}
	return &Ring{
		mem:        mem,
		regionOff:  regionOff,
		regionSize: regionSize,
		dataCap:    regionSize - RingHeaderSize,
		dataOff:    regionOff + RingHeaderSize,
		headOff:    regionOff,
		tailOff:    regionOff + 4,
		dirtyFlag:  wrapSignaller(dirtyFlag),
	}, nil
}

func wrapSignaller(s EpochFlagsSignaller) *EpochFlagsSignaller {
	if s == nil {
		return nil
	}
	return &s
}

func (r *Ring) head() uint32 {
	v, _ := r.mem.AtomicLoad32(r.headOff)
	return v
}

func (r *Ring) tail() uint32 {
	v, _ := r.mem.AtomicLoad32(r.tailOff)
	return v
}

// Enqueue writes payload into the ring. Lock-free and safe under multiple
// concurrent producers (spec §4.2).
func (r *Ring) Enqueue(payload []byte) error {
	needed := uint32(4 + len(payload))
	if needed > r.dataCap {
		return ErrOversize
	}

	for {
		head := r.head()
		tail := r.tail()

		var free uint32
		if head > tail {
			free = head - tail - 1
		} else {
			free = r.dataCap - (tail - head) - 1
		}

		if needed > free {
			return ErrFull
		}

		newTail := (tail + needed) % r.dataCap
		ok, err := r.mem.AtomicCAS32(r.tailOff, tail, newTail)
		if err != nil {
			return err
		}
		if !ok {
			continue // another producer advanced tail first, retry from (1)
		}

		// Payload first, length word last (spec §4.2 step 6-7): a racing
		// consumer that observes tail advanced must never see a partial
		// payload.
		if err := r.writeWrapped((tail+4)%r.dataCap, payload); err != nil {
			return err
		}
		if err := r.writeLength(tail, uint32(len(payload))); err != nil {
			return err
		}

		if r.dirtyFlag != nil {
			(*r.dirtyFlag).Signal()
		}
		return nil
	}
}

// Dequeue removes and returns the oldest message, or (nil, false) if the
// ring is empty or a reservation is still in progress (spec §4.2).
func (r *Ring) Dequeue() ([]byte, bool) {
	for {
		head := r.head()
		tail := r.tail()
		if head == tail {
			return nil, false
		}

		length, ok := r.readLength(head)
		if !ok {
			return nil, false
		}
		if length == 0 {
			// Reservation in progress: tail advanced, length not yet
			// committed. Self-healing — caller retries.
			return nil, false
		}

		nextHead := (head + 4 + length) % r.dataCap
		casOK, err := r.mem.AtomicCAS32(r.headOff, head, nextHead)
		if err != nil || !casOK {
			continue // lost the race to another consumer, retry from (1)
		}

		payload := make([]byte, length)
		r.readWrapped((head+4)%r.dataCap, payload)
		return payload, true
	}
}

// writeWrapped writes src into the data arena starting at dataOffset
// (relative to the arena start), wrapping modulo dataCap.
func (r *Ring) writeWrapped(dataOffset uint32, src []byte) error {
	remaining := r.dataCap - dataOffset
	if uint32(len(src)) <= remaining {
		return r.mem.WriteAt(r.dataOff+dataOffset, src)
	}
	if err := r.mem.WriteAt(r.dataOff+dataOffset, src[:remaining]); err != nil {
		return err
	}
	return r.mem.WriteAt(r.dataOff, src[remaining:])
}

func (r *Ring) readWrapped(dataOffset uint32, dst []byte) {
	remaining := r.dataCap - dataOffset
	if uint32(len(dst)) <= remaining {
		_ = r.mem.ReadAt(r.dataOff+dataOffset, dst)
		return
	}
	_ = r.mem.ReadAt(r.dataOff+dataOffset, dst[:remaining])
	_ = r.mem.ReadAt(r.dataOff, dst[remaining:])
}

// writeLength commits the 4-byte little-endian length word at the ring's
// logical tail slot (which may itself wrap).
func (r *Ring) writeLength(slot uint32, length uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], length)
	return r.writeWrapped(slot, buf[:])
}

func (r *Ring) readLength(slot uint32) (uint32, bool) {
	var buf [4]byte
	r.readWrapped(slot, buf[:])
	return binary.LittleEndian.Uint32(buf[:]), true
}

// Capacity returns the payload arena capacity (region_size - 8).
func (r *Ring) Capacity() uint32 { return r.dataCap }
