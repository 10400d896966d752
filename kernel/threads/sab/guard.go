package sab

import (
	"errors"
	"fmt"
	"sync"
)

// RoleTag identifies which layer performs a region access (spec glossary
// "owner tag"). A bitmask so a policy's reader/writer masks can permit more
// than one role.
type RoleTag uint32

const (
	RoleHost RoleTag = 1 << iota
	RoleKernel
	RoleModule
)

// AccessClass is one of the three access classes a region's policy assigns
// (spec §3.4).
type AccessClass int

const (
	AccessReadOnly AccessClass = iota
	AccessSingleWriter
	AccessMultiWriter
)

// GuardPolicy declares a region's access class and permitted roles, plus
// (optionally) the epoch flag index that must advance on every successful
// write (spec §3.4/§4.3). EpochFlag is a raw flag-index value rather than
// foundation.FlagIndex to keep this package decoupled from foundation.
type GuardPolicy struct {
	Region     RegionID
	Access     AccessClass
	ReaderMask RoleTag
	WriterMask RoleTag
	EpochFlag  *uint8
}

func flagIdx(v uint8) *uint8 { return &v }

// Flag index values mirror foundation.FlagIndex's named constants; kept as
// bare uint8 here to avoid a sab->foundation import (sab is the lower
// layer per ring.go's EpochFlagsSignaller convention).
const (
	flagInboxDirty        = 2
	flagOutboxHostDirty   = 3
	flagOutboxKernelDirty = 4
	flagArenaAllocator    = 8
)

// PolicyFor returns the canonical policy for region, per the shared-resource
// table of spec §5 and the region catalogue of §3.1/§3.4.
func PolicyFor(region RegionID) GuardPolicy {
	switch region {
	case RegionAtomicFlags:
		// "the only region allowed unordered concurrent access" (spec §3.1c)
		return GuardPolicy{Region: region, Access: AccessMultiWriter, WriterMask: RoleHost | RoleKernel | RoleModule, ReaderMask: RoleHost | RoleKernel | RoleModule}
	case RegionModuleRegistry:
		return GuardPolicy{Region: region, Access: AccessSingleWriter, WriterMask: RoleKernel, ReaderMask: RoleHost | RoleKernel | RoleModule}
	case RegionSupervisorHeaders:
		return GuardPolicy{Region: region, Access: AccessSingleWriter, WriterMask: RoleKernel, ReaderMask: RoleHost | RoleKernel | RoleModule}
	case RegionGuards:
		// "enforced internally": only the guard table machinery writes here.
		return GuardPolicy{Region: region, Access: AccessMultiWriter, WriterMask: RoleKernel, ReaderMask: RoleHost | RoleKernel | RoleModule}
	case RegionEconomics:
		return GuardPolicy{Region: region, Access: AccessSingleWriter, WriterMask: RoleKernel, ReaderMask: RoleHost | RoleKernel | RoleModule}
	case RegionPatternExchange:
		return GuardPolicy{Region: region, Access: AccessMultiWriter, WriterMask: RoleModule, ReaderMask: RoleKernel | RoleModule}
	case RegionInbox:
		return GuardPolicy{Region: region, Access: AccessSingleWriter, WriterMask: RoleHost | RoleKernel, ReaderMask: RoleKernel | RoleModule, EpochFlag: flagIdx(flagInboxDirty)}
	case RegionOutboxHost:
		return GuardPolicy{Region: region, Access: AccessMultiWriter, WriterMask: RoleKernel | RoleModule, ReaderMask: RoleHost, EpochFlag: flagIdx(flagOutboxHostDirty)}
	case RegionOutboxKernel:
		return GuardPolicy{Region: region, Access: AccessMultiWriter, WriterMask: RoleModule, ReaderMask: RoleKernel, EpochFlag: flagIdx(flagOutboxKernelDirty)}
	case RegionArena:
		return GuardPolicy{Region: region, Access: AccessMultiWriter, WriterMask: RoleKernel | RoleModule, ReaderMask: RoleHost | RoleKernel | RoleModule, EpochFlag: flagIdx(flagArenaAllocator)}
	default:
		return GuardPolicy{Region: region, Access: AccessReadOnly}
	}
}

// Guard entry layout within the Region Guards table: 4 x u32
// (lock_owner, last_epoch, violation_count, last_owner_tag), spec §3.4.
const (
	guardFieldLockOwner  = 0
	guardFieldLastEpoch  = 1
	guardFieldViolations = 2
	guardFieldLastOwner  = 3
)

var (
	ErrPolicyViolation  = errors.New("region guard: policy violation")
	ErrEpochNotAdvanced = errors.New("region guard: epoch not advanced")
)

// EpochReader is the minimal surface RegionGuardTable needs to check a
// region's associated epoch counter, kept as an interface so this package
// never imports foundation directly.
type EpochReader interface {
	Read(idx uint8) int32
}

// RegionGuardTable is the runtime Region Guard component (spec §4.3): one
// 16-byte entry per RegionID, enforcing read-only/single-writer/
// multi-writer policy with CAS-based locking and violation counters.
// Grounded on the teacher's supervisor/region_guard.go (CAS lock/release,
// EnsureEpochAdvanced, violation counters) and sab/guard.go (RegionPolicy,
// AccessMode, reader/writer masks), merged into one component operating
// over a MemoryProvider instead of a concrete SABBridge.
type RegionGuardTable struct {
	mem       MemoryProvider
	base      uint32
	epochs    EpochReader
	validator *SABValidator
	mu        sync.Mutex // serializes AcquireWrite's check-then-CAS sequence per table
}

// NewRegionGuardTable constructs a guard table backed by mem's Region
// Guards region starting at base, with epochs used to validate associated
// epoch advancement (may be nil if no caller ever acquires a region with an
// EpochFlag policy) and validator used to bounds/overlap-check the target
// region on every acquisition (may be nil to skip that check).
func NewRegionGuardTable(mem MemoryProvider, base uint32, epochs EpochReader, validator *SABValidator) *RegionGuardTable {
	return &RegionGuardTable{mem: mem, base: base, epochs: epochs, validator: validator}
}

// regionBounds looks up region's bit-exact offset/size from the layout
// catalogue sized to mem's own capacity, so the guard table never needs to
// be told the tier separately.
func (t *RegionGuardTable) regionBounds(region RegionID) (MemoryRegion, bool) {
	for _, r := range GetAllRegions(SizeTier(t.mem.Size())) {
		if r.ID == region {
			return r, true
		}
	}
	return MemoryRegion{}, false
}

func (t *RegionGuardTable) fieldOffset(region RegionID, field uint32) uint32 {
	return t.base + uint32(region)*RegionGuardEntrySize + field*4
}

func (t *RegionGuardTable) load(region RegionID, field uint32) uint32 {
	v, _ := t.mem.AtomicLoad32(t.fieldOffset(region, field))
	return v
}

func (t *RegionGuardTable) store(region RegionID, field uint32, v uint32) {
	_ = t.mem.AtomicStore32(t.fieldOffset(region, field), v)
}

func (t *RegionGuardTable) cas(region RegionID, field uint32, old, new uint32) bool {
	ok, _ := t.mem.AtomicCAS32(t.fieldOffset(region, field), old, new)
	return ok
}

func (t *RegionGuardTable) incrementViolations(region RegionID) {
	_, _ = t.mem.AtomicAdd32(t.fieldOffset(region, guardFieldViolations), 1)
}

// Violations returns the current violation_count for region.
func (t *RegionGuardTable) Violations(region RegionID) uint32 {
	return t.load(region, guardFieldViolations)
}

// Guard is the RAII-like handle returned by AcquireWrite. Any code path
// that exits without calling Release leaves a single-writer region locked
// forever — callers must defer Release (spec §4.6 "scoped acquisition").
type Guard struct {
	table      *RegionGuardTable
	region     RegionID
	owner      RoleTag
	policy     GuardPolicy
	locked     bool
	startEpoch int32
	haveStart  bool
	released   bool
}

// AcquireWrite enforces region's policy and, for single-writer regions,
// CAS-locks it to owner (spec §4.3).
func (t *RegionGuardTable) AcquireWrite(region RegionID, owner RoleTag) (*Guard, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	policy := PolicyFor(region)

	if policy.WriterMask&owner == 0 {
		t.incrementViolations(region)
		return nil, fmt.Errorf("%w: role %d may not write region %s", ErrPolicyViolation, owner, region)
	}

	if t.validator != nil {
		if r, ok := t.regionBounds(region); ok {
			if err := t.validator.ValidateWrite(r.Offset, r.Size, r.Name); err != nil {
				t.incrementViolations(region)
				return nil, fmt.Errorf("%w: %v", ErrPolicyViolation, err)
			}
		}
	}

	g := &Guard{table: t, region: region, owner: owner, policy: policy}

	switch policy.Access {
	case AccessReadOnly:
		t.incrementViolations(region)
		return nil, fmt.Errorf("%w: region %s is read-only", ErrPolicyViolation, region)
	case AccessSingleWriter:
		if !t.cas(region, guardFieldLockOwner, 0, uint32(owner)) {
			t.incrementViolations(region)
			return nil, fmt.Errorf("%w: region %s already locked", ErrPolicyViolation, region)
		}
		g.locked = true
	case AccessMultiWriter:
		t.store(region, guardFieldLastOwner, uint32(owner))
	}

	if policy.EpochFlag != nil && t.epochs != nil {
		g.startEpoch = t.epochs.Read(*policy.EpochFlag)
		g.haveStart = true
	}

	return g, nil
}

// ValidateRead checks reader_mask; violations are counted but reads are
// never blocked (spec §4.3 "observability, not enforcement").
func (t *RegionGuardTable) ValidateRead(region RegionID, owner RoleTag) error {
	policy := PolicyFor(region)
	if policy.ReaderMask&owner == 0 {
		t.incrementViolations(region)
		return fmt.Errorf("%w: role %d may not read region %s", ErrPolicyViolation, owner, region)
	}
	if t.validator != nil {
		if r, ok := t.regionBounds(region); ok {
			if err := t.validator.ValidateRead(r.Offset, r.Size, r.Name); err != nil {
				t.incrementViolations(region)
				return fmt.Errorf("%w: %v", ErrPolicyViolation, err)
			}
		}
	}
	return nil
}

// LayoutViolations exposes the validator's recorded bounds/overlap
// violations (distinct from the per-region atomic counters in the Region
// Guards table itself), or nil if this table has no validator attached.
func (t *RegionGuardTable) LayoutViolations() []ValidationViolation {
	if t.validator == nil {
		return nil
	}
	return t.validator.GetViolations()
}

// ClearLayoutViolations resets the validator's recorded violations.
func (t *RegionGuardTable) ClearLayoutViolations() {
	if t.validator != nil {
		t.validator.ClearViolations()
	}
}

// EnsureEpochAdvanced verifies the region's associated epoch moved forward
// since AcquireWrite. Must be called before Release when the region
// declares an EpochFlag (spec §4.3 "the contract by which readers know a
// write has completed").
func (g *Guard) EnsureEpochAdvanced() error {
	if g.policy.EpochFlag == nil || !g.haveStart || g.table.epochs == nil {
		return nil
	}
	current := g.table.epochs.Read(*g.policy.EpochFlag)
	if current <= g.startEpoch {
		g.table.incrementViolations(g.region)
		return fmt.Errorf("%w: region %s", ErrEpochNotAdvanced, g.region)
	}
	g.table.store(g.region, guardFieldLastEpoch, uint32(current))
	return nil
}

// Release releases the write lock if one was held. Safe to call more than
// once or on a multi-writer/read-only guard (no-op).
func (g *Guard) Release() error {
	if g.released {
		return nil
	}
	g.released = true
	if !g.locked {
		return nil
	}
	if !g.table.cas(g.region, guardFieldLockOwner, uint32(g.owner), 0) {
		g.table.incrementViolations(g.region)
		return fmt.Errorf("%w: release of region %s failed (owner mismatch)", ErrPolicyViolation, g.region)
	}
	g.locked = false
	return nil
}
