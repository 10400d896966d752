package sab

import (
	"sync"
	"sync/atomic"
	"testing"
)

type fakeEpochReader struct {
	values map[uint8]int32
}

func (f *fakeEpochReader) Read(idx uint8) int32 { return f.values[idx] }

func newTestGuardTable(t *testing.T) *RegionGuardTable {
	t.Helper()
	mem := NewInMemoryProvider(uint32(SizeTier32))
	validator := NewSABValidator(uint32(SizeTier32))
	return NewRegionGuardTable(mem, OffsetRegionGuards, &fakeEpochReader{values: map[uint8]int32{}}, validator)
}

func TestAcquireWriteSingleWriterExclusion(t *testing.T) {
	table := newTestGuardTable(t)

	g1, err := table.AcquireWrite(RegionEconomics, RoleKernel)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if _, err := table.AcquireWrite(RegionEconomics, RoleKernel); err == nil {
		t.Fatal("expected second acquire of a single-writer region to fail while locked")
	}
	if err := g1.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	g2, err := table.AcquireWrite(RegionEconomics, RoleKernel)
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	_ = g2.Release()
}

func TestAcquireWriteRejectsUnauthorizedRole(t *testing.T) {
	table := newTestGuardTable(t)
	if _, err := table.AcquireWrite(RegionEconomics, RoleHost); err == nil {
		t.Fatal("expected RoleHost to be rejected for a kernel-only region")
	}
	if table.Violations(RegionEconomics) == 0 {
		t.Fatal("expected a violation to be recorded")
	}
}

func TestAcquireWriteRejectsUndeclaredRegion(t *testing.T) {
	table := newTestGuardTable(t)
	// A RegionID with no case in PolicyFor falls back to the zero-value
	// policy (read-only, no writer mask), so it is rejected outright.
	if _, err := table.AcquireWrite(RegionPatternExchange+100, RoleKernel); err == nil {
		t.Fatal("expected an undeclared region to be rejected")
	}
}

// TestAcquireWriteConcurrentContention drives many goroutines at the same
// single-writer region's CAS lock and checks that exactly one holds it at
// a time — the invariant the lock_owner CAS loop in AcquireWrite/Release
// exists to guarantee.
func TestAcquireWriteConcurrentContention(t *testing.T) {
	table := newTestGuardTable(t)

	const attempts = 200
	var holders atomic.Int32
	var maxHolders atomic.Int32
	var successes atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := table.AcquireWrite(RegionEconomics, RoleKernel)
			if err != nil {
				return // lost the race, expected under contention
			}
			successes.Add(1)
			n := holders.Add(1)
			for {
				prev := maxHolders.Load()
				if n <= prev || maxHolders.CompareAndSwap(prev, n) {
					break
				}
			}
			holders.Add(-1)
			if err := g.Release(); err != nil {
				t.Errorf("release failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxHolders.Load() > 1 {
		t.Fatalf("expected at most one concurrent holder, observed %d", maxHolders.Load())
	}
	if successes.Load() == 0 {
		t.Fatal("expected at least one goroutine to acquire the lock")
	}
}

func TestValidateReadEnforcesReaderMask(t *testing.T) {
	table := newTestGuardTable(t)
	if err := table.ValidateRead(RegionEconomics, RoleModule); err != nil {
		t.Fatalf("expected module to be a valid reader of Economics: %v", err)
	}
	if err := table.ValidateRead(RegionOutboxKernel, RoleHost); err == nil {
		t.Fatal("expected RoleHost to be rejected reading OutboxKernel")
	}
}

func TestEnsureEpochAdvancedDetectsStall(t *testing.T) {
	mem := NewInMemoryProvider(uint32(SizeTier32))
	epochs := &fakeEpochReader{values: map[uint8]int32{flagInboxDirty: 5}}
	table := NewRegionGuardTable(mem, OffsetRegionGuards, epochs, NewSABValidator(uint32(SizeTier32)))

	g, err := table.AcquireWrite(RegionInbox, RoleKernel)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := g.EnsureEpochAdvanced(); err == nil {
		t.Fatal("expected EnsureEpochAdvanced to fail when the epoch never moved")
	}

	epochs.values[flagInboxDirty] = 6
	if err := g.EnsureEpochAdvanced(); err != nil {
		t.Fatalf("expected EnsureEpochAdvanced to pass once epoch advanced: %v", err)
	}
	_ = g.Release()
}

func TestLayoutViolationsTrackValidatorState(t *testing.T) {
	table := newTestGuardTable(t)
	if _, err := table.AcquireWrite(RegionEconomics, RoleHost); err == nil {
		t.Fatal("expected unauthorized acquire to fail")
	}
	// The role-mask rejection above never reaches the validator; drive an
	// actual bounds violation directly to populate LayoutViolations.
	_ = table.validator.ValidateWrite(uint32(SizeTier32)+1, 8, "")
	if len(table.LayoutViolations()) == 0 {
		t.Fatal("expected a recorded layout violation")
	}
	table.ClearLayoutViolations()
	if len(table.LayoutViolations()) != 0 {
		t.Fatal("expected violations to be cleared")
	}
}
