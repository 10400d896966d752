package sab

import "testing"

// TestLayout_AllTiersValid covers Testable Property 1: no region overlaps,
// every region fits inside the buffer, for every conforming size tier.
func TestLayout_AllTiersValid(t *testing.T) {
	for _, tier := range []SizeTier{SizeTier32, SizeTier64, SizeTier128, SizeTier256} {
		if err := ValidateMemoryLayout(tier); err != nil {
			t.Errorf("tier %d: %v", tier, err)
		}
	}
}

func TestLayout_InvalidTierRejected(t *testing.T) {
	if err := ValidateMemoryLayout(SizeTier(17 * 1024 * 1024)); err == nil {
		t.Error("expected error for non-conforming tier")
	}
}

// TestLayout_BitExactOffsets pins the external-contract offsets from
// spec §6, independent of tier.
func TestLayout_BitExactOffsets(t *testing.T) {
	cases := []struct {
		name   string
		offset uint32
		size   uint32
	}{
		{"AtomicFlags", OffsetAtomicFlags, SizeAtomicFlags},
		{"ModuleRegistry", OffsetModuleRegistry, SizeModuleRegistry},
		{"SupervisorHeaders", OffsetSupervisorHeaders, SizeSupervisorHeaders},
		{"Economics", OffsetEconomics, SizeEconomics},
		{"PatternExchange", OffsetPatternExchange, SizePatternExchange},
		{"Arena", OffsetArena, 0},
	}
	for _, c := range cases {
		if c.offset != map[string]uint32{
			"AtomicFlags":       0x000000,
			"ModuleRegistry":    0x000140,
			"SupervisorHeaders": 0x002000,
			"Economics":         0x004000,
			"PatternExchange":   0x010000,
			"Arena":             0x150000,
		}[c.name] {
			t.Errorf("%s offset mismatch: got 0x%06X", c.name, c.offset)
		}
	}
	if SizeAtomicFlags != 128 {
		t.Errorf("AtomicFlags size should be 128, got %d", SizeAtomicFlags)
	}
	if SizeModuleRegistry != 6*1024 {
		t.Errorf("ModuleRegistry size should be 6KiB, got %d", SizeModuleRegistry)
	}
	if SizeSupervisorHeaders != 4*1024 {
		t.Errorf("SupervisorHeaders size should be 4KiB, got %d", SizeSupervisorHeaders)
	}
	if SizeEconomics != 32*1024 {
		t.Errorf("Economics size should be 32KiB, got %d", SizeEconomics)
	}
	if SizePatternExchange != 64*1024 {
		t.Errorf("PatternExchange size should be 64KiB, got %d", SizePatternExchange)
	}
}

func TestLayout_RegionLookup(t *testing.T) {
	region, err := GetRegionInfo(OffsetEconomics+10, SizeTier32)
	if err != nil {
		t.Fatal(err)
	}
	if region.ID != RegionEconomics {
		t.Errorf("expected Economics, got %s", region.Name)
	}

	if _, err := GetRegionInfo(uint32(SizeTier32)+1, SizeTier32); err == nil {
		t.Error("expected error for out-of-bounds offset")
	}
}

func TestLayout_ArenaGrowsWithTier(t *testing.T) {
	small := CalculateArenaSize(SizeTier32)
	large := CalculateArenaSize(SizeTier256)
	if large <= small {
		t.Error("arena should grow with size tier")
	}
}
