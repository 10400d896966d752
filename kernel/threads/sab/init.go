package sab

import "fmt"

// SABInitializer performs first-touch setup of a shared region: it zeroes
// every declared region, validates the resulting layout, and leaves the
// system epoch at zero for the host to pick up (spec §6 "Initialization").
type SABInitializer struct {
	mem       MemoryProvider
	tier      SizeTier
	validator *SABValidator
}

// NewSABInitializer creates an initializer over mem, which must be sized
// exactly to tier.
func NewSABInitializer(mem MemoryProvider, tier SizeTier) (*SABInitializer, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("size tier %d is not one of the four conforming tiers", tier)
	}
	if mem.Size() != uint32(tier) {
		return nil, fmt.Errorf("memory provider size %d does not match tier %d", mem.Size(), tier)
	}

	return &SABInitializer{
		mem:       mem,
		tier:      tier,
		validator: NewSABValidator(uint32(tier)),
	}, nil
}

// Initialize zeroes every region in the layout catalogue, validates the
// result, and leaves the region ready for the host to begin signaling.
func (si *SABInitializer) Initialize() error {
	if err := ValidateMemoryLayout(si.tier); err != nil {
		return fmt.Errorf("layout validation failed: %w", err)
	}

	for _, r := range GetAllRegions(si.tier) {
		if err := si.zeroRegion(r); err != nil {
			return fmt.Errorf("failed to zero region %s: %w", r.Name, err)
		}
	}

	if err := si.validator.ValidateLayout(); err != nil {
		return fmt.Errorf("validator layout check failed: %w", err)
	}

	return nil
}

func (si *SABInitializer) zeroRegion(r MemoryRegion) error {
	zero := make([]byte, 4096)
	remaining := r.Size
	offset := r.Offset
	for remaining > 0 {
		n := uint32(len(zero))
		if n > remaining {
			n = remaining
		}
		if err := si.mem.WriteAt(offset, zero[:n]); err != nil {
			return err
		}
		offset += n
		remaining -= n
	}
	return nil
}

// GetValidator returns the validator tracking this region's layout.
func (si *SABInitializer) GetValidator() *SABValidator {
	return si.validator
}

// GetMemoryMap returns a human-readable memory map.
func (si *SABInitializer) GetMemoryMap() string {
	return si.validator.GetMemoryMap()
}

// InitializationStats summarizes the outcome of Initialize.
type InitializationStats struct {
	TotalSize      uint32
	RegionsCount   int
	ArenaSize      uint32
	MemoryMap      string
	ValidationPass bool
}

// GetStats returns initialization statistics.
func (si *SABInitializer) GetStats() InitializationStats {
	return InitializationStats{
		TotalSize:      uint32(si.tier),
		RegionsCount:   len(GetAllRegions(si.tier)),
		ArenaSize:      CalculateArenaSize(si.tier),
		MemoryMap:      si.GetMemoryMap(),
		ValidationPass: si.validator.ValidateLayout() == nil,
	}
}
