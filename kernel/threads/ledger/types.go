// Package ledger implements the Ledger Engine: two-phase pending/committed
// credit accounting over the Economics region, SHA-256 epoch sealing, UBI
// drip, and proof-of-work-yield distribution (spec §4.4).
package ledger

import "time"

// Account mirrors the 128-byte Credit Account record of spec §3.5,
// field-for-field, grounded on the teacher's credits.go offset table.
type Account struct {
	Balance           int64
	EarnedTotal       uint64
	SpentTotal        uint64
	LastActivityEpoch uint64
	ReputationScore   float32
	DeviceCount       uint16
	UptimeScore       float32
	LastUbiClaim      int64
	ReferrerLockedAt  int64
	ReferrerChangedAt int64
	FromCreator       uint64
	FromReferrals     uint64
	FromCloseIds      uint64
	Threshold         uint8
	TotalShares       uint8
	Tier              uint8
	PendingBalance    int64
	PendingEpoch      uint64
	PendingEarned     uint64
	PendingSpent      uint64
}

// ResourceMetrics accumulates one epoch's worth of a device's contribution,
// consumed by the settlement formula and reset after each OnEpoch tick.
type ResourceMetrics struct {
	ComputeCyclesUsed   uint64
	BytesServed         uint64
	BytesStored         uint64
	UptimeSeconds       uint64
	LocalityScore       float32
	SyscallCount        uint64
	MemoryPressure      float32
	ReplicationPriority uint32
	SchedulingBias      int32
}

// Rates weights the settlement formula's earn/spend terms.
type Rates struct {
	ComputeRate        float64
	BandwidthRate      float64
	StorageRate        float64
	UptimeRate         float64
	LocalityBonus      float64
	SyscallCost        float64
	ReplicationCost    float64
	SchedulingCost     float64
	PressureMultiplier float64
}

// DefaultRates returns the teacher's original settlement-formula weights.
func DefaultRates() Rates {
	return Rates{
		ComputeRate:        1.0,
		BandwidthRate:      0.001,
		StorageRate:        0.0001,
		UptimeRate:         0.1,
		LocalityBonus:      0.5,
		SyscallCost:        0.01,
		ReplicationCost:    1.0,
		SchedulingCost:     0.5,
		PressureMultiplier: 0.1,
	}
}

// Resource tiers assigned to an account based on the shared region's size
// tier (spec §3.5).
const (
	ResourceTierLight     uint8 = 0
	ResourceTierModerate  uint8 = 1
	ResourceTierHeavy     uint8 = 2
	ResourceTierDedicated uint8 = 3
)

const (
	// TreasuryDID and CreatorDID are the two protocol-owned accounts every
	// ledger auto-registers (spec §4.4).
	TreasuryDID = "did:inos:treasury"
	CreatorDID  = "did:inos:nmxmxh"
)

// Vault is the minimal economic-authority surface other components
// (escrow, supervisor delegation) depend on, grounded on the teacher's
// foundation.EconomicVault.
type Vault interface {
	GetBalance(did string) (int64, error)
	GrantBonus(did string, amount int64) error
	RegisterSABAccount(did string) error
}

// EpochTime is exposed so callers can stamp results after a ledger
// operation without the ledger itself depending on wall-clock time for
// anything but PendingEpoch bookkeeping.
func EpochTime() int64 { return time.Now().Unix() }
