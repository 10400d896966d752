package ledger

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/minio/sha256-simd"

	"github.com/inos-labs/smcc/kernel/threads/sab"
)

// Economics sub-layout within the Economics region (spec §3.1 "Economics
// sub-layout"): metadata, then a fixed table of account slots, then one
// resource-metrics slot per account — grounded field-for-field on the
// teacher's credits.go constants.
const (
	metadataSize = 64
	accountSize  = 128
	metricsSize  = 64
	maxAccounts  = 64

	offsetMetadata = 0
	offsetAccounts = metadataSize
	offsetMetrics  = offsetAccounts + maxAccounts*accountSize
)

const (
	accBalanceOff           = 0
	accEarnedTotalOff       = 8
	accSpentTotalOff        = 16
	accLastActivityEpochOff = 24
	accReputationOff        = 32
	accDeviceCountOff       = 36
	accUptimeScoreOff       = 38
	accLastUbiClaimOff      = 42
	accReferrerLockedAtOff  = 50
	accReferrerChangedAtOff = 58
	accFromCreatorOff       = 66
	accFromReferralsOff     = 74
	accFromCloseIdsOff      = 82
	accThresholdOff         = 90
	accTotalSharesOff       = 91
	accTierOff              = 92
	accPendingBalanceOff    = 96
	accPendingEpochOff      = 104
	accPendingEarnedOff     = 112
	accPendingSpentOff      = 120
)

const (
	sealEpochOff = 0
	sealHashOff  = 8
	sealHashSize = 32
)

// CreditLedger is the runtime Ledger Engine component: it owns the
// Economics region and serializes every mutation through mu, matching the
// region's single-writer/kernel-only guard policy (spec §3.4, RegionEconomics).
// Grounded on the teacher's supervisor/credits.go CreditSupervisor.
type CreditLedger struct {
	mem   sab.MemoryProvider
	base  uint32
	rates Rates

	mu        sync.Mutex
	accounts  map[string]uint32 // DID -> slot offset
	nextIndex uint32
}

// NewCreditLedger constructs a ledger over mem's Economics region (base
// should be sab.OffsetEconomics) and auto-registers the protocol-owned
// treasury and creator accounts.
func NewCreditLedger(mem sab.MemoryProvider, base uint32, rates Rates) (*CreditLedger, error) {
	l := &CreditLedger{
		mem:      mem,
		base:     base,
		rates:    rates,
		accounts: make(map[string]uint32),
	}
	if _, err := l.registerAccountLocked(TreasuryDID); err != nil {
		return nil, err
	}
	if _, err := l.registerAccountLocked(CreatorDID); err != nil {
		return nil, err
	}
	return l, nil
}

// RegisterAccount allocates a slot for id if it does not already have one.
func (l *CreditLedger) RegisterAccount(id string) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.registerAccountLocked(id)
}

// RegisterSABAccount implements Vault.
func (l *CreditLedger) RegisterSABAccount(did string) error {
	_, err := l.RegisterAccount(did)
	return err
}

func (l *CreditLedger) registerAccountLocked(id string) (uint32, error) {
	if off, ok := l.accounts[id]; ok {
		return off, nil
	}
	if l.nextIndex >= maxAccounts {
		return 0, fmt.Errorf("ledger: max accounts (%d) reached", maxAccounts)
	}
	index := l.nextIndex
	l.nextIndex++
	offset := l.base + offsetAccounts + index*accountSize

	acc := Account{
		ReputationScore: 0.5,
		DeviceCount:     1,
		UptimeScore:     1.0,
		Tier:            l.DefaultTier(),
		Threshold:       1,
		TotalShares:     1,
	}
	if err := l.writeAccount(offset, &acc); err != nil {
		return 0, err
	}
	l.accounts[id] = offset
	return offset, nil
}

// DefaultTier derives the account resource tier from the backing region's
// capacity (larger shared regions imply a more capable host).
func (l *CreditLedger) DefaultTier() uint8 {
	switch {
	case l.mem.Size() >= uint32(sab.SizeTier256):
		return ResourceTierDedicated
	case l.mem.Size() >= uint32(sab.SizeTier128):
		return ResourceTierHeavy
	case l.mem.Size() >= uint32(sab.SizeTier64):
		return ResourceTierModerate
	default:
		return ResourceTierLight
	}
}

// GetAccount returns a snapshot of id's account.
func (l *CreditLedger) GetAccount(id string) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getAccountLocked(id)
}

func (l *CreditLedger) getAccountLocked(id string) (Account, error) {
	offset, ok := l.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("ledger: account not found: %s", id)
	}
	return l.readAccount(offset)
}

// GetBalance implements Vault.
func (l *CreditLedger) GetBalance(did string) (int64, error) {
	acc, err := l.GetAccount(did)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// GetAvailableBalance returns the balance net of any pending (reserved)
// spend for the current epoch.
func (l *CreditLedger) GetAvailableBalance(did string) (int64, error) {
	acc, err := l.GetAccount(did)
	if err != nil {
		return 0, err
	}
	if acc.PendingBalance < 0 {
		return acc.Balance + acc.PendingBalance, nil
	}
	return acc.Balance, nil
}

// GrantBonus implements Vault: settles amount as a pending earn, committed
// at the next FinalizePending.
func (l *CreditLedger) GrantBonus(did string, amount int64) error {
	return l.Settle(did, amount, true)
}

// Settle applies delta to id's pending balance, auto-registering the
// account if needed, and routes the delta into pending_earned/pending_spent
// per the two Open Question corrections (spec §4.4):
//
//  1. isEarned=true, delta<0 routes unconditionally to pending_spent — a
//     negative "earned" delta is a correction/clawback, not income.
//  2. isEarned=false, delta<0 is a spend; isEarned=false, delta>0 is a
//     refund of a prior spend, also tracked in pending_spent.
func (l *CreditLedger) Settle(id string, delta int64, isEarned bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settleLocked(id, delta, isEarned)
}

func (l *CreditLedger) settleLocked(id string, delta int64, isEarned bool) error {
	offset, ok := l.accounts[id]
	if !ok {
		var err error
		offset, err = l.registerAccountLocked(id)
		if err != nil {
			return err
		}
	}

	acc, err := l.readAccount(offset)
	if err != nil {
		return err
	}

	acc.PendingBalance += delta

	switch {
	case isEarned && delta < 0:
		acc.PendingSpent += uint64(-delta)
	case isEarned:
		acc.PendingEarned += uint64(delta)
	case delta < 0:
		acc.PendingSpent += uint64(-delta)
	case delta > 0:
		acc.PendingSpent += uint64(delta)
	}

	acc.PendingEpoch = uint64(EpochTime())
	return l.writeAccount(offset, &acc)
}

// ReservePending locks credits as a pending spend (escrow-style reserve).
func (l *CreditLedger) ReservePending(did string, amount uint64) error {
	return l.Settle(did, -int64(amount), false)
}

// ReleasePending credits a provider with a pending earn.
func (l *CreditLedger) ReleasePending(did string, amount uint64) error {
	return l.Settle(did, int64(amount), true)
}

// RefundPending returns escrowed credits to the requester. isEarned=true
// here (matching the teacher's credits.go RefundPending) routes the
// refund into PendingEarned rather than inflating PendingSpent a second
// time — a Reserve(amount)+Refund(amount) cycle must net both
// PendingBalance and the earned/spent totals to zero.
func (l *CreditLedger) RefundPending(did string, amount uint64) error {
	return l.Settle(did, int64(amount), true)
}

// RecordMetrics writes one epoch's worth of resource usage into did's
// dedicated metrics slot, ready for the next OnEpoch settlement pass.
func (l *CreditLedger) RecordMetrics(did string, m ResourceMetrics) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	offset, ok := l.accounts[did]
	if !ok {
		return fmt.Errorf("ledger: account not found: %s", did)
	}
	index := (offset - l.base - offsetAccounts) / accountSize
	return l.writeMetrics(l.base+offsetMetrics+index*metricsSize, &m)
}

// OnEpoch settles every account's recorded metrics, runs the UBI drip, and
// finalizes pending balances with a fresh seal (spec §4.4 "Epoch tick").
func (l *CreditLedger) OnEpoch(epoch uint64) error {
	l.mu.Lock()
	for id, offset := range l.accounts {
		index := (offset - l.base - offsetAccounts) / accountSize
		metrics, err := l.readMetrics(l.base + offsetMetrics + index*metricsSize)
		if err != nil || metrics.ComputeCyclesUsed == 0 {
			continue
		}

		acc, err := l.readAccount(offset)
		if err != nil {
			continue
		}
		multiplier := 1.0 + float64(acc.DeviceCount)*0.001
		delta := int64(l.economicTick(metrics) * multiplier)
		if delta != 0 {
			_ = l.settleLocked(id, delta, delta > 0)
		}
		_ = l.writeMetrics(l.base+offsetMetrics+index*metricsSize, &ResourceMetrics{})
	}
	l.mu.Unlock()

	l.ProcessUBIDrip()
	return l.FinalizePending(epoch)
}

// ProcessUBIDrip distributes a per-device-weighted baseline drip from the
// treasury to every non-treasury, non-creator account (spec §4.4,
// Open Question 1): the *multiplied* per-recipient amount is checked
// against the treasury's live balance before each individual debit, rather
// than against one unmultiplied snapshot taken before the loop.
func (l *CreditLedger) ProcessUBIDrip() {
	const baselineDrip = int64(1)

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, offset := range l.accounts {
		if id == TreasuryDID || id == CreatorDID {
			continue
		}
		acc, err := l.readAccount(offset)
		if err != nil {
			continue
		}

		treasury, err := l.getAccountLocked(TreasuryDID)
		if err != nil {
			return
		}
		// Live balance: committed balance minus debits already pending in
		// this pass (earlier drips have not been finalized yet).
		live := treasury.Balance
		if treasury.PendingBalance < 0 {
			live += treasury.PendingBalance
		}
		if live <= 0 {
			return
		}

		multiplier := 1.0 + float64(acc.DeviceCount)*0.001
		drip := int64(float64(baselineDrip) * multiplier)

		if live < drip {
			continue
		}

		_ = l.settleLocked(id, drip, true)
		_ = l.settleLocked(TreasuryDID, -drip, false)
	}
}

// DistributePoUWYield splits a completed job's value under the 5% protocol
// fee (95% worker / 3.5% treasury / 0.5% creator / 0.5% referrer / 0.5%
// close-IDs), spec §4.4 Open-Question correction 3: referrer and close-ID
// shares, and any floor-division residual among close-IDs, fall back to the
// *treasury* account, never the creator account.
func (l *CreditLedger) DistributePoUWYield(workerID, referrerID string, closeIDs []string, jobValue uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	protocolFee := uint64(float64(jobValue) * 0.05)
	workerReward := jobValue - protocolFee

	treasuryAmt := uint64(float64(protocolFee) * (3.5 / 5.0))
	creatorAmt := uint64(float64(protocolFee) * (0.5 / 5.0))
	referrerAmt := uint64(float64(protocolFee) * (0.5 / 5.0))
	closeIDTotalAmt := protocolFee - treasuryAmt - creatorAmt - referrerAmt

	if err := l.settleLocked(workerID, int64(workerReward), true); err != nil {
		return err
	}
	if err := l.settleLocked(CreatorDID, int64(creatorAmt), true); err != nil {
		return err
	}

	if referrerID != "" {
		if err := l.settleLocked(referrerID, int64(referrerAmt), true); err != nil {
			return err
		}
	} else {
		treasuryAmt += referrerAmt
	}

	if len(closeIDs) > 0 {
		perCloseID := closeIDTotalAmt / uint64(len(closeIDs))
		residual := closeIDTotalAmt - perCloseID*uint64(len(closeIDs))
		for _, cid := range closeIDs {
			if err := l.settleLocked(cid, int64(perCloseID), true); err != nil {
				return err
			}
		}
		treasuryAmt += residual
	} else {
		treasuryAmt += closeIDTotalAmt
	}

	return l.settleLocked(TreasuryDID, int64(treasuryAmt), true)
}

// FinalizePending sweeps every account's pending balance/earned/spent into
// its committed totals, stamps LastActivityEpoch, and reseals the Economics
// region (spec §4.4 "seal").
func (l *CreditLedger) FinalizePending(epoch uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, offset := range l.accounts {
		acc, err := l.readAccount(offset)
		if err != nil {
			continue
		}

		acc.Balance += acc.PendingBalance
		acc.EarnedTotal += acc.PendingEarned
		acc.SpentTotal += acc.PendingSpent
		acc.PendingBalance = 0
		acc.PendingEarned = 0
		acc.PendingSpent = 0
		acc.LastActivityEpoch = epoch

		if err := l.writeAccount(offset, &acc); err != nil {
			return err
		}
	}

	return l.writeSeal(epoch)
}

func (l *CreditLedger) economicTick(m ResourceMetrics) float64 {
	earned := float64(m.ComputeCyclesUsed)*l.rates.ComputeRate +
		float64(m.BytesServed)*l.rates.BandwidthRate +
		float64(m.BytesStored)*l.rates.StorageRate +
		float64(m.UptimeSeconds)*l.rates.UptimeRate +
		float64(m.LocalityScore)*l.rates.LocalityBonus

	spent := (float64(m.SyscallCount)*l.rates.SyscallCost)*(1.0+float64(m.MemoryPressure)) +
		float64(m.ReplicationPriority)*l.rates.ReplicationCost +
		float64(m.SchedulingBias)*l.rates.SchedulingCost

	return earned - spent
}

// Seal returns the last-sealed epoch and hash written by FinalizePending.
func (l *CreditLedger) Seal() (epoch uint64, hash [32]byte, err error) {
	buf := make([]byte, metadataSize)
	if err := l.mem.ReadAt(l.base+offsetMetadata, buf); err != nil {
		return 0, hash, err
	}
	epoch = binary.LittleEndian.Uint64(buf[sealEpochOff : sealEpochOff+8])
	copy(hash[:], buf[sealHashOff:sealHashOff+sealHashSize])
	return epoch, hash, nil
}

func (l *CreditLedger) writeSeal(epoch uint64) error {
	accountsBytes, err := l.mem.Bytes(l.base+offsetAccounts, maxAccounts*accountSize)
	if err != nil {
		return err
	}
	hash := sha256.Sum256(accountsBytes)

	meta := make([]byte, metadataSize)
	binary.LittleEndian.PutUint64(meta[sealEpochOff:sealEpochOff+8], epoch)
	copy(meta[sealHashOff:sealHashOff+sealHashSize], hash[:])
	return l.mem.WriteAt(l.base+offsetMetadata, meta)
}

func (l *CreditLedger) readAccount(offset uint32) (Account, error) {
	data := make([]byte, accountSize)
	if err := l.mem.ReadAt(offset, data); err != nil {
		return Account{}, err
	}
	return Account{
		Balance:           int64(binary.LittleEndian.Uint64(data[accBalanceOff : accBalanceOff+8])),
		EarnedTotal:       binary.LittleEndian.Uint64(data[accEarnedTotalOff : accEarnedTotalOff+8]),
		SpentTotal:        binary.LittleEndian.Uint64(data[accSpentTotalOff : accSpentTotalOff+8]),
		LastActivityEpoch: binary.LittleEndian.Uint64(data[accLastActivityEpochOff : accLastActivityEpochOff+8]),
		ReputationScore:   math.Float32frombits(binary.LittleEndian.Uint32(data[accReputationOff : accReputationOff+4])),
		DeviceCount:       binary.LittleEndian.Uint16(data[accDeviceCountOff : accDeviceCountOff+2]),
		UptimeScore:       math.Float32frombits(binary.LittleEndian.Uint32(data[accUptimeScoreOff : accUptimeScoreOff+4])),
		LastUbiClaim:      int64(binary.LittleEndian.Uint64(data[accLastUbiClaimOff : accLastUbiClaimOff+8])),
		ReferrerLockedAt:  int64(binary.LittleEndian.Uint64(data[accReferrerLockedAtOff : accReferrerLockedAtOff+8])),
		ReferrerChangedAt: int64(binary.LittleEndian.Uint64(data[accReferrerChangedAtOff : accReferrerChangedAtOff+8])),
		FromCreator:       binary.LittleEndian.Uint64(data[accFromCreatorOff : accFromCreatorOff+8]),
		FromReferrals:     binary.LittleEndian.Uint64(data[accFromReferralsOff : accFromReferralsOff+8]),
		FromCloseIds:      binary.LittleEndian.Uint64(data[accFromCloseIdsOff : accFromCloseIdsOff+8]),
		Threshold:         data[accThresholdOff],
		TotalShares:       data[accTotalSharesOff],
		Tier:              data[accTierOff],
		PendingBalance:    int64(binary.LittleEndian.Uint64(data[accPendingBalanceOff : accPendingBalanceOff+8])),
		PendingEpoch:      binary.LittleEndian.Uint64(data[accPendingEpochOff : accPendingEpochOff+8]),
		PendingEarned:     binary.LittleEndian.Uint64(data[accPendingEarnedOff : accPendingEarnedOff+8]),
		PendingSpent:      binary.LittleEndian.Uint64(data[accPendingSpentOff : accPendingSpentOff+8]),
	}, nil
}

func (l *CreditLedger) writeAccount(offset uint32, acc *Account) error {
	data := make([]byte, accountSize)
	binary.LittleEndian.PutUint64(data[accBalanceOff:accBalanceOff+8], uint64(acc.Balance))
	binary.LittleEndian.PutUint64(data[accEarnedTotalOff:accEarnedTotalOff+8], acc.EarnedTotal)
	binary.LittleEndian.PutUint64(data[accSpentTotalOff:accSpentTotalOff+8], acc.SpentTotal)
	binary.LittleEndian.PutUint64(data[accLastActivityEpochOff:accLastActivityEpochOff+8], acc.LastActivityEpoch)
	binary.LittleEndian.PutUint32(data[accReputationOff:accReputationOff+4], math.Float32bits(acc.ReputationScore))
	binary.LittleEndian.PutUint16(data[accDeviceCountOff:accDeviceCountOff+2], acc.DeviceCount)
	binary.LittleEndian.PutUint32(data[accUptimeScoreOff:accUptimeScoreOff+4], math.Float32bits(acc.UptimeScore))
	binary.LittleEndian.PutUint64(data[accLastUbiClaimOff:accLastUbiClaimOff+8], uint64(acc.LastUbiClaim))
	binary.LittleEndian.PutUint64(data[accReferrerLockedAtOff:accReferrerLockedAtOff+8], uint64(acc.ReferrerLockedAt))
	binary.LittleEndian.PutUint64(data[accReferrerChangedAtOff:accReferrerChangedAtOff+8], uint64(acc.ReferrerChangedAt))
	binary.LittleEndian.PutUint64(data[accFromCreatorOff:accFromCreatorOff+8], acc.FromCreator)
	binary.LittleEndian.PutUint64(data[accFromReferralsOff:accFromReferralsOff+8], acc.FromReferrals)
	binary.LittleEndian.PutUint64(data[accFromCloseIdsOff:accFromCloseIdsOff+8], acc.FromCloseIds)
	data[accThresholdOff] = acc.Threshold
	data[accTotalSharesOff] = acc.TotalShares
	data[accTierOff] = acc.Tier
	binary.LittleEndian.PutUint64(data[accPendingBalanceOff:accPendingBalanceOff+8], uint64(acc.PendingBalance))
	binary.LittleEndian.PutUint64(data[accPendingEpochOff:accPendingEpochOff+8], acc.PendingEpoch)
	binary.LittleEndian.PutUint64(data[accPendingEarnedOff:accPendingEarnedOff+8], acc.PendingEarned)
	binary.LittleEndian.PutUint64(data[accPendingSpentOff:accPendingSpentOff+8], acc.PendingSpent)
	return l.mem.WriteAt(offset, data)
}

func (l *CreditLedger) readMetrics(offset uint32) (ResourceMetrics, error) {
	data := make([]byte, metricsSize)
	if err := l.mem.ReadAt(offset, data); err != nil {
		return ResourceMetrics{}, err
	}
	return ResourceMetrics{
		ComputeCyclesUsed:   binary.LittleEndian.Uint64(data[0:8]),
		BytesServed:         binary.LittleEndian.Uint64(data[8:16]),
		BytesStored:         binary.LittleEndian.Uint64(data[16:24]),
		UptimeSeconds:       binary.LittleEndian.Uint64(data[24:32]),
		LocalityScore:       math.Float32frombits(binary.LittleEndian.Uint32(data[32:36])),
		SyscallCount:        binary.LittleEndian.Uint64(data[36:44]),
		MemoryPressure:      math.Float32frombits(binary.LittleEndian.Uint32(data[44:48])),
		ReplicationPriority: binary.LittleEndian.Uint32(data[48:52]),
		SchedulingBias:      int32(binary.LittleEndian.Uint32(data[52:56])),
	}, nil
}

func (l *CreditLedger) writeMetrics(offset uint32, m *ResourceMetrics) error {
	data := make([]byte, metricsSize)
	binary.LittleEndian.PutUint64(data[0:8], m.ComputeCyclesUsed)
	binary.LittleEndian.PutUint64(data[8:16], m.BytesServed)
	binary.LittleEndian.PutUint64(data[16:24], m.BytesStored)
	binary.LittleEndian.PutUint64(data[24:32], m.UptimeSeconds)
	binary.LittleEndian.PutUint32(data[32:36], math.Float32bits(m.LocalityScore))
	binary.LittleEndian.PutUint64(data[36:44], m.SyscallCount)
	binary.LittleEndian.PutUint32(data[44:48], math.Float32bits(m.MemoryPressure))
	binary.LittleEndian.PutUint32(data[48:52], m.ReplicationPriority)
	binary.LittleEndian.PutUint32(data[52:56], uint32(m.SchedulingBias))
	return l.mem.WriteAt(offset, data)
}

// GetStats returns aggregate ledger statistics.
func (l *CreditLedger) GetStats() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()

	var totalBalance int64
	for _, offset := range l.accounts {
		if acc, err := l.readAccount(offset); err == nil {
			totalBalance += acc.Balance
		}
	}

	return map[string]any{
		"account_count": len(l.accounts),
		"total_balance": totalBalance,
	}
}
