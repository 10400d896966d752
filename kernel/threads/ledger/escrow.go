package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// EscrowStatus is the lifecycle state of a DelegationEscrow or SharedEscrow.
type EscrowStatus int

const (
	EscrowLocked EscrowStatus = iota
	EscrowReleased
	EscrowRefunded
	EscrowExpired
)

func (s EscrowStatus) String() string {
	switch s {
	case EscrowLocked:
		return "locked"
	case EscrowReleased:
		return "released"
	case EscrowRefunded:
		return "refunded"
	case EscrowExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// DelegationEscrow locks credits for a single delegated job while it runs
// (spec §10 supplemented feature "escrow-style settlement").
type DelegationEscrow struct {
	ID          string
	RequesterID string
	ProviderID  string
	Amount      uint64
	Status      EscrowStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	SettledAt   time.Time
	JobID       string
}

// WorkerContribution records one worker's completed shard of a
// SharedEscrow's parallel job.
type WorkerContribution struct {
	PeerID      string
	ShardIndex  int
	ShardSize   uint64
	Verified    bool
	CompletedAt time.Time
	LatencyMs   float64
}

// SharedEscrow locks credits for a job split across multiple workers,
// settled proportionally to verified shard size.
type SharedEscrow struct {
	ID            string
	RequesterDID  string
	TotalAmount   uint64
	ShardCount    int
	Contributions []*WorkerContribution
	Status        EscrowStatus
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Escrow is a settlement layer built on top of a CreditLedger's
// Reserve/Release/Refund primitives — it never bypasses the ledger's
// two-phase pending/committed accounting or its seal. Grounded on the
// teacher's kernel/core/mesh/economic_hooks.go EconomicLedger.
type Escrow struct {
	ledger *CreditLedger

	mu            sync.Mutex
	escrows       map[string]*DelegationEscrow
	sharedEscrows map[string]*SharedEscrow

	totalEscrowed    uint64
	totalSettled     uint64
	totalRefunded    uint64
	settlementsCount uint64
}

// NewEscrow constructs an escrow layer over ledger.
func NewEscrow(ledger *CreditLedger) *Escrow {
	return &Escrow{
		ledger:        ledger,
		escrows:       make(map[string]*DelegationEscrow),
		sharedEscrows: make(map[string]*SharedEscrow),
	}
}

// CreateEscrow reserves amount from requesterID's available balance for a
// single-job delegation.
func (e *Escrow) CreateEscrow(escrowID, requesterID string, amount uint64, ttl time.Duration, jobID string) (*DelegationEscrow, error) {
	e.mu.Lock()
	if _, exists := e.escrows[escrowID]; exists {
		e.mu.Unlock()
		return nil, errors.New("escrow: id already exists")
	}
	e.mu.Unlock()

	available, err := e.ledger.GetAvailableBalance(requesterID)
	if err != nil {
		return nil, err
	}
	if available < int64(amount) {
		return nil, fmt.Errorf("escrow: insufficient balance: have %d, need %d", available, amount)
	}
	if err := e.ledger.ReservePending(requesterID, amount); err != nil {
		return nil, err
	}

	escrow := &DelegationEscrow{
		ID:          escrowID,
		RequesterID: requesterID,
		Amount:      amount,
		Status:      EscrowLocked,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(ttl),
		JobID:       jobID,
	}

	e.mu.Lock()
	e.escrows[escrowID] = escrow
	e.totalEscrowed += amount
	e.mu.Unlock()
	return escrow, nil
}

// AssignProvider records the matched provider once delegation routing
// completes.
func (e *Escrow) AssignProvider(escrowID, providerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	escrow, ok := e.escrows[escrowID]
	if !ok {
		return errors.New("escrow: not found")
	}
	if escrow.Status != EscrowLocked {
		return fmt.Errorf("escrow: invalid status %s", escrow.Status)
	}
	escrow.ProviderID = providerID
	return nil
}

// ReleaseToProvider settles a verified escrow: the provider's reserved
// amount is released as yield through DistributePoUWYield, so the 5%
// protocol fee split and the treasury-fallback routing correction apply
// identically to escrow-mediated jobs.
func (e *Escrow) ReleaseToProvider(escrowID string, verified bool, referrerID string, closeIDs []string) error {
	e.mu.Lock()
	escrow, ok := e.escrows[escrowID]
	if !ok {
		e.mu.Unlock()
		return errors.New("escrow: not found")
	}
	if escrow.Status != EscrowLocked {
		e.mu.Unlock()
		return fmt.Errorf("escrow: invalid status %s", escrow.Status)
	}
	if escrow.ProviderID == "" {
		e.mu.Unlock()
		return errors.New("escrow: no provider assigned")
	}
	if !verified {
		e.mu.Unlock()
		return errors.New("escrow: verification failed, cannot release")
	}
	providerID, amount := escrow.ProviderID, escrow.Amount
	e.mu.Unlock()

	if err := e.ledger.DistributePoUWYield(providerID, referrerID, closeIDs, amount); err != nil {
		return err
	}

	e.mu.Lock()
	escrow.Status = EscrowReleased
	escrow.SettledAt = time.Now()
	e.totalSettled += amount
	e.settlementsCount++
	e.mu.Unlock()
	return nil
}

// RefundToRequester returns the full escrowed amount to the requester
// (failure or timeout path).
func (e *Escrow) RefundToRequester(escrowID string) error {
	e.mu.Lock()
	escrow, ok := e.escrows[escrowID]
	if !ok {
		e.mu.Unlock()
		return errors.New("escrow: not found")
	}
	if escrow.Status != EscrowLocked {
		e.mu.Unlock()
		return fmt.Errorf("escrow: invalid status %s", escrow.Status)
	}
	requesterID, amount := escrow.RequesterID, escrow.Amount
	e.mu.Unlock()

	if err := e.ledger.RefundPending(requesterID, amount); err != nil {
		return err
	}

	e.mu.Lock()
	escrow.Status = EscrowRefunded
	escrow.SettledAt = time.Now()
	e.totalRefunded += amount
	e.mu.Unlock()
	return nil
}

// ExpireStaleEscrows refunds and marks every escrow past its TTL, returning
// the count expired.
func (e *Escrow) ExpireStaleEscrows() int {
	now := time.Now()

	e.mu.Lock()
	var stale []*DelegationEscrow
	for _, escrow := range e.escrows {
		if escrow.Status == EscrowLocked && now.After(escrow.ExpiresAt) {
			stale = append(stale, escrow)
		}
	}
	e.mu.Unlock()

	for _, escrow := range stale {
		if err := e.ledger.RefundPending(escrow.RequesterID, escrow.Amount); err != nil {
			continue
		}
		e.mu.Lock()
		escrow.Status = EscrowExpired
		escrow.SettledAt = now
		e.totalRefunded += escrow.Amount
		e.mu.Unlock()
	}
	return len(stale)
}

// GetEscrow returns the escrow by ID.
func (e *Escrow) GetEscrow(escrowID string) (*DelegationEscrow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	escrow, ok := e.escrows[escrowID]
	return escrow, ok
}

// CreateSharedEscrow reserves amount for a job split across shardCount
// workers.
func (e *Escrow) CreateSharedEscrow(escrowID, requesterDID string, amount uint64, shardCount int, ttl time.Duration) (*SharedEscrow, error) {
	available, err := e.ledger.GetAvailableBalance(requesterDID)
	if err != nil {
		return nil, err
	}
	if available < int64(amount) {
		return nil, fmt.Errorf("escrow: insufficient balance: have %d, need %d", available, amount)
	}
	if err := e.ledger.ReservePending(requesterDID, amount); err != nil {
		return nil, err
	}

	escrow := &SharedEscrow{
		ID:           escrowID,
		RequesterDID: requesterDID,
		TotalAmount:  amount,
		ShardCount:   shardCount,
		Status:       EscrowLocked,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(ttl),
	}

	e.mu.Lock()
	e.sharedEscrows[escrowID] = escrow
	e.totalEscrowed += amount
	e.mu.Unlock()
	return escrow, nil
}

// RegisterWorkerContribution records a completed shard.
func (e *Escrow) RegisterWorkerContribution(escrowID, peerID string, shardIndex int, shardSize uint64, verified bool, latencyMs float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	escrow, ok := e.sharedEscrows[escrowID]
	if !ok {
		return errors.New("escrow: shared escrow not found")
	}
	if escrow.Status != EscrowLocked {
		return fmt.Errorf("escrow: invalid status %s", escrow.Status)
	}
	escrow.Contributions = append(escrow.Contributions, &WorkerContribution{
		PeerID:      peerID,
		ShardIndex:  shardIndex,
		ShardSize:   shardSize,
		Verified:    verified,
		CompletedAt: time.Now(),
		LatencyMs:   latencyMs,
	})
	return nil
}

// SharedSettlementResult is the outcome of SettleSharedEscrow.
type SharedSettlementResult struct {
	EscrowID       string
	WorkerPayouts  map[string]int64
	ProtocolFee    uint64
	Refunded       bool
	ShardsVerified int
}

// SettleSharedEscrow distributes the escrowed amount proportionally to
// verified contributors' shard size, routing the residual (and the entire
// amount when nothing verified) back to the requester/treasury rather than
// the creator account, consistent with the core ledger's fallback
// correction.
func (e *Escrow) SettleSharedEscrow(escrowID string) (*SharedSettlementResult, error) {
	e.mu.Lock()
	escrow, ok := e.sharedEscrows[escrowID]
	if !ok {
		e.mu.Unlock()
		return nil, errors.New("escrow: shared escrow not found")
	}
	if escrow.Status != EscrowLocked {
		e.mu.Unlock()
		return nil, fmt.Errorf("escrow: invalid status %s", escrow.Status)
	}

	var totalVerifiedSize uint64
	var shardsVerified int
	for _, w := range escrow.Contributions {
		if w.Verified {
			totalVerifiedSize += w.ShardSize
			shardsVerified++
		}
	}
	requesterDID, totalAmount := escrow.RequesterDID, escrow.TotalAmount
	contributions := escrow.Contributions
	e.mu.Unlock()

	if totalVerifiedSize == 0 {
		if err := e.ledger.RefundPending(requesterDID, totalAmount); err != nil {
			return nil, err
		}
		e.mu.Lock()
		escrow.Status = EscrowRefunded
		e.mu.Unlock()
		return &SharedSettlementResult{EscrowID: escrowID, Refunded: true}, nil
	}

	protocolFee := totalAmount * 5 / 100
	workerPool := totalAmount - protocolFee

	payouts := make(map[string]int64)
	var distributed uint64
	for _, w := range contributions {
		if !w.Verified {
			continue
		}
		share := (w.ShardSize * workerPool) / totalVerifiedSize
		if err := e.ledger.ReleasePending(w.PeerID, share); err != nil {
			return nil, err
		}
		payouts[w.PeerID] += int64(share)
		distributed += share
	}

	// Floor-division residual and the protocol fee both route to treasury.
	residual := workerPool - distributed
	if err := e.ledger.ReleasePending(TreasuryDID, protocolFee+residual); err != nil {
		return nil, err
	}

	e.mu.Lock()
	escrow.Status = EscrowReleased
	e.totalSettled += totalAmount
	e.settlementsCount++
	e.mu.Unlock()

	return &SharedSettlementResult{
		EscrowID:       escrowID,
		WorkerPayouts:  payouts,
		ProtocolFee:    protocolFee + residual,
		ShardsVerified: shardsVerified,
	}, nil
}

// Stats returns aggregate escrow statistics.
func (e *Escrow) Stats() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]any{
		"total_escrowed":    e.totalEscrowed,
		"total_settled":     e.totalSettled,
		"total_refunded":    e.totalRefunded,
		"settlements_count": e.settlementsCount,
		"active_escrows":    len(e.escrows),
	}
}
