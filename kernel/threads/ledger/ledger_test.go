package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inos-labs/smcc/kernel/threads/sab"
)

func newTestLedger(t *testing.T) *CreditLedger {
	t.Helper()
	mem := sab.NewInMemoryProvider(uint32(sab.SizeTier32))
	l, err := NewCreditLedger(mem, sab.OffsetEconomics, DefaultRates())
	require.NoError(t, err)
	return l
}

func TestRegisterAccountIsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	off1, err := l.RegisterAccount("did:inos:alice")
	require.NoError(t, err)
	off2, err := l.RegisterAccount("did:inos:alice")
	require.NoError(t, err)
	assert.Equal(t, off1, off2)
}

func TestSettleAndFinalizePending(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Settle("did:inos:alice", 100, true))

	acc, err := l.GetAccount("did:inos:alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), acc.PendingBalance)
	assert.Equal(t, int64(0), acc.Balance)

	require.NoError(t, l.FinalizePending(1))

	acc, err = l.GetAccount("did:inos:alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), acc.Balance)
	assert.Equal(t, uint64(100), acc.EarnedTotal)
	assert.Equal(t, int64(0), acc.PendingBalance)
}

// Open Question 2: isEarned=true with a negative delta must route to
// pending_spent, never pending_earned.
func TestSettleNegativeEarnedRoutesToPendingSpent(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Settle("did:inos:alice", -50, true))

	acc, err := l.GetAccount("did:inos:alice")
	require.NoError(t, err)
	assert.Equal(t, int64(-50), acc.PendingBalance)
	assert.Equal(t, uint64(50), acc.PendingSpent)
	assert.Equal(t, uint64(0), acc.PendingEarned)
}

func TestDistributePoUWYieldFallsBackToTreasury(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.RegisterAccount("did:inos:worker")
	require.NoError(t, err)

	require.NoError(t, l.DistributePoUWYield("did:inos:worker", "", nil, 1000))
	require.NoError(t, l.FinalizePending(1))

	worker, err := l.GetAccount("did:inos:worker")
	require.NoError(t, err)
	assert.Equal(t, int64(950), worker.Balance)

	treasury, err := l.GetAccount(TreasuryDID)
	require.NoError(t, err)
	// 3.5% + the 0.5% referrer fallback + the 0.5% close-id fallback = 4.5%
	assert.Equal(t, int64(45), treasury.Balance)

	creator, err := l.GetAccount(CreatorDID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), creator.Balance)
}

func TestDistributePoUWYieldWithReferrerAndCloseIDs(t *testing.T) {
	l := newTestLedger(t)
	for _, id := range []string{"did:inos:worker", "did:inos:referrer", "did:inos:close1", "did:inos:close2"} {
		_, err := l.RegisterAccount(id)
		require.NoError(t, err)
	}

	require.NoError(t, l.DistributePoUWYield("did:inos:worker", "did:inos:referrer", []string{"did:inos:close1", "did:inos:close2"}, 1000))
	require.NoError(t, l.FinalizePending(1))

	referrer, err := l.GetAccount("did:inos:referrer")
	require.NoError(t, err)
	assert.Equal(t, int64(5), referrer.Balance)

	close1, err := l.GetAccount("did:inos:close1")
	require.NoError(t, err)
	close2, err := l.GetAccount("did:inos:close2")
	require.NoError(t, err)
	assert.Equal(t, close1.Balance, close2.Balance)
}

func TestProcessUBIDripChecksMultipliedAmountPerRecipient(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.RegisterAccount("did:inos:alice")
	require.NoError(t, err)
	require.NoError(t, l.Settle(TreasuryDID, 1, true))
	require.NoError(t, l.FinalizePending(1))

	l.ProcessUBIDrip()
	require.NoError(t, l.FinalizePending(2))

	alice, err := l.GetAccount("did:inos:alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), alice.Balance)

	treasury, err := l.GetAccount(TreasuryDID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), treasury.Balance)
}

// Testable Property 5: balance == earned_total - spent_total must hold
// after every OnEpoch, including for a Reserve+Refund escrow cycle that
// settles to zero net movement.
func TestReserveRefundNetsBalanceInvariant(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Settle("did:inos:alice", 100, true))
	require.NoError(t, l.FinalizePending(1))

	require.NoError(t, l.ReservePending("did:inos:alice", 40))
	require.NoError(t, l.RefundPending("did:inos:alice", 40))
	require.NoError(t, l.OnEpoch(2))

	acc, err := l.GetAccount("did:inos:alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), acc.Balance)
	assert.Equal(t, int64(0), acc.PendingBalance)
	assert.Equal(t, int64(acc.Balance), int64(acc.EarnedTotal)-int64(acc.SpentTotal))
}

func TestSealChangesAfterFinalize(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Settle("did:inos:alice", 10, true))
	require.NoError(t, l.FinalizePending(1))

	epoch, hash1, err := l.Seal()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), epoch)

	require.NoError(t, l.Settle("did:inos:alice", 10, true))
	require.NoError(t, l.FinalizePending(2))

	_, hash2, err := l.Seal()
	require.NoError(t, err)
	assert.NotEqual(t, hash1, hash2)
}
