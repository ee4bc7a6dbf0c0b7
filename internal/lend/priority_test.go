package lend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

func trackedLoan(id string, collateral, debt int64) *Loan {
	return &Loan{
		ID:               id,
		Borrower:         "alice",
		DebtPool:         "ATOM",
		CollateralPool:   "OSMO",
		Collateral:       domain.NewAmount("aOSMO", collateral),
		DebtSnapshot:     domain.NewAmount("ATOM", debt),
		InterestSnapshot: domain.OneRatio(domain.CompoundDenom),
		Phase:            PhaseActive,
	}
}

func TestPriorityStoreOrdersByCollateralization(t *testing.T) {
	s := NewPriorityStore()
	safe := trackedLoan("safe", 400, 100)
	risky := trackedLoan("risky", 110, 100)

	s.Insert(safe)
	s.Insert(risky)

	require.NotNil(t, s.MostAtRisk())
	assert.Equal(t, "risky", s.MostAtRisk().ID)
	assert.Equal(t, 2, s.Len())
}

func TestPriorityStoreZeroCollateralSortsFirst(t *testing.T) {
	s := NewPriorityStore()
	s.Insert(trackedLoan("thin", 1, 1_000_000))
	s.Insert(trackedLoan("bare", 0, 100))

	assert.Equal(t, "bare", s.MostAtRisk().ID)
}

func TestPriorityStoreZeroDebtSortsLast(t *testing.T) {
	s := NewPriorityStore()
	s.Insert(trackedLoan("paid", 100, 0))
	s.Insert(trackedLoan("fat", 1_000_000, 1))

	assert.Equal(t, "fat", s.MostAtRisk().ID)
}

func TestPriorityStoreTieBreaksOnID(t *testing.T) {
	s := NewPriorityStore()
	s.Insert(trackedLoan("b", 200, 100))
	s.Insert(trackedLoan("a", 200, 100))

	assert.Equal(t, "a", s.MostAtRisk().ID)
}

func TestPriorityStoreRemove(t *testing.T) {
	s := NewPriorityStore()
	risky := trackedLoan("risky", 110, 100)
	safe := trackedLoan("safe", 400, 100)
	s.Insert(risky)
	s.Insert(safe)

	s.Remove(risky)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "safe", s.MostAtRisk().ID)

	// Removing an untracked loan is harmless.
	s.Remove(risky)
	assert.Equal(t, 1, s.Len())
}

func TestPriorityStoreRemoveAndReinsert(t *testing.T) {
	s := NewPriorityStore()
	a := trackedLoan("a", 400, 100)
	b := trackedLoan("b", 200, 100)
	s.Insert(a)
	s.Insert(b)
	require.Equal(t, "b", s.MostAtRisk().ID)

	// a draws more debt and overtakes b.
	a.DebtSnapshot = domain.NewAmount("ATOM", 300)
	s.RemoveAndReinsert(a)
	assert.Equal(t, "a", s.MostAtRisk().ID)
	assert.Equal(t, 2, s.Len())
}

func TestPriorityStoreOnReorderFiresOnMinChange(t *testing.T) {
	s := NewPriorityStore()
	var fired []*Loan
	s.SetOnReorder(func(l *Loan) { fired = append(fired, l) })

	risky := trackedLoan("risky", 110, 100)
	safe := trackedLoan("safe", 400, 100)

	// First insert changes the minimum from nothing to risky.
	s.Insert(risky)
	require.Len(t, fired, 1)
	assert.Equal(t, "risky", fired[0].ID)

	// A safer loan does not displace the minimum.
	s.Insert(safe)
	assert.Len(t, fired, 1)

	// Removing the minimum promotes safe.
	s.Remove(risky)
	require.Len(t, fired, 2)
	assert.Equal(t, "safe", fired[1].ID)
}

func TestPriorityStoreNormalizedKeyIgnoresAccrual(t *testing.T) {
	// Two loans booked at different compound indices with the same
	// normalized debt carry the same key up to float precision.
	a := trackedLoan("a", 200, 100)
	b := trackedLoan("b", 200, 110)
	b.InterestSnapshot = domain.NewRatio(110, 100)

	assert.InDelta(t, priorityKey(a), priorityKey(b), 1e-9)
}
