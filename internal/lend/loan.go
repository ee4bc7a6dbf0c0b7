package lend

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// Phase is the lifecycle state of a loan.
type Phase string

const (
	// PhaseActive accepts balance adjustments and is watched for margin.
	PhaseActive Phase = "active"
	// PhaseLiquidating is the durable mid-liquidation state. A failed
	// collateral sale leaves the loan here; it never returns to active.
	PhaseLiquidating Phase = "liquidating"
	// PhaseLiquidated has its debt written off; leftover collateral is
	// claimable by the borrower, which closes the loan.
	PhaseLiquidated Phase = "liquidated"
	// PhaseClosed is terminal: debt repaid in full, collateral returned.
	PhaseClosed Phase = "closed"
)

var phaseTransitions = map[Phase][]Phase{
	PhaseActive:      {PhaseLiquidating, PhaseClosed},
	PhaseLiquidating: {PhaseLiquidated},
	PhaseLiquidated:  {PhaseClosed},
}

// Loan is one borrower position against a debt pool. All fields are
// guarded by the owning pool's lock.
//
// DebtSnapshot and InterestSnapshot implement lazy compounding: the
// debt is only re-based when the loan is touched, and the live debt at
// any instant is DebtSnapshot × poolCompound / InterestSnapshot.
type Loan struct {
	ID       string
	Borrower string

	// DebtPool is the underlying brand of the pool the debt is owed to.
	DebtPool domain.Brand
	// CollateralPool is the underlying brand of the pool whose protocol
	// tokens are pledged.
	CollateralPool domain.Brand

	// Collateral is denominated in the collateral pool's protocol token.
	Collateral domain.Amount

	DebtSnapshot     domain.Amount
	InterestSnapshot domain.Ratio

	Phase Phase
}

func newLoan(req domain.BorrowRequest, debtPool domain.Brand, debt domain.Amount, compound domain.Ratio) *Loan {
	return &Loan{
		ID:               uuid.NewString(),
		Borrower:         req.Borrower,
		DebtPool:         debtPool,
		CollateralPool:   req.CollateralUnderlying,
		Collateral:       req.Collateral.Clone(),
		DebtSnapshot:     debt.Clone(),
		InterestSnapshot: compound.Clone(),
		Phase:            PhaseActive,
	}
}

// CurrentDebt computes the live debt at the pool's current compounded
// index without mutating the snapshot.
func (l *Loan) CurrentDebt(poolCompound domain.Ratio) domain.Amount {
	if l.DebtSnapshot.IsZero() {
		return domain.ZeroAmount(l.DebtSnapshot.Brand)
	}
	growth := new(big.Rat).Quo(poolCompound.Rat(), l.InterestSnapshot.Rat())
	return domain.NewAmountBig(l.DebtSnapshot.Brand, applyRat(l.DebtSnapshot.Value, growth))
}

// rebase folds the pool's current compounded index into the snapshot so
// subsequent deltas apply to an up-to-date debt.
func (l *Loan) rebase(poolCompound domain.Ratio) {
	l.DebtSnapshot = l.CurrentDebt(poolCompound)
	l.InterestSnapshot = poolCompound.Clone()
}

// NormalizedDebt divides the compounded index back out of the snapshot.
// Because every open loan's debt grows by the same index, the
// normalized value is time-independent and keeps the priority ordering
// stable across accruals.
func (l *Loan) NormalizedDebt() *big.Rat {
	if l.DebtSnapshot.IsZero() || l.InterestSnapshot.IsZero() {
		return new(big.Rat)
	}
	return new(big.Rat).Quo(new(big.Rat).SetInt(l.DebtSnapshot.Value), l.InterestSnapshot.Rat())
}

// setPhase validates and applies a lifecycle transition.
func (l *Loan) setPhase(next Phase) error {
	for _, ok := range phaseTransitions[l.Phase] {
		if ok == next {
			l.Phase = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidPhaseTransition, l.Phase, next)
}

// Record converts the loan into its persisted form.
func (l *Loan) Record() domain.LoanRecord {
	return domain.LoanRecord{
		ID:               l.ID,
		Borrower:         l.Borrower,
		DebtPool:         l.DebtPool,
		CollateralPool:   l.CollateralPool,
		Collateral:       l.Collateral.Clone(),
		DebtSnapshot:     l.DebtSnapshot.Clone(),
		InterestSnapshot: l.InterestSnapshot.Clone(),
		Phase:            string(l.Phase),
	}
}
