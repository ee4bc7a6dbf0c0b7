package domain

import (
	"context"
	"time"
)

// ListOpts paginates store listings.
type ListOpts struct {
	Limit  int
	Offset int
}

// PoolSnapshot is the persisted view of one pool's ledgers, written
// after every committed mutating turn. The lending core remains the
// source of truth within a run; snapshots exist for restart and audit.
type PoolSnapshot struct {
	Underlying      Brand
	ProtocolToken   Brand
	OnHand          Amount
	TotalDebt       Amount
	ProtocolSupply  Amount
	TotalPledged    Amount
	Compound        Ratio
	LastAccrual     time.Time
	LiquidationBps  uint64
	BaseRateBps     uint64
	MultiplierBps   uint64
	PenaltyRateBps  uint64
	Borrowable      bool
	UsableAsCollat  bool
	CollateralLimit Amount
	UpdatedAt       time.Time
}

// LoanRecord is the persisted view of one loan.
type LoanRecord struct {
	ID               string
	Borrower         string
	DebtPool         Brand
	CollateralPool   Brand
	Collateral       Amount
	DebtSnapshot     Amount
	InterestSnapshot Ratio
	Phase            string
	UpdatedAt        time.Time
}

// LiquidationRecord is the audit row written when a liquidation
// settles or fails, including the two quotes that triggered it.
type LiquidationRecord struct {
	ID              string
	LoanID          string
	Borrower        string
	DebtPool        Brand
	CollateralPool  Brand
	Debt            Amount
	DebtWithPenalty Amount
	CollateralSold  Amount
	ProceedsOut     Amount
	Leftover        Amount
	CollateralQuote PriceQuote
	DebtQuote       PriceQuote
	Status          string // "settled" | "failed"
	FailureReason   string
	TriggeredAt     time.Time
	SettledAt       *time.Time
}

// Liquidation record statuses.
const (
	LiquidationPending = "pending"
	LiquidationSettled = "settled"
	LiquidationFailed  = "failed"
)

// PoolStore persists pool snapshots.
type PoolStore interface {
	Upsert(ctx context.Context, snap PoolSnapshot) error
	Get(ctx context.Context, underlying Brand) (PoolSnapshot, error)
	List(ctx context.Context, opts ListOpts) ([]PoolSnapshot, error)
}

// LoanStore persists loan records.
type LoanStore interface {
	Upsert(ctx context.Context, rec LoanRecord) error
	Get(ctx context.Context, id string) (LoanRecord, error)
	ListByPool(ctx context.Context, debtPool Brand, opts ListOpts) ([]LoanRecord, error)
	ListByPhase(ctx context.Context, phase string, opts ListOpts) ([]LoanRecord, error)
}

// LiquidationStore persists the liquidation audit trail.
type LiquidationStore interface {
	Create(ctx context.Context, rec LiquidationRecord) error
	Update(ctx context.Context, rec LiquidationRecord) error
	Get(ctx context.Context, id string) (LiquidationRecord, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]LiquidationRecord, error)
	// ListSettledBefore feeds the archiver: settled records older than
	// the cutoff.
	ListSettledBefore(ctx context.Context, cutoff time.Time, opts ListOpts) ([]LiquidationRecord, error)
}
