package lend

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// RiskParams are the governance-settable knobs of one pool.
type RiskParams struct {
	// LiquidationMarginBps is the minimum collateral-to-debt ratio in
	// basis points. 15000 means collateral must exceed 1.5× the debt.
	LiquidationMarginBps uint64
	// BaseRateBps and MultiplierBps parameterize the annual borrowing
	// rate: base + multiplier × utilization.
	BaseRateBps   uint64
	MultiplierBps uint64
	// PenaltyRateBps scales the debt a liquidation must recover, in
	// basis points of the outstanding debt. 1000 means debt × 1.10.
	PenaltyRateBps uint64
	// CollateralLimit caps the pool's protocol tokens pledged as
	// collateral across all loans. Nil value means unlimited.
	CollateralLimit domain.Amount
	// Borrowable permits loans denominated in this pool's underlying.
	Borrowable bool
	// UsableAsCollateral permits this pool's protocol token as loan
	// collateral.
	UsableAsCollateral bool
}

// PoolConfig describes one pool at construction time.
type PoolConfig struct {
	Underlying    domain.Brand
	ProtocolToken domain.Brand
	// InitialRate prices the protocol token before any supply exists.
	InitialRate domain.Ratio
	Params      RiskParams
	Schedule    AccrualSchedule
}

// Pool is one asset's lending market. It mints a protocol token pegged
// to its exchange rate, lends its underlying against protocol-token
// collateral, and compounds interest lazily.
//
// All state is guarded by mu. Operations accrue interest before acting
// so every decision sees up-to-date debt.
type Pool struct {
	mu sync.Mutex

	underlying    domain.Brand
	protocolToken domain.Brand
	initialRate   domain.Ratio
	params        RiskParams
	sched         AccrualSchedule

	onHand         domain.Amount // underlying held, not lent out
	totalDebt      domain.Amount // underlying lent out plus accrued interest
	protocolSupply domain.Amount // protocol tokens outstanding
	totalPledged   domain.Amount // this pool's protocol tokens pledged as collateral

	compound    domain.Ratio
	lastAccrual time.Time

	loans map[string]*Loan
	// priority orders this pool's open loans per collateral brand.
	priority map[domain.Brand]*PriorityStore

	now func() time.Time
}

// NewPool builds an empty pool.
func NewPool(cfg PoolConfig) *Pool {
	sched := cfg.Schedule
	if sched.RecordingPeriod <= 0 {
		sched = DefaultSchedule()
	}
	p := &Pool{
		underlying:     cfg.Underlying,
		protocolToken:  cfg.ProtocolToken,
		initialRate:    cfg.InitialRate.Clone(),
		params:         cfg.Params,
		sched:          sched,
		onHand:         domain.ZeroAmount(cfg.Underlying),
		totalDebt:      domain.ZeroAmount(cfg.Underlying),
		protocolSupply: domain.ZeroAmount(cfg.ProtocolToken),
		totalPledged:   domain.ZeroAmount(cfg.ProtocolToken),
		compound:       domain.OneRatio(domain.CompoundDenom),
		loans:          make(map[string]*Loan),
		priority:       make(map[domain.Brand]*PriorityStore),
		now:            time.Now,
	}
	p.lastAccrual = p.now()
	return p
}

// Underlying returns the pool's underlying brand.
func (p *Pool) Underlying() domain.Brand { return p.underlying }

// ProtocolToken returns the pool's protocol-token brand.
func (p *Pool) ProtocolToken() domain.Brand { return p.protocolToken }

// Params returns a copy of the current risk parameters.
func (p *Pool) Params() RiskParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params
}

// ExchangeRate returns the current protocol-token price in underlying
// units, accruing first.
func (p *Pool) ExchangeRate() domain.Ratio {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrueLocked(p.now())
	return p.rateLocked()
}

// BorrowingRate returns the current annual borrowing rate in basis
// points, accruing first.
func (p *Pool) BorrowingRate() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrueLocked(p.now())
	return p.borrowingRateLocked()
}

// Deposit takes underlying and mints protocol tokens at the current
// exchange rate.
func (p *Pool) Deposit(in domain.Amount) (domain.Amount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if in.Brand != p.underlying || in.Sign() <= 0 {
		return domain.Amount{}, fmt.Errorf("%w: deposit wants positive %s, got %s", domain.ErrBrandMismatch, p.underlying, in)
	}
	p.accrueLocked(p.now())

	rate := p.rateLocked()
	minted := domain.NewAmountBig(p.protocolToken, rate.ApplyInverse(in.Value))

	p.onHand.Value.Add(p.onHand.Value, in.Value)
	p.protocolSupply.Value.Add(p.protocolSupply.Value, minted.Value)
	return minted, nil
}

// Redeem burns protocol tokens and pays out underlying at the current
// exchange rate. Fails with ErrInsufficientLiquidity when the payout
// exceeds the funds on hand; lent-out funds cannot be redeemed.
func (p *Pool) Redeem(tokens domain.Amount) (domain.Amount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.redeemLocked(tokens)
}

func (p *Pool) redeemLocked(tokens domain.Amount) (domain.Amount, error) {
	if tokens.Brand != p.protocolToken || tokens.Sign() <= 0 {
		return domain.Amount{}, fmt.Errorf("%w: redeem wants positive %s, got %s", domain.ErrBrandMismatch, p.protocolToken, tokens)
	}
	p.accrueLocked(p.now())

	if tokens.Value.Cmp(p.protocolSupply.Value) > 0 {
		return domain.Amount{}, fmt.Errorf("%w: redeem %s exceeds supply %s", domain.ErrInsufficientLiquidity, tokens, p.protocolSupply)
	}
	payout := domain.NewAmountBig(p.underlying, p.rateLocked().Apply(tokens.Value))
	if payout.Value.Cmp(p.onHand.Value) > 0 {
		return domain.Amount{}, fmt.Errorf("%w: payout %s exceeds on-hand %s", domain.ErrInsufficientLiquidity, payout, p.onHand)
	}
	p.protocolSupply.Value.Sub(p.protocolSupply.Value, tokens.Value)
	p.onHand.Value.Sub(p.onHand.Value, payout.Value)
	return payout, nil
}

// Pledge reserves protocol tokens of this pool as loan collateral,
// enforcing the governance collateral limit.
func (p *Pool) Pledge(tokens domain.Amount) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tokens.Brand != p.protocolToken {
		return fmt.Errorf("%w: pledge wants %s, got %s", domain.ErrBrandMismatch, p.protocolToken, tokens)
	}
	if !p.params.UsableAsCollateral {
		return fmt.Errorf("%w: %s", domain.ErrCollateralNotEnabled, p.protocolToken)
	}
	next := new(big.Int).Add(p.totalPledged.Value, tokens.Value)
	if p.params.CollateralLimit.Value != nil && next.Cmp(p.params.CollateralLimit.Value) > 0 {
		return fmt.Errorf("%w: %s + %s exceeds limit %s", domain.ErrCollateralLimitExceeded, p.totalPledged, tokens, p.params.CollateralLimit)
	}
	p.totalPledged.Value = next
	return nil
}

// Unpledge releases previously pledged protocol tokens.
func (p *Pool) Unpledge(tokens domain.Amount) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tokens.Brand != p.protocolToken {
		return fmt.Errorf("%w: unpledge wants %s, got %s", domain.ErrBrandMismatch, p.protocolToken, tokens)
	}
	if tokens.Value.Cmp(p.totalPledged.Value) > 0 {
		return fmt.Errorf("unpledge %s exceeds pledged %s", tokens, p.totalPledged)
	}
	p.totalPledged.Value.Sub(p.totalPledged.Value, tokens.Value)
	return nil
}

// OpenLoan lends WantDebt against the request's collateral. The caller
// supplies both sides valued in the compare currency at current prices;
// the loan opens only when collateral / debt meets the liquidation
// margin. Collateral must already be pledged on its own pool.
func (p *Pool) OpenLoan(req domain.BorrowRequest, collateralValue, debtValue *big.Int) (*Loan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.params.Borrowable {
		return nil, fmt.Errorf("%w: %s", domain.ErrPoolNotBorrowable, p.underlying)
	}
	if req.WantDebt.Brand != p.underlying {
		return nil, fmt.Errorf("%w: borrow wants %s, got %s", domain.ErrBrandMismatch, p.underlying, req.WantDebt)
	}
	p.accrueLocked(p.now())

	if req.WantDebt.Value.Cmp(p.onHand.Value) > 0 {
		return nil, fmt.Errorf("%w: borrow %s exceeds on-hand %s", domain.ErrInsufficientLiquidity, req.WantDebt, p.onHand)
	}
	if !MeetsMargin(p.params.LiquidationMarginBps, collateralValue, debtValue) {
		return nil, fmt.Errorf("%w: collateral %s vs debt %s at margin %d bps",
			domain.ErrUndercollateralizedRequest, collateralValue, debtValue, p.params.LiquidationMarginBps)
	}

	l := newLoan(req, p.underlying, req.WantDebt, p.compound)
	p.onHand.Value.Sub(p.onHand.Value, req.WantDebt.Value)
	p.totalDebt.Value.Add(p.totalDebt.Value, req.WantDebt.Value)
	p.loans[l.ID] = l
	p.storeFor(l.CollateralPool).Insert(l)
	return l, nil
}

// AdjustLoan applies a give/want delta to an open loan. The valuation
// callback prices the post-adjustment balances in the compare currency;
// the adjustment commits only when the result meets the margin.
// Repeating an identical repay after a success fails on the margin of
// the already-reduced debt only if undercollateralized, so repays are
// safe to retry.
func (p *Pool) AdjustLoan(id string, req domain.AdjustRequest, value func(collateral, debt domain.Amount) (cv, dv *big.Int, err error)) (*Loan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.loans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrLoanNotFound, id)
	}
	if l.Phase != PhaseActive {
		return nil, fmt.Errorf("%w: adjust on %s loan", domain.ErrInvalidPhaseTransition, l.Phase)
	}
	p.accrueLocked(p.now())
	l.rebase(p.compound)

	newCollateral := l.Collateral.Clone()
	newDebt := l.DebtSnapshot.Clone()

	if req.GiveCollateral.Value != nil && req.GiveCollateral.Sign() > 0 {
		if req.GiveCollateral.Brand != newCollateral.Brand {
			return nil, fmt.Errorf("%w: collateral is %s", domain.ErrBrandMismatch, newCollateral.Brand)
		}
		newCollateral.Value.Add(newCollateral.Value, req.GiveCollateral.Value)
	}
	if req.WantCollateral.Value != nil && req.WantCollateral.Sign() > 0 {
		if req.WantCollateral.Brand != newCollateral.Brand {
			return nil, fmt.Errorf("%w: collateral is %s", domain.ErrBrandMismatch, newCollateral.Brand)
		}
		newCollateral.Value.Sub(newCollateral.Value, req.WantCollateral.Value)
		if newCollateral.Sign() < 0 {
			return nil, fmt.Errorf("withdraw %s exceeds collateral %s", req.WantCollateral, l.Collateral)
		}
	}
	if req.GiveDebt.Value != nil && req.GiveDebt.Sign() > 0 {
		if req.GiveDebt.Brand != p.underlying {
			return nil, fmt.Errorf("%w: debt is %s", domain.ErrBrandMismatch, p.underlying)
		}
		repay := req.GiveDebt.Value
		if repay.Cmp(newDebt.Value) > 0 {
			repay = newDebt.Value
		}
		newDebt.Value.Sub(newDebt.Value, repay)
	}
	if req.WantDebt.Value != nil && req.WantDebt.Sign() > 0 {
		if req.WantDebt.Brand != p.underlying {
			return nil, fmt.Errorf("%w: debt is %s", domain.ErrBrandMismatch, p.underlying)
		}
		if req.WantDebt.Value.Cmp(p.onHand.Value) > 0 {
			return nil, fmt.Errorf("%w: draw %s exceeds on-hand %s", domain.ErrInsufficientLiquidity, req.WantDebt, p.onHand)
		}
		newDebt.Value.Add(newDebt.Value, req.WantDebt.Value)
	}

	cv, dv, err := value(newCollateral, newDebt)
	if err != nil {
		return nil, err
	}
	if !MeetsMargin(p.params.LiquidationMarginBps, cv, dv) {
		return nil, fmt.Errorf("%w: collateral %s vs debt %s at margin %d bps",
			domain.ErrInsufficientCollateralization, cv, dv, p.params.LiquidationMarginBps)
	}

	// Commit. Debt delta moves between onHand and totalDebt; repaid
	// interest lands in onHand the same way repaid principal does.
	debtDelta := new(big.Int).Sub(newDebt.Value, l.DebtSnapshot.Value)
	p.totalDebt.Value.Add(p.totalDebt.Value, debtDelta)
	p.onHand.Value.Sub(p.onHand.Value, debtDelta)

	l.Collateral = newCollateral
	l.DebtSnapshot = newDebt
	p.storeFor(l.CollateralPool).RemoveAndReinsert(l)
	return l, nil
}

// CloseResult reports a committed close.
type CloseResult struct {
	// Collateral goes back to the borrower; the caller releases its
	// pledge on the collateral pool.
	Collateral domain.Amount
	// Refund is the part of the repayment exceeding the live debt.
	Refund domain.Amount
	// WasLiquidated marks a payment-free close of a liquidated loan.
	// The executor released the collateral pledge at settlement, so
	// the caller must not release it again.
	WasLiquidated bool
}

// CloseLoan repays the full live debt and closes the loan, returning
// the collateral and any excess repayment. A liquidated loan closes
// without payment: its debt was written off at settlement, so the
// borrower claims the unsold collateral and the repay comes back
// untouched as the refund.
func (p *Pool) CloseLoan(id string, repay domain.Amount) (CloseResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.loans[id]
	if !ok {
		return CloseResult{}, fmt.Errorf("%w: %s", domain.ErrLoanNotFound, id)
	}
	if repay.Brand != p.underlying {
		return CloseResult{}, fmt.Errorf("%w: repay wants %s, got %s", domain.ErrBrandMismatch, p.underlying, repay)
	}

	if l.Phase == PhaseLiquidated {
		if err := l.setPhase(PhaseClosed); err != nil {
			return CloseResult{}, err
		}
		collateral := l.Collateral
		l.Collateral = domain.ZeroAmount(collateral.Brand)
		return CloseResult{Collateral: collateral, Refund: repay.Clone(), WasLiquidated: true}, nil
	}

	p.accrueLocked(p.now())
	l.rebase(p.compound)

	if repay.Value.Cmp(l.DebtSnapshot.Value) < 0 {
		return CloseResult{}, fmt.Errorf("%w: owe %s, got %s", domain.ErrRepaymentShort, l.DebtSnapshot, repay)
	}
	if err := l.setPhase(PhaseClosed); err != nil {
		return CloseResult{}, err
	}

	refund := domain.NewAmountBig(p.underlying, new(big.Int).Sub(repay.Value, l.DebtSnapshot.Value))
	p.onHand.Value.Add(p.onHand.Value, l.DebtSnapshot.Value)
	p.totalDebt.Value.Sub(p.totalDebt.Value, l.DebtSnapshot.Value)
	collateral := l.Collateral
	l.DebtSnapshot = domain.ZeroAmount(p.underlying)
	l.Collateral = domain.ZeroAmount(collateral.Brand)
	p.storeFor(l.CollateralPool).Remove(l)
	return CloseResult{Collateral: collateral, Refund: refund}, nil
}

// BeginLiquidation moves a loan into the durable liquidating phase and
// drops it from the priority ordering. Returns the loan's collateral
// and live debt frozen at this instant.
func (p *Pool) BeginLiquidation(id string) (*Loan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.loans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrLoanNotFound, id)
	}
	p.accrueLocked(p.now())
	l.rebase(p.compound)
	if err := l.setPhase(PhaseLiquidating); err != nil {
		return nil, err
	}
	p.storeFor(l.CollateralPool).Remove(l)
	return l, nil
}

// SettleLiquidation books the proceeds of a collateral sale: proceeds
// join the funds on hand, the loan's pre-penalty debt leaves the total,
// and the loan becomes liquidated with zero debt. Any unsold collateral
// stays on the loan for the borrower to claim.
func (p *Pool) SettleLiquidation(id string, proceeds, leftoverCollateral domain.Amount) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.loans[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrLoanNotFound, id)
	}
	if proceeds.Brand != p.underlying {
		return fmt.Errorf("%w: proceeds want %s, got %s", domain.ErrBrandMismatch, p.underlying, proceeds)
	}
	if err := l.setPhase(PhaseLiquidated); err != nil {
		return err
	}
	p.onHand.Value.Add(p.onHand.Value, proceeds.Value)
	p.totalDebt.Value.Sub(p.totalDebt.Value, l.DebtSnapshot.Value)
	if p.totalDebt.Sign() < 0 {
		p.totalDebt.Value.SetInt64(0)
	}
	l.DebtSnapshot = domain.ZeroAmount(p.underlying)
	l.Collateral = leftoverCollateral.Clone()
	return nil
}

// ChargeInterest folds elapsed recording periods into the pool's index.
// Safe to call at any cadence; zero elapsed periods is a no-op.
func (p *Pool) ChargeInterest(now time.Time) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accrueLocked(now)
}

// UpdateRiskParams replaces the pool's governance parameters, accruing
// at the old rate first so the change is not retroactive.
func (p *Pool) UpdateRiskParams(params RiskParams) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrueLocked(p.now())
	p.params = params
}

// Loan returns the loan by id.
func (p *Pool) Loan(id string) (*Loan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.loans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrLoanNotFound, id)
	}
	return l, nil
}

// CurrentDebt returns the loan's live debt at the pool's current index.
func (p *Pool) CurrentDebt(id string) (domain.Amount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.loans[id]
	if !ok {
		return domain.Amount{}, fmt.Errorf("%w: %s", domain.ErrLoanNotFound, id)
	}
	p.accrueLocked(p.now())
	return l.CurrentDebt(p.compound), nil
}

// PositionBalances returns defensive copies of a loan's pledged
// collateral and live debt, read under the pool's lock after accruing.
func (p *Pool) PositionBalances(id string) (collateral, debt domain.Amount, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.loans[id]
	if !ok {
		return domain.Amount{}, domain.Amount{}, fmt.Errorf("%w: %s", domain.ErrLoanNotFound, id)
	}
	p.accrueLocked(p.now())
	return l.Collateral.Clone(), l.CurrentDebt(p.compound), nil
}

// Priority returns the ordering for one collateral brand, creating it
// on first use.
func (p *Pool) Priority(collateral domain.Brand) *PriorityStore {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.storeFor(collateral)
}

// CollateralBrands lists the collateral brands with open orderings.
func (p *Pool) CollateralBrands() []domain.Brand {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Brand, 0, len(p.priority))
	for b := range p.priority {
		out = append(out, b)
	}
	return out
}

// Snapshot captures the pool's ledgers for persistence.
func (p *Pool) Snapshot() domain.PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.PoolSnapshot{
		Underlying:      p.underlying,
		ProtocolToken:   p.protocolToken,
		OnHand:          p.onHand.Clone(),
		TotalDebt:       p.totalDebt.Clone(),
		ProtocolSupply:  p.protocolSupply.Clone(),
		TotalPledged:    p.totalPledged.Clone(),
		Compound:        p.compound.Clone(),
		LastAccrual:     p.lastAccrual,
		LiquidationBps:  p.params.LiquidationMarginBps,
		BaseRateBps:     p.params.BaseRateBps,
		MultiplierBps:   p.params.MultiplierBps,
		PenaltyRateBps:  p.params.PenaltyRateBps,
		Borrowable:      p.params.Borrowable,
		UsableAsCollat:  p.params.UsableAsCollateral,
		CollateralLimit: p.params.CollateralLimit.Clone(),
	}
}

// rateLocked derives the exchange rate from current ledgers.
func (p *Pool) rateLocked() domain.Ratio {
	return ExchangeRate(p.onHand.Value, p.totalDebt.Value, p.protocolSupply.Value, p.initialRate)
}

func (p *Pool) borrowingRateLocked() uint64 {
	util := UtilizationRate(p.onHand.Value, p.totalDebt.Value)
	return BorrowingRate(p.params.BaseRateBps, p.params.MultiplierBps, util)
}

// accrueLocked folds elapsed time into the compounded index and total
// debt at the rate in force since the last fold. Accrued interest
// raises totalDebt only; the exchange-rate numerator rises by exactly
// the accrued amount, which is how depositors earn it.
func (p *Pool) accrueLocked(now time.Time) *big.Int {
	acc := AccrueInterest(p.compound, p.totalDebt.Value, p.borrowingRateLocked(), p.lastAccrual, now, p.sched)
	if acc.Periods == 0 {
		return big.NewInt(0)
	}
	p.compound = acc.Compound
	p.totalDebt.Value = acc.TotalDebt
	p.lastAccrual = acc.LastAccrual
	return acc.Interest
}

func (p *Pool) storeFor(collateral domain.Brand) *PriorityStore {
	s, ok := p.priority[collateral]
	if !ok {
		s = NewPriorityStore()
		p.priority[collateral] = s
	}
	return s
}
