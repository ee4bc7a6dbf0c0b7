package lend

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// Engine is the protocol's write surface. It orchestrates the
// cross-pool parts of each operation (pledging collateral on one pool
// while opening debt on another, valuing both sides in the compare
// currency) and persists committed state after every mutating turn.
type Engine struct {
	registry *Registry
	quotes   domain.QuoteCache
	compare  domain.Brand

	pools domain.PoolStore
	loans domain.LoanStore
	bus   domain.SignalBus
	log   *slog.Logger
}

// EngineDeps wires the engine's collaborators. Stores and bus may be
// nil in detect-only runs; persistence is then skipped.
type EngineDeps struct {
	Registry *Registry
	Quotes   domain.QuoteCache
	Compare  domain.Brand
	Pools    domain.PoolStore
	Loans    domain.LoanStore
	Bus      domain.SignalBus
	Logger   *slog.Logger
}

// NewEngine builds the engine.
func NewEngine(d EngineDeps) *Engine {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		registry: d.Registry,
		quotes:   d.Quotes,
		compare:  d.Compare,
		pools:    d.Pools,
		loans:    d.Loans,
		bus:      d.Bus,
		log:      log.With("component", "engine"),
	}
}

// Registry exposes the pool index for read paths.
func (e *Engine) Registry() *Registry { return e.registry }

// Compare returns the valuation currency brand.
func (e *Engine) Compare() domain.Brand { return e.compare }

// Deposit routes a deposit to the pool for the amount's brand.
func (e *Engine) Deposit(ctx context.Context, in domain.Amount) (domain.Amount, error) {
	p, err := e.registry.Get(in.Brand)
	if err != nil {
		return domain.Amount{}, err
	}
	minted, err := p.Deposit(in)
	if err != nil {
		return domain.Amount{}, err
	}
	e.persistPool(ctx, p)
	return minted, nil
}

// Redeem routes a redemption to the pool that minted the tokens.
func (e *Engine) Redeem(ctx context.Context, tokens domain.Amount) (domain.Amount, error) {
	p, err := e.registry.GetByToken(tokens.Brand)
	if err != nil {
		return domain.Amount{}, err
	}
	out, err := p.Redeem(tokens)
	if err != nil {
		return domain.Amount{}, err
	}
	e.persistPool(ctx, p)
	return out, nil
}

// Borrow opens a loan: pledge the collateral on its pool, value both
// sides at current prices, then open the debt position. A failed open
// releases the pledge.
func (e *Engine) Borrow(ctx context.Context, req domain.BorrowRequest) (*Loan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.CollateralUnderlying == req.WantDebt.Brand {
		return nil, fmt.Errorf("%w: collateral pool %s must differ from the debt pool",
			domain.ErrBrandMismatch, req.CollateralUnderlying)
	}
	debtPool, err := e.registry.Get(req.WantDebt.Brand)
	if err != nil {
		return nil, err
	}
	collatPool, err := e.registry.Get(req.CollateralUnderlying)
	if err != nil {
		return nil, err
	}
	if req.Collateral.Brand != collatPool.ProtocolToken() {
		return nil, fmt.Errorf("%w: collateral must be %s, got %s",
			domain.ErrBrandMismatch, collatPool.ProtocolToken(), req.Collateral)
	}

	cv, err := e.valueCollateral(ctx, collatPool, req.Collateral)
	if err != nil {
		return nil, err
	}
	dv, err := e.valueUnderlying(ctx, req.WantDebt)
	if err != nil {
		return nil, err
	}

	if err := collatPool.Pledge(req.Collateral); err != nil {
		return nil, err
	}
	l, err := debtPool.OpenLoan(req, cv, dv)
	if err != nil {
		if uerr := collatPool.Unpledge(req.Collateral); uerr != nil {
			e.log.Error("unpledge after failed borrow", "error", uerr)
		}
		return nil, err
	}

	e.persistPool(ctx, debtPool)
	e.persistPool(ctx, collatPool)
	e.persistLoan(ctx, l)
	e.log.Info("loan opened",
		"loan_id", l.ID, "borrower", l.Borrower,
		"debt", req.WantDebt.String(), "collateral", req.Collateral.String())
	return l, nil
}

// Adjust applies a give/want delta to an open loan, revaluing the
// post-adjustment position at current prices.
func (e *Engine) Adjust(ctx context.Context, debtUnderlying domain.Brand, loanID string, req domain.AdjustRequest) (*Loan, error) {
	debtPool, err := e.registry.Get(debtUnderlying)
	if err != nil {
		return nil, err
	}
	before, err := debtPool.Loan(loanID)
	if err != nil {
		return nil, err
	}
	collatPool, err := e.registry.Get(before.CollateralPool)
	if err != nil {
		return nil, err
	}

	// Rate and quotes are fetched up front so the valuation callback
	// stays pure and AdjustLoan never holds both pool locks at once.
	rate := collatPool.ExchangeRate()
	collatQuote, err := e.latestQuote(ctx, collatPool.Underlying())
	if err != nil {
		return nil, err
	}
	debtQuote, err := e.latestQuote(ctx, debtUnderlying)
	if err != nil {
		return nil, err
	}

	// Added collateral is pledged before the loan commits so the
	// collateral limit is checked against the balances about to be
	// written; a failed adjustment rolls the pledge back.
	giving := req.GiveCollateral.Value != nil && req.GiveCollateral.Sign() > 0
	if giving {
		if err := collatPool.Pledge(req.GiveCollateral); err != nil {
			return nil, err
		}
	}

	l, err := debtPool.AdjustLoan(loanID, req, func(collateral, debt domain.Amount) (*big.Int, *big.Int, error) {
		cv, err := collatQuote.Value(rate.Apply(collateral.Value))
		if err != nil {
			return nil, nil, err
		}
		dv, err := debtQuote.Value(debt.Value)
		if err != nil {
			return nil, nil, err
		}
		return cv, dv, nil
	})
	if err != nil {
		if giving {
			if uerr := collatPool.Unpledge(req.GiveCollateral); uerr != nil {
				e.log.Error("unpledge after failed adjust", "loan_id", loanID, "error", uerr)
			}
		}
		return nil, err
	}

	if req.WantCollateral.Value != nil && req.WantCollateral.Sign() > 0 {
		if uerr := collatPool.Unpledge(req.WantCollateral); uerr != nil {
			e.log.Error("unpledge after adjust", "loan_id", loanID, "error", uerr)
		}
	}

	e.persistPool(ctx, debtPool)
	e.persistPool(ctx, collatPool)
	e.persistLoan(ctx, l)
	return l, nil
}

// Close repays a loan in full, releases its collateral pledge, and
// returns the collateral plus any excess repayment. Closing a
// liquidated loan takes no payment and skips the pledge release, which
// the executor already performed at settlement.
func (e *Engine) Close(ctx context.Context, debtUnderlying domain.Brand, loanID string, repay domain.Amount) (CloseResult, error) {
	debtPool, err := e.registry.Get(debtUnderlying)
	if err != nil {
		return CloseResult{}, err
	}
	l, err := debtPool.Loan(loanID)
	if err != nil {
		return CloseResult{}, err
	}
	collatPool, err := e.registry.Get(l.CollateralPool)
	if err != nil {
		return CloseResult{}, err
	}

	res, err := debtPool.CloseLoan(loanID, repay)
	if err != nil {
		return CloseResult{}, err
	}
	if !res.WasLiquidated {
		if uerr := collatPool.Unpledge(res.Collateral); uerr != nil {
			e.log.Error("unpledge after close", "loan_id", loanID, "error", uerr)
		}
	}

	e.persistPool(ctx, debtPool)
	e.persistPool(ctx, collatPool)
	e.persistLoan(ctx, l)
	e.log.Info("loan closed", "loan_id", loanID, "refund", res.Refund.String())
	return res, nil
}

// ChargeInterest folds elapsed time into every pool and publishes an
// accrual signal for pools whose debt grew.
func (e *Engine) ChargeInterest(ctx context.Context, now time.Time) {
	for _, p := range e.registry.List() {
		interest := p.ChargeInterest(now)
		if interest.Sign() == 0 {
			continue
		}
		e.persistPool(ctx, p)
		e.publish(ctx, domain.Signal{
			Name:     domain.SignalInterestAccrued,
			DebtPool: p.Underlying(),
			Detail:   interest.String(),
			At:       now,
		})
		e.log.Info("interest accrued", "pool", p.Underlying(), "interest", interest.String())
	}
}

// UpdateRiskParams applies governance-approved parameters to one pool.
func (e *Engine) UpdateRiskParams(ctx context.Context, underlying domain.Brand, params RiskParams) error {
	p, err := e.registry.Get(underlying)
	if err != nil {
		return err
	}
	p.UpdateRiskParams(params)
	e.persistPool(ctx, p)
	e.publish(ctx, domain.Signal{
		Name:     domain.SignalRiskParamsUpdated,
		DebtPool: underlying,
		At:       time.Now(),
	})
	e.log.Info("risk params updated", "pool", underlying, "margin_bps", params.LiquidationMarginBps)
	return nil
}

// valueCollateral prices protocol-token collateral in the compare
// currency: tokens to underlying at the collateral pool's exchange
// rate, underlying to compare at the cached quote.
func (e *Engine) valueCollateral(ctx context.Context, collatPool *Pool, tokens domain.Amount) (*big.Int, error) {
	underlying := collatPool.ExchangeRate().Apply(tokens.Value)
	return e.valueUnderlying(ctx, domain.NewAmountBig(collatPool.Underlying(), underlying))
}

// valueUnderlying prices an underlying amount in the compare currency
// at the latest cached quote.
func (e *Engine) valueUnderlying(ctx context.Context, a domain.Amount) (*big.Int, error) {
	q, err := e.latestQuote(ctx, a.Brand)
	if err != nil {
		return nil, err
	}
	return q.Value(a.Value)
}

// latestQuote fetches the cached price of an asset in the compare
// currency.
func (e *Engine) latestQuote(ctx context.Context, asset domain.Brand) (domain.PriceQuote, error) {
	q, ok, err := e.quotes.GetQuote(ctx, asset, e.compare)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("quote %s/%s: %w", asset, e.compare, err)
	}
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("no quote for %s/%s", asset, e.compare)
	}
	return q, nil
}

func (e *Engine) persistPool(ctx context.Context, p *Pool) {
	if e.pools == nil {
		return
	}
	if err := e.pools.Upsert(ctx, p.Snapshot()); err != nil {
		e.log.Error("persist pool", "pool", p.Underlying(), "error", err)
	}
}

func (e *Engine) persistLoan(ctx context.Context, l *Loan) {
	if e.loans == nil {
		return
	}
	if err := e.loans.Upsert(ctx, l.Record()); err != nil {
		e.log.Error("persist loan", "loan_id", l.ID, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, s domain.Signal) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, s); err != nil {
		e.log.Error("publish signal", "signal", s.Name, "error", err)
	}
}
