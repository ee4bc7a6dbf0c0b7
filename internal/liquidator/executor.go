// Package liquidator turns margin breaches into collateral sales. The
// executor runs the full liquidation sequence for one loan: freeze the
// position, redeem collateral, sell it on the AMM, and book the
// proceeds back into the debt pool.
package liquidator

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/lendcore/internal/domain"
	"github.com/alanyoungcy/lendcore/internal/lend"
	"github.com/alanyoungcy/lendcore/internal/notify"
)

// AMM is the swap venue collateral is sold through.
type AMM interface {
	// InputPrice quotes how much of inBrand must be given to receive out.
	InputPrice(ctx context.Context, out domain.Amount, inBrand domain.Brand) (domain.Amount, error)
	// SwapIn sells in for outBrand, failing with ErrSlippageExceeded
	// when the venue cannot deliver minOut.
	SwapIn(ctx context.Context, in domain.Amount, outBrand domain.Brand, minOut domain.Amount) (domain.Amount, error)
}

// Executor sells collateral of breached loans. It is driven by the
// observers, which guarantee at most one run per pool pair at a time.
type Executor struct {
	registry *lend.Registry
	amm      AMM

	audits   domain.LiquidationStore
	bus      domain.SignalBus
	notifier *notify.Notifier
	log      *slog.Logger

	// detectOnly logs the breach and stops before touching state.
	detectOnly bool
}

// Deps wires the executor. Audits, bus, and notifier may be nil.
type Deps struct {
	Registry   *lend.Registry
	AMM        AMM
	Audits     domain.LiquidationStore
	Bus        domain.SignalBus
	Notifier   *notify.Notifier
	Logger     *slog.Logger
	DetectOnly bool
}

// New builds the executor.
func New(d Deps) *Executor {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		registry:   d.Registry,
		amm:        d.AMM,
		audits:     d.Audits,
		bus:        d.Bus,
		notifier:   d.Notifier,
		log:        log.With("component", "liquidator"),
		detectOnly: d.DetectOnly,
	}
}

// Liquidate runs the full sequence for one breached loan. A failure
// after the position is frozen leaves the loan durably liquidating; it
// never returns to active, and a later retry picks it up from the
// audit trail.
func (e *Executor) Liquidate(ctx context.Context, loan *lend.Loan, collatQuote, debtQuote domain.PriceQuote) {
	log := e.log.With("loan_id", loan.ID, "debt_pool", loan.DebtPool, "collateral_pool", loan.CollateralPool)

	if e.detectOnly {
		log.Info("liquidation detected, detect-only run")
		return
	}

	debtPool, err := e.registry.Get(loan.DebtPool)
	if err != nil {
		log.Error("resolve debt pool", "error", err)
		return
	}
	collatPool, err := e.registry.Get(loan.CollateralPool)
	if err != nil {
		log.Error("resolve collateral pool", "error", err)
		return
	}

	frozen, err := debtPool.BeginLiquidation(loan.ID)
	if err != nil {
		// Another turn beat us to it; nothing to do.
		log.Warn("begin liquidation", "error", err)
		return
	}
	debt := frozen.DebtSnapshot.Clone()
	collateral := frozen.Collateral.Clone()

	rec := domain.LiquidationRecord{
		ID:              uuid.NewString(),
		LoanID:          frozen.ID,
		Borrower:        frozen.Borrower,
		DebtPool:        frozen.DebtPool,
		CollateralPool:  frozen.CollateralPool,
		Debt:            debt.Clone(),
		CollateralQuote: collatQuote,
		DebtQuote:       debtQuote,
		Status:          domain.LiquidationPending,
		TriggeredAt:     time.Now(),
	}
	e.createAudit(ctx, &rec)
	e.publish(ctx, domain.SignalLiquidationTriggered, frozen.ID, frozen.DebtPool, "")
	e.notify(ctx, domain.SignalLiquidationTriggered, "Liquidation triggered",
		"loan "+frozen.ID+" owes "+debt.String())

	// Debt to recover, grown by the penalty.
	penalty := domain.RatioFromBps(domain.BasisPoints + debtPool.Params().PenaltyRateBps)
	required := domain.NewAmountBig(debt.Brand, penalty.Apply(debt.Value))
	rec.DebtWithPenalty = required.Clone()

	// Price the sale before redeeming anything: how much collateral
	// underlying the venue wants for the required debt, capped by what
	// the loan actually holds.
	rate := collatPool.ExchangeRate()
	availableUnderlying := domain.NewAmountBig(collatPool.Underlying(), rate.Apply(collateral.Value))

	neededIn, err := e.amm.InputPrice(ctx, required, collatPool.Underlying())
	if err != nil {
		e.fail(ctx, &rec, log, "price collateral sale", err)
		return
	}
	tradeIn, err := neededIn.Min(availableUnderlying)
	if err != nil {
		e.fail(ctx, &rec, log, "size trade", err)
		return
	}

	// Redeem only the tokens backing the trade; the rest stays with the
	// loan for the borrower to claim.
	tokensToSell := domain.NewAmountBig(collateral.Brand, rate.ApplyInverse(tradeIn.Value))
	tokensToSell, err = tokensToSell.Min(collateral)
	if err != nil {
		e.fail(ctx, &rec, log, "size redemption", err)
		return
	}
	if uerr := collatPool.Unpledge(tokensToSell); uerr != nil {
		log.Error("unpledge collateral", "error", uerr)
	}
	soldUnderlying, err := collatPool.Redeem(tokensToSell)
	if err != nil {
		e.fail(ctx, &rec, log, "redeem collateral", err)
		return
	}
	rec.CollateralSold = tokensToSell.Clone()

	// Selling everything cannot also demand the full required out.
	minOut := domain.ZeroAmount(required.Brand)
	if c, _ := tradeIn.Cmp(neededIn); c >= 0 {
		minOut = required.Clone()
	}
	proceeds, err := e.amm.SwapIn(ctx, soldUnderlying, debt.Brand, minOut)
	if err != nil {
		// Trade failed after redemption: the loan stays liquidating with
		// the sale proceeds unrealized. The audit row records the stall.
		e.fail(ctx, &rec, log, "swap collateral", err)
		return
	}
	rec.ProceedsOut = proceeds.Clone()

	leftover := domain.NewAmountBig(collateral.Brand, new(big.Int).Sub(collateral.Value, tokensToSell.Value))
	rec.Leftover = leftover.Clone()
	if leftover.Sign() > 0 {
		if uerr := collatPool.Unpledge(leftover); uerr != nil {
			log.Error("unpledge leftover", "error", uerr)
		}
	}

	if err := debtPool.SettleLiquidation(frozen.ID, proceeds, leftover); err != nil {
		e.fail(ctx, &rec, log, "settle liquidation", err)
		return
	}

	now := time.Now()
	rec.Status = domain.LiquidationSettled
	rec.SettledAt = &now
	e.updateAudit(ctx, &rec)
	e.publish(ctx, domain.SignalLiquidationSettled, frozen.ID, frozen.DebtPool, proceeds.String())
	e.notify(ctx, domain.SignalLiquidationSettled, "Liquidation settled",
		"loan "+frozen.ID+" recovered "+proceeds.String()+", leftover "+leftover.String())
	log.Info("liquidation settled",
		"debt", debt.String(), "proceeds", proceeds.String(), "leftover", leftover.String())
}

func (e *Executor) fail(ctx context.Context, rec *domain.LiquidationRecord, log *slog.Logger, stage string, err error) {
	log.Error("liquidation failed", "stage", stage, "error", err)
	rec.Status = domain.LiquidationFailed
	rec.FailureReason = stage + ": " + err.Error()
	e.updateAudit(ctx, rec)
	e.publish(ctx, domain.SignalLiquidationFailed, rec.LoanID, rec.DebtPool, rec.FailureReason)
	e.notify(ctx, domain.SignalLiquidationFailed, "Liquidation failed",
		"loan "+rec.LoanID+" stalled at "+stage+": "+err.Error())
}

func (e *Executor) createAudit(ctx context.Context, rec *domain.LiquidationRecord) {
	if e.audits == nil {
		return
	}
	if err := e.audits.Create(ctx, *rec); err != nil {
		e.log.Error("create audit row", "liquidation_id", rec.ID, "error", err)
	}
}

func (e *Executor) updateAudit(ctx context.Context, rec *domain.LiquidationRecord) {
	if e.audits == nil {
		return
	}
	if err := e.audits.Update(ctx, *rec); err != nil {
		e.log.Error("update audit row", "liquidation_id", rec.ID, "error", err)
	}
}

func (e *Executor) publish(ctx context.Context, name, loanID string, pool domain.Brand, detail string) {
	if e.bus == nil {
		return
	}
	s := domain.Signal{Name: name, LoanID: loanID, DebtPool: pool, Detail: detail, At: time.Now()}
	if err := e.bus.Publish(ctx, s); err != nil {
		e.log.Error("publish signal", "signal", name, "error", err)
	}
}

func (e *Executor) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.log.Error("notify", "event", event, "error", err)
	}
}
