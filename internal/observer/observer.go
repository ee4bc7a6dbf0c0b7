// Package observer watches one (debt pool, collateral brand) pair for
// undercollateralized loans and hands them to the liquidation executor.
package observer

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/lendcore/internal/domain"
	"github.com/alanyoungcy/lendcore/internal/lend"
)

// QuoteSource delivers a live quote stream per (asset, compare) pair.
// The returned cancel func unsubscribes synchronously: after it returns
// no further sends happen on the channel.
type QuoteSource interface {
	Subscribe(asset, compare domain.Brand) (<-chan domain.PriceQuote, func())
}

// TriggerFunc is called when the watched loan breaches its margin. It
// receives the two quotes that witnessed the breach. The observer does
// not re-arm until it returns, so at most one liquidation per pair runs
// at a time.
type TriggerFunc func(ctx context.Context, loan *lend.Loan, collateralQuote, debtQuote domain.PriceQuote)

// Observer tracks the single most-at-risk loan of one pool pair. Two
// quote streams feed it: the collateral's underlying in the compare
// currency and the debt asset in the compare currency. An arriving
// quote on either side is combined with the retained latest quote of
// the other side; evaluation waits until both sides have been seen.
type Observer struct {
	debtPool   *lend.Pool
	collatPool *lend.Pool
	compare    domain.Brand

	source  QuoteSource
	trigger TriggerFunc
	log     *slog.Logger

	// reschedule coalesces most-at-risk changes; the loop always reads
	// the current minimum from the store, so one pending token suffices.
	reschedule chan struct{}
}

// New builds an observer for the given pool pair.
func New(debtPool, collatPool *lend.Pool, compare domain.Brand, source QuoteSource, trigger TriggerFunc, log *slog.Logger) *Observer {
	if log == nil {
		log = slog.Default()
	}
	return &Observer{
		debtPool:   debtPool,
		collatPool: collatPool,
		compare:    compare,
		source:     source,
		trigger:    trigger,
		log: log.With("component", "observer",
			"debt_pool", debtPool.Underlying(), "collateral", collatPool.Underlying()),
		reschedule: make(chan struct{}, 1),
	}
}

// Run subscribes to both price streams and watches the priority store
// until the context ends. A change of the most-at-risk loan abandons
// the in-flight watch and restarts against the new minimum; quotes
// retained from the old watch stay valid because they are keyed by
// asset, not by loan.
func (o *Observer) Run(ctx context.Context) error {
	store := o.debtPool.Priority(o.collatPool.Underlying())
	store.SetOnReorder(func(*lend.Loan) {
		select {
		case o.reschedule <- struct{}{}:
		default:
		}
	})
	defer store.SetOnReorder(nil)

	collatCh, stopCollat := o.source.Subscribe(o.collatPool.Underlying(), o.compare)
	defer stopCollat()
	debtCh, stopDebt := o.source.Subscribe(o.debtPool.Underlying(), o.compare)
	defer stopDebt()

	var collatQuote, debtQuote domain.PriceQuote
	target := store.MostAtRisk()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.reschedule:
			target = store.MostAtRisk()
		case q, ok := <-collatCh:
			if !ok {
				return nil
			}
			collatQuote = q
		case q, ok := <-debtCh:
			if !ok {
				return nil
			}
			debtQuote = q
		}

		if target == nil || collatQuote.IsZero() || debtQuote.IsZero() {
			continue
		}
		if o.evaluate(ctx, target, collatQuote, debtQuote) {
			// The executor removed the loan from the store; pick up the
			// next minimum.
			target = store.MostAtRisk()
		}
	}
}

// evaluate prices the target's collateral and live debt and reports
// whether a liquidation was triggered. Equality with the margin
// triggers.
func (o *Observer) evaluate(ctx context.Context, target *lend.Loan, collatQuote, debtQuote domain.PriceQuote) bool {
	collateral, debt, err := o.debtPool.PositionBalances(target.ID)
	if err != nil {
		// The loan left the pool between reorder and evaluation.
		return true
	}
	underlying := o.collatPool.ExchangeRate().Apply(collateral.Value)
	cv, err := collatQuote.Value(underlying)
	if err != nil {
		o.log.Error("value collateral", "loan_id", target.ID, "error", err)
		return false
	}
	dv, err := debtQuote.Value(debt.Value)
	if err != nil {
		o.log.Error("value debt", "loan_id", target.ID, "error", err)
		return false
	}

	margin := o.debtPool.Params().LiquidationMarginBps
	if !lend.Undercollateralized(margin, cv, dv) {
		return false
	}

	o.log.Warn("margin breached",
		"loan_id", target.ID,
		"collateral_value", cv.String(), "debt_value", dv.String(),
		"margin_bps", margin)
	o.trigger(ctx, target, collatQuote, debtQuote)
	return true
}
