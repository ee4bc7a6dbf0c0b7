package domain

import (
	"context"
	"time"
)

// QuoteCache stores the latest quote per (asset, compare) pair so
// restarts and the read API do not have to wait for the next tick.
type QuoteCache interface {
	SetQuote(ctx context.Context, asset, compare Brand, q PriceQuote) error
	GetQuote(ctx context.Context, asset, compare Brand) (PriceQuote, bool, error)
}

// Signal names published on the bus.
const (
	SignalLiquidationTriggered = "liquidation_triggered"
	SignalLiquidationSettled   = "liquidation_settled"
	SignalLiquidationFailed    = "liquidation_failed"
	SignalInterestAccrued      = "interest_accrued"
	SignalRiskParamsUpdated    = "risk_params_updated"
)

// Signal is a cross-process event published when the engine commits
// something other components care about.
type Signal struct {
	Name     string    `json:"name"`
	LoanID   string    `json:"loan_id,omitempty"`
	DebtPool Brand     `json:"debt_pool,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// SignalBus fans engine events out to interested processes.
type SignalBus interface {
	Publish(ctx context.Context, s Signal) error
	Subscribe(ctx context.Context) (<-chan Signal, func(), error)
}

// RateLimiter gates outbound calls to external venues.
type RateLimiter interface {
	// Allow reports whether one more call under key is permitted within
	// the window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
