package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lendcore/internal/domain"
	"github.com/alanyoungcy/lendcore/internal/lend"
)

// PoolHandler serves pool-related HTTP endpoints: listing pools and the
// deposit/redeem flows.
type PoolHandler struct {
	engine *lend.Engine
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler with the given engine and logger.
func NewPoolHandler(engine *lend.Engine, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{engine: engine, logger: logger}
}

// poolResponse is the wire form of one pool's current state.
type poolResponse struct {
	Underlying      string     `json:"underlying"`
	ProtocolToken   string     `json:"protocol_token"`
	OnHand          amountJSON `json:"on_hand"`
	TotalDebt       amountJSON `json:"total_debt"`
	ProtocolSupply  amountJSON `json:"protocol_supply"`
	TotalPledged    amountJSON `json:"total_pledged"`
	ExchangeRate    string     `json:"exchange_rate"`
	UtilizationBps  uint64     `json:"utilization_bps"`
	BorrowRateBps   uint64     `json:"borrow_rate_bps"`
	MarginBps       uint64     `json:"liquidation_margin_bps"`
	PenaltyBps      uint64     `json:"penalty_rate_bps"`
	Borrowable      bool       `json:"borrowable"`
	UsableAsCollat  bool       `json:"usable_as_collateral"`
	CollateralLimit string     `json:"collateral_limit,omitempty"`
	LastAccrual     time.Time  `json:"last_accrual"`
}

func encodePool(p *lend.Pool) poolResponse {
	snap := p.Snapshot()
	params := p.Params()

	util := lend.UtilizationRate(snap.OnHand.Value, snap.TotalDebt.Value)
	resp := poolResponse{
		Underlying:     string(snap.Underlying),
		ProtocolToken:  string(snap.ProtocolToken),
		OnHand:         encodeAmount(snap.OnHand),
		TotalDebt:      encodeAmount(snap.TotalDebt),
		ProtocolSupply: encodeAmount(snap.ProtocolSupply),
		TotalPledged:   encodeAmount(snap.TotalPledged),
		ExchangeRate:   p.ExchangeRate().String(),
		UtilizationBps: util,
		BorrowRateBps:  lend.BorrowingRate(params.BaseRateBps, params.MultiplierBps, util),
		MarginBps:      params.LiquidationMarginBps,
		PenaltyBps:     params.PenaltyRateBps,
		Borrowable:     params.Borrowable,
		UsableAsCollat: params.UsableAsCollateral,
		LastAccrual:    snap.LastAccrual,
	}
	if params.CollateralLimit.Value != nil {
		resp.CollateralLimit = params.CollateralLimit.Value.String()
	}
	return resp
}

// ListPools returns every registered pool.
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools := h.engine.Registry().List()
	out := make([]poolResponse, 0, len(pools))
	for _, p := range pools {
		out = append(out, encodePool(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": out})
}

// GetPool returns a single pool by its underlying asset brand.
// GET /api/pools/{asset}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	asset := pathParam(r, "asset")
	if asset == "" {
		writeError(w, http.StatusBadRequest, "missing pool asset")
		return
	}
	p, err := h.engine.Registry().Get(domain.Brand(asset))
	if err != nil {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	writeJSON(w, http.StatusOK, encodePool(p))
}

// depositRequest carries the deposit/redeem body. The brand comes from
// the URL path for deposits and from the pool's protocol token for
// redemptions, so only the value is required.
type depositRequest struct {
	Amount amountJSON `json:"amount"`
}

// Deposit exchanges underlying for freshly minted protocol tokens.
// POST /api/pools/{asset}/deposit
func (h *PoolHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	asset := pathParam(r, "asset")
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	in, err := decodeAmount(req.Amount, domain.Brand(asset))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	minted, err := h.engine.Deposit(r.Context(), in)
	if err != nil {
		h.writePoolError(w, r, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deposited": encodeAmount(in),
		"minted":    encodeAmount(minted),
	})
}

// Redeem burns protocol tokens for underlying at the current exchange rate.
// POST /api/pools/{asset}/redeem
func (h *PoolHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	asset := pathParam(r, "asset")
	p, err := h.engine.Registry().Get(domain.Brand(asset))
	if err != nil {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	tokens, err := decodeAmount(req.Amount, p.ProtocolToken())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.engine.Redeem(r.Context(), tokens)
	if err != nil {
		h.writePoolError(w, r, "redeem", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"redeemed": encodeAmount(tokens),
		"paid_out": encodeAmount(out),
	})
}

// writePoolError maps engine errors onto HTTP status codes.
func (h *PoolHandler) writePoolError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrPoolNotFound):
		writeError(w, http.StatusNotFound, "pool not found")
	case errors.Is(err, domain.ErrInsufficientLiquidity),
		errors.Is(err, domain.ErrInsufficientPoolLiquidity):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrBrandMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}
