package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// LiquidationHandler serves the liquidation audit trail.
type LiquidationHandler struct {
	audits domain.LiquidationStore
	logger *slog.Logger
}

// NewLiquidationHandler creates a LiquidationHandler.
func NewLiquidationHandler(audits domain.LiquidationStore, logger *slog.Logger) *LiquidationHandler {
	return &LiquidationHandler{audits: audits, logger: logger}
}

// liquidationResponse is the wire form of one audit row.
type liquidationResponse struct {
	ID              string     `json:"id"`
	LoanID          string     `json:"loan_id"`
	Borrower        string     `json:"borrower"`
	DebtPool        string     `json:"debt_pool"`
	CollateralPool  string     `json:"collateral_pool"`
	Debt            amountJSON `json:"debt"`
	DebtWithPenalty amountJSON `json:"debt_with_penalty"`
	CollateralSold  amountJSON `json:"collateral_sold"`
	ProceedsOut     amountJSON `json:"proceeds_out"`
	Leftover        amountJSON `json:"leftover"`
	CollateralQuote quoteJSON  `json:"collateral_quote"`
	DebtQuote       quoteJSON  `json:"debt_quote"`
	Status          string     `json:"status"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	TriggeredAt     time.Time  `json:"triggered_at"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
}

func encodeLiquidation(rec domain.LiquidationRecord) liquidationResponse {
	return liquidationResponse{
		ID:              rec.ID,
		LoanID:          rec.LoanID,
		Borrower:        rec.Borrower,
		DebtPool:        string(rec.DebtPool),
		CollateralPool:  string(rec.CollateralPool),
		Debt:            encodeAmount(rec.Debt),
		DebtWithPenalty: encodeAmount(rec.DebtWithPenalty),
		CollateralSold:  encodeAmount(rec.CollateralSold),
		ProceedsOut:     encodeAmount(rec.ProceedsOut),
		Leftover:        encodeAmount(rec.Leftover),
		CollateralQuote: encodeQuote(rec.CollateralQuote),
		DebtQuote:       encodeQuote(rec.DebtQuote),
		Status:          rec.Status,
		FailureReason:   rec.FailureReason,
		TriggeredAt:     rec.TriggeredAt,
		SettledAt:       rec.SettledAt,
	}
}

// ListRecent returns the most recent liquidations, newest first.
// GET /api/liquidations/recent?limit=50&offset=0
func (h *LiquidationHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	recs, err := h.audits.ListRecent(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list liquidations failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list liquidations")
		return
	}

	out := make([]liquidationResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, encodeLiquidation(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"liquidations": out,
		"limit":        opts.Limit,
		"offset":       opts.Offset,
	})
}

// GetLiquidation returns one audit row by its ID.
// GET /api/liquidations/{id}
func (h *LiquidationHandler) GetLiquidation(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing liquidation id")
		return
	}

	rec, err := h.audits.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "liquidation not found")
		return
	}
	writeJSON(w, http.StatusOK, encodeLiquidation(rec))
}
