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

// LoanHandler serves the borrow/adjust/close flows and loan lookups.
// Writes go through the engine; listings read the persisted records.
type LoanHandler struct {
	engine *lend.Engine
	loans  domain.LoanStore
	logger *slog.Logger
}

// NewLoanHandler creates a LoanHandler. The loan store may be nil, in
// which case listings return 503.
func NewLoanHandler(engine *lend.Engine, loans domain.LoanStore, logger *slog.Logger) *LoanHandler {
	return &LoanHandler{engine: engine, loans: loans, logger: logger}
}

// loanResponse is the wire form of one loan. Debt is the current
// compounded value at response time.
type loanResponse struct {
	ID             string     `json:"id"`
	Borrower       string     `json:"borrower"`
	DebtPool       string     `json:"debt_pool"`
	CollateralPool string     `json:"collateral_pool"`
	Collateral     amountJSON `json:"collateral"`
	Debt           amountJSON `json:"debt"`
	Phase          string     `json:"phase"`
	UpdatedAt      time.Time  `json:"updated_at,omitzero"`
}

func (h *LoanHandler) encodeLoan(l *lend.Loan) loanResponse {
	debt := l.DebtSnapshot
	if p, err := h.engine.Registry().Get(l.DebtPool); err == nil {
		if d, err := p.CurrentDebt(l.ID); err == nil {
			debt = d
		}
	}
	return loanResponse{
		ID:             l.ID,
		Borrower:       l.Borrower,
		DebtPool:       string(l.DebtPool),
		CollateralPool: string(l.CollateralPool),
		Collateral:     encodeAmount(l.Collateral),
		Debt:           encodeAmount(debt),
		Phase:          string(l.Phase),
	}
}

func encodeLoanRecord(rec domain.LoanRecord) loanResponse {
	return loanResponse{
		ID:             rec.ID,
		Borrower:       rec.Borrower,
		DebtPool:       string(rec.DebtPool),
		CollateralPool: string(rec.CollateralPool),
		Collateral:     encodeAmount(rec.Collateral),
		Debt:           encodeAmount(rec.DebtSnapshot),
		Phase:          rec.Phase,
		UpdatedAt:      rec.UpdatedAt,
	}
}

// borrowBody is the JSON body for opening a loan.
type borrowBody struct {
	Borrower             string     `json:"borrower"`
	DebtPool             string     `json:"debt_pool"`
	WantDebt             amountJSON `json:"want_debt"`
	CollateralUnderlying string     `json:"collateral_pool"`
	Collateral           amountJSON `json:"collateral"`
}

// Borrow opens a new loan.
// POST /api/loans
func (h *LoanHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	var body borrowBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	wantDebt, err := decodeAmount(body.WantDebt, domain.Brand(body.DebtPool))
	if err != nil {
		writeError(w, http.StatusBadRequest, "want_debt: "+err.Error())
		return
	}
	collateral, err := decodeAmount(body.Collateral, "")
	if err != nil {
		writeError(w, http.StatusBadRequest, "collateral: "+err.Error())
		return
	}

	l, err := h.engine.Borrow(r.Context(), domain.BorrowRequest{
		Borrower:             body.Borrower,
		Collateral:           collateral,
		CollateralUnderlying: domain.Brand(body.CollateralUnderlying),
		WantDebt:             wantDebt,
	})
	if err != nil {
		h.writeLoanError(w, r, "borrow", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.encodeLoan(l))
}

// adjustBody is the JSON body for adjusting a loan. Absent fields mean
// no change on that axis.
type adjustBody struct {
	DebtPool       string      `json:"debt_pool"`
	GiveCollateral *amountJSON `json:"give_collateral"`
	WantCollateral *amountJSON `json:"want_collateral"`
	GiveDebt       *amountJSON `json:"give_debt"`
	WantDebt       *amountJSON `json:"want_debt"`
}

// Adjust applies a give/want delta to an open loan.
// POST /api/loans/{id}/adjust
func (h *LoanHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing loan id")
		return
	}

	var body adjustBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.DebtPool == "" {
		writeError(w, http.StatusBadRequest, "debt_pool is required")
		return
	}

	var req domain.AdjustRequest
	decode := func(dst *domain.Amount, src *amountJSON, field string) bool {
		if src == nil {
			return true
		}
		a, err := decodeAmount(*src, "")
		if err != nil {
			writeError(w, http.StatusBadRequest, field+": "+err.Error())
			return false
		}
		*dst = a
		return true
	}
	if !decode(&req.GiveCollateral, body.GiveCollateral, "give_collateral") ||
		!decode(&req.WantCollateral, body.WantCollateral, "want_collateral") ||
		!decode(&req.GiveDebt, body.GiveDebt, "give_debt") ||
		!decode(&req.WantDebt, body.WantDebt, "want_debt") {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := h.engine.Adjust(r.Context(), domain.Brand(body.DebtPool), id, req)
	if err != nil {
		h.writeLoanError(w, r, "adjust", err)
		return
	}
	writeJSON(w, http.StatusOK, h.encodeLoan(l))
}

// closeBody is the JSON body for closing a loan.
type closeBody struct {
	DebtPool string     `json:"debt_pool"`
	Repay    amountJSON `json:"repay"`
}

// Close repays a loan in full and returns its collateral along with
// any excess repayment.
// POST /api/loans/{id}/close
func (h *LoanHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing loan id")
		return
	}

	var body closeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	repay, err := decodeAmount(body.Repay, domain.Brand(body.DebtPool))
	if err != nil {
		writeError(w, http.StatusBadRequest, "repay: "+err.Error())
		return
	}

	res, err := h.engine.Close(r.Context(), domain.Brand(body.DebtPool), id, repay)
	if err != nil {
		h.writeLoanError(w, r, "close", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "closed",
		"loan_id":             id,
		"collateral_returned": encodeAmount(res.Collateral),
		"refund":              encodeAmount(res.Refund),
	})
}

// GetLoan returns one loan by ID from the persisted records.
// GET /api/loans/{id}
func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing loan id")
		return
	}
	if h.loans == nil {
		writeError(w, http.StatusServiceUnavailable, "loan store not configured")
		return
	}

	rec, err := h.loans.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrLoanNotFound) {
			writeError(w, http.StatusNotFound, "loan not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get loan failed",
			slog.String("loan_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get loan")
		return
	}
	writeJSON(w, http.StatusOK, encodeLoanRecord(rec))
}

// ListLoans returns loans by debt pool or by phase.
// GET /api/loans?debt_pool=...&phase=...&limit=50&offset=0
func (h *LoanHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	if h.loans == nil {
		writeError(w, http.StatusServiceUnavailable, "loan store not configured")
		return
	}
	q := r.URL.Query()
	debtPool := q.Get("debt_pool")
	phase := q.Get("phase")
	if debtPool == "" && phase == "" {
		writeError(w, http.StatusBadRequest, "debt_pool or phase query parameter required")
		return
	}
	opts := parseListOpts(r)

	var recs []domain.LoanRecord
	var err error
	if debtPool != "" {
		recs, err = h.loans.ListByPool(r.Context(), domain.Brand(debtPool), opts)
	} else {
		recs, err = h.loans.ListByPhase(r.Context(), phase, opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list loans failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list loans")
		return
	}

	out := make([]loanResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, encodeLoanRecord(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loans":  out,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// writeLoanError maps engine errors onto HTTP status codes.
func (h *LoanHandler) writeLoanError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrPoolNotFound),
		errors.Is(err, domain.ErrLoanNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrMissingField),
		errors.Is(err, domain.ErrBrandMismatch),
		errors.Is(err, domain.ErrPoolNotBorrowable),
		errors.Is(err, domain.ErrCollateralNotEnabled):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUndercollateralizedRequest),
		errors.Is(err, domain.ErrInsufficientCollateralization),
		errors.Is(err, domain.ErrCollateralLimitExceeded),
		errors.Is(err, domain.ErrInsufficientLiquidity),
		errors.Is(err, domain.ErrInsufficientPoolLiquidity),
		errors.Is(err, domain.ErrRepaymentShort),
		errors.Is(err, domain.ErrInvalidPhaseTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}
