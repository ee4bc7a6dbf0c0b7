package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendcore/internal/domain"
	"github.com/alanyoungcy/lendcore/internal/lend"
)

// staticQuotes is an in-memory QuoteCache seeded with fixed prices.
type staticQuotes map[string]domain.PriceQuote

func (s staticQuotes) SetQuote(_ context.Context, asset, compare domain.Brand, q domain.PriceQuote) error {
	s[string(asset)+"/"+string(compare)] = q
	return nil
}

func (s staticQuotes) GetQuote(_ context.Context, asset, compare domain.Brand) (domain.PriceQuote, bool, error) {
	q, ok := s[string(asset)+"/"+string(compare)]
	return q, ok, nil
}

func loanFixture(t *testing.T) (*http.ServeMux, *lend.Engine) {
	t.Helper()
	atom := lend.NewPool(lend.PoolConfig{
		Underlying:    "ATOM",
		ProtocolToken: "aATOM",
		InitialRate:   domain.NewRatio(2, 100),
		Params: lend.RiskParams{
			LiquidationMarginBps: 15_000,
			BaseRateBps:          250,
			MultiplierBps:        2000,
			PenaltyRateBps:       1000,
			Borrowable:           true,
		},
	})
	osmo := lend.NewPool(lend.PoolConfig{
		Underlying:    "OSMO",
		ProtocolToken: "aOSMO",
		InitialRate:   domain.NewRatio(2, 100),
		Params: lend.RiskParams{
			LiquidationMarginBps: 15_000,
			BaseRateBps:          250,
			MultiplierBps:        2000,
			UsableAsCollateral:   true,
		},
	})
	reg := lend.NewRegistry()
	require.NoError(t, reg.Add(atom))
	require.NoError(t, reg.Add(osmo))

	quotes := staticQuotes{}
	require.NoError(t, quotes.SetQuote(context.Background(), "ATOM", "USD", domain.PriceQuote{
		AmountIn:  domain.NewAmount("ATOM", 1),
		AmountOut: domain.NewAmount("USD", 10),
	}))
	require.NoError(t, quotes.SetQuote(context.Background(), "OSMO", "USD", domain.PriceQuote{
		AmountIn:  domain.NewAmount("OSMO", 1),
		AmountOut: domain.NewAmount("USD", 5),
	}))

	engine := lend.NewEngine(lend.EngineDeps{
		Registry: reg,
		Quotes:   quotes,
		Compare:  "USD",
		Logger:   slog.Default(),
	})

	h := NewLoanHandler(engine, nil, slog.Default())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/loans", h.Borrow)
	mux.HandleFunc("POST /api/loans/{id}/adjust", h.Adjust)
	mux.HandleFunc("POST /api/loans/{id}/close", h.Close)
	return mux, engine
}

func borrowLoan(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	rec := doJSON(t, mux, http.MethodPost, "/api/loans", map[string]any{
		"borrower":        "alice",
		"debt_pool":       "ATOM",
		"want_debt":       map[string]string{"value": "500"},
		"collateral_pool": "OSMO",
		"collateral":      map[string]string{"brand": "aOSMO", "value": "100000"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp loanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func TestLoanHandlerBorrow(t *testing.T) {
	mux, engine := loanFixture(t)
	_, err := engine.Deposit(context.Background(), domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)

	id := borrowLoan(t, mux)
	l, err := engine.Registry().List()[0].Loan(id)
	require.NoError(t, err)
	assert.Equal(t, "alice", l.Borrower)
	assert.Equal(t, int64(500), l.DebtSnapshot.Value.Int64())
}

func TestLoanHandlerCloseReportsRefund(t *testing.T) {
	mux, engine := loanFixture(t)
	_, err := engine.Deposit(context.Background(), domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	id := borrowLoan(t, mux)

	// Overpaying by 20 closes the loan and hands the excess back.
	rec := doJSON(t, mux, http.MethodPost, "/api/loans/"+id+"/close", map[string]any{
		"debt_pool": "ATOM",
		"repay":     map[string]string{"value": "520"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Status             string     `json:"status"`
		CollateralReturned amountJSON `json:"collateral_returned"`
		Refund             amountJSON `json:"refund"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "closed", resp.Status)
	assert.Equal(t, amountJSON{Brand: "aOSMO", Value: "100000"}, resp.CollateralReturned)
	assert.Equal(t, amountJSON{Brand: "ATOM", Value: "20"}, resp.Refund)
}

func TestLoanHandlerCloseShortRepayment(t *testing.T) {
	mux, engine := loanFixture(t)
	_, err := engine.Deposit(context.Background(), domain.NewAmount("ATOM", 1000))
	require.NoError(t, err)
	id := borrowLoan(t, mux)

	rec := doJSON(t, mux, http.MethodPost, "/api/loans/"+id+"/close", map[string]any{
		"debt_pool": "ATOM",
		"repay":     map[string]string{"value": "499"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}
