package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendcore/internal/domain"
	"github.com/alanyoungcy/lendcore/internal/lend"
)

func testEngine(t *testing.T) *lend.Engine {
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
			UsableAsCollateral:   true,
		},
	})
	reg := lend.NewRegistry()
	require.NoError(t, reg.Add(atom))
	return lend.NewEngine(lend.EngineDeps{
		Registry: reg,
		Compare:  "USD",
		Logger:   slog.Default(),
	})
}

func poolMux(h *PoolHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pools", h.ListPools)
	mux.HandleFunc("GET /api/pools/{asset}", h.GetPool)
	mux.HandleFunc("POST /api/pools/{asset}/deposit", h.Deposit)
	mux.HandleFunc("POST /api/pools/{asset}/redeem", h.Redeem)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestPoolHandlerDeposit(t *testing.T) {
	engine := testEngine(t)
	mux := poolMux(NewPoolHandler(engine, slog.Default()))

	rec := doJSON(t, mux, http.MethodPost, "/api/pools/ATOM/deposit", map[string]any{
		"amount": map[string]string{"value": "1000"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Deposited amountJSON `json:"deposited"`
		Minted    amountJSON `json:"minted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, amountJSON{Brand: "ATOM", Value: "1000"}, resp.Deposited)
	assert.Equal(t, amountJSON{Brand: "aATOM", Value: "50000"}, resp.Minted)
}

func TestPoolHandlerDepositUnknownPool(t *testing.T) {
	engine := testEngine(t)
	mux := poolMux(NewPoolHandler(engine, slog.Default()))

	rec := doJSON(t, mux, http.MethodPost, "/api/pools/DOGE/deposit", map[string]any{
		"amount": map[string]string{"value": "1000"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPoolHandlerDepositBadAmount(t *testing.T) {
	engine := testEngine(t)
	mux := poolMux(NewPoolHandler(engine, slog.Default()))

	rec := doJSON(t, mux, http.MethodPost, "/api/pools/ATOM/deposit", map[string]any{
		"amount": map[string]string{"value": "one thousand"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPoolHandlerRedeemRoundTrip(t *testing.T) {
	engine := testEngine(t)
	mux := poolMux(NewPoolHandler(engine, slog.Default()))

	rec := doJSON(t, mux, http.MethodPost, "/api/pools/ATOM/deposit", map[string]any{
		"amount": map[string]string{"value": "1000"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/pools/ATOM/redeem", map[string]any{
		"amount": map[string]string{"value": "50000"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		PaidOut amountJSON `json:"paid_out"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, amountJSON{Brand: "ATOM", Value: "1000"}, resp.PaidOut)
}

func TestPoolHandlerRedeemBeyondSupply(t *testing.T) {
	engine := testEngine(t)
	mux := poolMux(NewPoolHandler(engine, slog.Default()))

	rec := doJSON(t, mux, http.MethodPost, "/api/pools/ATOM/redeem", map[string]any{
		"amount": map[string]string{"value": "50000"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPoolHandlerGetAndList(t *testing.T) {
	engine := testEngine(t)
	mux := poolMux(NewPoolHandler(engine, slog.Default()))

	rec := doJSON(t, mux, http.MethodGet, "/api/pools/ATOM", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var pool poolResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pool))
	assert.Equal(t, "ATOM", pool.Underlying)
	assert.Equal(t, "aATOM", pool.ProtocolToken)
	assert.Equal(t, uint64(15_000), pool.MarginBps)
	assert.True(t, pool.Borrowable)

	rec = doJSON(t, mux, http.MethodGet, "/api/pools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Pools []poolResponse `json:"pools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Pools, 1)

	rec = doJSON(t, mux, http.MethodGet, "/api/pools/DOGE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
