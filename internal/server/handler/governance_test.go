package handler

import (
	"encoding/hex"
	"log/slog"
	"net/http"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendcore/internal/crypto"
	"github.com/alanyoungcy/lendcore/internal/lend"
)

func governanceFixture(t *testing.T) (*http.ServeMux, *crypto.GovernanceSigner, *lend.Engine) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewGovernanceSigner(hex.EncodeToString(ethcrypto.FromECDSA(key)))
	require.NoError(t, err)

	engine := testEngine(t)
	h := NewGovernanceHandler(engine, signer.Address(), slog.Default())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/governance/risk-params", h.UpdateRiskParams)
	return mux, signer, engine
}

func signedUpdate(t *testing.T, signer *crypto.GovernanceSigner, payload crypto.GovernancePayload) map[string]any {
	t.Helper()
	sig, err := signer.Sign(payload)
	require.NoError(t, err)
	return map[string]any{"payload": payload, "signature": sig}
}

func TestGovernanceUpdateAppliesParams(t *testing.T) {
	mux, signer, engine := governanceFixture(t)

	payload := crypto.GovernancePayload{
		Pool:                 "ATOM",
		LiquidationMarginBps: 16_000,
		BaseRateBps:          300,
		MultiplierBps:        2500,
		PenaltyRateBps:       1200,
		CollateralLimit:      "5000000",
		Borrowable:           true,
		UsableAsCollateral:   true,
		Nonce:                1,
	}
	rec := doJSON(t, mux, http.MethodPost, "/api/governance/risk-params", signedUpdate(t, signer, payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	p, err := engine.Registry().Get("ATOM")
	require.NoError(t, err)
	params := p.Params()
	assert.Equal(t, uint64(16_000), params.LiquidationMarginBps)
	assert.Equal(t, uint64(300), params.BaseRateBps)
	require.NotNil(t, params.CollateralLimit.Value)
	assert.Equal(t, "5000000", params.CollateralLimit.Value.String())
	assert.Equal(t, p.ProtocolToken(), params.CollateralLimit.Brand)
}

func TestGovernanceUpdateRejectsBadSignature(t *testing.T) {
	mux, _, engine := governanceFixture(t)

	// Signed by a key that is not the configured governance address.
	otherKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.NewGovernanceSigner(hex.EncodeToString(ethcrypto.FromECDSA(otherKey)))
	require.NoError(t, err)

	payload := crypto.GovernancePayload{Pool: "ATOM", LiquidationMarginBps: 11_000, Nonce: 1}
	rec := doJSON(t, mux, http.MethodPost, "/api/governance/risk-params", signedUpdate(t, other, payload))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The pool keeps its original parameters.
	p, err := engine.Registry().Get("ATOM")
	require.NoError(t, err)
	assert.Equal(t, uint64(15_000), p.Params().LiquidationMarginBps)
}

func TestGovernanceUpdateRejectsReplayedNonce(t *testing.T) {
	mux, signer, _ := governanceFixture(t)

	payload := crypto.GovernancePayload{
		Pool:                 "ATOM",
		LiquidationMarginBps: 16_000,
		Borrowable:           true,
		Nonce:                5,
	}
	body := signedUpdate(t, signer, payload)

	rec := doJSON(t, mux, http.MethodPost, "/api/governance/risk-params", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The exact same signed request cannot be applied twice.
	rec = doJSON(t, mux, http.MethodPost, "/api/governance/risk-params", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Nor can an older nonce, even freshly signed.
	stale := payload
	stale.Nonce = 4
	rec = doJSON(t, mux, http.MethodPost, "/api/governance/risk-params", signedUpdate(t, signer, stale))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// A higher nonce proceeds.
	next := payload
	next.Nonce = 6
	rec = doJSON(t, mux, http.MethodPost, "/api/governance/risk-params", signedUpdate(t, signer, next))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGovernanceUpdateUnknownPool(t *testing.T) {
	mux, signer, _ := governanceFixture(t)

	payload := crypto.GovernancePayload{Pool: "DOGE", LiquidationMarginBps: 16_000, Nonce: 1}
	rec := doJSON(t, mux, http.MethodPost, "/api/governance/risk-params", signedUpdate(t, signer, payload))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGovernanceUpdateMissingFields(t *testing.T) {
	mux, signer, _ := governanceFixture(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/governance/risk-params", map[string]any{
		"payload": crypto.GovernancePayload{Pool: "ATOM", Nonce: 1},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sig, err := signer.Sign(crypto.GovernancePayload{Nonce: 1})
	require.NoError(t, err)
	rec = doJSON(t, mux, http.MethodPost, "/api/governance/risk-params", map[string]any{
		"payload":   crypto.GovernancePayload{Nonce: 1},
		"signature": sig,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
