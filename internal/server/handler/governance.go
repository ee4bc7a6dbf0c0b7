package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"sync"

	"github.com/alanyoungcy/lendcore/internal/crypto"
	"github.com/alanyoungcy/lendcore/internal/domain"
	"github.com/alanyoungcy/lendcore/internal/lend"
)

// GovernanceHandler applies signed risk-parameter updates. Every update
// must carry a recoverable signature from the configured governance
// address and a nonce strictly greater than the last accepted one for
// that pool.
type GovernanceHandler struct {
	engine  *lend.Engine
	address string
	logger  *slog.Logger

	mu     sync.Mutex
	nonces map[string]uint64 // pool -> last accepted nonce
}

// NewGovernanceHandler creates a GovernanceHandler bound to the
// authorized signer address.
func NewGovernanceHandler(engine *lend.Engine, address string, logger *slog.Logger) *GovernanceHandler {
	return &GovernanceHandler{
		engine:  engine,
		address: address,
		logger:  logger,
		nonces:  make(map[string]uint64),
	}
}

// updateRequest wraps the signed payload with its signature.
type updateRequest struct {
	Payload   crypto.GovernancePayload `json:"payload"`
	Signature string                   `json:"signature"`
}

// UpdateRiskParams verifies and applies a risk-parameter update.
// POST /api/governance/risk-params
func (h *GovernanceHandler) UpdateRiskParams(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Payload.Pool == "" {
		writeError(w, http.StatusBadRequest, "payload.pool is required")
		return
	}
	if req.Signature == "" {
		writeError(w, http.StatusBadRequest, "signature is required")
		return
	}

	if err := crypto.VerifyGovernance(req.Payload, req.Signature, h.address); err != nil {
		h.logger.WarnContext(r.Context(), "governance signature rejected",
			slog.String("pool", req.Payload.Pool),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusForbidden, "signature verification failed")
		return
	}

	pool, err := h.engine.Registry().Get(domain.Brand(req.Payload.Pool))
	if err != nil {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}

	params := lend.RiskParams{
		LiquidationMarginBps: req.Payload.LiquidationMarginBps,
		BaseRateBps:          req.Payload.BaseRateBps,
		MultiplierBps:        req.Payload.MultiplierBps,
		PenaltyRateBps:       req.Payload.PenaltyRateBps,
		Borrowable:           req.Payload.Borrowable,
		UsableAsCollateral:   req.Payload.UsableAsCollateral,
	}
	if req.Payload.CollateralLimit != "" {
		v, ok := new(big.Int).SetString(req.Payload.CollateralLimit, 10)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid collateral_limit")
			return
		}
		params.CollateralLimit = domain.NewAmountBig(pool.ProtocolToken(), v)
	}

	// Nonce check and apply happen under one lock so two concurrent
	// updates with the same nonce cannot both pass.
	h.mu.Lock()
	defer h.mu.Unlock()
	if req.Payload.Nonce <= h.nonces[req.Payload.Pool] {
		writeError(w, http.StatusConflict, "nonce already used")
		return
	}
	if err := h.engine.UpdateRiskParams(r.Context(), domain.Brand(req.Payload.Pool), params); err != nil {
		if errors.Is(err, domain.ErrPoolNotFound) {
			writeError(w, http.StatusNotFound, "pool not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: update risk params failed",
			slog.String("pool", req.Payload.Pool),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update risk params")
		return
	}
	h.nonces[req.Payload.Pool] = req.Payload.Nonce

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "applied",
		"pool":   req.Payload.Pool,
		"nonce":  req.Payload.Nonce,
	})
}
