package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/lendcore/internal/lend"
)

// StatusHandler serves the backend status for dashboards.
type StatusHandler struct {
	mode    string
	engine  *lend.Engine
	started time.Time
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string, engine *lend.Engine) *StatusHandler {
	return &StatusHandler{mode: mode, engine: engine, started: time.Now()}
}

// GetStatus responds with the run mode, valuation currency, pool count,
// and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":    h.mode,
		"compare": string(h.engine.Compare()),
		"pools":   len(h.engine.Registry().List()),
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}
