package handler

import (
	"net/http"
)

// Checker reports whether the journal connection is up.
type Checker interface {
	IsConnected() bool
}

// Journal states reported by the health endpoints.
const (
	journalDisabled     = "disabled"
	journalConnected    = "connected"
	journalDisconnected = "disconnected"
)

// HealthResponse is the body of /health and /ready.
type HealthResponse struct {
	Status  string `json:"status"`
	Journal string `json:"journal"`
}

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	journal Checker
}

// NewHealthHandler creates a health handler. A nil journal means the
// server runs without one, so readiness does not depend on it.
func NewHealthHandler(journal Checker) *HealthHandler {
	return &HealthHandler{journal: journal}
}

func (h *HealthHandler) journalState() string {
	switch {
	case h.journal == nil:
		return journalDisabled
	case h.journal.IsConnected():
		return journalConnected
	default:
		return journalDisconnected
	}
}

// Health handles GET /health. The process is alive whatever the journal
// state.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Journal: h.journalState()})
}

// Ready handles GET /ready.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	state := h.journalState()
	if state == journalDisconnected {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "not ready", Journal: state})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ready", Journal: state})
}
