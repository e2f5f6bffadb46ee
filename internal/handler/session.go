package handler

import (
	"net/http"
	"time"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/middleware"
)

// Issuer signs identity tokens.
type Issuer interface {
	Issue(userID string, ttl time.Duration) (string, error)
}

// SessionHandler hands out identity tokens.
type SessionHandler struct {
	issuer Issuer
	ttl    time.Duration
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(issuer Issuer, ttl time.Duration) *SessionHandler {
	return &SessionHandler{issuer: issuer, ttl: ttl}
}

// SessionResponse carries the token to send as a bearer on later calls.
type SessionResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Guest  bool   `json:"guest"`
}

// Create handles POST /api/v1/session. It returns a token for the caller's
// identity, which for a request without one is a new guest.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	token, err := h.issuer.Issue(id.UserID, h.ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{Token: token, UserID: id.UserID, Guest: id.Guest})
}
