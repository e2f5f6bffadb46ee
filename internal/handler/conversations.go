// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/identity"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/middleware"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/session"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/logger"
)

// Sessions hands out the session of a user.
type Sessions interface {
	Get(ctx context.Context, id identity.Identity) *session.Session
}

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	sessions Sessions
	logger   *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(sessions Sessions, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		sessions: sessions,
		logger:   logger.OrNop(log).Named("conversations"),
	}
}

// sessionFor resolves the caller's session, writing 401 when the request
// carries no identity.
func sessionFor(sessions Sessions, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, ok := middleware.GetIdentity(r.Context())
	if !ok || id.UserID == "" {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return nil, false
	}
	return sessions.Get(r.Context(), id), true
}

// List handles GET /api/v1/conversations. ?reload=true reloads from the
// backend first.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}

	convs := sess.Conversations()
	if r.URL.Query().Get("reload") == "true" {
		loaded, err := sess.Load(r.Context())
		if err != nil {
			h.logger.Warn("reload failed", zap.String("user_id", sess.Identity().UserID), zap.Error(err))
			writeFailure(w, err)
			return
		}
		convs = loaded
	}

	id := sess.Identity()
	writeJSON(w, http.StatusOK, model.ListConversationsResponse{
		UserID:        id.UserID,
		Guest:         id.Guest,
		Conversations: convs,
		Total:         len(convs),
	})
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, sess.NewConversation())
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	conv, err := sess.Conversation(chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		model.Conversation
		Pending bool `json:"pending"`
	}{conv, sess.Pending(conv.ID)})
}

// Delete handles DELETE /api/v1/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	if err := sess.DeleteConversation(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Abandon handles DELETE /api/v1/conversations/{id}/job
func (h *ConversationHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	if !sess.Abandon(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "no question in flight")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RateRequest is the body of a rating.
type RateRequest struct {
	Rating int `json:"rating"`
}

// RateResponse reports the rating now shown. A rating that could not be
// stored remotely is still applied locally.
type RateResponse struct {
	Rating    *int   `json:"rating"`
	Persisted bool   `json:"persisted"`
	Notice    string `json:"notice,omitempty"`
}

// Rate handles POST /api/v1/conversations/{id}/messages/{messageID}/rating
func (h *ConversationHandler) Rate(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	messageID := chi.URLParam(r, "messageID")
	if err := middleware.ValidateID("message", messageID); err != nil {
		writeFailure(w, err)
		return
	}
	var req RateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, err)
		return
	}

	rating, err := sess.Rate(r.Context(), chi.URLParam(r, "id"), messageID, req.Rating)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, RateResponse{Rating: rating, Persisted: true})
	case rating != nil:
		h.logger.Warn("rating not persisted", zap.String("message_id", messageID), zap.Error(err))
		writeJSON(w, http.StatusOK, RateResponse{Rating: rating, Notice: model.Notice(err)})
	default:
		writeFailure(w, err)
	}
}

// CommentRequest is the body of a comment.
type CommentRequest struct {
	Comment string `json:"comment"`
}

// Comment handles POST /api/v1/conversations/{id}/messages/{messageID}/comment
func (h *ConversationHandler) Comment(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	messageID := chi.URLParam(r, "messageID")
	if err := middleware.ValidateID("message", messageID); err != nil {
		writeFailure(w, err)
		return
	}
	var req CommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, err)
		return
	}

	if err := sess.Comment(r.Context(), chi.URLParam(r, "id"), messageID, req.Comment); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Discard handles POST /api/v1/conversations/{id}/artifacts/{artifactID}/discard
func (h *ConversationHandler) Discard(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	conv, err := sess.DiscardArtifact(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "artifactID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
