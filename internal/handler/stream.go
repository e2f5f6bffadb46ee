package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/reveal"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/session"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/clock"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/logger"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/metrics"
)

// Stream event names.
const (
	EventProvisional  = "provisional"
	EventStatus       = "status"
	EventConversation = "conversation"
	EventReveal       = "reveal"
	EventDone         = "done"
	EventError        = "error"
)

// StatusEvent reports one status check of the job.
type StatusEvent struct {
	Attempt int             `json:"attempt"`
	Status  model.JobStatus `json:"status"`
}

// RevealEvent is one prefix of the answer being revealed.
type RevealEvent struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

// StreamHandler runs questions and streams their progress as server-sent
// events.
type StreamHandler struct {
	sessions       Sessions
	clock          clock.Clock
	revealInterval time.Duration
	logger         *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(sessions Sessions, clk clock.Clock, revealInterval time.Duration, log *logger.Logger) *StreamHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &StreamHandler{
		sessions:       sessions,
		clock:          clk,
		revealInterval: revealInterval,
		logger:         logger.OrNop(log).Named("stream"),
	}
}

// AskRequest is the body of a question.
type AskRequest struct {
	Question string `json:"question"`
}

// Ask handles POST /api/v1/conversations/{id}/ask
func (h *StreamHandler) Ask(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	var req AskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, err)
		return
	}

	sse := newEventStream(w, h.logger)
	defer sse.close()

	outcome, err := sess.Ask(r.Context(), session.AskRequest{
		ConversationID: chi.URLParam(r, "id"),
		Question:       req.Question,
		OnProvisional:  func(c model.Conversation) { sse.send(EventProvisional, c) },
		OnStatus: func(attempt int, status model.JobStatus) {
			sse.send(EventStatus, StatusEvent{Attempt: attempt, Status: status})
		},
	})
	h.finish(r, sse, outcome, err)
}

// CommitRequest optionally edits the draft before it is sent.
type CommitRequest struct {
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

// Commit handles POST /api/v1/conversations/{id}/artifacts/{artifactID}/commit
func (h *StreamHandler) Commit(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFor(h.sessions, w, r)
	if !ok {
		return
	}
	var req CommitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	var edited *model.EmailDraft
	if req != (CommitRequest{}) {
		edited = &model.EmailDraft{Subject: req.Subject, Body: req.Body, Recipient: req.Recipient}
	}

	sse := newEventStream(w, h.logger)
	defer sse.close()

	outcome, err := sess.CommitArtifact(r.Context(), session.CommitRequest{
		ConversationID: chi.URLParam(r, "id"),
		ArtifactID:     chi.URLParam(r, "artifactID"),
		Edited:         edited,
		OnProvisional:  func(c model.Conversation) { sse.send(EventProvisional, c) },
		OnStatus: func(attempt int, status model.JobStatus) {
			sse.send(EventStatus, StatusEvent{Attempt: attempt, Status: status})
		},
	})
	h.finish(r, sse, outcome, err)
}

// finish streams the settled conversation, reveals the answer and closes
// with done. A failure before anything was streamed is a plain JSON error.
func (h *StreamHandler) finish(r *http.Request, sse *eventStream, outcome *session.Outcome, err error) {
	if err != nil {
		if !sse.started {
			writeFailure(sse.w, err)
			return
		}
		if r.Context().Err() != nil {
			h.logger.Info("client went away", zap.String("path", r.URL.Path))
			return
		}
		sse.send(EventError, failureBody(err))
		return
	}

	sse.send(EventConversation, outcome.Conversation)

	driver := reveal.NewDriver(h.clock, h.revealInterval)
	defer driver.Stop()
	messageID := outcome.Assistant.ID.String()
	for prefix := range driver.Reveal(r.Context(), outcome.Assistant.Content) {
		sse.send(EventReveal, RevealEvent{MessageID: messageID, Text: prefix})
	}
	if r.Context().Err() != nil {
		return
	}
	sse.send(EventDone, outcome)
}

// eventStream writes server-sent events, sending the headers on the first
// event.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *logger.Logger
	started bool
	broken  bool
}

func newEventStream(w http.ResponseWriter, log *logger.Logger) *eventStream {
	f, _ := w.(http.Flusher)
	return &eventStream{w: w, flusher: f, logger: logger.OrNop(log)}
}

func (s *eventStream) start() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
	metrics.IncrementSSEConnections()
}

func (s *eventStream) close() {
	if s.started {
		metrics.DecrementSSEConnections()
	}
}

// send writes one event. A value that cannot be encoded is logged and
// skipped; after a failed write the stream stays silent.
func (s *eventStream) send(event string, data interface{}) {
	if s.broken {
		return
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("encoding event failed", zap.String("event", event), zap.Error(err))
		return
	}
	if !s.started {
		s.start()
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		s.broken = true
		s.logger.Info("event stream write failed", zap.String("event", event), zap.Error(err))
		return
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
