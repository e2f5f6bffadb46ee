// Package engine is a local stand-in for the remote question engine. It
// speaks the same create-job / get-job protocol and answers questions
// through an LLM provider.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/job"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/llm"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/clock"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/logger"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/metrics"
)

const defaultSystemPrompt = "You are the Spaceship support assistant. Answer questions about Spaceship products clearly and briefly."

// Config bounds the engine.
type Config struct {
	MaxInFlight       int
	JobTimeout        time.Duration
	Retention         time.Duration
	MaxQuestionLength int
	SystemPrompt      string
	DraftRecipient    string
}

// DefaultConfig allows 8 concurrent jobs of at most two minutes each.
func DefaultConfig() Config {
	return Config{
		MaxInFlight:       8,
		JobTimeout:        2 * time.Minute,
		Retention:         30 * time.Minute,
		MaxQuestionLength: 1000,
		SystemPrompt:      defaultSystemPrompt,
		DraftRecipient:    model.DefaultDraftRecipient,
	}
}

// CreateRequest is the job-creation body.
type CreateRequest struct {
	Question       string              `json:"question"`
	ConversationID string              `json:"conversation_id"`
	UserID         string              `json:"user_id"`
	HistoryLimit   int                 `json:"history_limit"`
	InitialTopK    int                 `json:"initial_top_k"`
	TopK           int                 `json:"top_k"`
	History        []model.HistoryTurn `json:"history"`
}

// Status is the job-status body.
type Status struct {
	Status          model.JobStatus `json:"status"`
	Result          string          `json:"result,omitempty"`
	Sources         []string        `json:"sources,omitempty"`
	ResponsePayload *Payload        `json:"responsePayload,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// Payload carries the ids assigned to the settled turn.
type Payload struct {
	UserMessageID      string      `json:"user_message_id"`
	AssistantMessageID string      `json:"assistant_message_id"`
	EmailDraft         *EmailDraft `json:"email_draft,omitempty"`
}

// EmailDraft mirrors the remote engine's draft format.
type EmailDraft struct {
	Subject      string      `json:"subject"`
	BodyMarkdown string      `json:"body_markdown"`
	ContactInfo  ContactInfo `json:"contact_info"`
}

// ContactInfo names the draft's recipient.
type ContactInfo struct {
	Email string `json:"email"`
}

type record struct {
	status     Status
	finishedAt time.Time
}

// Engine runs jobs on goroutines.
type Engine struct {
	cfg    Config
	llm    llm.Client
	clock  clock.Clock
	logger *logger.Logger

	mu      sync.Mutex
	jobs    map[string]*record
	running int
	wg      sync.WaitGroup
}

// New creates an engine.
func New(cfg Config, client llm.Client, clk clock.Clock, log *logger.Logger) *Engine {
	def := DefaultConfig()
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = def.MaxQuestionLength
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = def.SystemPrompt
	}
	if cfg.DraftRecipient == "" {
		cfg.DraftRecipient = def.DraftRecipient
	}
	if clk == nil {
		clk = clock.Real()
	}

	return &Engine{
		cfg:    cfg,
		llm:    client,
		clock:  clk,
		logger: logger.OrNop(log).Named("engine"),
		jobs:   make(map[string]*record),
	}
}

// ErrBusy is returned when MaxInFlight jobs are running.
var ErrBusy = model.NewError(model.KindServiceUnavailable, "create-job", "too many jobs in flight")

// Create validates the question and starts a job.
func (e *Engine) Create(req CreateRequest) (model.JobHandle, error) {
	if err := job.ValidateQuestion(req.Question, e.cfg.MaxQuestionLength); err != nil {
		return model.JobHandle{}, err
	}

	e.mu.Lock()
	e.sweepLocked()
	if e.running >= e.cfg.MaxInFlight {
		e.mu.Unlock()
		return model.JobHandle{}, ErrBusy
	}
	id := uuid.Must(uuid.NewV7()).String()
	e.jobs[id] = &record{status: Status{Status: model.JobPending}}
	e.running++
	e.wg.Add(1)
	e.mu.Unlock()

	metrics.EngineJobs.WithLabelValues(string(model.JobPending)).Inc()
	e.logger.Info("job created",
		zap.String("job_id", id),
		zap.String("conversation_id", req.ConversationID),
		zap.Int("history", len(req.History)),
	)

	go e.execute(id, req)
	return model.JobHandle{ID: id, Status: model.JobPending}, nil
}

// Status reports a job.
func (e *Engine) Status(id string) (Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.jobs[id]
	if !ok {
		return Status{}, false
	}
	return rec.status, true
}

// Wait blocks until every running job finished or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) execute(id string, req CreateRequest) {
	defer e.wg.Done()

	e.setStatus(id, Status{Status: model.JobRunning})

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.JobTimeout)
	defer cancel()

	start := e.clock.Now()
	resp, err := e.llm.Complete(ctx, &llm.CompletionRequest{
		System:   e.cfg.SystemPrompt,
		Messages: Messages(req.History, req.Question),
	})
	elapsed := e.clock.Now().Sub(start)

	if err != nil {
		metrics.LLMDuration.WithLabelValues(e.llm.Name(), "error").Observe(elapsed.Seconds())
		e.logger.Warn("job failed", zap.String("job_id", id), zap.Error(err))
		e.finish(id, Status{Status: model.JobError, Error: "The assistant could not answer this question"})
		return
	}
	metrics.LLMDuration.WithLabelValues(e.llm.Name(), "ok").Observe(elapsed.Seconds())

	payload := &Payload{
		UserMessageID:      "msg-" + id + "-user",
		AssistantMessageID: "msg-" + id + "-ai",
	}
	if WantsDraft(req.Question) {
		payload.EmailDraft = &EmailDraft{
			Subject:      "Question from a Spaceship customer",
			BodyMarkdown: strings.TrimSpace(req.Question),
			ContactInfo:  ContactInfo{Email: e.cfg.DraftRecipient},
		}
	}

	e.logger.Info("job done",
		zap.String("job_id", id),
		zap.String("provider", e.llm.Name()),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Duration("elapsed", elapsed),
	)
	e.finish(id, Status{
		Status:          model.JobDone,
		Result:          resp.Content,
		ResponsePayload: payload,
	})
}

func (e *Engine) setStatus(id string, s Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.jobs[id]; ok {
		rec.status = s
	}
	metrics.EngineJobs.WithLabelValues(string(s.Status)).Inc()
}

func (e *Engine) finish(id string, s Status) {
	e.mu.Lock()
	if rec, ok := e.jobs[id]; ok {
		rec.status = s
		rec.finishedAt = e.clock.Now()
	}
	e.running--
	e.mu.Unlock()
	metrics.EngineJobs.WithLabelValues(string(s.Status)).Inc()
}

// sweepLocked forgets finished jobs older than the retention window.
func (e *Engine) sweepLocked() {
	cutoff := e.clock.Now().Add(-e.cfg.Retention)
	for id, rec := range e.jobs {
		if rec.status.Status.Terminal() && rec.finishedAt.Before(cutoff) {
			delete(e.jobs, id)
		}
	}
}

// Messages turns the history and the new question into chat turns.
// Artifact records become a short assistant note.
func Messages(history []model.HistoryTurn, question string) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, 2*len(history)+1)
	for _, h := range history {
		if h.Type != "" {
			out = append(out, llm.ChatMessage{
				Role:    llm.RoleAssistant,
				Content: fmt.Sprintf("[%s draft] %s", h.Type, h.Content),
			})
			continue
		}
		out = append(out,
			llm.ChatMessage{Role: llm.RoleUser, Content: h.Question},
			llm.ChatMessage{Role: llm.RoleAssistant, Content: h.Answer},
		)
	}
	return append(out, llm.ChatMessage{Role: llm.RoleUser, Content: strings.TrimSpace(question)})
}

// WantsDraft reports whether the question asks for an email to support.
// The summary of an email already sent never does.
func WantsDraft(question string) bool {
	q := strings.ToLower(strings.TrimSpace(question))
	if strings.HasPrefix(q, "**sent the email") {
		return false
	}
	return strings.Contains(q, "email") && strings.Contains(q, "support")
}
