// Package session owns one user's conversations and sequences every
// question through submit, poll and reconcile, rolling optimistic state
// back when a job does not settle.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/identity"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/job"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/clock"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/logger"
)

// JobRunner submits questions and polls their jobs.
type JobRunner interface {
	Validate(question string) error
	HistoryLimit() int
	Submit(ctx context.Context, req model.JobRequest) (model.JobHandle, error)
	Poll(ctx context.Context, jobID string, onStatus job.StatusFunc) (*model.JobResult, error)
}

// Backend loads stored conversations and persists feedback.
type Backend interface {
	LoadConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	RateMessage(ctx context.Context, messageID string, rating int) error
	AddComment(ctx context.Context, messageID, comment string) error
}

// Journal keeps local snapshots and job events.
type Journal interface {
	SaveSnapshot(ctx context.Context, userID string, conversations []model.Conversation) error
	LoadSnapshot(ctx context.Context, userID string) ([]model.Conversation, error)
	RecordEvent(ctx context.Context, event model.JobEvent) error
}

// NopJournal discards everything.
type NopJournal struct{}

func (NopJournal) SaveSnapshot(context.Context, string, []model.Conversation) error { return nil }
func (NopJournal) LoadSnapshot(context.Context, string) ([]model.Conversation, error) {
	return nil, nil
}
func (NopJournal) RecordEvent(context.Context, model.JobEvent) error { return nil }

// Config wires a session's collaborators.
type Config struct {
	Identity identity.Identity
	Jobs     JobRunner
	Backend  Backend
	Journal  Journal
	Clock    clock.Clock
	Logger   *logger.Logger

	// MaxQuestionLength bounds the sent-email summary submitted on commit.
	MaxQuestionLength int
}

type pendingJob struct {
	token  uint64
	cancel context.CancelFunc
}

// Session is the state of one user. It is safe for concurrent use; all
// mutations replace the conversation list wholesale under mu.
type Session struct {
	identity    identity.Identity
	jobs        JobRunner
	backend     Backend
	journal     Journal
	clock       clock.Clock
	logger      *logger.Logger
	maxQuestion int

	mu            sync.Mutex
	conversations []model.Conversation
	pending       map[string]pendingJob
	nextToken     uint64
	// unsaved holds conversations created here that no job has persisted yet.
	unsaved map[string]struct{}
}

// New creates an empty session.
func New(cfg Config) *Session {
	journal := cfg.Journal
	if journal == nil {
		journal = NopJournal{}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	maxQ := cfg.MaxQuestionLength
	if maxQ <= 0 {
		maxQ = job.DefaultConfig().MaxQuestionLength
	}

	return &Session{
		identity:    cfg.Identity,
		jobs:        cfg.Jobs,
		backend:     cfg.Backend,
		journal:     journal,
		clock:       clk,
		logger:      logger.OrNop(cfg.Logger).Named("session").With(zap.String("user_id", cfg.Identity.UserID)),
		maxQuestion: maxQ,
		pending:     make(map[string]pendingJob),
		unsaved:     make(map[string]struct{}),
	}
}

// Identity returns the user this session acts for.
func (s *Session) Identity() identity.Identity {
	return s.identity
}

// Load replaces the conversation list with the stored one. Conversations
// with a job in flight and ones not yet persisted keep their local state.
// When the backend cannot be reached the last local snapshot is used
// instead.
func (s *Session) Load(ctx context.Context) ([]model.Conversation, error) {
	convs, err := s.backend.LoadConversations(ctx, s.identity.UserID)
	if err != nil {
		s.logger.Warn("loading conversations failed, trying snapshot", zap.Error(err))

		snap, snapErr := s.journal.LoadSnapshot(ctx, s.identity.UserID)
		if snapErr != nil || snap == nil {
			if snapErr != nil {
				s.logger.Warn("loading snapshot failed", zap.Error(snapErr))
			}
			return nil, err
		}
		convs = snap
	}

	s.mu.Lock()
	s.conversations = s.mergeLocked(convs)
	out := cloneConversations(s.conversations)
	s.mu.Unlock()

	s.logger.Info("conversations loaded", zap.Int("count", len(out)))
	return out, nil
}

// mergeLocked lays loaded over the local list. Local conversations that
// are pending or unsaved win; those missing from loaded go on top.
func (s *Session) mergeLocked(loaded []model.Conversation) []model.Conversation {
	out := cloneConversations(loaded)
	at := make(map[string]int, len(out))
	for i, c := range out {
		at[c.ID] = i
	}

	var local []model.Conversation
	for _, c := range s.conversations {
		_, busy := s.pending[c.ID]
		_, fresh := s.unsaved[c.ID]
		i, stored := at[c.ID]
		switch {
		case stored && busy:
			out[i] = c.Clone()
		case stored:
			delete(s.unsaved, c.ID)
		case busy || fresh:
			local = append(local, c.Clone())
		}
	}
	return append(local, out...)
}

// Conversations returns a copy of the conversation list, newest first.
func (s *Session) Conversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneConversations(s.conversations)
}

// Conversation returns a copy of one conversation.
func (s *Session) Conversation(id string) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return model.Conversation{}, notFound(id)
	}
	return s.conversations[i].Clone(), nil
}

// Pending reports whether a job is in flight for the conversation.
func (s *Session) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// NewConversation starts an empty conversation at the top of the list.
func (s *Session) NewConversation() model.Conversation {
	conv := model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Title:     model.DefaultTitle,
		Messages:  []model.Message{},
		CreatedAt: s.clock.Now(),
	}

	s.mu.Lock()
	next := make([]model.Conversation, 0, len(s.conversations)+1)
	next = append(next, conv)
	next = append(next, s.conversations...)
	s.conversations = next
	s.unsaved[conv.ID] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("conversation created", zap.String("conversation_id", conv.ID))
	return conv.Clone()
}

// DeleteConversation removes a conversation, abandoning any pending job.
func (s *Session) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return notFound(id)
	}
	if p, ok := s.pending[id]; ok {
		p.cancel()
		delete(s.pending, id)
	}
	delete(s.unsaved, id)
	next := make([]model.Conversation, 0, len(s.conversations)-1)
	next = append(next, s.conversations[:i]...)
	next = append(next, s.conversations[i+1:]...)
	s.conversations = next
	snap := cloneConversations(next)
	s.mu.Unlock()

	s.saveSnapshot(ctx, snap)
	s.logger.Info("conversation deleted", zap.String("conversation_id", id))
	return nil
}

// Abandon cancels the pending job of a conversation. The running Ask
// returns the context error after rolling its provisional entry back.
func (s *Session) Abandon(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[id]
	if ok {
		p.cancel()
	}
	return ok
}

// Close abandons every pending job.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pending {
		p.cancel()
	}
}

func (s *Session) indexLocked(id string) int {
	for i, c := range s.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// replaceLocked swaps in a new version of the conversation at index i.
func (s *Session) replaceLocked(i int, conv model.Conversation) {
	next := make([]model.Conversation, len(s.conversations))
	copy(next, s.conversations)
	next[i] = conv
	s.conversations = next
}

func (s *Session) saveSnapshot(ctx context.Context, convs []model.Conversation) {
	if err := s.journal.SaveSnapshot(context.WithoutCancel(ctx), s.identity.UserID, convs); err != nil {
		s.logger.Warn("saving snapshot failed", zap.Error(err))
	}
}

func (s *Session) recordEvent(ctx context.Context, event model.JobEvent) {
	event.UserID = s.identity.UserID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.clock.Now()
	}
	if err := s.journal.RecordEvent(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("recording job event failed", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

func notFound(id string) error {
	return model.NotFound("conversation", fmt.Sprintf("no conversation %q", id))
}

func cloneConversations(in []model.Conversation) []model.Conversation {
	out := make([]model.Conversation, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

// isAbandon reports whether err came from cancellation rather than the
// backend.
func isAbandon(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
