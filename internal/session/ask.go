package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/job"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/reconcile"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/metrics"
)

// AskRequest is one question in one conversation.
type AskRequest struct {
	ConversationID string
	Question       string

	// OnProvisional receives the conversation right after the optimistic
	// entry was added.
	OnProvisional func(model.Conversation)
	// OnStatus receives every status check of the job.
	OnStatus job.StatusFunc
}

// Outcome is a settled question.
type Outcome struct {
	Conversation model.Conversation `json:"conversation"`
	Assistant    model.Message      `json:"assistant"`
	Artifact     *model.Message     `json:"artifact,omitempty"`
}

// Ask submits a question and waits for its job to settle. Invalid input
// and a job already pending for the conversation are rejected before any
// state changes. Any later failure rolls the optimistic entry back.
func (s *Session) Ask(ctx context.Context, req AskRequest) (*Outcome, error) {
	s.mu.Lock()
	i := s.indexLocked(req.ConversationID)
	if i < 0 {
		s.mu.Unlock()
		return nil, notFound(req.ConversationID)
	}
	if _, busy := s.pending[req.ConversationID]; busy {
		s.mu.Unlock()
		return nil, model.NewError(model.KindSubmissionPending, "ask", "a question is already being answered")
	}
	if err := s.jobs.Validate(req.Question); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	conv := s.conversations[i].Clone()
	history := job.BuildHistory(conv.Messages, s.jobs.HistoryLimit())
	if len(conv.Messages) == 0 {
		conv.Title = model.TitleFrom(req.Question)
	}
	var entry model.Message
	conv.Messages, entry = reconcile.AddProvisional(conv.Messages, req.Question, s.clock.Now())
	s.replaceLocked(i, conv)

	runCtx, token := s.beginLocked(ctx, conv.ID)
	s.mu.Unlock()

	if req.OnProvisional != nil {
		req.OnProvisional(conv.Clone())
	}

	return s.run(runCtx, token, conv.ID, entry, history, nil, req.OnStatus)
}

// beginLocked registers a pending job for the conversation.
func (s *Session) beginLocked(ctx context.Context, convID string) (context.Context, uint64) {
	runCtx, cancel := context.WithCancel(ctx)
	s.nextToken++
	s.pending[convID] = pendingJob{token: s.nextToken, cancel: cancel}
	return runCtx, s.nextToken
}

// endLocked clears the pending job if it is still the one identified by
// token.
func (s *Session) endLocked(convID string, token uint64) {
	if p, ok := s.pending[convID]; ok && p.token == token {
		p.cancel()
		delete(s.pending, convID)
	}
}

// restore describes state to put back when a commit fails.
type restore struct {
	artifact model.Message
	index    int
}

func (s *Session) run(ctx context.Context, token uint64, convID string, entry model.Message, history []model.HistoryTurn, undo *restore, onStatus job.StatusFunc) (*Outcome, error) {
	log := s.logger.With(zap.String("conversation_id", convID))

	handle, err := s.jobs.Submit(ctx, model.JobRequest{
		Question:       entry.Content,
		ConversationID: convID,
		UserID:         s.identity.UserID,
		History:        history,
	})
	if err != nil {
		return nil, s.fail(ctx, token, convID, "", entry, undo, err)
	}
	s.recordEvent(ctx, model.JobEvent{ConversationID: convID, JobID: handle.ID, Type: model.JobEventSubmitted})

	result, err := s.jobs.Poll(ctx, handle.ID, onStatus)
	if err != nil {
		return nil, s.fail(ctx, token, convID, handle.ID, entry, undo, err)
	}

	sub := reconcile.Submission{JobID: handle.ID, Question: entry.Content, SubmittedAt: entry.CreatedAt}
	completedAt := s.clock.Now()

	s.mu.Lock()
	s.endLocked(convID, token)
	i := s.indexLocked(convID)
	if i < 0 {
		s.mu.Unlock()
		log.Info("conversation deleted before its job settled", zap.String("job_id", handle.ID))
		return nil, notFound(convID)
	}
	delete(s.unsaved, convID)
	conv := s.conversations[i].Clone()
	conv.Messages = reconcile.Reconcile(conv.Messages, sub, result, completedAt)
	s.replaceLocked(i, conv)
	snap := cloneConversations(s.conversations)
	s.mu.Unlock()

	s.saveSnapshot(ctx, snap)
	s.recordEvent(ctx, model.JobEvent{ConversationID: convID, JobID: handle.ID, Type: model.JobEventDone})

	outcome := &Outcome{Conversation: conv.Clone()}
	assistantID := reconcile.AssistantMessageID(sub, result)
	artifactID := reconcile.ArtifactID(handle.ID)
	for _, m := range conv.Messages {
		switch {
		case m.ID == assistantID:
			outcome.Assistant = m.Clone()
		case result.Draft != nil && m.ID == artifactID:
			a := m.Clone()
			outcome.Artifact = &a
		}
	}

	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser), string(model.KindText)).Inc()
	metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant), string(model.KindText)).Inc()
	if outcome.Artifact != nil {
		metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant), string(model.KindEmailDraft)).Inc()
	}

	log.Info("question answered",
		zap.String("job_id", handle.ID),
		zap.Int("sources", len(result.Sources)),
		zap.Bool("draft", outcome.Artifact != nil),
	)
	return outcome, nil
}

// fail rolls back the optimistic entry, restores a committed artifact and
// records the failure.
func (s *Session) fail(ctx context.Context, token uint64, convID, jobID string, entry model.Message, undo *restore, cause error) error {
	s.mu.Lock()
	s.endLocked(convID, token)
	if i := s.indexLocked(convID); i >= 0 {
		conv := s.conversations[i].Clone()
		conv.Messages = reconcile.Rollback(conv.Messages, entry.ID)
		if undo != nil {
			conv.Messages = insertAt(conv.Messages, undo.index, undo.artifact)
		}
		s.replaceLocked(i, conv)
	}
	s.mu.Unlock()

	eventType := model.JobEventFailed
	if isAbandon(cause) {
		eventType = model.JobEventAbandoned
	}
	s.recordEvent(ctx, model.JobEvent{
		ConversationID: convID,
		JobID:          jobID,
		Type:           eventType,
		Reason:         cause.Error(),
	})

	s.logger.Warn("question rolled back",
		zap.String("conversation_id", convID),
		zap.String("job_id", jobID),
		zap.String("kind", string(model.KindOf(cause))),
		zap.Error(cause),
	)
	return cause
}

func insertAt(messages []model.Message, i int, m model.Message) []model.Message {
	if i < 0 || i > len(messages) {
		i = len(messages)
	}
	out := make([]model.Message, 0, len(messages)+1)
	out = append(out, messages[:i]...)
	out = append(out, m)
	return append(out, messages[i:]...)
}

// CommitRequest sends a drafted email.
type CommitRequest struct {
	ConversationID string
	ArtifactID     string
	// Edited, when set, overrides the draft's subject, body or recipient.
	Edited *model.EmailDraft

	OnProvisional func(model.Conversation)
	OnStatus      job.StatusFunc
}

// CommitArtifact removes the draft, records a summary of the sent email as
// the next question and submits it. A second commit of the same draft
// finds nothing to commit, so only one follow-up is ever submitted.
func (s *Session) CommitArtifact(ctx context.Context, req CommitRequest) (*Outcome, error) {
	s.mu.Lock()
	i := s.indexLocked(req.ConversationID)
	if i < 0 {
		s.mu.Unlock()
		return nil, notFound(req.ConversationID)
	}
	if _, busy := s.pending[req.ConversationID]; busy {
		s.mu.Unlock()
		return nil, model.NewError(model.KindSubmissionPending, "commit", "a question is already being answered")
	}

	conv := s.conversations[i].Clone()
	artifact, err := reconcile.PendingArtifact(conv.Messages, req.ArtifactID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	artifactIndex := -1
	for j, m := range conv.Messages {
		if m.ID == artifact.ID {
			artifactIndex = j
			break
		}
	}

	messages, entry, err := reconcile.CommitArtifact(conv.Messages, req.ArtifactID, req.Edited, s.maxQuestion, s.clock.Now())
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	history := job.BuildHistory(reconcile.Rollback(messages, entry.ID), s.jobs.HistoryLimit())
	conv.Messages = messages
	s.replaceLocked(i, conv)

	runCtx, token := s.beginLocked(ctx, conv.ID)
	s.mu.Unlock()

	s.logger.Info("draft committed",
		zap.String("conversation_id", conv.ID),
		zap.String("artifact_id", req.ArtifactID),
	)
	if req.OnProvisional != nil {
		req.OnProvisional(conv.Clone())
	}

	return s.run(runCtx, token, conv.ID, entry, history, &restore{artifact: artifact, index: artifactIndex}, req.OnStatus)
}

// DiscardArtifact drops a pending draft.
func (s *Session) DiscardArtifact(ctx context.Context, convID, artifactID string) (model.Conversation, error) {
	s.mu.Lock()
	i := s.indexLocked(convID)
	if i < 0 {
		s.mu.Unlock()
		return model.Conversation{}, notFound(convID)
	}
	conv := s.conversations[i].Clone()
	messages, err := reconcile.DiscardArtifact(conv.Messages, artifactID)
	if err != nil {
		s.mu.Unlock()
		return model.Conversation{}, err
	}
	conv.Messages = messages
	s.replaceLocked(i, conv)
	snap := cloneConversations(s.conversations)
	s.mu.Unlock()

	s.saveSnapshot(ctx, snap)
	return conv.Clone(), nil
}

// Rate sets or clears a rating. The local state changes first; a set
// rating is then persisted and a persistence failure is returned without
// undoing the local change.
func (s *Session) Rate(ctx context.Context, convID, messageID string, rating int) (*int, error) {
	s.mu.Lock()
	i := s.indexLocked(convID)
	if i < 0 {
		s.mu.Unlock()
		return nil, notFound(convID)
	}
	conv := s.conversations[i].Clone()
	messages, next, err := reconcile.SetRating(conv.Messages, messageID, rating)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	conv.Messages = messages
	s.replaceLocked(i, conv)
	snap := cloneConversations(s.conversations)
	s.mu.Unlock()

	s.saveSnapshot(ctx, snap)
	if next == nil {
		return nil, nil
	}
	if err := s.backend.RateMessage(ctx, messageID, *next); err != nil {
		return next, err
	}
	return next, nil
}

// Comment stores free-text feedback, locally first and then remotely.
func (s *Session) Comment(ctx context.Context, convID, messageID, comment string) error {
	s.mu.Lock()
	i := s.indexLocked(convID)
	if i < 0 {
		s.mu.Unlock()
		return notFound(convID)
	}
	conv := s.conversations[i].Clone()
	messages, err := reconcile.SetComment(conv.Messages, messageID, comment)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	conv.Messages = messages
	s.replaceLocked(i, conv)
	snap := cloneConversations(s.conversations)
	s.mu.Unlock()

	s.saveSnapshot(ctx, snap)
	return s.backend.AddComment(ctx, messageID, comment)
}
