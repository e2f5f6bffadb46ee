// Package reconcile merges settled job results into a conversation's
// message list. Every function here is pure: it takes a list and returns
// a new one, never mutating its input.
package reconcile

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
)

// MaxCommentLength bounds free-text feedback.
const MaxCommentLength = 1000

// Submission identifies the question whose job just settled.
type Submission struct {
	JobID       string
	Question    string
	SubmittedAt time.Time
}

// UserMessageID is the id used for the settled question. The backend id
// wins; otherwise it is derived from the job id so re-applying the same
// result yields the same id.
func UserMessageID(sub Submission, res *model.JobResult) model.MessageID {
	if res != nil && res.UserMessageID != "" {
		return model.AuthoritativeID(res.UserMessageID)
	}
	return model.AuthoritativeID("msg-" + sub.JobID + "-user")
}

// AssistantMessageID is the id used for the answer.
func AssistantMessageID(sub Submission, res *model.JobResult) model.MessageID {
	if res != nil && res.AssistantMessageID != "" {
		return model.AuthoritativeID(res.AssistantMessageID)
	}
	return model.AuthoritativeID("msg-" + sub.JobID + "-ai")
}

// ArtifactID is the id of the email draft produced by a job.
func ArtifactID(jobID string) model.MessageID {
	return model.AuthoritativeID("email-draft-" + jobID)
}

// Reconcile replaces the optimistic entries of a conversation with the
// authoritative outcome of a job. Provisional entries are dropped, as is
// any entry already carrying an id about to be appended, then the user
// question, the answer and (when present) the email draft are appended.
//
// Applying the same result twice gives the same list.
func Reconcile(messages []model.Message, sub Submission, res *model.JobResult, completedAt time.Time) []model.Message {
	userID := UserMessageID(sub, res)
	assistantID := AssistantMessageID(sub, res)

	appended := []model.Message{
		{
			ID:        userID,
			Role:      model.RoleUser,
			Kind:      model.KindText,
			Content:   strings.TrimSpace(sub.Question),
			CreatedAt: sub.SubmittedAt,
		},
		{
			ID:        assistantID,
			Role:      model.RoleAssistant,
			Kind:      model.KindText,
			Content:   res.Text,
			CreatedAt: completedAt,
			Sources:   append([]model.Source(nil), res.Sources...),
		},
	}
	if res.Draft != nil {
		draft := *res.Draft
		if draft.Recipient == "" {
			draft.Recipient = model.DefaultDraftRecipient
		}
		appended = append(appended, model.Message{
			ID:        ArtifactID(sub.JobID),
			Role:      model.RoleAssistant,
			Kind:      model.KindEmailDraft,
			Content:   draft.Subject,
			CreatedAt: completedAt,
			Draft:     &draft,
		})
	}

	incoming := make(map[string]struct{}, len(appended))
	for _, m := range appended {
		incoming[m.ID.String()] = struct{}{}
	}

	out := make([]model.Message, 0, len(messages)+len(appended))
	for _, m := range messages {
		if m.ID.IsProvisional() {
			continue
		}
		if _, dup := incoming[m.ID.String()]; dup {
			continue
		}
		out = append(out, m.Clone())
	}
	return append(out, appended...)
}

// NewProvisional builds an optimistic user entry.
func NewProvisional(text string, at time.Time) model.Message {
	return model.Message{
		ID:        model.ProvisionalID(uuid.NewString()),
		Role:      model.RoleUser,
		Kind:      model.KindText,
		Content:   strings.TrimSpace(text),
		CreatedAt: at,
	}
}

// AddProvisional appends an optimistic user entry and returns the new list
// together with that entry.
func AddProvisional(messages []model.Message, text string, at time.Time) ([]model.Message, model.Message) {
	entry := NewProvisional(text, at)
	out := model.CloneMessages(messages)
	return append(out, entry), entry
}

// Rollback removes the entry with the given id.
func Rollback(messages []model.Message, id model.MessageID) []model.Message {
	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		if m.ID == id {
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}

// StripProvisional drops every provisional entry. Used before anything is
// persisted.
func StripProvisional(messages []model.Message) []model.Message {
	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		if !m.ID.IsProvisional() {
			out = append(out, m.Clone())
		}
	}
	return out
}

func indexOf(messages []model.Message, id string) int {
	for i, m := range messages {
		if m.ID.String() == id {
			return i
		}
	}
	return -1
}

// PendingArtifact returns the artifact with the given id.
func PendingArtifact(messages []model.Message, id string) (model.Message, error) {
	i := indexOf(messages, id)
	if i < 0 || !messages[i].IsArtifact() {
		return model.Message{}, model.NotFound("artifact", fmt.Sprintf("no pending artifact %q", id))
	}
	return messages[i].Clone(), nil
}

// DiscardArtifact removes a pending artifact.
func DiscardArtifact(messages []model.Message, id string) ([]model.Message, error) {
	if _, err := PendingArtifact(messages, id); err != nil {
		return nil, err
	}
	return Rollback(messages, model.AuthoritativeID(id)), nil
}

// SentSummary is the follow-up question recorded when a draft is sent.
func SentSummary(d model.EmailDraft) string {
	return fmt.Sprintf("**Sent the email with the content:**\n\n**Subject:** %s\n\n**Body:**\n\n*%s*", d.Subject, d.Body)
}

// CommitArtifact removes a pending artifact and appends a provisional user
// entry summarizing the sent draft. edited, when non-nil, replaces the
// draft's subject and body. The returned entry's content is the question
// to submit next; it is validated against maxLen before anything changes.
func CommitArtifact(messages []model.Message, id string, edited *model.EmailDraft, maxLen int, at time.Time) ([]model.Message, model.Message, error) {
	artifact, err := PendingArtifact(messages, id)
	if err != nil {
		return nil, model.Message{}, err
	}

	draft := model.EmailDraft{}
	if artifact.Draft != nil {
		draft = *artifact.Draft
	}
	if edited != nil {
		if s := strings.TrimSpace(edited.Subject); s != "" {
			draft.Subject = s
		}
		if b := strings.TrimSpace(edited.Body); b != "" {
			draft.Body = b
		}
		if r := strings.TrimSpace(edited.Recipient); r != "" {
			draft.Recipient = r
		}
	}

	summary := SentSummary(draft)
	if maxLen > 0 && utf8.RuneCountInString(summary) > maxLen {
		return nil, model.Message{}, model.InvalidInput("commit", fmt.Sprintf("email content must be %d characters or less", maxLen))
	}

	out := Rollback(messages, artifact.ID)
	out, entry := AddProvisional(out, summary, at)
	return out, entry, nil
}

// SetRating records a 1..5 rating on a settled message. Selecting the
// rating the message already has clears it.
func SetRating(messages []model.Message, id string, rating int) ([]model.Message, *int, error) {
	if rating < 1 || rating > 5 {
		return nil, nil, model.InvalidInput("rate", "Rating must be between 1 and 5")
	}
	i := indexOf(messages, id)
	if i < 0 {
		return nil, nil, model.NotFound("rate", fmt.Sprintf("no message %q", id))
	}
	if messages[i].ID.IsProvisional() {
		return nil, nil, model.InvalidInput("rate", "message is not saved yet")
	}

	out := model.CloneMessages(messages)
	var next *int
	if cur := out[i].Rating; cur == nil || *cur != rating {
		r := rating
		next = &r
	}
	out[i].Rating = next
	return out, next, nil
}

// SetComment records free-text feedback on a settled message.
func SetComment(messages []model.Message, id, comment string) ([]model.Message, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, model.InvalidInput("comment", "Comment cannot be empty")
	}
	if utf8.RuneCountInString(comment) > MaxCommentLength {
		return nil, model.InvalidInput("comment", fmt.Sprintf("Comment must be %d characters or less", MaxCommentLength))
	}
	i := indexOf(messages, id)
	if i < 0 {
		return nil, model.NotFound("comment", fmt.Sprintf("no message %q", id))
	}
	if messages[i].ID.IsProvisional() {
		return nil, model.InvalidInput("comment", "message is not saved yet")
	}

	out := model.CloneMessages(messages)
	out[i].Comment = comment
	return out, nil
}
