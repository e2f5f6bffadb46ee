package backend

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
)

// storedTurn is a message as the persistence service returns it.
type storedTurn struct {
	MessageID    string     `json:"message_id"`
	Role         string     `json:"role"`
	Text         string     `json:"text"`
	CreatedAt    string     `json:"created_at"`
	Rating       flexString `json:"rating"`
	Comment      string     `json:"comment"`
	CitedSources []string   `json:"cited_sources"`
}

type storedConversation struct {
	ConversationID string       `json:"conversation_id"`
	Messages       []storedTurn `json:"messages"`
}

type loadResponse struct {
	Conversations      []storedConversation `json:"conversations"`
	TotalConversations int                  `json:"total_conversations"`
	TotalMessages      int                  `json:"total_messages"`
}

// LoadConversations fetches every stored conversation of a user, newest
// first. All returned ids are authoritative.
func (c *Client) LoadConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.InvalidInput("load-conversations", "user_id is required")
	}

	var resp loadResponse
	err := c.post(ctx, "load-conversations", c.endpoints.LoadConversations, map[string]any{
		"user_id":    userID,
		"table_name": c.table,
		"limit":      c.limit,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("loading conversations: %w", err)
	}

	out := make([]model.Conversation, 0, len(resp.Conversations))
	for _, sc := range resp.Conversations {
		if sc.ConversationID == "" {
			continue
		}
		out = append(out, toConversation(sc))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	c.logger.Info("conversations loaded",
		zap.String("user_id", userID),
		zap.Int("conversations", len(out)),
		zap.Int("messages", resp.TotalMessages),
	)
	return out, nil
}

func toConversation(sc storedConversation) model.Conversation {
	conv := model.Conversation{
		ID:       sc.ConversationID,
		Title:    model.DefaultTitle,
		Messages: make([]model.Message, 0, len(sc.Messages)),
	}

	for _, t := range sc.Messages {
		conv.Messages = append(conv.Messages, toMessage(t))
	}
	if len(sc.Messages) > 0 {
		conv.Title = model.TitleFrom(sc.Messages[0].Text)
		conv.CreatedAt = conv.Messages[0].CreatedAt
	}
	return conv
}

func toMessage(t storedTurn) model.Message {
	role := model.RoleUser
	if t.Role == "assistant" || t.Role == "ai" {
		role = model.RoleAssistant
	}

	m := model.Message{
		ID:        model.AuthoritativeID(t.MessageID),
		Role:      role,
		Kind:      model.KindText,
		Content:   t.Text,
		CreatedAt: parseTime(t.CreatedAt),
		Comment:   t.Comment,
	}
	if r, err := strconv.Atoi(string(t.Rating)); err == nil && r >= 1 && r <= 5 {
		m.Rating = &r
	}
	for _, u := range t.CitedSources {
		m.Sources = append(m.Sources, model.SourceFromURL(u))
	}
	return m
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// flexString decodes a JSON string or number as its text.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		*f = flexString(unq)
		return nil
	}
	*f = flexString(s)
	return nil
}
