// Package model defines data structures for the chat job orchestrator.
package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultTitle names a conversation that has no messages yet.
const DefaultTitle = "New Conversation"

// titleLength is the number of runes of the first question used as title.
const titleLength = 50

// Conversation represents a conversation thread owned by one user.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of the conversation.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = CloneMessages(c.Messages)
	return out
}

// TitleFrom derives a conversation title from its first message text.
func TitleFrom(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(text) <= titleLength {
		return text
	}
	return string([]rune(text)[:titleLength])
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	UserID        string         `json:"user_id"`
	Guest         bool           `json:"guest"`
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}
