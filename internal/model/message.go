package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind separates ordinary text messages from side artifacts.
type Kind string

const (
	// KindText is a message in the textual exchange.
	KindText Kind = "message"
	// KindEmailDraft is a drafted outbound email produced next to an answer.
	KindEmailDraft Kind = "email"
)

// DefaultDraftRecipient is used when a draft arrives without contact info.
const DefaultDraftRecipient = "support@spaceshipapp.com"

// MessageID identifies a message. A provisional id is generated locally
// for an optimistic entry and must never be persisted; an authoritative
// id was assigned by the backend (or derived from a settled job).
type MessageID struct {
	value       string
	provisional bool
}

// ProvisionalID wraps a client-generated identifier.
func ProvisionalID(v string) MessageID {
	return MessageID{value: v, provisional: true}
}

// AuthoritativeID wraps a backend-confirmed identifier.
func AuthoritativeID(v string) MessageID {
	return MessageID{value: v}
}

// String returns the raw identifier.
func (id MessageID) String() string {
	return id.value
}

// IsProvisional reports whether the id was generated locally.
func (id MessageID) IsProvisional() bool {
	return id.provisional
}

// IsZero reports whether the id is unset.
func (id MessageID) IsZero() bool {
	return id.value == ""
}

type messageIDJSON struct {
	Value       string `json:"value"`
	Provisional bool   `json:"provisional,omitempty"`
}

// MarshalJSON encodes the id as {"value": ..., "provisional": ...}.
func (id MessageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageIDJSON{Value: id.value, Provisional: id.provisional})
}

// UnmarshalJSON accepts the object form or a bare string. Bare strings
// come from persistence and are always authoritative.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = AuthoritativeID(s)
		return nil
	}

	var raw messageIDJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	*id = MessageID{value: raw.Value, provisional: raw.Provisional}
	return nil
}

// Source is a citation attached to an assistant message.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// SourceFromURL builds a citation whose title is the last path segment
// of the URL with dashes turned into spaces.
func SourceFromURL(raw string) Source {
	return Source{Title: titleFromURL(raw), URL: raw}
}

func titleFromURL(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	last := path.Base(strings.TrimRight(p, "/"))
	if last == "" || last == "." || last == "/" {
		return "Source"
	}
	return strings.ReplaceAll(last, "-", " ")
}

// UnmarshalJSON accepts either a bare URL string or a source object.
func (s *Source) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*s = SourceFromURL(raw)
		return nil
	}

	type plain Source
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	*s = Source(p)
	if s.Title == "" && s.URL != "" {
		s.Title = titleFromURL(s.URL)
	}
	return nil
}

// EmailDraft is the payload of a drafted outbound email.
type EmailDraft struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Recipient string `json:"recipient"`
}

// Message represents a conversation message.
type Message struct {
	ID        MessageID   `json:"id"`
	Role      Role        `json:"role"`
	Kind      Kind        `json:"kind"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
	Sources   []Source    `json:"sources,omitempty"`
	Draft     *EmailDraft `json:"draft,omitempty"`

	// Feedback, set by the user after the message settled.
	Rating  *int   `json:"rating,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// IsArtifact reports whether the message is a side artifact rather than
// part of the textual exchange.
func (m Message) IsArtifact() bool {
	return m.Kind == KindEmailDraft
}

// Clone returns a deep copy so callers can hand messages out without
// sharing slices or pointers with session state.
func (m Message) Clone() Message {
	out := m
	if m.Sources != nil {
		out.Sources = append([]Source(nil), m.Sources...)
	}
	if m.Draft != nil {
		d := *m.Draft
		out.Draft = &d
	}
	if m.Rating != nil {
		r := *m.Rating
		out.Rating = &r
	}
	return out
}

// CloneMessages deep-copies a message list.
func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
