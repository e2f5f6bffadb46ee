package model

import (
	"time"
)

// JobStatus is the backend-reported state of a job. Only DONE and ERROR
// are terminal; anything else, including values not listed here, means
// the job is still in flight.
type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobRunning JobStatus = "RUNNING"
	JobDone    JobStatus = "DONE"
	JobError   JobStatus = "ERROR"
)

// Terminal reports whether no further polling should occur.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobError
}

// JobHandle is returned by job creation.
type JobHandle struct {
	ID     string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

// JobRequest is one question submitted to the remote engine.
type JobRequest struct {
	Question       string        `json:"question"`
	ConversationID string        `json:"conversation_id"`
	UserID         string        `json:"user_id"`
	History        []HistoryTurn `json:"history"`
}

// HistoryTurn is one entry of the context sent with a question: either a
// question/answer pair or a side-artifact record.
type HistoryTurn struct {
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`

	ID        string     `json:"id,omitempty"`
	Type      string     `json:"type,omitempty"`
	Content   string     `json:"content,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// JobResult is the payload of a job that reached DONE.
type JobResult struct {
	JobID              string      `json:"job_id"`
	Text               string      `json:"text"`
	Sources            []Source    `json:"sources,omitempty"`
	UserMessageID      string      `json:"user_message_id,omitempty"`
	AssistantMessageID string      `json:"assistant_message_id,omitempty"`
	Draft              *EmailDraft `json:"draft,omitempty"`
}

// JobEventType names a step in a job's lifecycle.
type JobEventType string

const (
	JobEventSubmitted JobEventType = "submitted"
	JobEventDone      JobEventType = "done"
	JobEventFailed    JobEventType = "failed"
	JobEventAbandoned JobEventType = "abandoned"
)

// JobEvent records a lifecycle step for the local journal.
type JobEvent struct {
	ConversationID string       `json:"conversation_id"`
	UserID         string       `json:"user_id"`
	JobID          string       `json:"job_id,omitempty"`
	Type           JobEventType `json:"type"`
	Reason         string       `json:"reason,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}
