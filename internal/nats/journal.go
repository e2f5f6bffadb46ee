package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/reconcile"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/logger"
)

const (
	// StreamName is the name of the conversations stream.
	StreamName = "CONVERSATIONS"

	// SubjectPrefix is the prefix for all conversation subjects.
	SubjectPrefix = "conv"

	// snapshotsKept bounds how many snapshots per user the stream retains.
	snapshotsKept = 5
)

// Snapshot is the persisted conversation list of one user.
type Snapshot struct {
	UserID        string               `json:"user_id"`
	SavedAt       time.Time            `json:"saved_at"`
	Conversations []model.Conversation `json:"conversations"`
}

// Journal stores conversation snapshots and job events in JetStream.
type Journal struct {
	js     jetstream.JetStream
	logger *logger.Logger
	now    func() time.Time
}

// NewJournal creates a journal over client's JetStream context.
func NewJournal(client *Client, log *logger.Logger) *Journal {
	return &Journal{
		js:     client.JetStream(),
		logger: logger.OrNop(log).Named("journal"),
		now:    time.Now,
	}
}

// EnsureStream ensures the conversations stream exists with proper configuration.
func (j *Journal) EnsureStream(ctx context.Context) error {
	if _, err := j.js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := j.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:              StreamName,
		Subjects:          []string{SubjectPrefix + ".>"},
		Retention:         jetstream.LimitsPolicy,
		MaxAge:            90 * 24 * time.Hour,
		MaxMsgsPerSubject: snapshotsKept,
		Storage:           jetstream.FileStorage,
		Replicas:          1,
		Compression:       jetstream.S2Compression,
		Description:       "Conversation snapshots and job lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	j.logger.Info("stream created", zap.String("stream", StreamName))
	return nil
}

// subjectToken turns a user id into a single subject token. User ids may
// contain dots or wildcards, which NATS subjects reserve.
func subjectToken(userID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(userID))
}

// SnapshotSubject returns the subject holding a user's snapshots.
func SnapshotSubject(userID string) string {
	return fmt.Sprintf("%s.%s.snapshot", SubjectPrefix, subjectToken(userID))
}

// EventSubject returns the subject for a user's job events of one type.
func EventSubject(userID string, eventType model.JobEventType) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, subjectToken(userID), eventType)
}

// SaveSnapshot publishes the user's conversation list. Provisional
// messages are never persisted.
func (j *Journal) SaveSnapshot(ctx context.Context, userID string, conversations []model.Conversation) error {
	snap := Snapshot{
		UserID:        userID,
		SavedAt:       j.now(),
		Conversations: make([]model.Conversation, 0, len(conversations)),
	}
	for _, c := range conversations {
		c.Messages = reconcile.StripProvisional(c.Messages)
		snap.Conversations = append(snap.Conversations, c)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	ack, err := j.js.Publish(ctx, SnapshotSubject(userID), data)
	if err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	j.logger.Debug("snapshot saved",
		zap.String("user_id", userID),
		zap.Int("conversations", len(snap.Conversations)),
		zap.Uint64("sequence", ack.Sequence),
	)
	return nil
}

// LoadSnapshot returns the user's latest snapshot, or nil when none exists.
func (j *Journal) LoadSnapshot(ctx context.Context, userID string) ([]model.Conversation, error) {
	stream, err := j.js.Stream(ctx, StreamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}

	msg, err := stream.GetLastMsgForSubject(ctx, SnapshotSubject(userID))
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap.Conversations, nil
}

// RecordEvent publishes a job lifecycle event.
func (j *Journal) RecordEvent(ctx context.Context, event model.JobEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = j.now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := j.js.Publish(ctx, EventSubject(event.UserID, event.Type), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
