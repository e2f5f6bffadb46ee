package backend

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
)

// MaxCommentLength bounds free-text feedback.
const MaxCommentLength = 1000

// RateMessage stores a 1..5 rating for a settled message.
func (c *Client) RateMessage(ctx context.Context, messageID string, rating int) error {
	if messageID == "" {
		return model.InvalidInput("rate-message", "message_id is required")
	}
	if rating < 1 || rating > 5 {
		return model.InvalidInput("rate-message", "rating must be between 1 and 5")
	}

	err := c.post(ctx, "rate-message", c.endpoints.RateMessage, map[string]any{
		"message_id": messageID,
		"rating":     rating,
		"table_name": c.table,
	}, nil)
	if err != nil {
		return fmt.Errorf("rating message: %w", err)
	}
	c.logger.Info("message rated", zap.String("message_id", messageID), zap.Int("rating", rating))
	return nil
}

// AddComment stores free-text feedback for a settled message.
func (c *Client) AddComment(ctx context.Context, messageID, comment string) error {
	if messageID == "" {
		return model.InvalidInput("add-comment", "message_id is required")
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return model.InvalidInput("add-comment", "comment cannot be empty")
	}
	if utf8.RuneCountInString(comment) > MaxCommentLength {
		return model.InvalidInput("add-comment", fmt.Sprintf("comment must be %d characters or less", MaxCommentLength))
	}

	err := c.post(ctx, "add-comment", c.endpoints.AddComment, map[string]any{
		"message_id": messageID,
		"comment":    comment,
		"table_name": c.table,
	}, nil)
	if err != nil {
		return fmt.Errorf("adding comment: %w", err)
	}
	c.logger.Info("comment added", zap.String("message_id", messageID))
	return nil
}
