package job

import (
	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
)

// BuildHistory turns a conversation into the context sent with a new
// question. Settled user/assistant pairs become question/answer turns and
// email artifacts become artifact records. Provisional entries and
// unanswered questions are skipped. Only the last limit items are kept.
func BuildHistory(messages []model.Message, limit int) []model.HistoryTurn {
	turns := make([]model.HistoryTurn, 0, len(messages)/2+1)

	for i := 0; i < len(messages); i++ {
		m := messages[i]
		if m.ID.IsProvisional() {
			continue
		}

		if m.IsArtifact() {
			ts := m.CreatedAt
			content := m.Content
			if content == "" && m.Draft != nil {
				content = m.Draft.Subject + "\n\n" + m.Draft.Body
			}
			turns = append(turns, model.HistoryTurn{
				ID:        m.ID.String(),
				Type:      string(model.KindEmailDraft),
				Content:   content,
				Timestamp: &ts,
			})
			continue
		}

		if m.Role != model.RoleUser || i+1 >= len(messages) {
			continue
		}
		next := messages[i+1]
		if next.Role != model.RoleAssistant || next.IsArtifact() || next.ID.IsProvisional() {
			continue
		}
		turns = append(turns, model.HistoryTurn{Question: m.Content, Answer: next.Content})
		i++
	}

	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns
}
