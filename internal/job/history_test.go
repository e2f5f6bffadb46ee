package job_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/job"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
)

func TestBuildHistory(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	messages := []model.Message{
		{ID: model.AuthoritativeID("u1"), Role: model.RoleUser, Content: "q1"},
		{ID: model.AuthoritativeID("a1"), Role: model.RoleAssistant, Content: "a1"},
		{ID: model.AuthoritativeID("email-draft-j"), Role: model.RoleAssistant, Kind: model.KindEmailDraft, Content: "Subject", CreatedAt: at},
		{ID: model.AuthoritativeID("u2"), Role: model.RoleUser, Content: "unanswered"},
		{ID: model.ProvisionalID("p"), Role: model.RoleUser, Content: "pending"},
	}

	got := job.BuildHistory(messages, 10)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	if got[0].Question != "q1" || got[0].Answer != "a1" {
		t.Fatalf("pair = %+v", got[0])
	}
	if got[1].Type != "email" || got[1].ID != "email-draft-j" || got[1].Timestamp == nil || !got[1].Timestamp.Equal(at) {
		t.Fatalf("artifact record = %+v", got[1])
	}
}

func TestBuildHistoryKeepsLastItems(t *testing.T) {
	var messages []model.Message
	for i := 0; i < 15; i++ {
		messages = append(messages,
			model.Message{ID: model.AuthoritativeID(fmt.Sprintf("u%d", i)), Role: model.RoleUser, Content: fmt.Sprintf("q%d", i)},
			model.Message{ID: model.AuthoritativeID(fmt.Sprintf("a%d", i)), Role: model.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
		)
	}

	got := job.BuildHistory(messages, 10)
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	if got[0].Question != "q5" || got[9].Question != "q14" {
		t.Fatalf("window = %s..%s", got[0].Question, got[9].Question)
	}
}
