package nats

import (
	"strings"
	"testing"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
)

func TestSubjectsAreSingleTokens(t *testing.T) {
	for _, user := range []string{"guest_1700000000000_abc1234", "user.with.dots", "a*b>c", "üñí"} {
		snap := SnapshotSubject(user)
		parts := strings.Split(snap, ".")
		if len(parts) != 3 || parts[0] != SubjectPrefix || parts[2] != "snapshot" {
			t.Fatalf("SnapshotSubject(%q) = %q", user, snap)
		}
		if strings.ContainsAny(parts[1], "*> ") {
			t.Fatalf("token %q has reserved characters", parts[1])
		}

		ev := EventSubject(user, model.JobEventDone)
		if !strings.HasSuffix(ev, ".event.done") || strings.Count(ev, ".") != 3 {
			t.Fatalf("EventSubject(%q) = %q", user, ev)
		}
	}
}

func TestSubjectsDifferPerUser(t *testing.T) {
	if SnapshotSubject("a") == SnapshotSubject("b") {
		t.Fatal("distinct users share a subject")
	}
}
