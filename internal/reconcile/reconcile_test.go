package reconcile_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/reconcile"
)

var (
	t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 = t0.Add(8 * time.Second)
)

func settled() []model.Message {
	return []model.Message{
		{ID: model.AuthoritativeID("u-0"), Role: model.RoleUser, Kind: model.KindText, Content: "hello", CreatedAt: t0},
		{ID: model.AuthoritativeID("a-0"), Role: model.RoleAssistant, Kind: model.KindText, Content: "hi there", CreatedAt: t0},
	}
}

func ids(messages []model.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID.String()
	}
	return out
}

func TestReconcileReplacesProvisional(t *testing.T) {
	list, entry := reconcile.AddProvisional(settled(), "  what is ETF?  ", t0)
	if !entry.ID.IsProvisional() || entry.Content != "what is ETF?" {
		t.Fatalf("provisional entry = %+v", entry)
	}

	sub := reconcile.Submission{JobID: "job-7", Question: entry.Content, SubmittedAt: t0}
	res := &model.JobResult{JobID: "job-7", Text: "An exchange traded fund.", UserMessageID: "u-7", AssistantMessageID: "a-7"}
	got := reconcile.Reconcile(list, sub, res, t1)

	want := []string{"u-0", "a-0", "u-7", "a-7"}
	if !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("ids = %v, want %v", ids(got), want)
	}
	for _, m := range got {
		if m.ID.IsProvisional() {
			t.Fatalf("provisional entry %q survived", m.ID)
		}
	}
	if got[3].Content != res.Text || got[3].Role != model.RoleAssistant {
		t.Fatalf("answer = %+v", got[3])
	}
	// Input untouched.
	if len(list) != 3 || !list[2].ID.IsProvisional() {
		t.Fatal("input list was mutated")
	}
}

func TestReconcileFallbackIDs(t *testing.T) {
	sub := reconcile.Submission{JobID: "job-1", Question: "q", SubmittedAt: t0}
	got := reconcile.Reconcile(nil, sub, &model.JobResult{Text: "a"}, t1)
	want := []string{"msg-job-1-user", "msg-job-1-ai"}
	if !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("ids = %v, want %v", ids(got), want)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	list, _ := reconcile.AddProvisional(settled(), "draft me an email", t0)
	sub := reconcile.Submission{JobID: "job-2", Question: "draft me an email", SubmittedAt: t0}
	res := &model.JobResult{
		Text:    "Here is a draft.",
		Sources: []model.Source{model.SourceFromURL("https://spaceship.com.au/super/fees/")},
		Draft:   &model.EmailDraft{Subject: "Fees", Body: "Hello"},
	}

	once := reconcile.Reconcile(list, sub, res, t1)
	twice := reconcile.Reconcile(once, sub, res, t1)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("re-application changed the list:\n once=%v\ntwice=%v", ids(once), ids(twice))
	}
	if len(once) != 5 {
		t.Fatalf("len = %d, want 5", len(once))
	}
	art := once[4]
	if !art.IsArtifact() || art.ID.String() != "email-draft-job-2" || art.Draft.Recipient != model.DefaultDraftRecipient {
		t.Fatalf("artifact = %+v", art)
	}
}

func TestRollback(t *testing.T) {
	list, entry := reconcile.AddProvisional(settled(), "q", t0)
	got := reconcile.Rollback(list, entry.ID)
	if !reflect.DeepEqual(ids(got), []string{"u-0", "a-0"}) {
		t.Fatalf("ids = %v", ids(got))
	}
}

func withArtifact() []model.Message {
	sub := reconcile.Submission{JobID: "job-3", Question: "email support", SubmittedAt: t0}
	res := &model.JobResult{Text: "Drafted.", Draft: &model.EmailDraft{Subject: "Help", Body: "Please call me"}}
	return reconcile.Reconcile(settled(), sub, res, t1)
}

func TestDiscardArtifact(t *testing.T) {
	list := withArtifact()
	got, err := reconcile.DiscardArtifact(list, "email-draft-job-3")
	if err != nil {
		t.Fatalf("DiscardArtifact: %v", err)
	}
	if len(got) != len(list)-1 {
		t.Fatalf("len = %d, want %d", len(got), len(list)-1)
	}
	if _, err := reconcile.DiscardArtifact(got, "email-draft-job-3"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("second discard err = %v, want not found", err)
	}
	// Text messages are not artifacts.
	if _, err := reconcile.DiscardArtifact(list, "a-0"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("discard of text err = %v, want not found", err)
	}
}

func TestCommitArtifact(t *testing.T) {
	list := withArtifact()
	got, entry, err := reconcile.CommitArtifact(list, "email-draft-job-3", &model.EmailDraft{Body: "Please email me"}, 1000, t1)
	if err != nil {
		t.Fatalf("CommitArtifact: %v", err)
	}
	if !entry.ID.IsProvisional() || entry.Role != model.RoleUser {
		t.Fatalf("entry = %+v", entry)
	}
	want := "**Sent the email with the content:**\n\n**Subject:** Help\n\n**Body:**\n\n*Please email me*"
	if entry.Content != want {
		t.Fatalf("summary = %q", entry.Content)
	}
	for _, m := range got {
		if m.IsArtifact() {
			t.Fatal("artifact still present after commit")
		}
	}
	if last := got[len(got)-1]; last.ID != entry.ID {
		t.Fatalf("last entry = %q, want the summary", last.ID)
	}

	// A second commit of the same artifact finds nothing.
	if _, _, err := reconcile.CommitArtifact(got, "email-draft-job-3", nil, 1000, t1); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("second commit err = %v, want not found", err)
	}
}

func TestCommitArtifactTooLong(t *testing.T) {
	list := withArtifact()
	_, _, err := reconcile.CommitArtifact(list, "email-draft-job-3", &model.EmailDraft{Body: strings.Repeat("x", 1000)}, 1000, t1)
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
}

func TestSetRatingToggles(t *testing.T) {
	list := settled()

	got, r, err := reconcile.SetRating(list, "a-0", 4)
	if err != nil || r == nil || *r != 4 || *got[1].Rating != 4 {
		t.Fatalf("first rating: %v %v", r, err)
	}
	if list[1].Rating != nil {
		t.Fatal("input list was mutated")
	}

	got, r, err = reconcile.SetRating(got, "a-0", 4)
	if err != nil || r != nil || got[1].Rating != nil {
		t.Fatalf("re-selecting should clear: %v %v", r, err)
	}

	if _, _, err := reconcile.SetRating(list, "a-0", 6); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
	if _, _, err := reconcile.SetRating(list, "missing", 3); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}

	prov, entry := reconcile.AddProvisional(list, "q", t0)
	if _, _, err := reconcile.SetRating(prov, entry.ID.String(), 3); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("rating a provisional entry err = %v, want invalid input", err)
	}
}

func TestSetComment(t *testing.T) {
	got, err := reconcile.SetComment(settled(), "a-0", "  very helpful ")
	if err != nil {
		t.Fatalf("SetComment: %v", err)
	}
	if got[1].Comment != "very helpful" {
		t.Fatalf("comment = %q", got[1].Comment)
	}
	if _, err := reconcile.SetComment(settled(), "a-0", "   "); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
	if _, err := reconcile.SetComment(settled(), "a-0", strings.Repeat("y", 1001)); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
}
