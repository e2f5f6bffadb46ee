package session_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/identity"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/job"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/session"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/clock"
)

type fakeJobs struct {
	mu      sync.Mutex
	submits []model.JobRequest
	results []*model.JobResult

	submitErr error
	pollErr   error

	// When block is set, Poll waits on it (or ctx) before answering.
	block   chan struct{}
	polling chan struct{}
}

func (f *fakeJobs) Validate(q string) error { return job.ValidateQuestion(q, 1000) }
func (f *fakeJobs) HistoryLimit() int       { return 10 }

func (f *fakeJobs) Submit(ctx context.Context, req model.JobRequest) (model.JobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return model.JobHandle{}, f.submitErr
	}
	f.submits = append(f.submits, req)
	return model.JobHandle{ID: fmt.Sprintf("job-%d", len(f.submits)), Status: model.JobPending}, nil
}

func (f *fakeJobs) Poll(ctx context.Context, jobID string, onStatus job.StatusFunc) (*model.JobResult, error) {
	if f.polling != nil {
		f.polling <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if onStatus != nil {
		onStatus(1, model.JobRunning)
		onStatus(2, model.JobDone)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	n := len(f.submits)
	res := &model.JobResult{Text: fmt.Sprintf("answer %d", n)}
	if n <= len(f.results) && f.results[n-1] != nil {
		res = f.results[n-1]
	}
	res.JobID = jobID
	return res, nil
}

func (f *fakeJobs) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

type fakeBackend struct {
	mu       sync.Mutex
	convs    []model.Conversation
	loadErr  error
	ratings  []int
	comments []string

	// When gate is set, LoadConversations signals loading and waits on it.
	loading chan struct{}
	gate    chan struct{}
}

func (b *fakeBackend) LoadConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	if b.loading != nil {
		select {
		case b.loading <- struct{}{}:
		default:
		}
	}
	if b.gate != nil {
		<-b.gate
	}
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return b.convs, nil
}

func (b *fakeBackend) RateMessage(ctx context.Context, messageID string, rating int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ratings = append(b.ratings, rating)
	return nil
}

func (b *fakeBackend) AddComment(ctx context.Context, messageID, comment string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.comments = append(b.comments, comment)
	return nil
}

type memJournal struct {
	mu        sync.Mutex
	snapshots [][]model.Conversation
	events    []model.JobEvent
}

func (j *memJournal) SaveSnapshot(ctx context.Context, userID string, convs []model.Conversation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snapshots = append(j.snapshots, convs)
	return nil
}

func (j *memJournal) LoadSnapshot(ctx context.Context, userID string) ([]model.Conversation, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.snapshots) == 0 {
		return nil, nil
	}
	return j.snapshots[len(j.snapshots)-1], nil
}

func (j *memJournal) RecordEvent(ctx context.Context, e model.JobEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
	return nil
}

func (j *memJournal) eventTypes() []model.JobEventType {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]model.JobEventType, len(j.events))
	for i, e := range j.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	jobs    *fakeJobs
	backend *fakeBackend
	journal *memJournal
	session *session.Session
}

func newFixture() *fixture {
	f := &fixture{jobs: &fakeJobs{}, backend: &fakeBackend{}, journal: &memJournal{}}
	f.session = session.New(session.Config{
		Identity: identity.Identity{UserID: "user-1"},
		Jobs:     f.jobs,
		Backend:  f.backend,
		Journal:  f.journal,
		Clock:    clock.Fake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)),
	})
	return f
}

func TestAskReconcilesAnswer(t *testing.T) {
	f := newFixture()
	conv := f.session.NewConversation()

	var provisional model.Conversation
	out, err := f.session.Ask(context.Background(), session.AskRequest{
		ConversationID: conv.ID,
		Question:       "What fees does Spaceship Super charge?",
		OnProvisional:  func(c model.Conversation) { provisional = c },
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if len(provisional.Messages) != 1 || !provisional.Messages[0].ID.IsProvisional() {
		t.Fatalf("provisional view = %+v", provisional.Messages)
	}
	if out.Assistant.Content != "answer 1" || out.Assistant.ID.String() != "msg-job-1-ai" {
		t.Fatalf("assistant = %+v", out.Assistant)
	}

	got, err := f.session.Conversation(conv.ID)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if got.Title != "What fees does Spaceship Super charge?" {
		t.Fatalf("title = %q", got.Title)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(got.Messages))
	}
	for _, m := range got.Messages {
		if m.ID.IsProvisional() {
			t.Fatalf("provisional entry %q survived", m.ID)
		}
	}
	if f.session.Pending(conv.ID) {
		t.Fatal("job still pending")
	}

	types := f.journal.eventTypes()
	if len(types) != 2 || types[0] != model.JobEventSubmitted || types[1] != model.JobEventDone {
		t.Fatalf("events = %v", types)
	}
	if len(f.journal.snapshots) == 0 {
		t.Fatal("no snapshot saved")
	}
}

func TestAskSendsHistory(t *testing.T) {
	f := newFixture()
	conv := f.session.NewConversation()

	for _, q := range []string{"first", "second"} {
		if _, err := f.session.Ask(context.Background(), session.AskRequest{ConversationID: conv.ID, Question: q}); err != nil {
			t.Fatalf("Ask(%q): %v", q, err)
		}
	}

	second := f.jobs.submits[1]
	if len(second.History) != 1 || second.History[0].Question != "first" || second.History[0].Answer != "answer 1" {
		t.Fatalf("history = %+v", second.History)
	}
	if second.UserID != "user-1" || second.ConversationID != conv.ID {
		t.Fatalf("request = %+v", second)
	}
}

func TestAskInvalidInputLeavesStateUntouched(t *testing.T) {
	f := newFixture()
	conv := f.session.NewConversation()

	for _, q := range []string{"", "   ", strings.Repeat("x", 1001)} {
		_, err := f.session.Ask(context.Background(), session.AskRequest{ConversationID: conv.ID, Question: q})
		if !errors.Is(err, model.ErrInvalidInput) {
			t.Fatalf("err = %v, want invalid input", err)
		}
	}

	got, _ := f.session.Conversation(conv.ID)
	if len(got.Messages) != 0 || got.Title != model.DefaultTitle {
		t.Fatalf("conversation changed: %+v", got)
	}
	if f.jobs.submitCount() != 0 {
		t.Fatalf("submits = %d, want 0", f.jobs.submitCount())
	}
}

func TestAskFailureRollsBack(t *testing.T) {
	f := newFixture()
	conv := f.session.NewConversation()
	f.jobs.pollErr = &model.Error{Kind: model.KindJobTimedOut, Op: "get-job"}

	_, err := f.session.Ask(context.Background(), session.AskRequest{ConversationID: conv.ID, Question: "hello"})
	if !errors.Is(err, model.ErrJobTimedOut) {
		t.Fatalf("err = %v, want timed out", err)
	}

	got, _ := f.session.Conversation(conv.ID)
	if len(got.Messages) != 0 {
		t.Fatalf("messages = %+v, want rollback", got.Messages)
	}
	if f.session.Pending(conv.ID) {
		t.Fatal("job still pending after failure")
	}
	types := f.journal.eventTypes()
	if types[len(types)-1] != model.JobEventFailed {
		t.Fatalf("events = %v", types)
	}
}

func TestAskSubmitFailureRollsBack(t *testing.T) {
	f := newFixture()
	conv := f.session.NewConversation()
	f.jobs.submitErr = &model.Error{Kind: model.KindSubmissionFailed, Err: model.ErrServiceUnavailable}

	_, err := f.session.Ask(context.Background(), session.AskRequest{ConversationID: conv.ID, Question: "hello"})
	if !errors.Is(err, model.ErrSubmissionFailed) {
		t.Fatalf("err = %v", err)
	}
	if got, _ := f.session.Conversation(conv.ID); len(got.Messages) != 0 {
		t.Fatalf("messages = %+v", got.Messages)
	}
}

func TestAskWhilePendingIsRejectedAndAbandonRollsBack(t *testing.T) {
	f := newFixture()
	f.jobs.block = make(chan struct{})
	f.jobs.polling = make(chan struct{}, 1)
	conv := f.session.NewConversation()

	errc := make(chan error, 1)
	go func() {
		_, err := f.session.Ask(context.Background(), session.AskRequest{ConversationID: conv.ID, Question: "slow one"})
		errc <- err
	}()
	<-f.jobs.polling

	_, err := f.session.Ask(context.Background(), session.AskRequest{ConversationID: conv.ID, Question: "again"})
	if !errors.Is(err, model.ErrSubmissionPending) {
		t.Fatalf("err = %v, want submission pending", err)
	}

	if !f.session.Abandon(conv.ID) {
		t.Fatal("Abandon found nothing pending")
	}
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("first ask err = %v, want canceled", err)
	}

	got, _ := f.session.Conversation(conv.ID)
	if len(got.Messages) != 0 {
		t.Fatalf("messages = %+v, want rollback", got.Messages)
	}
	types := f.journal.eventTypes()
	if types[len(types)-1] != model.JobEventAbandoned {
		t.Fatalf("events = %v", types)
	}
	if f.jobs.submitCount() != 1 {
		t.Fatalf("submits = %d, want 1", f.jobs.submitCount())
	}
}

func askWithDraft(t *testing.T, f *fixture) (model.Conversation, *model.Message) {
	t.Helper()
	f.jobs.results = []*model.JobResult{{Text: "Here is a draft.", Draft: &model.EmailDraft{Subject: "Hardship", Body: "Please call me"}}}
	conv := f.session.NewConversation()
	out, err := f.session.Ask(context.Background(), session.AskRequest{ConversationID: conv.ID, Question: "email support for me"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if out.Artifact == nil {
		t.Fatal("no artifact")
	}
	return conv, out.Artifact
}

func TestDoubleCommitSubmitsOnce(t *testing.T) {
	f := newFixture()
	conv, artifact := askWithDraft(t, f)

	out, err := f.session.CommitArtifact(context.Background(), session.CommitRequest{ConversationID: conv.ID, ArtifactID: artifact.ID.String()})
	if err != nil {
		t.Fatalf("CommitArtifact: %v", err)
	}
	_, err = f.session.CommitArtifact(context.Background(), session.CommitRequest{ConversationID: conv.ID, ArtifactID: artifact.ID.String()})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("second commit err = %v, want not found", err)
	}

	if got := f.jobs.submitCount(); got != 2 {
		t.Fatalf("submits = %d, want 2 (question + one follow-up)", got)
	}
	if !strings.HasPrefix(f.jobs.submits[1].Question, "**Sent the email with the content:**") {
		t.Fatalf("follow-up = %q", f.jobs.submits[1].Question)
	}
	for _, m := range out.Conversation.Messages {
		if m.IsArtifact() {
			t.Fatal("artifact survived commit")
		}
	}
}

func TestConcurrentCommitSubmitsOnce(t *testing.T) {
	f := newFixture()
	conv, artifact := askWithDraft(t, f)
	f.jobs.block = make(chan struct{})
	f.jobs.polling = make(chan struct{}, 1)

	errc := make(chan error, 1)
	go func() {
		_, err := f.session.CommitArtifact(context.Background(), session.CommitRequest{ConversationID: conv.ID, ArtifactID: artifact.ID.String()})
		errc <- err
	}()
	<-f.jobs.polling

	_, err := f.session.CommitArtifact(context.Background(), session.CommitRequest{ConversationID: conv.ID, ArtifactID: artifact.ID.String()})
	if !errors.Is(err, model.ErrSubmissionPending) {
		t.Fatalf("second commit err = %v, want submission pending", err)
	}

	close(f.jobs.block)
	if err := <-errc; err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if got := f.jobs.submitCount(); got != 2 {
		t.Fatalf("submits = %d, want 2", got)
	}
}

func TestCommitFailureRestoresArtifact(t *testing.T) {
	f := newFixture()
	conv, artifact := askWithDraft(t, f)
	before, _ := f.session.Conversation(conv.ID)

	f.jobs.submitErr = &model.Error{Kind: model.KindSubmissionFailed}
	_, err := f.session.CommitArtifact(context.Background(), session.CommitRequest{ConversationID: conv.ID, ArtifactID: artifact.ID.String()})
	if !errors.Is(err, model.ErrSubmissionFailed) {
		t.Fatalf("err = %v", err)
	}

	after, _ := f.session.Conversation(conv.ID)
	if len(after.Messages) != len(before.Messages) {
		t.Fatalf("messages = %d, want %d", len(after.Messages), len(before.Messages))
	}
	if last := after.Messages[len(after.Messages)-1]; last.ID != artifact.ID {
		t.Fatalf("last = %q, want restored artifact", last.ID)
	}
}

func TestDiscardArtifact(t *testing.T) {
	f := newFixture()
	conv, artifact := askWithDraft(t, f)

	got, err := f.session.DiscardArtifact(context.Background(), conv.ID, artifact.ID.String())
	if err != nil {
		t.Fatalf("DiscardArtifact: %v", err)
	}
	for _, m := range got.Messages {
		if m.IsArtifact() {
			t.Fatal("artifact survived discard")
		}
	}
	if f.jobs.submitCount() != 1 {
		t.Fatalf("discard submitted something")
	}
}

func TestRateAndComment(t *testing.T) {
	f := newFixture()
	conv := f.session.NewConversation()
	out, err := f.session.Ask(context.Background(), session.AskRequest{ConversationID: conv.ID, Question: "hi"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	id := out.Assistant.ID.String()

	r, err := f.session.Rate(context.Background(), conv.ID, id, 5)
	if err != nil || r == nil || *r != 5 {
		t.Fatalf("Rate: %v %v", r, err)
	}
	r, err = f.session.Rate(context.Background(), conv.ID, id, 5)
	if err != nil || r != nil {
		t.Fatalf("re-rate should clear: %v %v", r, err)
	}
	if len(f.backend.ratings) != 1 {
		t.Fatalf("backend ratings = %v, want one", f.backend.ratings)
	}

	if err := f.session.Comment(context.Background(), conv.ID, id, "clear answer"); err != nil {
		t.Fatalf("Comment: %v", err)
	}
	got, _ := f.session.Conversation(conv.ID)
	if got.Messages[1].Comment != "clear answer" || got.Messages[1].Rating != nil {
		t.Fatalf("message = %+v", got.Messages[1])
	}
}

func TestLoadFallsBackToSnapshot(t *testing.T) {
	f := newFixture()
	stored := []model.Conversation{{ID: "c-1", Title: "saved", Messages: []model.Message{}}}
	_ = f.journal.SaveSnapshot(context.Background(), "user-1", stored)
	f.backend.loadErr = errors.New("backend down")

	convs, err := f.session.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != "c-1" {
		t.Fatalf("conversations = %+v", convs)
	}

	empty := newFixture()
	empty.backend.loadErr = errors.New("backend down")
	if _, err := empty.session.Load(context.Background()); err == nil {
		t.Fatal("expected error with no snapshot")
	}
}

func TestDeleteConversation(t *testing.T) {
	f := newFixture()
	conv := f.session.NewConversation()
	if err := f.session.DeleteConversation(context.Background(), conv.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := f.session.Conversation(conv.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if err := f.session.DeleteConversation(context.Background(), conv.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestManagerReusesSessions(t *testing.T) {
	built := 0
	m := session.NewManager(func(id identity.Identity) *session.Session {
		built++
		return session.New(session.Config{Identity: id, Jobs: &fakeJobs{}, Backend: &fakeBackend{}})
	}, nil)

	a := m.Get(context.Background(), identity.Identity{UserID: "u"})
	b := m.Get(context.Background(), identity.Identity{UserID: "u"})
	if a != b || built != 1 {
		t.Fatalf("sessions not reused (built %d)", built)
	}
	m.Get(context.Background(), identity.Identity{UserID: "v"})
	if m.Len() != 2 {
		t.Fatalf("Len = %d", m.Len())
	}
}

func TestManagerWaitsForInitialLoad(t *testing.T) {
	backend := &fakeBackend{
		convs:   []model.Conversation{{ID: "stored", Title: "Stored", Messages: []model.Message{}}},
		loading: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	m := session.NewManager(func(id identity.Identity) *session.Session {
		return session.New(session.Config{Identity: id, Jobs: &fakeJobs{}, Backend: backend})
	}, nil)
	user := identity.Identity{UserID: "u"}

	first := make(chan *session.Session, 1)
	go func() { first <- m.Get(context.Background(), user) }()
	<-backend.loading

	second := make(chan *session.Session, 1)
	go func() { second <- m.Get(context.Background(), user) }()
	select {
	case <-second:
		t.Fatal("session returned before its initial load finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(backend.gate)
	a, b := <-first, <-second
	if a != b {
		t.Fatal("callers got different sessions")
	}

	conv := b.NewConversation()
	if _, err := b.Conversation(conv.ID); err != nil {
		t.Fatalf("new conversation lost: %v", err)
	}
	if _, err := b.Conversation("stored"); err != nil {
		t.Fatalf("stored conversation missing: %v", err)
	}
}

func TestReloadKeepsPendingAndUnsavedConversations(t *testing.T) {
	f := newFixture()
	f.backend.convs = []model.Conversation{{ID: "stored", Title: "Stored", Messages: []model.Message{}}}
	ctx := context.Background()
	if _, err := f.session.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	busy := f.session.NewConversation()
	fresh := f.session.NewConversation()
	f.jobs.block = make(chan struct{})
	f.jobs.polling = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.session.Ask(ctx, session.AskRequest{ConversationID: busy.ID, Question: "What are the fees?"})
		done <- err
	}()
	<-f.jobs.polling

	convs, err := f.session.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	if strings.Join(ids, ",") != strings.Join([]string{fresh.ID, busy.ID, "stored"}, ",") {
		t.Fatalf("ids after reload = %v", ids)
	}

	close(f.jobs.block)
	if err := <-done; err != nil {
		t.Fatalf("Ask: %v", err)
	}
	conv, err := f.session.Conversation(busy.ID)
	if err != nil {
		t.Fatalf("pending conversation lost: %v", err)
	}
	if len(conv.Messages) != 2 || conv.Messages[0].ID.IsProvisional() {
		t.Fatalf("messages = %+v", conv.Messages)
	}
}
