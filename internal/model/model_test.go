package model_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
)

func TestMessageIDJSON(t *testing.T) {
	data, err := json.Marshal(model.ProvisionalID("abc"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"value":"abc","provisional":true}` {
		t.Fatalf("unexpected encoding: %s", data)
	}

	var id model.MessageID
	if err := json.Unmarshal(data, &id); err != nil {
		t.Fatalf("unmarshal object: %v", err)
	}
	if !id.IsProvisional() || id.String() != "abc" {
		t.Fatalf("round trip lost tag: %+v", id)
	}

	if err := json.Unmarshal([]byte(`"msg-1"`), &id); err != nil {
		t.Fatalf("unmarshal string: %v", err)
	}
	if id.IsProvisional() || id.String() != "msg-1" {
		t.Fatalf("bare string should be authoritative, got %+v", id)
	}
}

func TestSourceDecodesStringOrObject(t *testing.T) {
	var sources []model.Source
	payload := `["https://spaceship.com.au/learn/how-to-invest/", {"url":"https://x.io/a","snippet":"s"}]`
	if err := json.Unmarshal([]byte(payload), &sources); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].Title != "how to invest" {
		t.Fatalf("unexpected derived title %q", sources[0].Title)
	}
	if sources[1].Title != "a" || sources[1].Snippet != "s" {
		t.Fatalf("unexpected object source %+v", sources[1])
	}
}

func TestTitleFrom(t *testing.T) {
	if got := model.TitleFrom("   "); got != model.DefaultTitle {
		t.Fatalf("blank title = %q", got)
	}
	long := strings.Repeat("é", 80)
	if got := model.TitleFrom(long); len([]rune(got)) != 50 {
		t.Fatalf("title should be truncated to 50 runes, got %d", len([]rune(got)))
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	inner := &model.Error{Kind: model.KindServiceUnavailable, Op: "create job", Status: 503}
	outer := &model.Error{Kind: model.KindSubmissionFailed, Op: "submit", Err: inner}
	err := fmt.Errorf("ask: %w", outer)

	if !errors.Is(err, model.ErrSubmissionFailed) {
		t.Fatal("expected SubmissionFailed")
	}
	if !errors.Is(err, model.ErrServiceUnavailable) {
		t.Fatal("expected wrapped ServiceUnavailable")
	}
	if errors.Is(err, model.ErrInvalidInput) {
		t.Fatal("did not expect InvalidInput")
	}
	if model.KindOf(err) != model.KindSubmissionFailed {
		t.Fatalf("KindOf = %s", model.KindOf(err))
	}
	if !strings.Contains(model.Notice(err), "try again shortly") {
		t.Fatalf("unexpected notice %q", model.Notice(err))
	}
}

func TestCloneDoesNotShare(t *testing.T) {
	rating := 4
	m := model.Message{
		ID:      model.AuthoritativeID("m1"),
		Sources: []model.Source{{URL: "https://a"}},
		Rating:  &rating,
	}
	c := m.Clone()
	c.Sources[0].URL = "changed"
	*c.Rating = 1

	if m.Sources[0].URL != "https://a" || *m.Rating != 4 {
		t.Fatal("clone shares memory with original")
	}
}
