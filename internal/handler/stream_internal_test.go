package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/philippe-spaceship/spaceship-chat-app/pkg/logger"
)

type failingWriter struct {
	*httptest.ResponseRecorder
	writes int
}

func (w *failingWriter) Write(b []byte) (int, error) {
	w.writes++
	return 0, errors.New("connection reset")
}

func observedLogger() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return &logger.Logger{Logger: zap.New(core)}, logs
}

func TestEventStreamSkipsUnencodableEvent(t *testing.T) {
	log, logs := observedLogger()
	rec := httptest.NewRecorder()
	sse := newEventStream(rec, log)

	sse.send(EventStatus, make(chan int))
	if sse.started || rec.Body.Len() != 0 {
		t.Fatalf("started = %v body = %q", sse.started, rec.Body.String())
	}
	if logs.FilterMessage("encoding event failed").Len() != 1 {
		t.Fatalf("logs = %v", logs.All())
	}

	sse.send(EventStatus, StatusEvent{Attempt: 1})
	if rec.Code != http.StatusOK || rec.Body.String() != "event: status\ndata: {\"attempt\":1,\"status\":\"\"}\n\n" {
		t.Fatalf("code = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestEventStreamStopsAfterWriteFailure(t *testing.T) {
	log, logs := observedLogger()
	w := &failingWriter{ResponseRecorder: httptest.NewRecorder()}
	sse := newEventStream(w, log)
	defer sse.close()

	sse.send(EventStatus, StatusEvent{Attempt: 1})
	sse.send(EventStatus, StatusEvent{Attempt: 2})
	if w.writes != 1 {
		t.Fatalf("writes = %d, want 1", w.writes)
	}
	if logs.FilterMessage("event stream write failed").Len() != 1 {
		t.Fatalf("logs = %v", logs.All())
	}
}
