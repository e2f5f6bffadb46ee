package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/identity"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/middleware"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
)

func serveIdentity(t *testing.T, resolver *identity.Resolver, auth string) (*httptest.ResponseRecorder, identity.Identity) {
	t.Helper()
	var seen identity.Identity
	h := middleware.Identity(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = middleware.GetIdentity(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestIdentityMiddleware(t *testing.T) {
	r := identity.NewResolver("secret", time.Now)

	rec, id := serveIdentity(t, r, "")
	if !id.Guest || rec.Header().Get(middleware.GuestHeader) != id.UserID {
		t.Fatalf("guest = %+v header = %q", id, rec.Header().Get(middleware.GuestHeader))
	}

	rec, _ = serveIdentity(t, r, "Bearer "+identity.EncodeOpaque("user-7"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned token status = %d", rec.Code)
	}

	_, id = serveIdentity(t, identity.NewResolver("", time.Now), "Bearer "+identity.EncodeOpaque("user-7"))
	if id.UserID != "user-7" || id.Guest {
		t.Fatalf("opaque = %+v", id)
	}

	token, err := r.Issue("user-8", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, id = serveIdentity(t, r, "bearer "+token)
	if id.UserID != "user-8" {
		t.Fatalf("jwt = %+v", id)
	}

	forged, _ := identity.NewResolver("other", time.Now).Issue("user-8", time.Hour)
	rec, _ = serveIdentity(t, r, "Bearer "+forged)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged token status = %d", rec.Code)
	}
}

func TestLoggingSetsCorrelationID(t *testing.T) {
	var seen string
	h := middleware.Logging(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "corr-1" || rec.Header().Get("X-Correlation-ID") != "corr-1" || rec.Code != http.StatusTeapot {
		t.Fatalf("seen = %q header = %q code = %d", seen, rec.Header().Get("X-Correlation-ID"), rec.Code)
	}
}

func TestUserRateLimit(t *testing.T) {
	h := middleware.UserRateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(middleware.WithIdentity(req.Context(), identity.Identity{UserID: "user-1"}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"", "  ", "a/b", "tab\there"} {
		if err := middleware.ValidateID("message", id); !errors.Is(err, model.ErrInvalidInput) {
			t.Errorf("ValidateID(%q) = %v", id, err)
		}
	}
	for _, id := range []string{"msg-job-1-ai", "0190c0de-1234-7abc-8def-0123456789ab", "email-draft-42"} {
		if err := middleware.ValidateID("message", id); err != nil {
			t.Errorf("ValidateID(%q) = %v", id, err)
		}
	}
	if err := middleware.ValidateDocumentName("fees.docx"); err == nil {
		t.Error("non-PDF accepted")
	}
	if err := middleware.ValidateDocumentName("PDS.PDF"); err != nil {
		t.Errorf("PDF rejected: %v", err)
	}
}
