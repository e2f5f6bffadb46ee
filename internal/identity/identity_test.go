package identity_test

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/identity"
)

var guestPattern = regexp.MustCompile(`^guest_1700000000000_[0-9a-z]{7}$`)

func fixedNow() time.Time { return time.UnixMilli(1700000000000) }

func TestResolveOpaqueToken(t *testing.T) {
	r := identity.NewResolver("", fixedNow)

	id, err := r.Resolve(identity.EncodeOpaque("user-42"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.UserID != "user-42" || id.Guest {
		t.Fatalf("identity = %+v", id)
	}
}

func TestResolveFallsBackToGuest(t *testing.T) {
	r := identity.NewResolver("", fixedNow)

	for _, tok := range []string{"", "%%%not-base64%%%"} {
		id, err := r.Resolve(tok)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tok, err)
		}
		if !id.Guest || !guestPattern.MatchString(id.UserID) {
			t.Fatalf("Resolve(%q) = %+v", tok, id)
		}
	}
}

func TestResolveJWT(t *testing.T) {
	secret := "s3cret"
	r := identity.NewResolver(secret, fixedNow)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-7"}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	id, err := r.Resolve(signed)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.UserID != "user-7" {
		t.Fatalf("user = %q", id.UserID)
	}

	forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-7"}).SignedString([]byte("other"))
	if _, err := r.Resolve(forged); !errors.Is(err, identity.ErrInvalidToken) {
		t.Fatalf("err = %v, want invalid token", err)
	}
}

func TestResolveWithSecretRejectsUnsignedUsers(t *testing.T) {
	r := identity.NewResolver("server-secret", fixedNow)

	for _, tok := range []string{identity.EncodeOpaque("user-42"), "%%%not-base64%%%"} {
		if id, err := r.Resolve(tok); !errors.Is(err, identity.ErrInvalidToken) {
			t.Fatalf("Resolve(%q) = %+v, %v; want invalid token", tok, id, err)
		}
	}

	id, err := r.Resolve(identity.EncodeOpaque("guest_1700000000000_abc1234"))
	if err != nil || id.UserID != "guest_1700000000000_abc1234" || !id.Guest {
		t.Fatalf("opaque guest = %+v, %v", id, err)
	}
}

func TestLoadOrCreateGuest(t *testing.T) {
	dir := t.TempDir()

	first, err := identity.LoadOrCreateGuest(dir, fixedNow())
	if err != nil {
		t.Fatalf("LoadOrCreateGuest: %v", err)
	}
	if !guestPattern.MatchString(first) {
		t.Fatalf("guest id = %q", first)
	}

	second, err := identity.LoadOrCreateGuest(dir, fixedNow().Add(time.Hour))
	if err != nil {
		t.Fatalf("LoadOrCreateGuest: %v", err)
	}
	if second != first {
		t.Fatalf("guest id changed: %q then %q", first, second)
	}
}

func TestIssueRoundTrips(t *testing.T) {
	for _, secret := range []string{"", "s3cret"} {
		r := identity.NewResolver(secret, time.Now)
		token, err := r.Issue("guest_1_abcdefg", time.Hour)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		id, err := r.Resolve(token)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", token, err)
		}
		if id.UserID != "guest_1_abcdefg" || !id.Guest {
			t.Fatalf("secret %q: identity = %+v", secret, id)
		}
	}
}
