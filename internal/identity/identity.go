// Package identity resolves the user a session acts for: a real user id
// carried by an opaque token, or a generated guest id.
package identity

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
)

// GuestPrefix starts every generated guest id.
const GuestPrefix = "guest_"

// Identity is the resolved user.
type Identity struct {
	UserID string `json:"user_id"`
	Guest  bool   `json:"guest"`
}

// Claims are the JWT claims accepted when a signing secret is configured.
type Claims struct {
	jwt.RegisteredClaims
}

// Resolver turns tokens into identities.
type Resolver struct {
	jwtSecret []byte
	now       func() time.Time
}

// NewResolver creates a resolver. With an empty secret only opaque
// base64 tokens are understood.
func NewResolver(jwtSecret string, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	var secret []byte
	if jwtSecret != "" {
		secret = []byte(jwtSecret)
	}
	return &Resolver{jwtSecret: secret, now: now}
}

// ErrInvalidToken is returned for a JWT that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Resolve maps a token to an identity. An empty token yields a fresh
// guest. With a secret configured only verified JWTs name a user; an
// opaque token is accepted there only when it carries a guest id, and
// anything else is ErrInvalidToken. Without a secret an undecodable
// opaque token yields a fresh guest.
func (r *Resolver) Resolve(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return r.Guest(), nil
	}

	if r.jwtSecret != nil {
		if strings.Count(token, ".") == 2 {
			sub, err := r.parseJWT(token)
			if err != nil {
				return Identity{}, err
			}
			return Identity{UserID: sub, Guest: IsGuest(sub)}, nil
		}
		if id, ok := DecodeOpaque(token); ok && IsGuest(id) {
			return Identity{UserID: id, Guest: true}, nil
		}
		return Identity{}, fmt.Errorf("%w: unsigned token", ErrInvalidToken)
	}

	if id, ok := DecodeOpaque(token); ok {
		return Identity{UserID: id, Guest: IsGuest(id)}, nil
	}
	return r.Guest(), nil
}

func (r *Resolver) parseJWT(token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return r.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Issue returns a token that Resolve maps back to userID: a signed JWT
// valid for ttl when a secret is configured, an opaque token otherwise.
func (r *Resolver) Issue(userID string, ttl time.Duration) (string, error) {
	if r.jwtSecret == nil {
		return EncodeOpaque(userID), nil
	}
	now := r.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// DecodeOpaque base64-decodes a token into a user id. The decoded value
// must be printable text.
func DecodeOpaque(token string) (string, bool) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		raw, err := enc.DecodeString(token)
		if err != nil {
			continue
		}
		id := strings.TrimSpace(string(raw))
		if id == "" || !utf8.ValidString(id) {
			return "", false
		}
		for _, c := range id {
			if !unicode.IsPrint(c) {
				return "", false
			}
		}
		return id, true
	}
	return "", false
}

// EncodeOpaque is the inverse of DecodeOpaque.
func EncodeOpaque(userID string) string {
	return base64.StdEncoding.EncodeToString([]byte(userID))
}

// Guest returns a new guest identity.
func (r *Resolver) Guest() Identity {
	return Identity{UserID: NewGuestID(r.now()), Guest: true}
}

// IsGuest reports whether id was generated for a guest.
func IsGuest(id string) bool {
	return strings.HasPrefix(id, GuestPrefix)
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewGuestID builds guest_<unix millis>_<7 random base36 chars>.
func NewGuestID(now time.Time) string {
	var b strings.Builder
	b.WriteString(GuestPrefix)
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteByte('_')

	max := big.NewInt(int64(len(base36)))
	for i := 0; i < 7; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			b.WriteByte(base36[i])
			continue
		}
		b.WriteByte(base36[n.Int64()])
	}
	return b.String()
}

// guestFile is the name of the persisted guest id under the config dir.
const guestFile = "guest_id"

// LoadOrCreateGuest returns the guest id stored in dir, creating and
// storing a new one on first use.
func LoadOrCreateGuest(dir string, now time.Time) (string, error) {
	path := filepath.Join(dir, guestFile)
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); IsGuest(id) {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("reading guest id: %w", err)
	}

	id := NewGuestID(now)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing guest id: %w", err)
	}
	return id, nil
}
