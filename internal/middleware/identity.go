// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/identity"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// IdentityKey is the context key for the resolved identity.
	IdentityKey ContextKey = "identity"
	// CorrelationIDKey is the context key for correlation ID.
	CorrelationIDKey ContextKey = "correlation_id"
)

// GuestHeader carries a freshly generated guest id back to the client.
const GuestHeader = "X-Guest-ID"

// Resolver maps a bearer token to an identity.
type Resolver interface {
	Resolve(token string) (identity.Identity, error)
}

// Identity resolves the caller from the Authorization header. Requests
// without a usable token get a guest identity, returned in GuestHeader so
// the client can keep it. A forged or expired JWT is rejected.
func Identity(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearer(r.Header.Get("Authorization"))

			id, err := resolver.Resolve(token)
			if err != nil {
				status := http.StatusUnauthorized
				if !errors.Is(err, identity.ErrInvalidToken) {
					status = http.StatusInternalServerError
				}
				http.Error(w, `{"error":"invalid token"}`, status)
				return
			}
			if id.Guest && token == "" {
				w.Header().Set(GuestHeader, id.UserID)
			}

			if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
				info.userID = id.UserID
			}
			ctx := context.WithValue(r.Context(), IdentityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// GetIdentity gets the identity from context.
func GetIdentity(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(identity.Identity)
	return id, ok
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}
