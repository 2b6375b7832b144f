package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Subhi2911/LilYapper-backend/internal/auth"
	"github.com/Subhi2911/LilYapper-backend/internal/models"
)

type contextKey struct{ name string }

var identityKey = &contextKey{"identity"}

// WriteJSONError sends the uniform error envelope.
func WriteJSONError(w http.ResponseWriter, message, code string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// BearerToken pulls the raw token from the Authorization header or, for
// websocket clients that cannot set headers, the token query parameter.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
		return strings.TrimSpace(h)
	}
	return r.URL.Query().Get("token")
}

// RequireAuth verifies the access token and stores the caller identity in
// the request context.
func RequireAuth(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := BearerToken(r)
			if raw == "" {
				WriteJSONError(w, "Not authenticated", "UNAUTHORIZED", http.StatusUnauthorized)
				return
			}
			id, err := verifier.Verify(raw)
			if err != nil {
				WriteJSONError(w, "Token expired or invalid", "TOKEN_INVALID", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the authenticated caller, if any.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}
