package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/edvin/keyfleet/internal/api/response"
	"github.com/edvin/keyfleet/internal/core"
	"github.com/edvin/keyfleet/internal/model"
)

type contextKey string

const identityKey contextKey = "api_key_identity"

// KeyResolver looks up a presented key hash. core.APIKeyService
// satisfies it.
type KeyResolver interface {
	GetByHash(ctx context.Context, keyHash string) (*model.APIKey, error)
}

// Auth validates the caller's API key, taken from the X-API-Key header or
// an Authorization bearer token, against stored key hashes. Revoked keys
// do not authenticate.
func Auth(keys KeyResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-API-Key")
			if raw == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					raw = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if raw == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			key, err := keys.GetByHash(r.Context(), core.HashAPIKey(raw))
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity returns the authenticated API key, or nil outside the auth
// middleware.
func GetIdentity(ctx context.Context) *model.APIKey {
	key, _ := ctx.Value(identityKey).(*model.APIKey)
	return key
}

// ActorName is the audit-trail name of the caller: the API key name when
// authenticated, "anonymous" otherwise.
func ActorName(ctx context.Context) string {
	if key := GetIdentity(ctx); key != nil {
		return key.Name
	}
	return "anonymous"
}
