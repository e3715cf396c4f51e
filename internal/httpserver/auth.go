package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/wisbric/siemgate/internal/apikeyauth"
)

// Identity is the authenticated caller, resolved from an API key (spec
// §3 API Key, §4.C auth), stored in the request context the same way the
// teacher's core/pkg/auth.Identity is.
type Identity struct {
	TenantID string
	KeyID    string
	Role     string
}

type identityContextKey struct{}

// FromContext extracts the authenticated Identity, or nil if none was set.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}

func newIdentityContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// AuthMiddleware authenticates every request via the X-API-Key header
// (siemgate's sole auth method; no OIDC/session/dev-header fallback
// chain, unlike the teacher, since this service has no human login flow).
func AuthMiddleware(store apikeyauth.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get("X-API-Key")
			if rawKey == "" {
				RespondError(w, http.StatusUnauthorized, "unauthorized", "missing X-API-Key header")
				return
			}

			rec, err := apikeyauth.Authenticate(r.Context(), store, rawKey)
			if err != nil {
				logger.Warn("api key authentication failed", "error", err)
				RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
				return
			}

			id := &Identity{TenantID: rec.TenantID, KeyID: rec.KeyID, Role: rec.Role}
			ctx := newIdentityContext(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests that reached this point without an
// Identity in context (defensive: AuthMiddleware already enforces this,
// mirroring the teacher's belt-and-suspenders RequireAuth).
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects requests whose Identity.Role is not one of allowed.
func RequireRole(allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			for _, role := range allowed {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			RespondError(w, http.StatusForbidden, "forbidden", "insufficient role")
		})
	}
}
