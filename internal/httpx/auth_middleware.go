package httpx

import (
	"net/http"
	"strings"

	"lendingapi/internal/auth"
)

// Authenticate verifies the bearer token and attaches the caller's identity.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				JSONError(w, r, http.StatusUnauthorized, CodeUnauthorized, "missing bearer token", nil)
				return
			}

			id, err := auth.IdentityFromToken(secret, token)
			if err != nil {
				JSONError(w, r, http.StatusUnauthorized, CodeUnauthorized, "invalid or expired token", nil)
				return
			}

			recordUser(r, id.UserID)
			ctx := auth.ContextWithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated callers whose role is not role.
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFrom(r.Context())
			if !ok {
				JSONError(w, r, http.StatusUnauthorized, CodeUnauthorized, "authentication required", nil)
				return
			}
			if id.Role != role {
				JSONError(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient role", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Identity returns the caller attached by Authenticate.
func Identity(r *http.Request) (auth.Identity, bool) {
	return auth.IdentityFrom(r.Context())
}

// UserIDFrom retrieves the caller's user id, or "" for anonymous requests.
func UserIDFrom(r *http.Request) string {
	id, _ := auth.IdentityFrom(r.Context())
	return id.UserID
}
