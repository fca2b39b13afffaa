package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// NewAuthMiddleware enforces Authorization: Bearer <token> against the shell
// token. An empty token disables the check; use that only when the shell
// listens on loopback.
func NewAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Health endpoint is unauthenticated.
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			authz := r.Header.Get("Authorization")
			if authz == "" {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing Authorization header", nil)
				return
			}
			const prefix = "Bearer "
			if !strings.HasPrefix(authz, prefix) {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "malformed Authorization header", nil)
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
			if subtle.ConstantTimeCompare([]byte(raw), []byte(token)) != 1 {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireSession rejects requests when no user is signed in and stores the
// signed-in subject in the request context.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := s.Sessions.Snapshot()
		if snap.Session == nil {
			writeError(w, r, http.StatusUnauthorized, "not_signed_in", "not signed in", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), snap.Session.Subject)))
	})
}
