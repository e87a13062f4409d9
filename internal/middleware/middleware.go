package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

type contextKey string

const userIDKey contextKey = "userID"

// TokenVerifier resolves a bearer token to a user id,
// implemented by token.Service.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// UserLookup checks that a token subject still refers to an existing
// user, implemented by service.Service.
type UserLookup interface {
	Exists(ctx context.Context, userID int64) bool
}

// UserIDFromContext returns the authenticated user id set by Auth
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// Auth rejects requests without a valid bearer token. Missing header,
// bad signature, expired token and vanished user all produce the same
// empty 401.
func Auth(tokens TokenVerifier, users UserLookup, log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			userID, err := tokens.Verify(strings.TrimPrefix(header, prefix))
			if err != nil {
				log.Debugf("Rejected token: %v", err)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			if !users.Exists(r.Context(), userID) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CORS allows credentialed cross-origin access from any origin, an
// explicit choice to support a separately hosted front-end.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			// Credentialed requests forbid the * wildcard, so the
			// caller's origin is echoed back.
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
