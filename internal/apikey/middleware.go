package apikey

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JW-TS-QC/Cornell-MOE/internal/store"
)

type contextKey string

const recordContextKey contextKey = "apikey.record"

// FromContext returns the API key record attached by AuthMiddleware, or nil
// when the request was not key-authenticated.
func FromContext(ctx context.Context) *store.APIKeyRecord {
	rec, _ := ctx.Value(recordContextKey).(*store.APIKeyRecord)
	return rec
}

func denyJSON(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// bearerKey extracts a well-formed API key from the Authorization header. The
// second return explains the rejection when the first is empty.
func bearerKey(r *http.Request) (string, string) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", "authorization required"
	}
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return "", "invalid authorization format"
	}
	if !strings.HasPrefix(token, keyPrefix) {
		return "", "invalid api key format"
	}
	return token, ""
}

// AuthMiddleware enforces API key auth on the public endpoints: 401 for
// missing or invalid keys, 403 when the key's scopes do not cover the path.
// The validated record is attached to the request context.
func AuthMiddleware(mgr *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := r.Header.Get("X-Real-IP")
			if caller == "" {
				caller = r.RemoteAddr
			}
			reject := func(msg string, code int) {
				slog.Warn("api key rejected",
					slog.String("reason", msg),
					slog.String("ip", caller),
					slog.String("path", r.URL.Path))
				denyJSON(w, msg, code)
			}

			token, problem := bearerKey(r)
			if problem != "" {
				reject(problem, http.StatusUnauthorized)
				return
			}

			rec, err := mgr.Validate(r.Context(), token)
			if err != nil {
				reject("invalid api key", http.StatusUnauthorized)
				return
			}
			if !CheckScope(rec, r.URL.Path) {
				slog.Warn("api key lacks scope",
					slog.String("key_id", rec.ID),
					slog.String("path", r.URL.Path))
				denyJSON(w, "insufficient scope", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(
				context.WithValue(r.Context(), recordContextKey, rec)))
		})
	}
}
