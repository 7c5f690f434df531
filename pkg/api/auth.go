// API authentication middleware: static bearer token.
//
// When apiKey is non-empty, requests must carry one of:
//
//	Authorization: Bearer <api_key>
//	X-API-Key: <api_key>
//	?token=<api_key>   (WebSocket upgrades)
//
// GET /api/health stays public. With an empty key the middleware is a
// pass-through; NewServer auto-generates a key so this only happens
// when key generation itself fails.
package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

func authMiddleware(log *slog.Logger, apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		log.Warn("API auth disabled, no key available")
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if !tokenValid(extractToken(r), apiKey) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="fleet"`)
			writeError(w, http.StatusUnauthorized, "unauthorized, bearer token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return r.URL.Query().Get("token")
}

// tokenValid compares in constant time.
func tokenValid(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

func isPublicPath(path string) bool {
	return path == "/api/health"
}
