package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware requires apiKey to be presented as either a Bearer token in
// Authorization or the x-api-key header, exempting path. A blank apiKey
// disables the check entirely, matching the --api-key flag's documented
// default of no authentication.
func AuthMiddleware(apiKey string, exempt func(r *http.Request) bool, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exempt != nil && exempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		if !keyMatches(apiKey, presentedKey(r)) {
			http.Error(w, "invalid or missing API key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func presentedKey(r *http.Request) string {
	if header := r.Header.Get("x-api-key"); header != "" {
		return header
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// keyMatches compares in constant time to avoid leaking key length/content
// through response-time side channels.
func keyMatches(want, got string) bool {
	if len(want) != len(got) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
