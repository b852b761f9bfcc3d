package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// bearerToken extracts the credential from an "Authorization: Bearer <t>"
// header. The scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	scheme, cred, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	cred = strings.TrimSpace(cred)
	return cred, cred != ""
}

// BearerAuth guards the /api routes with a shared token. With token empty
// the routes are open, which is only reasonable on a loopback listener.
func BearerAuth(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				slog.Debug("rejected api request", "path", r.URL.Path, "has_credential", ok)
				w.Header().Set("WWW-Authenticate", `Bearer realm="prodqa"`)
				httpError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
