package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthSecret, when non-empty, is compared against the
// X-Mtmcore-Secret header (or an "Authorization: Bearer <token>"
// header) on every admin request. Empty disables authentication.
var AuthSecret string

// credentialFromRequest extracts the PSK a caller presented, checking
// the dedicated header first and falling back to a bearer token so
// curl and off-the-shelf HTTP clients both work without extra flags.
func credentialFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Mtmcore-Secret"); v != "" {
		return v
	}
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// authMiddleware validates the shared secret configured for the admin
// surface, mirroring a PSK scheme rather than full auth/crypto (out of
// scope for the transport layer per the core's own non-goals).
func authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if AuthSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		if subtle.ConstantTimeCompare([]byte(credentialFromRequest(r)), []byte(AuthSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}
