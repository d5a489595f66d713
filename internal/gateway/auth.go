package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authRealm names the protection space in WWW-Authenticate challenges.
const authRealm = "parley"

// allows reports whether r carries a configured credential. Either scheme
// is accepted when both are configured.
func (a AuthConfig) allows(r *http.Request) bool {
	if a.BearerToken != "" {
		if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && secretEqual(token, a.BearerToken) {
			return true
		}
	}
	if a.BasicUser != "" && a.BasicPass != "" {
		user, pass, ok := r.BasicAuth()
		if ok && secretEqual(user, a.BasicUser) && secretEqual(pass, a.BasicPass) {
			return true
		}
	}
	return false
}

// challenge is the WWW-Authenticate value for a rejected request.
func (a AuthConfig) challenge() string {
	if a.BearerToken != "" {
		return `Bearer realm="` + authRealm + `"`
	}
	return `Basic realm="` + authRealm + `"`
}

// requireAuth rejects requests without a valid credential. It must run
// after requestID so rejections can be correlated with the access log.
func (g *Gateway) requireAuth(next http.Handler) http.Handler {
	auth := g.config.Auth
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.allows(r) {
			next.ServeHTTP(w, r)
			return
		}

		id := requestIDFrom(r.Context())
		g.logger.Warn("gateway: unauthorized",
			"request_id", id,
			"path", r.URL.Path,
			"credentials", r.Header.Get("Authorization") != "",
		)
		w.Header().Set("WWW-Authenticate", auth.challenge())
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error:     http.StatusText(http.StatusUnauthorized),
			RequestID: id,
		})
	})
}

// secretEqual compares two strings in constant time.
func secretEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
