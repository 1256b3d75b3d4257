package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireAuth guards a handler with bearer-token authentication. An empty
// configured token disables the check for loopback-only deployments.
func (s *apiServer) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	expected := []byte(strings.TrimSpace(s.token))
	if len(expected) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			s.writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next(w, r)
	}
}
