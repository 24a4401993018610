package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ExtractToken reads a bearer token from the Authorization header, falling
// back to the X-API-Key header.
func ExtractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

// authorize reports whether r may mutate agent state. With no configured
// token every request is allowed; the gateway binds to loopback by default.
func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(ExtractToken(r)), []byte(s.cfg.AuthToken)) == 1
}
