// Package auth guards HTTP endpoints with a shared API key.
package auth

import (
	"net/http"
	"strings"
)

// Guard checks the shared API key on incoming requests. An empty key
// disables the check entirely, matching a config with no key_env set.
type Guard struct {
	key    string
	header string
}

// New creates a Guard accepting key via "Authorization: Bearer <key>"
// or via the named header.
func New(key, header string) *Guard {
	return &Guard{key: key, header: header}
}

// Disabled reports whether requests pass through unchecked.
func (g *Guard) Disabled() bool { return g.key == "" }

// Wrap returns next protected by the key check.
func (g *Guard) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.key != "" && !g.allowed(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) allowed(r *http.Request) bool {
	if bearer := r.Header.Get("Authorization"); strings.HasPrefix(bearer, "Bearer ") {
		if strings.TrimPrefix(bearer, "Bearer ") == g.key {
			return true
		}
	}
	return r.Header.Get(g.header) == g.key
}
