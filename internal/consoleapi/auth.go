package consoleapi

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SessionCookie carries the minted console session so browser fetch()
// works without an Authorization header on every call.
const SessionCookie = "opconsole_sess"

const sessionTTL = 7 * 24 * time.Hour

type sessionStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	now    func() time.Time
}

func newSessionStore() *sessionStore {
	return &sessionStore{tokens: map[string]time.Time{}, now: time.Now}
}

func (ss *sessionStore) mint() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	token := "sess_" + hex.EncodeToString(b)
	ss.mu.Lock()
	ss.tokens[token] = ss.now().Add(sessionTTL)
	ss.mu.Unlock()
	return token
}

func (ss *sessionStore) valid(token string) bool {
	if token == "" {
		return false
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	exp, ok := ss.tokens[token]
	if !ok {
		return false
	}
	if ss.now().After(exp) {
		delete(ss.tokens, token)
		return false
	}
	return true
}

// Authorize reports whether the request carries a valid console session,
// either the minted cookie or basic auth. The hub uses this on /ws.
func (s *Server) Authorize(r *http.Request) bool {
	if cookie, err := r.Cookie(SessionCookie); err == nil && s.sessions.valid(cookie.Value) {
		return true
	}
	if s.deps.AuthPass == "" {
		return false
	}
	user, pass, ok := r.BasicAuth()
	return ok && user == s.deps.AuthUser && pass == s.deps.AuthPass
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		// The hub owns /ws auth so clients get a 4401 close code.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		if cookie, err := r.Cookie(SessionCookie); err == nil && s.sessions.valid(cookie.Value) {
			next.ServeHTTP(w, r)
			return
		}

		// A blank password would make basic auth a formality; refuse to serve
		// instead of serving open.
		if s.deps.AuthPass == "" {
			respondError(w, http.StatusInternalServerError, "auth_unconfigured", "console auth password is not configured")
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.deps.AuthUser || pass != s.deps.AuthPass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Operator Console"`)
			respondError(w, http.StatusUnauthorized, "unauthorized", "auth required")
			return
		}

		token := s.sessions.mint()
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    token,
			Path:     "/",
			MaxAge:   int(sessionTTL / time.Second),
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
		next.ServeHTTP(w, r)
	})
}

func limitParam(r *http.Request, fallback, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback
	}
	n := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return fallback
		}
		n = n*10 + int(raw[i]-'0')
	}
	if n < 1 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}
