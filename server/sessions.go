package server

import (
	"sync"

	"github.com/google/uuid"

	"github.com/repsense/repsense/engine"
)

// sessionEntry serializes access to one engine.Session. The engine itself is
// single-threaded by contract; the HTTP layer is the only concurrent caller,
// so the per-session mutex is held across every engine call.
type sessionEntry struct {
	mu      sync.Mutex
	session *engine.Session
}

// sessionRegistry maps opaque tokens to live sessions. Each token names an
// independent recognizer: concurrent users never alias state.
type sessionRegistry struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{entries: make(map[string]*sessionEntry)}
}

// add registers a session and returns its fresh token.
func (r *sessionRegistry) add(s *engine.Session) string {
	token := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[token] = &sessionEntry{session: s}
	return token
}

// get returns the entry for a token, or nil.
func (r *sessionRegistry) get(token string) *sessionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[token]
}

// remove drops the session for a token, reporting whether it existed.
func (r *sessionRegistry) remove(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[token]
	delete(r.entries, token)
	return ok
}
