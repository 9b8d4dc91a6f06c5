package bridge

import "sync"

// Registry owns the one-session-per-user mapping. Sessions are created
// lazily and torn down with cascading link cleanup.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for userID, creating an empty one if
// none exists. Never fails.
func (r *Registry) GetOrCreate(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		return s
	}
	s := &Session{userID: userID}
	r.sessions[userID] = s
	return s
}

// Get returns the session for userID if it exists.
func (r *Registry) Get(userID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Delete closes all of the session's links and removes it. No-op for an
// unknown user.
func (r *Registry) Delete(userID string) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.closeLinksLocked()
	s.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
