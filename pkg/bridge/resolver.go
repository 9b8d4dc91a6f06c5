package bridge

import (
	"sync"
	"time"
)

// DefaultPendingTTL bounds how long an outbound registration stays
// resolvable. An outbound call whose media stream never connects within
// this window is treated as abandoned.
const DefaultPendingTTL = 15 * time.Minute

type pendingCall struct {
	userID     string
	registered time.Time
}

// Resolver maps provider call SIDs to user identifiers for calls whose
// identity is established before the telephony transport connects.
type Resolver struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending map[string]pendingCall

	now func() time.Time // stubbed in tests
}

// NewResolver creates a resolver with the given registration TTL.
// A non-positive ttl falls back to DefaultPendingTTL.
func NewResolver(ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Resolver{
		ttl:     ttl,
		pending: make(map[string]pendingCall),
		now:     time.Now,
	}
}

// RegisterPendingCall records that callSid belongs to userID. Called once
// per outbound call, before the media stream exists. Re-registering the
// same SID overwrites the mapping (last writer wins). Expired entries
// are swept opportunistically here.
func (r *Resolver) RegisterPendingCall(userID, callSid string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for sid, p := range r.pending {
		if now.Sub(p.registered) > r.ttl {
			delete(r.pending, sid)
		}
	}
	r.pending[callSid] = pendingCall{userID: userID, registered: now}
}

// Resolve returns the user bound to callSid, if any. The entry is kept so
// a reconnect to the same call still resolves.
func (r *Resolver) Resolve(callSid string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[callSid]
	if !ok {
		return "", false
	}
	if r.now().Sub(p.registered) > r.ttl {
		delete(r.pending, callSid)
		return "", false
	}
	return p.userID, true
}

// Drop removes a registration, used when a session is deleted.
func (r *Resolver) Drop(callSid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, callSid)
}
