// Package registry implements the in-memory session registry (spec.md §4.3):
// a map from session id to session record, with best-effort recovery from
// the relay on a lookup miss. Writes come only through the daemon's control
// surface and poller/hook paths — never directly from external callers.
package registry

import (
	"sync"
	"time"

	"github.com/dundas/teleportation/internal/domain"
)

// Recoverer fetches a session record from the relay when the registry
// misses a lookup. It returns ok=false if the relay does not know the
// session either.
type Recoverer func(sessionID string) (domain.Session, bool)

// Registry is the process-private session map.
type Registry struct {
	mu           sync.Mutex
	sessions     map[string]domain.Session
	lastActivity time.Time
	recover      Recoverer
}

// New creates an empty registry. recover may be nil, in which case lookup
// misses are simply reported as unknown.
func New(recover Recoverer) *Registry {
	return &Registry{
		sessions:     make(map[string]domain.Session),
		lastActivity: time.Now(),
		recover:      recover,
	}
}

// Register inserts or overwrites the record for sess.ID and bumps activity.
func (r *Registry) Register(sess domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess.RegisteredAt = firstNonZero(sess.RegisteredAt, time.Now())
	sess.LastActivity = time.Now()
	r.sessions[sess.ID] = sess
	r.lastActivity = sess.LastActivity
}

// Update refreshes metadata for an existing session id, preserving
// RegisteredAt. If the id is unknown, Update behaves like Register.
func (r *Registry) Update(id string, apply func(*domain.Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		sess = domain.Session{ID: id, RegisteredAt: time.Now()}
	}
	apply(&sess)
	sess.LastActivity = time.Now()
	r.sessions[id] = sess
	r.lastActivity = sess.LastActivity
}

// Deregister removes a session from the registry.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	r.lastActivity = time.Now()
}

// Lookup returns the session for id. On a miss, it attempts recovery via
// the configured Recoverer and re-inserts the record on success.
func (r *Registry) Lookup(id string) (domain.Session, bool) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		r.bumpActivity()
		return sess, true
	}

	if r.recover == nil {
		return domain.Session{}, false
	}
	recovered, ok := r.recover(id)
	if !ok {
		return domain.Session{}, false
	}
	r.Register(recovered)
	return recovered, true
}

// Iterate calls fn for every currently registered session. fn must not
// mutate the registry.
func (r *Registry) Iterate(fn func(domain.Session)) {
	r.mu.Lock()
	sessions := make([]domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		fn(s)
	}
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// LastActivity returns the timestamp of the most recent register/update/
// lookup call, used by the idle supervisor (spec.md §4.9).
func (r *Registry) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

func (r *Registry) bumpActivity() {
	r.mu.Lock()
	r.lastActivity = time.Now()
	r.mu.Unlock()
}

func firstNonZero(t time.Time, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}
