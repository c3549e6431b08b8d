package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/voxgate/internal/session"
)

// Registry tracks every live session. It is the single source of truth for
// the connection count and the broadcast surface for shutdown; once a
// session is unregistered its resources are reclaimable.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	seq      int64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session.Session)}
}

// NewID returns a fresh session identifier.
func (r *Registry) NewID() string {
	r.mu.Lock()
	r.seq++
	n := r.seq
	r.mu.Unlock()
	return fmt.Sprintf("session-%d-%d", n, time.Now().UnixMilli())
}

// Register adds s under its own ID and returns that ID.
func (r *Registry) Register(s *session.Session) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
	return s.ID()
}

// Unregister removes the session with the given ID. Unknown IDs are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ForEach calls fn for every registered session. The snapshot is taken under
// the lock; fn runs without it, so it may register or unregister freely.
func (r *Registry) ForEach(fn func(*session.Session)) {
	r.mu.Lock()
	snapshot := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()

	for _, s := range snapshot {
		fn(s)
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
