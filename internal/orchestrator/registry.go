package orchestrator

import (
	"sort"
	"sync"
)

// Registry is the concurrency-safe set of live sessions; the single source
// of truth for what is running now. Terminal sessions are evicted, not kept.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*Session
	closed   bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[SessionID]*Session)}
}

// Add registers s and reports whether it was accepted. Ids are generated
// fresh, so an existing entry is replaced. Nothing is accepted after Close.
func (r *Registry) Add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.sessions[s.ID] = s
	return true
}

// Close stops accepting sessions and returns those registered, ordered by
// start time. Every session accepted by Add is in the returned list.
func (r *Registry) Close() []*Session {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.List()
}

// Get returns the session with id.
func (r *Registry) Get(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove evicts id and reports whether it was present. Removing an unknown
// id is a no-op.
func (r *Registry) Remove(id SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// List returns the registered sessions ordered by start time.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
