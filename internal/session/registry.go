package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"livestream-studio/internal/models"
)

// Factory builds a session for a registry entry. It must not block.
type Factory func(id string, cfg models.SessionConfig) *Session

// Registry maps session ids to sessions. Create and Remove take the write
// lock; Get and ListAll take the read lock. No session method is called
// while the lock is held, so per-session operations never block lookups of
// unrelated ids.
type Registry struct {
	factory Factory

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry that builds sessions with factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:  factory,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session under id.
func (r *Registry) Create(id string, cfg models.SessionConfig) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}
	sess := r.factory(id, cfg)
	r.sessions[id] = sess
	return sess, nil
}

// Get looks up a session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove deletes id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// ListAll returns the registered sessions ordered by id.
func (r *Registry) ListAll() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
