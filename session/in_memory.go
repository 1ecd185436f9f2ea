package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/finmesh/core"
)

// ErrSessionExists is returned by Create for an id already in use.
var ErrSessionExists = errors.New("session already exists")

// InMemoryStore is a volatile SessionStore implementation storing
// sessions in a process local map. It is safe for concurrent access and best
// suited for tests or ephemeral demo servers. Each returned session is cloned
// to prevent external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// Get returns an existing session (clone) or creates a new one lazily.
func (s *InMemoryStore) Get(sessionID string) (*core.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return sess.Clone(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(sessionID).Clone(), nil
}

// Create allocates a session with the given id.
func (s *InMemoryStore) Create(sessionID string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	return s.getOrCreateLocked(sessionID).Clone(), nil
}

// AppendEvent adds an event to an existing or newly created session.
func (s *InMemoryStore) AppendEvent(sessionID string, ev core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateLocked(sessionID).AddEvent(ev)
	return nil
}

// SetTitle sets the chat title, creating the session when needed.
func (s *InMemoryStore) SetTitle(sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateLocked(sessionID).SetTitle(title)
	return nil
}

// Len returns the number of stored sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// getOrCreateLocked returns the stored session, allocating it when missing;
// caller must already hold the write lock.
func (s *InMemoryStore) getOrCreateLocked(sessionID string) *core.Session {
	if sess, ok := s.sessions[sessionID]; ok {
		return sess
	}
	sess := core.NewSession(sessionID)
	s.sessions[sessionID] = sess
	return sess
}
