package artifact

import "sync"

// Store persists terminal artifact snapshots, scoped by turn.
type Store interface {
	Save(turnID, artifactID string, data []byte) error
	Get(turnID, artifactID string) ([]byte, error)
	List(turnID string) ([]string, error)
	Delete(turnID, artifactID string) error
}

// InMemoryStore keeps terminal snapshots in process memory. Data is copied
// on the way in and out.
//
// Layout: turnID -> artifactID -> JSON snapshot
type InMemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]map[string][]byte
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snapshots: make(map[string]map[string][]byte)}
}

// Save stores (or overwrites) a snapshot.
func (s *InMemoryStore) Save(turnID, artifactID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[turnID]; !ok {
		s.snapshots[turnID] = make(map[string][]byte)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.snapshots[turnID][artifactID] = cp
	return nil
}

// Get returns a copy of a snapshot or ErrNotFound.
func (s *InMemoryStore) Get(turnID, artifactID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.snapshots[turnID][artifactID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// List returns the artifact ids stored for a turn.
func (s *InMemoryStore) List(turnID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.snapshots[turnID]
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete removes a snapshot or returns ErrNotFound.
func (s *InMemoryStore) Delete(turnID, artifactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.snapshots[turnID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m[artifactID]; !ok {
		return ErrNotFound
	}
	delete(m, artifactID)
	if len(m) == 0 {
		delete(s.snapshots, turnID)
	}
	return nil
}
