package core

import (
	"sync"
	"time"
)

// Session is a chat: an ordered event history plus a title and metadata.
// It is safe for concurrent access.
//
// Contract:
//   - GetEvents returns a defensive copy
//   - GetConversationHistory keeps user/assistant/tool events, drops partials
//     and honours a tail limit
//   - Clone deep-copies slices and maps.
type Session struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Events   []Event           `json:"events"`
	Created  time.Time         `json:"created"`
	Updated  time.Time         `json:"updated"`
	Metadata map[string]string `json:"metadata"`
	mu       sync.RWMutex
}

// NewSession creates an empty session.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{ID: id, Events: []Event{}, Created: now, Updated: now, Metadata: map[string]string{}}
}

// SetTitle sets the chat title.
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Title = title
	s.Updated = time.Now()
}

// GetTitle returns the chat title.
func (s *Session) GetTitle() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Title
}

// AddEvent appends an event.
func (s *Session) AddEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, ev)
	s.Updated = time.Now()
}

// GetEvents returns a copy of the full history.
func (s *Session) GetEvents() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]Event, len(s.Events))
	copy(events, s.Events)
	return events
}

// GetConversationHistory returns the last limit conversational events
// (all of them when limit <= 0).
func (s *Session) GetConversationHistory(limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Event, 0, len(s.Events))
	for _, ev := range s.Events {
		if ev.Content == nil || ev.IsPartial() {
			continue
		}
		switch ev.Content.Role {
		case "user", "assistant", "tool":
			res = append(res, ev)
		}
	}
	if limit > 0 && len(res) > limit {
		res = res[len(res)-limit:]
		// never start on a dangling tool response
		for len(res) > 0 && res[0].Content.Role == "tool" {
			res = res[1:]
		}
	}
	return res
}

// Clone returns a deep copy safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		ID:       s.ID,
		Title:    s.Title,
		Events:   make([]Event, len(s.Events)),
		Created:  s.Created,
		Updated:  s.Updated,
		Metadata: make(map[string]string, len(s.Metadata)),
	}
	copy(clone.Events, s.Events)
	for k, v := range s.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}

// SessionStore persists chats.
type SessionStore interface {
	Create(id string) (*Session, error)
	Get(id string) (*Session, error)
	AppendEvent(sessionID string, event Event) error
	SetTitle(sessionID, title string) error
}
