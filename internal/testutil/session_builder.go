package testutil

import (
	"github.com/hupe1980/finmesh/core"
)

// SessionBuilder helps construct chat sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("chat-1").Title("Budget").Events(ev1, ev2).Build()
type SessionBuilder struct {
	id       string
	title    string
	metadata map[string]string
	events   []core.Event
}

// NewSessionBuilder creates a new builder for a session with the given id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, metadata: map[string]string{}}
}

// Title sets the chat title (chainable).
func (b *SessionBuilder) Title(t string) *SessionBuilder { b.title = t; return b }

// Meta sets a metadata key/value pair (chainable).
func (b *SessionBuilder) Meta(key, val string) *SessionBuilder {
	b.metadata[key] = val
	return b
}

// Event appends a single event to the history (chainable).
func (b *SessionBuilder) Event(ev core.Event) *SessionBuilder {
	b.events = append(b.events, ev)
	return b
}

// Events appends multiple events to the history (chainable).
func (b *SessionBuilder) Events(evs ...core.Event) *SessionBuilder {
	b.events = append(b.events, evs...)
	return b
}

// Build returns a *core.Session with pre-populated history.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.id)
	s.Title = b.title
	for k, v := range b.metadata {
		s.Metadata[k] = v
	}
	s.Events = append(s.Events, b.events...)
	return s
}
