package core

import (
	"time"

	"github.com/google/uuid"
)

// Event is one entry in a chat's history: a user message, an assistant
// message, a batch of proposed tool calls or their responses. Treat events as
// immutable once appended.
type Event struct {
	ID        string            `json:"id"`
	TurnID    string            `json:"turn_id"`
	Author    string            `json:"author"`
	Timestamp time.Time         `json:"timestamp"`
	Content   *Content          `json:"content,omitempty"`
	Partial   *bool             `json:"partial,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates a bare event for a turn.
func NewEvent(turnID, author string) Event {
	return Event{
		ID:        NewID(),
		TurnID:    turnID,
		Author:    author,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserMessageEvent creates a user text message.
func NewUserMessageEvent(turnID, message string) Event {
	e := NewEvent(turnID, "user")
	e.Content = &Content{Role: "user", Parts: []Part{TextPart{Text: message}}}
	return e
}

// NewMessageEvent creates an assistant text message.
func NewMessageEvent(turnID, author, message string) Event {
	e := NewEvent(turnID, author)
	e.Content = &Content{Role: "assistant", Parts: []Part{TextPart{Text: message}}}
	return e
}

// NewFunctionCallsEvent records the tool calls the model proposed in one step,
// together with any text it produced before proposing them.
func NewFunctionCallsEvent(turnID, author, text string, calls []FunctionCall) Event {
	e := NewEvent(turnID, author)
	parts := make([]Part, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, TextPart{Text: text})
	}
	for _, c := range calls {
		parts = append(parts, FunctionCallPart{FunctionCall: c})
	}
	e.Content = &Content{Role: "assistant", Parts: parts}
	return e
}

// NewFunctionResponsesEvent records the responses of one step in call order.
func NewFunctionResponsesEvent(turnID, author string, responses []FunctionResponse) Event {
	e := NewEvent(turnID, author)
	parts := make([]Part, 0, len(responses))
	for _, r := range responses {
		parts = append(parts, FunctionResponsePart{FunctionResponse: r})
	}
	e.Content = &Content{Role: "tool", Parts: parts}
	return e
}

// NewID returns a random UUID string.
func NewID() string { return uuid.NewString() }

// IsPartial reports whether the event is a streaming fragment.
func (e Event) IsPartial() bool { return e.Partial != nil && *e.Partial }

// GetFunctionCalls returns the function calls in order.
func (e Event) GetFunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}
	var calls []FunctionCall
	for _, p := range e.Content.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// GetFunctionResponses returns the function responses in order.
func (e Event) GetFunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}
	var responses []FunctionResponse
	for _, p := range e.Content.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// IsFinalResponse reports whether the event closes an assistant turn: no
// pending calls or responses and not partial.
func (e Event) IsFinalResponse() bool {
	return len(e.GetFunctionCalls()) == 0 &&
		len(e.GetFunctionResponses()) == 0 &&
		!e.IsPartial()
}
