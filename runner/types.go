package runner

import (
	"github.com/hupe1980/finmesh/agent"
	"github.com/hupe1980/finmesh/artifact"
)

// TurnRequest is one user message entering the assistant.
type TurnRequest struct {
	// TurnID identifies the turn; generated when empty.
	TurnID   string   `json:"turnId,omitempty"`
	ChatID   string   `json:"chatId"`
	Message  string   `json:"message"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// Metadata carries client hints for a turn.
type Metadata struct {
	// ToolCall forces a specific tool, as picked from a menu.
	ToolCall *agent.ForcedToolCall `json:"toolCall,omitempty"`
	// WebSearch asks for current information from the web.
	WebSearch bool `json:"webSearch,omitempty"`
}

// User is the authenticated caller and its locale.
type User struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	FullName       string `json:"fullName,omitempty"`
	Locale         string `json:"locale,omitempty"`
	BaseCurrency   string `json:"baseCurrency,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	Country        string `json:"country,omitempty"`
	City           string `json:"city,omitempty"`
}

// EventType discriminates StreamEvent.
type EventType string

// Stream event types.
const (
	EventText     EventType = "text"
	EventArtifact EventType = "artifact"
	EventError    EventType = "error"
	EventDone     EventType = "done"
)

// Error codes of error events.
const (
	CodeCancelled = "CANCELLED"
	CodeUpstream  = "UPSTREAM_UNAVAILABLE"
	CodeInternal  = "INTERNAL"
)

// StreamEvent is one element of a turn's output stream.
type StreamEvent struct {
	Type   EventType `json:"type"`
	TurnID string    `json:"turnId"`
	// Text is a delta; Tool names the staged tool that produced it, empty
	// for model text.
	Text string `json:"text,omitempty"`
	Tool string `json:"tool,omitempty"`
	Step int    `json:"step,omitempty"`
	// Artifact is set for artifact events.
	Artifact *artifact.Event `json:"artifact,omitempty"`
	Error    string          `json:"error,omitempty"`
	Code     string          `json:"code,omitempty"`
	// StopReason is set on the done event.
	StopReason string `json:"stopReason,omitempty"`
}
