// Package tool implements the tool contract of the assistant: a named unit
// of work with a JSON schema for its input, an optional schema for its
// output, and an executor that either returns a single value or streams
// staged partial outputs.
package tool

import (
	"iter"

	"github.com/hupe1980/finmesh/core"
)

// Tool is an immutable tool descriptor plus its executor.
//
// Execute receives input that was already validated against InputSchema with
// declared defaults applied. Implementations must be safe for concurrent use
// and limit side effects to database reads, model calls and the turn's
// artifact channel (reachable through the ToolContext).
type Tool interface {
	// Name is the unique identifier the model calls the tool by.
	Name() string
	// Description tells the model when to use the tool.
	Description() string
	// InputSchema is the JSON schema of the arguments.
	InputSchema() map[string]any
	// OutputSchema is the JSON schema of a Final value, or nil when undeclared.
	OutputSchema() map[string]any
	// Execute runs the tool.
	Execute(tc *core.ToolContext, input map[string]any) (Result, error)
}

// Partial is one chunk yielded by a staged tool.
type Partial struct {
	// Text is the cumulative natural-language output so far.
	Text string `json:"text,omitempty"`
	// Data is an optional structured payload fed back to the model.
	Data any `json:"data,omitempty"`
	// ForceStop on the final chunk ends the turn once the tool finishes.
	ForceStop bool `json:"forceStop,omitempty"`
}

// Result is either a single Final value or a Stream of partial outputs.
type Result struct {
	value  any
	stream iter.Seq2[Partial, error]
}

// Final wraps a single return value.
func Final(v any) Result { return Result{value: v} }

// Stream wraps a sequence of partial outputs. The sequence is consumed once.
func Stream(seq iter.Seq2[Partial, error]) Result { return Result{stream: seq} }

// IsStream reports whether the result is a Stream.
func (r Result) IsStream() bool { return r.stream != nil }

// Value returns the Final value (nil for streams).
func (r Result) Value() any { return r.value }

// Partials returns the stream. For a Final result it yields a single chunk
// carrying the value as Data.
func (r Result) Partials() iter.Seq2[Partial, error] {
	if r.stream != nil {
		return r.stream
	}
	return func(yield func(Partial, error) bool) {
		yield(Partial{Data: r.value}, nil)
	}
}

// Collect drains a Stream and returns the last chunk. Errors stop the drain.
func Collect(seq iter.Seq2[Partial, error]) (Partial, error) {
	var last Partial
	for p, err := range seq {
		if err != nil {
			return last, err
		}
		last = p
	}
	return last, nil
}
