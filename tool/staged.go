package tool

import (
	"iter"

	"github.com/hupe1980/finmesh/core"
)

// StagedFunc produces the partial outputs of a staged tool. The final chunk
// may set ForceStop.
type StagedFunc func(tc *core.ToolContext, args map[string]any) iter.Seq2[Partial, error]

// StagedTool is a streaming tool: it yields cumulative text and structured
// chunks while it pushes staged artifact updates.
type StagedTool struct {
	name        string
	description string
	inputSchema map[string]any
	fn          StagedFunc
}

// NewStagedTool constructs a StagedTool.
func NewStagedTool(name, description string, inputSchema map[string]any, fn StagedFunc) *StagedTool {
	return &StagedTool{
		name:        name,
		description: description,
		inputSchema: inputSchema,
		fn:          fn,
	}
}

// Name returns the tool name.
func (t *StagedTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *StagedTool) Description() string { return t.description }

// InputSchema returns the argument schema.
func (t *StagedTool) InputSchema() map[string]any { return t.inputSchema }

// OutputSchema is nil: staged tools stream text.
func (t *StagedTool) OutputSchema() map[string]any { return nil }

// Execute returns the stream. Work starts when the caller ranges over it.
func (t *StagedTool) Execute(tc *core.ToolContext, args map[string]any) (Result, error) {
	return Stream(t.fn(tc, args)), nil
}
