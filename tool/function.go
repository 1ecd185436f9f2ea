package tool

import (
	"errors"

	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/internal/util"
)

// FunctionTool exposes a plain Go function as a simple (single return) tool.
//
// Error semantics of the wrapped function:
//
//	*ToolError                -> forwarded unchanged
//	core.ErrContextNotSet     -> forwarded unchanged (aborts the turn)
//	other error               -> *ToolError{Code: EXECUTION_ERROR}
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name         string
	description  string
	inputSchema  map[string]any
	outputSchema map[string]any
	fn           func(tc *core.ToolContext, args map[string]any) (any, error)
}

// FunctionToolOptions configures a FunctionTool.
type FunctionToolOptions struct {
	// OutputSchema declares the shape of the returned value.
	OutputSchema map[string]any
}

// NewFunctionTool constructs a FunctionTool from an explicit input schema.
//
// Example:
//
//	sum := NewFunctionTool(
//	  "sum",
//	  "Add two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(tc *core.ToolContext, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	inputSchema map[string]any,
	fn func(tc *core.ToolContext, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	opts := FunctionToolOptions{}
	for _, f := range optFns {
		f(&opts)
	}
	return &FunctionTool{
		name:         name,
		description:  description,
		inputSchema:  inputSchema,
		outputSchema: opts.OutputSchema,
		fn:           fn,
	}
}

// NewFunctionToolFromStruct derives the input schema from a struct using
// reflection (see util.CreateSchema).
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(tc *core.ToolContext, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn, optFns...)
}

// WithOutputStruct declares the output schema from a struct type.
func WithOutputStruct(structType any) func(o *FunctionToolOptions) {
	return func(o *FunctionToolOptions) {
		o.OutputSchema = util.CreateSchema(structType)
	}
}

// Name returns the tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// InputSchema returns the argument schema.
func (t *FunctionTool) InputSchema() map[string]any { return t.inputSchema }

// OutputSchema returns the declared output schema or nil.
func (t *FunctionTool) OutputSchema() map[string]any { return t.outputSchema }

// Execute invokes the wrapped function.
func (t *FunctionTool) Execute(tc *core.ToolContext, args map[string]any) (Result, error) {
	result, err := t.fn(tc, args)
	if err != nil {
		return Result{}, t.wrapErr(tc, err)
	}
	return Final(result), nil
}

func (t *FunctionTool) wrapErr(tc *core.ToolContext, err error) error {
	logger := tc.Logger()

	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		logger.Error("tool.call.error", "tool", t.name, "code", toolErr.Code, "error", toolErr.Message)
		return toolErr
	}
	if passthrough(err) {
		logger.Error("tool.call.error", "tool", t.name, "error", err.Error())
		return err
	}

	logger.Error("tool.call.error", "tool", t.name, "error", err.Error())
	return &ToolError{
		Tool:    t.name,
		Message: err.Error(),
		Code:    CodeExecution,
		Err:     err,
	}
}

// passthrough reports errors that callers must see unwrapped.
func passthrough(err error) bool {
	return errors.Is(err, core.ErrContextNotSet) ||
		errors.Is(err, ErrInvalidToolInput) ||
		errors.Is(err, ErrToolContractViolation)
}
