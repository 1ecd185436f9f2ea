package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/finmesh/artifact"
	"github.com/hupe1980/finmesh/logging"
)

// ErrNoArtifactChannel is returned when a tool tries to publish an artifact
// outside of a turn that has an artifact channel.
var ErrNoArtifactChannel = errors.New("artifact channel not configured")

// ToolContext is what a tool sees while it executes: the call's context
// (carrying the turn's execution context binding), the turn's artifact
// channel and a logger scoped to the call.
type ToolContext struct {
	ctx            context.Context
	functionCallID string
	toolName       string
	artifacts      *artifact.Channel

	*loggerAdapter
}

// NewToolContext builds the context of one tool call. artifacts may be nil.
func NewToolContext(ctx context.Context, functionCallID, toolName string, artifacts *artifact.Channel, logger logging.Logger) *ToolContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ToolContext{
		ctx:            ctx,
		functionCallID: functionCallID,
		toolName:       toolName,
		artifacts:      artifacts,
		loggerAdapter:  newLoggerAdapter(logger),
	}
}

// Context returns the call's context.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// WithContext returns a copy bound to ctx. ctx should derive from Context so
// the execution context binding is preserved.
func (tc *ToolContext) WithContext(ctx context.Context) *ToolContext {
	cp := *tc
	cp.ctx = ctx
	return &cp
}

// Exec returns the turn's execution context, or ErrContextNotSet once the
// turn released it.
func (tc *ToolContext) Exec() (ExecutionContext, error) {
	return CurrentExecutionContext(tc.ctx)
}

// Artifacts returns the turn's artifact channel (nil outside a turn).
func (tc *ToolContext) Artifacts() *artifact.Channel { return tc.artifacts }

// StreamArtifact creates an artifact on the turn's channel.
func (tc *ToolContext) StreamArtifact(typ string, p artifact.Patch) (*artifact.Handle, error) {
	if tc.artifacts == nil {
		return nil, ErrNoArtifactChannel
	}
	h, err := tc.artifacts.Stream(tc.ctx, typ, p)
	if err != nil {
		return h, fmt.Errorf("stream %s artifact: %w", typ, err)
	}
	tc.LogDebug("tool.artifact.stream", "tool", tc.toolName, "function_call_id", tc.functionCallID, "artifact_id", h.ID(), "type", typ)
	return h, nil
}

// Logger returns the call's logger.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }

// FunctionCallID returns the id of the model's function call.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// ToolName returns the executing tool's name.
func (tc *ToolContext) ToolName() string { return tc.toolName }

// Validate performs a structural sanity check.
func (tc *ToolContext) Validate() error {
	if tc == nil || tc.ctx == nil || tc.functionCallID == "" || tc.toolName == "" {
		return fmt.Errorf("invalid ToolContext")
	}
	return nil
}
