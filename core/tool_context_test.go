package core

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/finmesh/artifact"
	"github.com/hupe1980/finmesh/logging"
)

func TestToolContext_Basics(t *testing.T) {
	tc := NewToolContext(context.Background(), "call-1", "getAccounts", nil, logging.NoOpLogger{})
	if err := tc.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if tc.FunctionCallID() != "call-1" || tc.ToolName() != "getAccounts" {
		t.Errorf("identity mismatch: %s %s", tc.FunctionCallID(), tc.ToolName())
	}
	if tc.Logger() == nil {
		t.Errorf("expected logger")
	}
	if (&ToolContext{}).Validate() == nil {
		t.Errorf("zero ToolContext should not validate")
	}
	if NewToolContext(nil, "c", "t", nil, nil).Context() == nil {
		t.Errorf("nil ctx should default")
	}
}

func TestToolContext_ExecFollowsBinding(t *testing.T) {
	ctx, release := WithExecutionContext(context.Background(), testExecutionContext())
	tc := NewToolContext(ctx, "call-1", "getAccounts", nil, nil)

	ec, err := tc.Exec()
	if err != nil || ec.TurnID != "turn-1" {
		t.Fatalf("exec: %+v %v", ec, err)
	}

	derived, cancel := context.WithCancel(tc.Context())
	defer cancel()
	if _, err := tc.WithContext(derived).Exec(); err != nil {
		t.Fatalf("derived exec: %v", err)
	}

	release()
	if _, err := tc.Exec(); !errors.Is(err, ErrContextNotSet) {
		t.Fatalf("after release: want ErrContextNotSet, got %v", err)
	}
}

func TestToolContext_StreamArtifact(t *testing.T) {
	tc := NewToolContext(context.Background(), "call-1", "getNetWorthAnalysis", nil, nil)
	if _, err := tc.StreamArtifact(artifact.TypeNetWorth, artifact.Patch{}); !errors.Is(err, ErrNoArtifactChannel) {
		t.Fatalf("want ErrNoArtifactChannel, got %v", err)
	}

	ch := artifact.NewChannel("turn-1")
	tc = NewToolContext(context.Background(), "call-1", "getNetWorthAnalysis", ch, nil)
	h, err := tc.StreamArtifact(artifact.TypeNetWorth, artifact.Patch{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if tc.Artifacts() != ch {
		t.Errorf("Artifacts() should return the turn channel")
	}
	if snap := h.Snapshot(); snap.Stage != artifact.StageLoading {
		t.Errorf("initial stage = %s", snap.Stage)
	}
	if _, err := tc.StreamArtifact(artifact.TypeNetWorth, artifact.Patch{}); !errors.Is(err, artifact.ErrArtifactActive) {
		t.Errorf("want ErrArtifactActive, got %v", err)
	}
}
