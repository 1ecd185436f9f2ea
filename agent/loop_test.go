package agent

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/internal/testutil"
	"github.com/hupe1980/finmesh/model"
	"github.com/hupe1980/finmesh/tool"
)

var amountSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"amount": map[string]any{"type": "number"},
	},
	"required": []any{"amount"},
}

func echoTool() tool.Tool {
	return tool.NewFunctionTool("echo", "Echo the arguments", map[string]any{"type": "object"},
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			return args, nil
		})
}

func amountTool() tool.Tool {
	return tool.NewFunctionTool("double", "Double an amount", amountSchema,
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			return args["amount"].(float64) * 2, nil
		})
}

func contextTool() tool.Tool {
	return tool.NewFunctionTool("whoami", "Read the organization", map[string]any{"type": "object"},
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			ec, err := tc.Exec()
			if err != nil {
				return nil, err
			}
			return ec.OrganizationID, nil
		})
}

func stagedTool(name string, forceStop bool) tool.Tool {
	return tool.NewStagedTool(name, "Staged analysis", map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) iter.Seq2[tool.Partial, error] {
			return func(yield func(tool.Partial, error) bool) {
				if !yield(tool.Partial{Text: "Loading. "}, nil) {
					return
				}
				if !yield(tool.Partial{Text: "Loading. Done."}, nil) {
					return
				}
				yield(tool.Partial{Text: "Loading. Done.", Data: map[string]any{"total": 42}, ForceStop: forceStop}, nil)
			}
		})
}

func history(msg string) []core.Event {
	return testutil.NewSessionBuilder("chat-1").
		Title("Earlier chat").
		Events(
			testutil.NewEventBuilder().Turn("turn-0").UserText("earlier question").Build(),
			testutil.NewEventBuilder().Turn("turn-0").AssistantText("earlier answer").Build(),
			testutil.NewEventBuilder().Turn("turn-0").AssistantText("partial").Partial(true).Build(),
			testutil.NewEventBuilder().Turn("turn-1").UserText(msg).Build(),
		).
		Build().
		GetConversationHistory(20)
}

type recorder struct {
	mu     sync.Mutex
	chunks []Chunk
}

func (r *recorder) emit(c Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, c)
	return nil
}

func (r *recorder) text(toolName string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sb strings.Builder
	for _, c := range r.chunks {
		if c.Tool == toolName {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}

func boundContext(t *testing.T) context.Context {
	t.Helper()
	ctx, release := core.WithExecutionContext(context.Background(), core.ExecutionContext{
		TurnID:         "turn-1",
		OrganizationID: "org-1",
	})
	t.Cleanup(release)
	return ctx
}

func TestLoop_NoToolCallsFinishes(t *testing.T) {
	m := model.NewMockModel("mock", "mock").Script(model.MockTurn{Text: "Hello there friend"})
	l := NewLoop(m, tool.NewRegistry(echoTool()))
	rec := &recorder{}

	out, err := l.Run(context.Background(), LoopInput{
		TurnID:       "turn-1",
		History:      history("hi"),
		Instructions: NewInstructionFromText("be brief"),
		Emit:         rec.emit,
	})
	require.NoError(t, err)

	assert.Equal(t, StopNoToolCalls, out.StopReason)
	assert.Equal(t, "Hello there friend", out.Text)
	assert.Empty(t, out.Steps)
	require.Len(t, out.Events, 1)
	assert.True(t, out.Events[0].IsFinalResponse())
	assert.Equal(t, "Hello there friend", rec.text(""), "model text streams to the client")

	req := m.Requests()[0]
	assert.Equal(t, "be brief", req.Instructions)
	assert.Len(t, req.Contents, 3)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "echo", req.Tools[0].Function.Name)
}

func TestLoop_HaltsAtStepLimit(t *testing.T) {
	m := model.NewMockModel("mock", "mock").Repeat(model.MockTurn{
		ToolCalls: []core.FunctionCall{{Name: "echo", Arguments: `{"n":1}`}},
	})
	l := NewLoop(m, tool.NewRegistry(echoTool()))

	out, err := l.Run(context.Background(), LoopInput{TurnID: "turn-1", History: history("loop forever")})
	require.NoError(t, err)

	assert.Equal(t, StopConditionMet, out.StopReason)
	assert.Len(t, out.Steps, DefaultMaxSteps)
	assert.Equal(t, DefaultMaxSteps, m.Calls(), "no eleventh model call")
	assert.Len(t, out.Events, 2*DefaultMaxSteps)
	for i, s := range out.Steps {
		assert.Equal(t, i+1, s.Index)
	}
}

func TestLoop_InvalidInputIsReportedToModel(t *testing.T) {
	m := model.NewMockModel("mock", "mock").Script(
		model.MockTurn{ToolCalls: []core.FunctionCall{{ID: "c1", Name: "double", Arguments: `{"amount":"ten"}`}}},
		model.MockTurn{ToolCalls: []core.FunctionCall{{ID: "c2", Name: "double", Arguments: `{"amount":10}`}}},
		model.MockTurn{Text: "It is 20."},
	)
	l := NewLoop(m, tool.NewRegistry(amountTool()))

	out, err := l.Run(context.Background(), LoopInput{TurnID: "turn-1", History: history("double ten")})
	require.NoError(t, err)
	assert.Equal(t, "It is 20.", out.Text)
	require.Len(t, out.Steps, 2)

	first := out.Steps[0].ToolResults[0]
	var ie *tool.InputError
	require.ErrorAs(t, first.Err, &ie)
	assert.Equal(t, []string{"amount"}, ie.Fields)

	// the second request carries the failure back to the model
	reqs := m.Requests()
	require.Len(t, reqs, 3)
	responses := reqs[1].Contents[len(reqs[1].Contents)-1]
	require.Equal(t, "tool", responses.Role)
	fr := responses.Parts[0].(core.FunctionResponsePart).FunctionResponse
	assert.Equal(t, "c1", fr.ID)
	assert.Contains(t, fr.Error, "fields: amount")

	assert.Equal(t, 20.0, out.Steps[1].ToolResults[0].Output)
}

func TestLoop_MissingExecutionContextAbortsTurn(t *testing.T) {
	m := model.NewMockModel("mock", "mock").Repeat(model.MockTurn{
		ToolCalls: []core.FunctionCall{{Name: "whoami"}},
	})
	l := NewLoop(m, tool.NewRegistry(contextTool()))

	out, err := l.Run(context.Background(), LoopInput{TurnID: "turn-1", History: history("who am i")})
	require.ErrorIs(t, err, core.ErrContextNotSet)
	assert.Equal(t, 1, m.Calls())
	assert.Len(t, out.Steps, 1)

	// with a bound context the same tool works
	m2 := model.NewMockModel("mock", "mock").Script(
		model.MockTurn{ToolCalls: []core.FunctionCall{{Name: "whoami"}}},
		model.MockTurn{Text: "You are org-1."},
	)
	out, err = NewLoop(m2, tool.NewRegistry(contextTool())).Run(boundContext(t), LoopInput{TurnID: "turn-1", History: history("who am i")})
	require.NoError(t, err)
	assert.Equal(t, "org-1", out.Steps[0].ToolResults[0].Output)
}

func TestLoop_ForceStopEndsTurnAfterStagedTool(t *testing.T) {
	m := model.NewMockModel("mock", "mock").Repeat(model.MockTurn{
		ToolCalls: []core.FunctionCall{{ID: "c1", Name: "analysis"}},
	})
	l := NewLoop(m, tool.NewRegistry(stagedTool("analysis", true)))
	rec := &recorder{}

	out, err := l.Run(context.Background(), LoopInput{TurnID: "turn-1", History: history("analyse"), Emit: rec.emit})
	require.NoError(t, err)

	assert.Equal(t, StopForceRequests, out.StopReason)
	assert.Equal(t, 1, m.Calls())
	assert.Equal(t, "Loading. Done.", rec.text("analysis"), "deltas add up to the cumulative text")

	res := out.Steps[0].ToolResults[0]
	assert.True(t, res.ForceStop)
	fr := out.Events[1].GetFunctionResponses()[0]
	assert.Equal(t, map[string]any{"text": "Loading. Done.", "data": map[string]any{"total": 42}}, fr.Response)
}

func TestLoop_ForceStopDecidedByLastResult(t *testing.T) {
	tests := []struct {
		name      string
		calls     []core.FunctionCall
		wantCalls int
		wantStop  string
	}{
		{
			name:      "forced result last",
			calls:     []core.FunctionCall{{Name: "echo"}, {Name: "forced"}},
			wantCalls: 1,
			wantStop:  StopForceRequests,
		},
		{
			name:      "forced result first",
			calls:     []core.FunctionCall{{Name: "forced"}, {Name: "echo"}},
			wantCalls: 2,
			wantStop:  StopNoToolCalls,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := model.NewMockModel("mock", "mock").Script(
				model.MockTurn{ToolCalls: tt.calls},
				model.MockTurn{Text: "summary"},
			)
			l := NewLoop(m, tool.NewRegistry(echoTool(), stagedTool("forced", true)))
			out, err := l.Run(context.Background(), LoopInput{TurnID: "turn-1", History: history("go")})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStop, out.StopReason)
			assert.Equal(t, tt.wantCalls, m.Calls())

			results := out.Steps[0].ToolResults
			require.Len(t, results, 2)
			assert.Equal(t, tt.calls[0].Name, results[0].Name, "results follow call order")
			assert.Equal(t, tt.calls[1].Name, results[1].Name)
		})
	}
}

func TestLoop_ProviderErrorEndsTurn(t *testing.T) {
	upstream := &model.ProviderError{Provider: "mock", Model: "mock", Attempts: 3, Err: errors.New("503")}
	m := model.NewMockModel("mock", "mock").Script(model.MockTurn{Err: upstream})

	_, err := NewLoop(m, nil).Run(context.Background(), LoopInput{TurnID: "turn-1", History: history("hi")})
	require.ErrorIs(t, err, model.ErrUpstreamProvider)
}

func TestLoop_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := model.NewMockModel("mock", "mock")

	_, err := NewLoop(m, nil).Run(ctx, LoopInput{TurnID: "turn-1", History: history("hi")})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.Calls())
}

func TestLoop_CustomStopConditionAndBudget(t *testing.T) {
	m := model.NewMockModel("mock", "mock").Repeat(model.MockTurn{
		ToolCalls: []core.FunctionCall{{Name: "echo"}},
	})
	never := func([]core.StepRecord) bool { return false }

	_, err := NewLoop(m, tool.NewRegistry(echoTool()), func(o *Options) {
		o.StopWhen = never
		o.MaxModelCalls = 3
	}).Run(context.Background(), LoopInput{TurnID: "turn-1", History: history("hi")})
	require.ErrorIs(t, err, ErrStepBudgetExhausted)
	assert.Equal(t, 3, m.Calls())
}

func TestLoop_InstructionFailure(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	_, err := NewLoop(m, nil).Run(context.Background(), LoopInput{
		TurnID:       "turn-1",
		History:      history("hi"),
		Instructions: NewSystemInstruction(PromptOptions{}),
	})
	require.ErrorIs(t, err, core.ErrContextNotSet)
	assert.Equal(t, 0, m.Calls())
}
