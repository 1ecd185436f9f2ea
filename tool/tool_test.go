package tool

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/finmesh/cache"
	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/finance"
)

type nopStore struct{ finance.Store }

func boundToolContext(t *testing.T, callID string) (*core.ToolContext, func()) {
	t.Helper()
	ctx, release := core.WithExecutionContext(context.Background(), core.ExecutionContext{
		TurnID:         "turn-1",
		ActorID:        "user-1",
		OrganizationID: "org-1",
		DB:             nopStore{},
	})
	return core.NewToolContext(ctx, callID, "test", nil, nil), release
}

var sumParams = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"a": map[string]any{"type": "number"},
		"b": map[string]any{"type": "number", "default": 1.0},
	},
	"required": []string{"a"},
}

func sumTool() *FunctionTool {
	return NewFunctionTool("sum", "Add numbers", sumParams, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})
}

func TestFunctionTool_Success(t *testing.T) {
	tc, release := boundToolContext(t, "fc1")
	defer release()

	res, err := Invoke(tc, sumTool(), map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.False(t, res.IsStream())
	assert.Equal(t, 5.0, res.Value())

	res, err = Invoke(tc, sumTool(), map[string]any{"a": 2.0})
	require.NoError(t, err)
	assert.Equal(t, 3.0, res.Value(), "declared default is applied")
}

func TestInvoke_InvalidInput(t *testing.T) {
	tc, release := boundToolContext(t, "fc2")
	defer release()

	var called bool
	tl := NewFunctionTool("range", "Range", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"from": map[string]any{"type": "string", "format": "date-time"},
			"to":   map[string]any{"type": "string", "format": "date-time"},
		},
	}, func(*core.ToolContext, map[string]any) (any, error) {
		called = true
		return nil, nil
	})

	_, err := Invoke(tc, tl, map[string]any{"from": "not-a-date", "to": "also-bad"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidToolInput)
	assert.False(t, called, "executor never runs on invalid input")

	var ie *InputError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, []string{"from", "to"}, ie.Fields)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	tc, release := boundToolContext(t, "fc3")
	defer release()

	execTool := NewFunctionTool("fail", "Fails", map[string]any{"type": "object"}, func(*core.ToolContext, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	_, err := Invoke(tc, execTool, nil)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)

	ctxTool := NewFunctionTool("ctx", "Reads context", map[string]any{"type": "object"}, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		_, err := tc.Exec()
		return nil, err
	})
	release()
	_, err = Invoke(tc, ctxTool, nil)
	assert.ErrorIs(t, err, core.ErrContextNotSet, "context errors pass through unwrapped")
	assert.False(t, errors.As(err, &toolErr))
}

type balanceOut struct {
	Name    string  `json:"name"`
	Balance float64 `json:"balance"`
}

func TestInvoke_ContractViolation(t *testing.T) {
	tc, release := boundToolContext(t, "fc4")
	defer release()

	good := NewFunctionTool("good", "ok", map[string]any{"type": "object"}, func(*core.ToolContext, map[string]any) (any, error) {
		return []balanceOut{{Name: "Checking", Balance: 10}}, nil
	}, func(o *FunctionToolOptions) {
		o.OutputSchema = map[string]any{"type": "array", "items": map[string]any{"type": "object", "required": []string{"name", "balance"}}}
	})
	_, err := Invoke(tc, good, nil)
	assert.NoError(t, err)

	bad := NewFunctionTool("bad", "broken", map[string]any{"type": "object"}, func(*core.ToolContext, map[string]any) (any, error) {
		return map[string]any{"name": 42}, nil
	}, WithOutputStruct(balanceOut{}))
	_, err = Invoke(tc, bad, nil)
	assert.ErrorIs(t, err, ErrToolContractViolation)
	assert.NotErrorIs(t, err, ErrInvalidToolInput)
}

func TestStagedTool(t *testing.T) {
	tc, release := boundToolContext(t, "fc5")
	defer release()

	staged := NewStagedTool("analysis", "Streams", map[string]any{"type": "object"}, func(*core.ToolContext, map[string]any) iter.Seq2[Partial, error] {
		return func(yield func(Partial, error) bool) {
			if !yield(Partial{Text: "Looking"}, nil) {
				return
			}
			yield(Partial{Text: "Looking at data", ForceStop: true}, nil)
		}
	})

	res, err := Invoke(tc, staged, nil)
	require.NoError(t, err)
	require.True(t, res.IsStream())

	last, err := Collect(res.Partials())
	require.NoError(t, err)
	assert.True(t, last.ForceStop)
	assert.Equal(t, "Looking at data", last.Text)

	final, err := Collect(Final(7).Partials())
	require.NoError(t, err)
	assert.Equal(t, 7, final.Data)
}

func TestCached_SingleExecution(t *testing.T) {
	c := cache.New()
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	slow := NewFunctionTool("getAccounts", "Accounts", map[string]any{"type": "object"}, func(*core.ToolContext, map[string]any) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return []string{"Checking"}, nil
	})
	cached := Cached(slow, c)

	tc, unbind := boundToolContext(t, "fc6")
	defer unbind()

	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = Invoke(tc, cached, map[string]any{})
	}()
	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = Invoke(tc, cached, map[string]any{})
	}()
	require.Eventually(t, func() bool { return c.Stats().Joins == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, results[0].Value(), results[1].Value())
}

func TestCached_RequiresExecutionContext(t *testing.T) {
	cached := Cached(sumTool(), cache.New())
	tc := core.NewToolContext(context.Background(), "fc7", "sum", nil, nil)
	_, err := Invoke(tc, cached, map[string]any{"a": 1.0})
	assert.ErrorIs(t, err, core.ErrContextNotSet)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(sumTool())
	err := r.Register(sumTool())
	assert.ErrorIs(t, err, ErrDuplicateTool)

	require.NoError(t, r.Register(NewFunctionTool("avg", "Average", map[string]any{"type": "object"}, nil)))
	assert.Equal(t, []string{"avg", "sum"}, r.Names())

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "avg", defs[0].Function.Name)
	assert.Equal(t, sumParams, defs[1].Function.Parameters)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrToolNotFound)
}
