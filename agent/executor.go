package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/finmesh/artifact"
	"github.com/hupe1980/finmesh/cache"
	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/logging"
	"github.com/hupe1980/finmesh/tool"
)

// DefaultToolTimeout bounds a single tool call.
const DefaultToolTimeout = 30 * time.Second

// internalToolError is what the model sees for failures whose details must
// stay server side.
const internalToolError = "internal tool error"

// ExecutorConfig configures the parallel executor.
type ExecutorConfig struct {
	MaxParallel    int           // 0 or <1 => no explicit limit (len(calls))
	ToolTimeout    time.Duration // per call; 0 => DefaultToolTimeout
	LogStartEvents bool          // log a start line per call
}

// Executor runs the tool calls of one step concurrently and returns one
// result per call in call order. It never panics: a panicking tool yields an
// error result.
type Executor struct {
	tools  *tool.Registry
	cfg    ExecutorConfig
	logger logging.Logger
}

// NewExecutor constructs an executor over tools.
func NewExecutor(tools *tool.Registry, cfg ExecutorConfig, logger logging.Logger) *Executor {
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	return &Executor{tools: tools, cfg: cfg, logger: logging.OrNoOp(logger)}
}

// Batch is the input of one Execute call.
type Batch struct {
	Step      int
	Calls     []core.FunctionCall
	Artifacts *artifact.Channel
	// Emit receives the text deltas of staged tools. Calls are serialized.
	Emit EmitFunc
}

// Execute runs every call of b. Calls not started because ctx ended get the
// context error as their result.
func (e *Executor) Execute(ctx context.Context, b Batch) []core.ToolResult {
	n := len(b.Calls)
	if n == 0 {
		return nil
	}

	emit := serialize(b.Emit)

	// Fast path: single call, execute inline.
	if n == 1 {
		return []core.ToolResult{e.executeOne(ctx, b, b.Calls[0], emit)}
	}

	maxPar := e.cfg.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	results := make([]core.ToolResult, n)
	started := make([]bool, n)
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxPar)

	batchStart := time.Now()
loop:
	for i := range b.Calls {
		if ctx.Err() != nil { // pre-check cancellation
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break loop
		}
		started[i] = true
		wg.Add(1)
		go func(idx int, fc core.FunctionCall) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = e.executeOne(ctx, b, fc, emit)
		}(i, b.Calls[i])
	}

	wg.Wait()

	for i, fc := range b.Calls {
		if !started[i] {
			results[i] = core.ToolResult{CallID: fc.ID, Name: fc.Name, Err: ctx.Err()}
		}
	}

	e.logger.Debug(
		"agent.functions.batch.complete",
		"step", b.Step,
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return results
}

func (e *Executor) executeOne(ctx context.Context, b Batch, fc core.FunctionCall, emit EmitFunc) (res core.ToolResult) {
	res = core.ToolResult{CallID: fc.ID, Name: fc.Name}

	ctx, span := tracer.Start(ctx, "agent.tool", trace.WithAttributes(
		attribute.String("tool.name", fc.Name),
		attribute.String("tool.call_id", fc.ID),
		attribute.Int("agent.step", b.Step),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	defer cancel()

	if e.cfg.LogStartEvents {
		e.logger.Info("agent.function.start", "step", b.Step, "function", fc.Name, "function_call_id", fc.ID)
	}

	start := time.Now()
	func() { // panic safety
		defer func() {
			if r := recover(); r != nil {
				res.Err = panicError(r)
				e.logger.Error("agent.function.panic", "function", fc.Name, "function_call_id", fc.ID, "recover", r)
			}
		}()
		e.run(ctx, b, fc, emit, &res)
	}()

	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	span.SetAttributes(attribute.Bool("tool.force_stop", res.ForceStop))

	logging.LogToolCall(e.logger, fc.Name, time.Since(start), res.Err)
	return res
}

func (e *Executor) run(ctx context.Context, b Batch, fc core.FunctionCall, emit EmitFunc, res *core.ToolResult) {
	impl, err := e.tools.Get(fc.Name)
	if err != nil {
		res.Err = &tool.ToolError{Tool: fc.Name, Message: "unknown tool " + fc.Name, Code: tool.CodeNotFound, Err: err}
		return
	}

	args, err := decodeArguments(fc.Arguments)
	if err != nil {
		res.Err = &tool.ToolError{Tool: fc.Name, Message: "arguments must be a JSON object", Code: tool.CodeValidation, Err: err}
		return
	}

	tc := core.NewToolContext(ctx, fc.ID, fc.Name, b.Artifacts, e.logger)
	out, err := tool.Invoke(tc, impl, args)
	if err != nil {
		res.Err = err
		return
	}
	if !out.IsStream() {
		res.Output = out.Value()
		return
	}

	var last tool.Partial
	for p, err := range out.Partials() {
		if delta := textDelta(last.Text, p.Text); delta != "" {
			if emitErr := emit(Chunk{Step: b.Step, Text: delta, Tool: fc.Name, CallID: fc.ID}); emitErr != nil {
				e.logger.Warn("agent.function.emit.error", "function", fc.Name, "error", emitErr.Error())
			}
		}
		last = p
		if err != nil {
			res.Err = err
			break
		}
	}
	res.Output = last
	res.ForceStop = res.Err == nil && last.ForceStop
}

func decodeArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// textDelta returns what next adds to the cumulative text prev.
func textDelta(prev, next string) string {
	if strings.HasPrefix(next, prev) {
		return next[len(prev):]
	}
	return next
}

func serialize(emit EmitFunc) EmitFunc {
	if emit == nil {
		return func(Chunk) error { return nil }
	}
	var mu sync.Mutex
	return func(c Chunk) error {
		mu.Lock()
		defer mu.Unlock()
		return emit(c)
	}
}

// isFatal reports tool errors that abort the turn.
func isFatal(err error) bool {
	return errors.Is(err, core.ErrContextNotSet) || errors.Is(err, cache.ErrCacheCorrupted)
}

// functionResponse renders a result as the model sees it. Staged outputs are
// reduced to their final text and data.
func functionResponse(r core.ToolResult) core.FunctionResponse {
	fr := core.FunctionResponse{ID: r.CallID, Name: r.Name}
	if r.Err != nil {
		fr.Error = errorMessage(r.Err)
		return fr
	}
	if p, ok := r.Output.(tool.Partial); ok {
		out := map[string]any{"text": p.Text}
		if p.Data != nil {
			out["data"] = p.Data
		}
		fr.Response = out
		return fr
	}
	fr.Response = r.Output
	return fr
}

func errorMessage(err error) string {
	var (
		inputErr *tool.InputError
		toolErr  *tool.ToolError
		panicked *panicErr
	)
	switch {
	case errors.As(err, &inputErr):
		return fmt.Sprintf("invalid arguments for %s (fields: %s): %v", inputErr.Tool, strings.Join(inputErr.Fields, ", "), inputErr.Err)
	case errors.Is(err, tool.ErrToolContractViolation), errors.As(err, &panicked):
		return internalToolError
	case errors.Is(err, context.DeadlineExceeded):
		return "tool timed out"
	case errors.As(err, &toolErr):
		return fmt.Sprintf("[%s] %s", toolErr.Code, toolErr.Message)
	default:
		return err.Error()
	}
}

// panicError converts a recovered panic value to an error.
func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }
