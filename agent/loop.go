package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hupe1980/finmesh/artifact"
	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/logging"
	"github.com/hupe1980/finmesh/model"
	"github.com/hupe1980/finmesh/tool"
)

var tracer = otel.Tracer("finmesh/agent")

// ErrStepBudgetExhausted is returned when the loop would call the model more
// often than Options.MaxModelCalls allows.
var ErrStepBudgetExhausted = errors.New("agent: step budget exhausted")

// State is a phase of the loop.
type State string

// Loop states.
const (
	StateAwaitingModel  State = "awaiting_model"
	StateExecutingTools State = "executing_tools"
	StateEvaluatingStop State = "evaluating_stop"
	StateDone           State = "done"
)

// Stop reasons reported in Outcome.
const (
	StopNoToolCalls   = "no_tool_calls"
	StopConditionMet  = "stop_condition"
	StopForceRequests = "force_stop"
)

// Chunk is a piece of text for the client: a model token delta when Tool is
// empty, otherwise the delta of a staged tool's cumulative text.
type Chunk struct {
	Step   int
	Text   string
	Tool   string
	CallID string
}

// EmitFunc receives chunks as they are produced.
type EmitFunc func(Chunk) error

// Options configures a Loop.
type Options struct {
	// MaxSteps feeds the default stop condition.
	MaxSteps int
	// StopWhen overrides the default stop condition.
	StopWhen StopCondition
	// MaxModelCalls caps model calls per turn (0 => MaxSteps).
	MaxModelCalls int
	// ToolTimeout bounds each tool call.
	ToolTimeout time.Duration
	// MaxParallel bounds concurrent tool calls within a step (0 => unbounded).
	MaxParallel int
	// Stream requests token streaming from the model.
	Stream bool
	Logger logging.Logger
}

// Loop drives a model through tool-calling steps. It is stateless between
// turns and safe for concurrent Run calls.
type Loop struct {
	llm      model.Model
	tools    *tool.Registry
	executor *Executor
	opts     Options
	logger   logging.Logger
}

// NewLoop creates a loop. Defaults: 10 steps, stop on force-stop, 30s tool
// timeout, unbounded parallelism, streaming on.
func NewLoop(llm model.Model, tools *tool.Registry, optFns ...func(o *Options)) *Loop {
	opts := Options{
		MaxSteps:    DefaultMaxSteps,
		ToolTimeout: DefaultToolTimeout,
		Stream:      true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.StopWhen == nil {
		opts.StopWhen = DefaultStopCondition(opts.MaxSteps)
	}
	if opts.MaxModelCalls <= 0 {
		opts.MaxModelCalls = opts.MaxSteps
	}
	if tools == nil {
		tools = tool.NewRegistry()
	}
	logger := logging.OrNoOp(opts.Logger)

	return &Loop{
		llm:   llm,
		tools: tools,
		executor: NewExecutor(tools, ExecutorConfig{
			MaxParallel:    opts.MaxParallel,
			ToolTimeout:    opts.ToolTimeout,
			LogStartEvents: true,
		}, logger),
		opts:   opts,
		logger: logger,
	}
}

// Tools returns the loop's registry.
func (l *Loop) Tools() *tool.Registry { return l.tools }

// LoopInput is one turn's input.
type LoopInput struct {
	TurnID string
	// History is the prior conversation, oldest first, ending with the
	// user's message.
	History      []core.Event
	Instructions Instruction
	// Artifacts is the turn's artifact channel handed to tools.
	Artifacts *artifact.Channel
	Emit      EmitFunc
}

// Outcome is what a finished turn produced.
type Outcome struct {
	Steps []core.StepRecord
	// Events are the new history entries in order: function calls, function
	// responses and the closing assistant message.
	Events []core.Event
	// Text is the model text of the final step.
	Text       string
	StopReason string
}

// Run executes the loop. It returns the outcome so far together with any
// error, including ctx.Err() when the turn was cancelled.
func (l *Loop) Run(ctx context.Context, in LoopInput) (*Outcome, error) {
	out := &Outcome{}
	emit := in.Emit
	if emit == nil {
		emit = func(Chunk) error { return nil }
	}

	instructions, err := in.Instructions.Resolve(ctx)
	if err != nil {
		return out, fmt.Errorf("resolve instructions: %w", err)
	}

	contents := make([]core.Content, 0, len(in.History)+2)
	for _, ev := range in.History {
		if ev.Content != nil {
			contents = append(contents, *ev.Content)
		}
	}

	limiter := core.NewModelLimiter(l.opts.MaxModelCalls)
	state := StateAwaitingModel
	l.logger.Debug("agent.loop.start", "turn_id", in.TurnID, "history", len(contents), "tools", len(l.tools.Names()))

	for index := 1; ; index++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		state = l.transition(in.TurnID, state, StateAwaitingModel)
		if err := limiter.Increment(); err != nil {
			return out, fmt.Errorf("%w: %v", ErrStepBudgetExhausted, err)
		}

		stepStart := time.Now()
		step, ev, err := l.step(ctx, in, index, instructions, contents, emit)
		if err != nil {
			return out, err
		}
		out.Text = step.Text

		if len(step.ToolCalls) == 0 {
			out.Events = append(out.Events, ev)
			out.StopReason = StopNoToolCalls
			logging.LogStep(l.logger, index, 0, true, time.Since(stepStart))
			l.transition(in.TurnID, state, StateDone)
			return out, nil
		}

		state = StateExecutingTools
		calls := core.NewFunctionCallsEvent(in.TurnID, "assistant", step.Text, step.ToolCalls)
		responses := make([]core.FunctionResponse, len(step.ToolResults))
		for i, r := range step.ToolResults {
			responses[i] = functionResponse(r)
		}
		resp := core.NewFunctionResponsesEvent(in.TurnID, "assistant", responses)
		out.Events = append(out.Events, calls, resp)
		out.Steps = append(out.Steps, step)
		contents = append(contents, *calls.Content, *resp.Content)

		for _, r := range step.ToolResults {
			if r.Err != nil && isFatal(r.Err) {
				l.logger.Error("agent.turn.aborted", "turn_id", in.TurnID, "step", index, "tool", r.Name, "error", r.Err.Error())
				return out, fmt.Errorf("tool %s: %w", r.Name, r.Err)
			}
		}

		if err := ctx.Err(); err != nil {
			return out, err
		}
		state = l.transition(in.TurnID, state, StateEvaluatingStop)

		l.logEarlierForceStops(in.TurnID, step)
		stop := l.opts.StopWhen(out.Steps)
		logging.LogStep(l.logger, index, len(step.ToolCalls), stop, time.Since(stepStart))
		if stop {
			out.StopReason = StopConditionMet
			if last, ok := step.LastResult(); ok && last.ForceStop {
				out.StopReason = StopForceRequests
			}
			l.transition(in.TurnID, state, StateDone)
			return out, nil
		}
	}
}

// step runs awaiting_model and executing_tools for one step. For a step
// without tool calls ev is the closing assistant message.
func (l *Loop) step(
	ctx context.Context,
	in LoopInput,
	index int,
	instructions string,
	contents []core.Content,
	emit EmitFunc,
) (step core.StepRecord, ev core.Event, err error) {
	ctx, span := tracer.Start(ctx, "agent.step")
	span.SetAttributes(attribute.Int("agent.step", index), attribute.String("agent.turn_id", in.TurnID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	step.Index = index
	resp, err := l.callModel(ctx, index, instructions, contents, emit)
	if err != nil {
		return step, ev, err
	}
	step.Text = resp.Content.Text()
	step.ToolCalls = resp.FunctionCalls()
	span.SetAttributes(attribute.Int("agent.tool_calls", len(step.ToolCalls)))

	if len(step.ToolCalls) == 0 {
		return step, core.NewMessageEvent(in.TurnID, "assistant", step.Text), nil
	}

	if err := ctx.Err(); err != nil {
		return step, ev, err
	}
	l.transition(in.TurnID, StateAwaitingModel, StateExecutingTools)

	step.ToolResults = l.executor.Execute(ctx, Batch{
		Step:      index,
		Calls:     step.ToolCalls,
		Artifacts: in.Artifacts,
		Emit:      emit,
	})
	return step, ev, nil
}

func (l *Loop) callModel(ctx context.Context, index int, instructions string, contents []core.Content, emit EmitFunc) (model.Response, error) {
	req := model.Request{
		Instructions: instructions,
		Contents:     contents,
		Tools:        l.tools.Definitions(),
		Stream:       l.opts.Stream,
	}

	start := time.Now()
	respCh, errCh := l.llm.Generate(ctx, req)
	var emitErr error
	resp, err := model.Collect(ctx, respCh, errCh, func(r model.Response) {
		if emitErr != nil {
			return
		}
		if text := r.Content.Text(); text != "" {
			emitErr = emit(Chunk{Step: index, Text: text})
		}
	})
	logging.LogModelCall(l.logger, l.llm.Info().Name, 1, time.Since(start), err)
	if err != nil {
		return resp, fmt.Errorf("model call at step %d: %w", index, err)
	}
	if emitErr != nil {
		return resp, fmt.Errorf("emit: %w", emitErr)
	}
	// Non-streaming replies still reach the client.
	if !l.opts.Stream {
		if text := resp.Content.Text(); text != "" {
			if err := emit(Chunk{Step: index, Text: text}); err != nil {
				return resp, fmt.Errorf("emit: %w", err)
			}
		}
	}
	return resp, nil
}

func (l *Loop) transition(turnID string, from, to State) State {
	if from != to {
		l.logger.Debug("agent.state", "turn_id", turnID, "from", string(from), "to", string(to))
	}
	return to
}

// logEarlierForceStops notes force-stop requests that the last result of the
// step overrides.
func (l *Loop) logEarlierForceStops(turnID string, step core.StepRecord) {
	n := len(step.ToolResults)
	for i, r := range step.ToolResults {
		if i < n-1 && r.ForceStop {
			l.logger.Info("agent.force_stop.ignored", "turn_id", turnID, "step", step.Index, "tool", r.Name, "position", i)
		}
	}
}
