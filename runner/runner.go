package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/finmesh/agent"
	"github.com/hupe1980/finmesh/artifact"
	"github.com/hupe1980/finmesh/cache"
	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/finance"
	"github.com/hupe1980/finmesh/fintools"
	"github.com/hupe1980/finmesh/logging"
	"github.com/hupe1980/finmesh/model"
	"github.com/hupe1980/finmesh/session"
)

var (
	// ErrInvalidRequest is returned for turns missing a chat id or message.
	ErrInvalidRequest = errors.New("invalid turn request")
	// ErrTurnActive is returned when a turn id is already running.
	ErrTurnActive = errors.New("turn already active")
	// ErrTurnNotFound is returned by Cancel for unknown turns.
	ErrTurnNotFound = errors.New("turn not found")
	// ErrTooManyTurns is returned when MaxConcurrentTurns turns are running.
	ErrTooManyTurns = errors.New("too many concurrent turns")
)

// Texts sent to the client when a turn fails.
const (
	ApologyText     = "Sorry, I couldn't reach the assistant service right now. Please try again in a moment."
	GenericFailure  = "Something went wrong while processing your request."
	CancelledNotice = "The request was cancelled."
)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// SessionStore keeps chat history and titles.
	SessionStore core.SessionStore
	// ArtifactStore receives terminal artifact snapshots of every turn.
	ArtifactStore artifact.Store
	// ArtifactDefinitions declares the artifact types (defaults to
	// artifact.DefaultDefinitions).
	ArtifactDefinitions []artifact.Definition
	// StrictArtifacts turns artifact misuse into errors (development mode).
	StrictArtifacts bool
	// ArtifactBufferSize is the per-subscriber artifact queue length.
	ArtifactBufferSize int
	// Cache is purged of a turn's entries when the turn ends.
	Cache *cache.Cache
	// TitleModel generates chat titles. Nil falls back to the message text.
	TitleModel model.Model
	// MaxHistoryMessages bounds the history handed to the loop.
	MaxHistoryMessages int
	// MaxConcurrentTurns limits concurrently running turns (0 = unlimited).
	MaxConcurrentTurns int
	// EventBufferSize sets the output channel buffer.
	EventBufferSize int
	// Clock overrides the turn's notion of now.
	Clock  func() time.Time
	Logger logging.Logger
}

// Runner coordinates chat turns: it binds the execution context, runs the
// agent loop, multiplexes text and artifacts onto one stream and persists
// history. Public methods are safe for concurrent use.
type Runner struct {
	loop *agent.Loop
	db   finance.Store
	opts Options

	slots      chan struct{}
	activeRuns map[string]activeRun
	mu         sync.Mutex
	logger     logging.Logger
}

// New constructs a Runner over loop with db as every turn's data source.
func New(loop *agent.Loop, db finance.Store, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxHistoryMessages: 20,
		MaxConcurrentTurns: 10,
		EventBufferSize:    100,
		ArtifactBufferSize: artifact.DefaultBufferSize,
		Clock:              time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.SessionStore == nil {
		opts.SessionStore = session.NewInMemoryStore()
	}
	if opts.ArtifactStore == nil {
		opts.ArtifactStore = artifact.NewInMemoryStore()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	r := &Runner{
		loop:       loop,
		db:         db,
		opts:       opts,
		activeRuns: make(map[string]activeRun),
		logger:     logging.OrNoOp(opts.Logger),
	}
	if opts.MaxConcurrentTurns > 0 {
		r.slots = make(chan struct{}, opts.MaxConcurrentTurns)
	}
	return r
}

// Sessions returns the chat history store.
func (r *Runner) Sessions() core.SessionStore { return r.opts.SessionStore }

// Run starts a turn. The returned channel carries text, artifact and error
// events and always ends with exactly one done event before it is closed.
func (r *Runner) Run(ctx context.Context, req TurnRequest, user User) (<-chan StreamEvent, error) {
	if strings.TrimSpace(req.ChatID) == "" || (strings.TrimSpace(req.Message) == "" && req.Metadata.ToolCall == nil) {
		return nil, fmt.Errorf("%w: chat id and message are required", ErrInvalidRequest)
	}
	if req.TurnID == "" {
		req.TurnID = core.NewID()
	}

	ec := core.ExecutionContext{
		TurnID:         req.TurnID,
		ChatID:         req.ChatID,
		ActorID:        user.ID,
		OrganizationID: user.OrganizationID,
		FullName:       user.FullName,
		Locale:         user.Locale,
		BaseCurrency:   user.BaseCurrency,
		Timezone:       user.Timezone,
		Country:        user.Country,
		City:           user.City,
		DB:             r.db,
		Now:            r.opts.Clock(),
	}
	if err := ec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	sess, err := r.opts.SessionStore.Get(req.ChatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if r.slots != nil {
		select {
		case r.slots <- struct{}{}:
		default:
			return nil, ErrTooManyTurns
		}
	}

	turnCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if _, exists := r.activeRuns[req.TurnID]; exists {
		r.mu.Unlock()
		cancel()
		r.releaseSlot()
		return nil, fmt.Errorf("%w: %s", ErrTurnActive, req.TurnID)
	}
	r.activeRuns[req.TurnID] = activeRun{cancel: cancel, orgID: user.OrganizationID, userID: user.ID}
	r.mu.Unlock()

	userEvent := core.NewUserMessageEvent(req.TurnID, req.Message)
	if req.Metadata.ToolCall != nil {
		userEvent.Metadata = map[string]string{"toolCall": req.Metadata.ToolCall.ToolName}
	}
	history := append(sess.GetConversationHistory(r.opts.MaxHistoryMessages-1), userEvent)
	if err := r.opts.SessionStore.AppendEvent(req.ChatID, userEvent); err != nil {
		r.finish(req.TurnID, cancel)
		return nil, fmt.Errorf("failed to append user event: %w", err)
	}

	t := &turn{
		Runner:    r,
		req:       req,
		ec:        ec,
		sess:      sess,
		history:   history,
		clientCtx: ctx,
		out:       make(chan StreamEvent, r.opts.EventBufferSize),
	}
	go func() {
		defer r.finish(req.TurnID, cancel)
		t.run(turnCtx)
	}()
	return t.out, nil
}

// activeRun is a running turn and the caller that started it.
type activeRun struct {
	cancel context.CancelFunc
	orgID  string
	userID string
}

// Cancel cancels a running turn by ID on behalf of user. Only the user who
// started the turn may cancel it; for anyone else the turn does not exist.
// The turn still ends with a done event.
func (r *Runner) Cancel(turnID string, user User) error {
	r.mu.Lock()
	run, exists := r.activeRuns[turnID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}
	if run.orgID != user.OrganizationID || run.userID != user.ID {
		r.logger.Warn("runner.turn.cancel_denied", "turn_id", turnID, "org_id", user.OrganizationID, "user_id", user.ID)
		return fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}
	r.logger.Info("runner.turn.cancel", "turn_id", turnID)
	run.cancel()
	return nil
}

// Active returns the number of running turns.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activeRuns)
}

func (r *Runner) finish(turnID string, cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	delete(r.activeRuns, turnID)
	r.mu.Unlock()
	r.releaseSlot()
}

func (r *Runner) releaseSlot() {
	if r.slots != nil {
		<-r.slots
	}
}

// turn is the state of one running turn.
type turn struct {
	*Runner
	req       TurnRequest
	ec        core.ExecutionContext
	sess      *core.Session
	history   []core.Event
	clientCtx context.Context
	out       chan StreamEvent
}

func (t *turn) run(ctx context.Context) {
	start := time.Now()
	logger := t.logger
	logger.Info("runner.turn.start", "turn_id", t.req.TurnID, "chat_id", t.req.ChatID, "org_id", t.ec.OrganizationID)

	bound, release := core.WithExecutionContext(ctx, t.ec)

	ch := artifact.NewChannel(t.req.TurnID, func(o *artifact.Options) {
		if t.opts.ArtifactDefinitions != nil {
			o.Definitions = t.opts.ArtifactDefinitions
		}
		o.Store = t.opts.ArtifactStore
		o.BufferSize = t.opts.ArtifactBufferSize
		o.Strict = t.opts.StrictArtifacts
		o.Logger = logger
	})

	var wg sync.WaitGroup
	sub := ch.SubscribeAll()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range sub {
			t.send(StreamEvent{Type: EventArtifact, Artifact: &ev})
		}
	}()

	var titleWG sync.WaitGroup
	if t.sess.GetTitle() == "" {
		titleWG.Add(1)
		go func() {
			defer titleWG.Done()
			t.title(bound, ch)
		}()
	}

	outcome, err := t.loop.Run(bound, agent.LoopInput{
		TurnID:       t.req.TurnID,
		History:      t.history,
		Instructions: agent.NewSystemInstruction(agent.PromptOptions{ToolCall: t.req.Metadata.ToolCall, WebSearch: t.req.Metadata.WebSearch}),
		Artifacts:    ch,
		Emit: func(c agent.Chunk) error {
			t.send(StreamEvent{Type: EventText, Text: c.Text, Tool: c.Tool, Step: c.Step})
			return nil
		},
	})

	var stopReason string
	if outcome != nil {
		stopReason = outcome.StopReason
		for _, ev := range outcome.Events {
			if appendErr := t.opts.SessionStore.AppendEvent(t.req.ChatID, ev); appendErr != nil {
				logger.Error("runner.session.append_failed", "turn_id", t.req.TurnID, "error", appendErr.Error())
			}
		}
	}
	if err != nil {
		t.fail(err)
	}

	titleWG.Wait()
	release()
	ch.Close()
	wg.Wait()

	if t.opts.Cache != nil {
		if n := t.opts.Cache.Purge(t.ec.Scope()); n > 0 {
			logger.Debug("runner.cache.purged", "turn_id", t.req.TurnID, "entries", n)
		}
	}

	logger.Info("runner.turn.complete",
		"turn_id", t.req.TurnID,
		"stop_reason", stopReason,
		"error", err != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	t.send(StreamEvent{Type: EventDone, StopReason: stopReason})
	close(t.out)
}

// fail reports a turn error to the client in its terms.
func (t *turn) fail(err error) {
	switch {
	case errors.Is(err, context.Canceled):
		t.logger.Info("runner.turn.cancelled", "turn_id", t.req.TurnID)
		t.send(StreamEvent{Type: EventError, Error: CancelledNotice, Code: CodeCancelled})
	case errors.Is(err, model.ErrUpstreamProvider):
		t.logger.Error("runner.turn.provider_failed", "turn_id", t.req.TurnID, "error", err.Error())
		t.send(StreamEvent{Type: EventText, Text: ApologyText})
		t.send(StreamEvent{Type: EventError, Error: ApologyText, Code: CodeUpstream})
	default:
		t.logger.Error("runner.turn.failed", "turn_id", t.req.TurnID, "error", err.Error())
		t.send(StreamEvent{Type: EventError, Error: GenericFailure, Code: CodeInternal})
	}
}

// title generates and publishes the chat title concurrently with the loop.
func (t *turn) title(ctx context.Context, ch *artifact.Channel) {
	content := t.req.Message
	if tc := t.req.Metadata.ToolCall; tc != nil {
		content = fintools.ToolCallTitle(tc.ToolName)
	} else {
		var parts []string
		for _, ev := range t.history {
			if ev.Content != nil && ev.Content.Role == "user" {
				parts = append(parts, ev.Content.Text())
			}
		}
		content = strings.TrimSpace(strings.Join(parts, " "))
	}

	title, ok := fintools.GenerateTitle(ctx, t.opts.TitleModel, t.logger, t.ec, content)
	if !ok {
		return
	}
	if err := t.opts.SessionStore.SetTitle(t.req.ChatID, title); err != nil {
		t.logger.Warn("runner.title.save_failed", "turn_id", t.req.TurnID, "error", err.Error())
	}
	if err := fintools.PublishTitle(ctx, ch, title); err != nil {
		t.logger.Warn("runner.title.publish_failed", "turn_id", t.req.TurnID, "error", err.Error())
		return
	}
	t.logger.Info("runner.title.generated", "turn_id", t.req.TurnID, "chat_id", t.req.ChatID, "title", title)
}

// send delivers ev unless the client went away.
func (t *turn) send(ev StreamEvent) {
	ev.TurnID = t.req.TurnID
	select {
	case t.out <- ev:
	case <-t.clientCtx.Done():
	}
}
