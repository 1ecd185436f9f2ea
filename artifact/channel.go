package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/finmesh/logging"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 64

// Event is one published artifact state.
type Event struct {
	TurnID     string         `json:"turnId"`
	ArtifactID string         `json:"artifactId"`
	Type       string         `json:"type"`
	Stage      Stage          `json:"stage"`
	Payload    map[string]any `json:"payload"`
	Toast      *Toast         `json:"toast,omitempty"`
	Completed  bool           `json:"completed"`
	Version    int            `json:"version"`
}

// Options configures a Channel.
type Options struct {
	// Definitions declares the artifact types. Defaults to DefaultDefinitions.
	Definitions []Definition
	// Store receives terminal snapshots. Defaults to a fresh InMemoryStore.
	Store Store
	// BufferSize is the per-subscriber queue length.
	BufferSize int
	// Strict turns misuse of completed artifacts into errors instead of warnings.
	Strict bool
	Logger logging.Logger
}

// Channel is the artifact fan-out of a single turn.
type Channel struct {
	turnID string
	defs   map[string]Definition
	store  Store
	buffer int
	strict bool
	logger logging.Logger

	mu      sync.RWMutex
	subs    []*subscriber
	active  map[string]*Handle
	latest  map[string]*Handle
	created []*Handle
	closed  bool
}

// NewChannel creates the artifact channel of turnID.
func NewChannel(turnID string, optFns ...func(o *Options)) *Channel {
	opts := Options{
		Definitions: DefaultDefinitions(),
		BufferSize:  DefaultBufferSize,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = NewInMemoryStore()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	defs := make(map[string]Definition, len(opts.Definitions))
	for _, d := range opts.Definitions {
		if len(d.Stages) == 0 {
			d.Stages = []Stage{StageReady}
		}
		defs[d.Type] = d
	}

	return &Channel{
		turnID: turnID,
		defs:   defs,
		store:  opts.Store,
		buffer: opts.BufferSize,
		strict: opts.Strict,
		logger: logging.OrNoOp(opts.Logger),
		active: make(map[string]*Handle),
		latest: make(map[string]*Handle),
	}
}

// TurnID returns the owning turn.
func (c *Channel) TurnID() string { return c.turnID }

// Stream creates a new artifact of type typ with the initial patch and
// publishes it. The initial stage defaults to the type's first stage. If the
// creation event cannot be delivered (ctx done) the handle is still returned
// together with the error.
func (c *Channel) Stream(ctx context.Context, typ string, p Patch) (*Handle, error) {
	def, ok := c.defs[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
	stage := p.Stage
	if stage == "" {
		stage = def.Stages[0]
	}
	if def.stageIndex(stage) < 0 {
		return nil, fmt.Errorf("%w: %s for %s", ErrUnknownStage, stage, typ)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	if _, busy := c.active[typ]; busy {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrArtifactActive, typ)
	}
	id := uuid.NewString()
	h := &Handle{
		c:   c,
		id:  id,
		def: def,
		state: Artifact{
			ID:      id,
			Type:    typ,
			Stage:   stage,
			Payload: def.merge()(nil, p.Sections),
			Toast:   copyToast(p.Toast),
			Version: 1,
		},
	}
	c.active[typ] = h
	c.latest[typ] = h
	c.created = append(c.created, h)
	c.mu.Unlock()

	c.logger.Debug("artifact.stream", "turn_id", c.turnID, "artifact_id", id, "type", typ, "stage", stage)

	h.mu.Lock()
	defer h.mu.Unlock()
	return h, c.publish(ctx, h.eventLocked())
}

// Subscribe returns a channel receiving every event of type typ published
// after the call. It is closed by Close.
func (c *Channel) Subscribe(typ string) <-chan Event {
	s := &subscriber{
		typ:  typ,
		ch:   make(chan Event, c.buffer),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		s.close()
		return s.ch
	}
	c.subs = append(c.subs, s)
	return s.ch
}

// SubscribeAll subscribes to every artifact type.
func (c *Channel) SubscribeAll() <-chan Event { return c.Subscribe("") }

// Snapshot returns the current state of the latest artifact of typ.
func (c *Channel) Snapshot(typ string) (Artifact, bool) {
	c.mu.RLock()
	h, ok := c.latest[typ]
	c.mu.RUnlock()
	if !ok {
		return Artifact{}, false
	}
	return h.Snapshot(), true
}

// Artifacts returns the current state of every artifact in creation order.
func (c *Channel) Artifacts() []Artifact {
	c.mu.RLock()
	handles := slices.Clone(c.created)
	c.mu.RUnlock()
	out := make([]Artifact, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Snapshot())
	}
	return out
}

// Terminal reads the stored terminal snapshot of the latest artifact of typ.
// Repeated reads return equal values.
func (c *Channel) Terminal(typ string) (Artifact, error) {
	c.mu.RLock()
	h, ok := c.latest[typ]
	c.mu.RUnlock()
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, typ)
	}
	return c.TerminalByID(h.ID())
}

// TerminalByID reads a stored terminal snapshot by artifact id.
func (c *Channel) TerminalByID(artifactID string) (Artifact, error) {
	data, err := c.store.Get(c.turnID, artifactID)
	if err != nil {
		return Artifact{}, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return Artifact{}, fmt.Errorf("decode terminal snapshot %s: %w", artifactID, err)
	}
	return a, nil
}

// Close ends the turn: subscriber channels are closed after their queued
// events. Open artifacts keep their last stage. Close is idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	open := make([]*Handle, 0, len(c.active))
	for _, h := range c.active {
		open = append(open, h)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	for _, h := range open {
		a := h.Snapshot()
		c.logger.Debug("artifact.incomplete", "turn_id", c.turnID, "artifact_id", a.ID, "type", a.Type, "stage", a.Stage)
	}
}

func (c *Channel) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Channel) publish(ctx context.Context, ev Event) error {
	c.mu.RLock()
	subs := slices.Clone(c.subs)
	c.mu.RUnlock()

	for _, s := range subs {
		if s.typ != "" && s.typ != ev.Type {
			continue
		}
		if err := s.send(ctx, ev); err != nil {
			c.logger.Warn("artifact.publish.aborted", "turn_id", c.turnID, "artifact_id", ev.ArtifactID, "version", ev.Version, "error", err.Error())
			return err
		}
	}
	return nil
}

func (c *Channel) misuse(op string, a Artifact) error {
	if c.strict {
		return fmt.Errorf("%w: %s on %s %s", ErrArtifactAlreadyComplete, op, a.Type, a.ID)
	}
	c.logger.Warn("artifact.misuse", "op", op, "turn_id", c.turnID, "artifact_id", a.ID, "type", a.Type)
	return nil
}

func (c *Channel) deactivate(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[h.state.Type] == h {
		delete(c.active, h.state.Type)
	}
}

// Handle is the producer side of one artifact.
type Handle struct {
	c   *Channel
	id  string
	def Definition

	mu    sync.Mutex
	state Artifact
}

// ID returns the artifact id.
func (h *Handle) ID() string { return h.id }

// Snapshot returns a copy of the current state.
func (h *Handle) Snapshot() Artifact {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.clone()
}

// Update merges p into the artifact and publishes the new state.
func (h *Handle) Update(ctx context.Context, p Patch) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Completed {
		return h.c.misuse("update", h.state)
	}
	if h.c.isClosed() {
		return ErrChannelClosed
	}
	if p.Stage != "" {
		next := h.def.stageIndex(p.Stage)
		if next < 0 {
			return fmt.Errorf("%w: %s for %s", ErrUnknownStage, p.Stage, h.state.Type)
		}
		if next < h.def.stageIndex(h.state.Stage) {
			return fmt.Errorf("%w: %s -> %s", ErrStageRegression, h.state.Stage, p.Stage)
		}
		h.state.Stage = p.Stage
	}
	if len(p.Sections) > 0 {
		h.state.Payload = h.def.merge()(h.state.Payload, p.Sections)
	}
	if p.Toast != nil {
		h.state.Toast = copyToast(p.Toast)
	}
	h.state.Version++

	return h.c.publish(ctx, h.eventLocked())
}

// Complete marks the artifact completed, stores its terminal snapshot and
// publishes exactly one terminal event.
func (h *Handle) Complete(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Completed {
		return h.c.misuse("complete", h.state)
	}
	if h.c.isClosed() {
		return ErrChannelClosed
	}
	h.state.Completed = true
	if h.state.Toast != nil {
		h.state.Toast.Completed = true
	}
	h.state.Version++
	h.c.deactivate(h)

	data, err := json.Marshal(h.state)
	if err != nil {
		return fmt.Errorf("encode terminal snapshot %s: %w", h.state.ID, err)
	}
	if err := h.c.store.Save(h.c.turnID, h.state.ID, data); err != nil {
		return fmt.Errorf("store terminal snapshot %s: %w", h.state.ID, err)
	}

	h.c.logger.Debug("artifact.complete", "turn_id", h.c.turnID, "artifact_id", h.state.ID, "type", h.state.Type, "stage", h.state.Stage, "version", h.state.Version)
	return h.c.publish(ctx, h.eventLocked())
}

func (h *Handle) eventLocked() Event {
	a := h.state.clone()
	return Event{
		TurnID:     h.c.turnID,
		ArtifactID: a.ID,
		Type:       a.Type,
		Stage:      a.Stage,
		Payload:    a.Payload,
		Toast:      a.Toast,
		Completed:  a.Completed,
		Version:    a.Version,
	}
}

func copyToast(t *Toast) *Toast {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

type subscriber struct {
	typ  string
	ch   chan Event
	done chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// send blocks until the event is queued, the subscriber is closed or ctx ends.
func (s *subscriber) send(ctx context.Context, ev Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- ev:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
