// Package finmesh wires a complete personal-finance assistant from a
// config.Config: the finance database, the language model with retries, the
// tool result cache, the finance tools, the agent loop, the turn runner and
// the HTTP endpoint.
//
// Most applications:
//  1. load a config with config.Load
//  2. create an assistant via New (optionally overriding the database, model
//     or stores)
//  3. serve it with ListenAndServe or drive turns with Chat / ChatSync
//
// All defaults are safe for local development; production deployments
// typically supply a durable session store and a structured logger.
package finmesh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/finmesh/agent"
	"github.com/hupe1980/finmesh/artifact"
	"github.com/hupe1980/finmesh/cache"
	"github.com/hupe1980/finmesh/config"
	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/finance"
	"github.com/hupe1980/finmesh/finance/sqlite"
	"github.com/hupe1980/finmesh/fintools"
	"github.com/hupe1980/finmesh/logging"
	"github.com/hupe1980/finmesh/model"
	"github.com/hupe1980/finmesh/model/anthropic"
	"github.com/hupe1980/finmesh/model/openai"
	"github.com/hupe1980/finmesh/runner"
	"github.com/hupe1980/finmesh/server"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Options configures the assistant. Unset dependencies are built from Config.
type Options struct {
	Config config.Config

	// DB replaces the SQLite database at Config.Database.Path.
	DB finance.Store
	// Model replaces the configured provider. It is still wrapped with
	// retries.
	Model model.Model

	SessionStore  core.SessionStore
	ArtifactStore artifact.Store
	// Authenticate resolves HTTP callers (defaults to server.HeaderAuthenticator).
	Authenticate server.Authenticator

	// Logger (built from Config.Log if nil)
	Logger logging.Logger
}

// FinMesh is the assembled assistant.
type FinMesh struct {
	cfg     config.Config
	logger  logging.Logger
	db      finance.Store
	closeDB func() error
	cache   *cache.Cache
	tools   []string
	runner  *runner.Runner
	handler *server.Handler
}

// New validates the configuration and assembles every component.
func New(ctx context.Context, optFns ...func(o *Options)) (*FinMesh, error) {
	opts := Options{Config: config.Default()}
	for _, fn := range optFns {
		fn(&opts)
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.New(&logging.Config{Level: cfg.LogLevel(), Format: cfg.Log.Format, Component: "finmesh"})
	}

	m := &FinMesh{cfg: cfg, logger: logger, db: opts.DB, closeDB: func() error { return nil }}
	if m.db == nil {
		store, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		m.db, m.closeDB = store, store.Close
		if org := cfg.Database.SeedOrganization; org != "" {
			if err := seed(ctx, store, org); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("seed database: %w", err)
			}
		}
	}

	llm := opts.Model
	if llm == nil {
		var err error
		if llm, err = NewModel(cfg.Model); err != nil {
			_ = m.closeDB()
			return nil, err
		}
	}
	llm = model.WithRetry(llm, func(o *model.RetryOptions) {
		o.MaxAttempts = cfg.Retry.MaxAttempts
		o.BaseDelay = cfg.Retry.BaseDelay
		o.MaxDelay = cfg.Retry.MaxDelay
		o.Logger = logger
	})

	m.cache = cache.New(func(o *cache.Options) {
		o.TTL = cfg.Cache.TTL
		o.Timeout = cfg.Cache.Timeout
		o.Debug = cfg.Cache.Debug
		o.Logger = logger
	})

	registry := fintools.NewRegistry(func(o *fintools.Options) {
		o.Model = llm
		o.Cache = m.cache
		o.Logger = logger
	})
	m.tools = registry.Names()

	loop := agent.NewLoop(llm, registry, func(o *agent.Options) {
		o.MaxSteps = cfg.Agent.MaxSteps
		o.ToolTimeout = cfg.Agent.ToolTimeout
		o.MaxParallel = cfg.Agent.MaxParallelTools
		o.Logger = logger
	})

	m.runner = runner.New(loop, m.db, func(o *runner.Options) {
		o.SessionStore = opts.SessionStore
		o.ArtifactStore = opts.ArtifactStore
		o.StrictArtifacts = cfg.IsDevelopment()
		o.ArtifactBufferSize = cfg.Artifacts.BufferSize
		o.Cache = m.cache
		o.TitleModel = llm
		o.MaxHistoryMessages = cfg.Agent.MaxHistoryMessages
		o.MaxConcurrentTurns = cfg.Agent.MaxConcurrentTurns
		o.Logger = logger
	})

	m.handler = server.New(m.runner, func(o *server.Options) {
		if opts.Authenticate != nil {
			o.Authenticate = opts.Authenticate
		}
		o.Logger = logger
	})

	logger.Info("finmesh.ready",
		"environment", cfg.Environment,
		"model.provider", cfg.Model.Provider,
		"model.name", cfg.Model.Name,
		"tools", m.tools,
	)
	return m, nil
}

// NewModel builds the provider adapter selected by cfg.
func NewModel(cfg config.ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			o.Model = cfg.Name
			o.Temperature = cfg.Temperature
			o.BaseURL = cfg.BaseURL
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(cfg.Name)
			o.Temperature = cfg.Temperature
			o.BaseURL = cfg.BaseURL
		}), nil
	case config.ProviderMock:
		return model.NewMockModel(cfg.Name, config.ProviderMock), nil
	default:
		return nil, fmt.Errorf("%w: unknown model provider %q", config.ErrInvalidConfig, cfg.Provider)
	}
}

// seed fills an empty organization with demo data.
func seed(ctx context.Context, store *sqlite.Store, orgID string) error {
	existing, err := store.Accounts(ctx, orgID, finance.AccountFilter{})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	return store.SeedDemo(ctx, orgID, time.Now())
}

// Config returns the effective configuration.
func (m *FinMesh) Config() config.Config { return m.cfg }

// Runner returns the turn runner.
func (m *FinMesh) Runner() *runner.Runner { return m.runner }

// Handler returns the HTTP handler.
func (m *FinMesh) Handler() http.Handler { return m.handler }

// Tools returns the registered tool names.
func (m *FinMesh) Tools() []string { return append([]string(nil), m.tools...) }

// Chat starts a turn and returns its event stream.
func (m *FinMesh) Chat(ctx context.Context, req runner.TurnRequest, user runner.User) (<-chan runner.StreamEvent, error) {
	return m.runner.Run(ctx, req, user)
}

// ChatSync runs a turn to completion and returns all of its events.
func (m *FinMesh) ChatSync(ctx context.Context, req runner.TurnRequest, user runner.User) ([]runner.StreamEvent, error) {
	events, err := m.runner.Run(ctx, req, user)
	if err != nil {
		return nil, err
	}

	var out []runner.StreamEvent
	for {
		select {
		case <-ctx.Done():
			// Context cancelled - return events collected so far
			return out, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return out, nil
			}
			out = append(out, ev)
		}
	}
}

// ListenAndServe serves the HTTP endpoint on Config.Server.Addr until ctx
// ends, then shuts down gracefully.
func (m *FinMesh) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              m.cfg.Server.Addr,
		Handler:           m.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m.logger.Info("finmesh.http.listen", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the database opened by New.
func (m *FinMesh) Close() error { return m.closeDB() }
