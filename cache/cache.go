package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/finmesh/internal/util"
	"github.com/hupe1980/finmesh/logging"
)

var (
	// ErrExecutionTimeout is returned to every waiter of a flight whose
	// executor did not finish within the configured timeout.
	ErrExecutionTimeout = errors.New("cache: execution timed out")
	// ErrExecutorPanic wraps a panic raised by an executor.
	ErrExecutorPanic = errors.New("cache: executor panicked")
	// ErrExecutionCancelled is returned when a flight is abandoned by all of
	// its waiters or purged with its scope before it finished.
	ErrExecutionCancelled = errors.New("cache: execution cancelled")
	// ErrCacheCorrupted signals an entry that does not belong to the scope it
	// was looked up with. It aborts the turn.
	ErrCacheCorrupted = errors.New("cache: corrupted entry")
)

const (
	// DefaultTTL bounds how long a completed entry is served.
	DefaultTTL = 5 * time.Minute
	// DefaultTimeout bounds a single execution.
	DefaultTimeout = 30 * time.Second
)

var tracer = otel.Tracer("finmesh/cache")

// Executor produces the value for a fingerprint.
type Executor func(ctx context.Context) (any, error)

// Options configures a Cache.
type Options struct {
	// TTL after which completed entries are evicted on lookup.
	TTL time.Duration
	// Timeout of a single execution.
	Timeout time.Duration
	// Debug logs hit, miss, join and evict events.
	Debug  bool
	Logger logging.Logger
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// Stats are cumulative counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Joins     int64
	Evictions int64
}

type entry struct {
	value     any
	scope     string
	createdAt time.Time
}

// flight is the cancellation handle of one in-flight execution. Its context
// keeps the values of the caller that started it and is cancelled once the
// last waiter leaves or its scope is purged.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	scope   string
	waiters int
}

// Cache is a race-safe fingerprint cache with in-flight de-duplication.
type Cache struct {
	opts  Options
	group singleflight.Group

	mu       sync.Mutex
	entries  map[string]entry
	inflight map[string]*flight
	stats    Stats
}

// New creates a Cache.
func New(optFns ...func(o *Options)) *Cache {
	opts := Options{
		TTL:     DefaultTTL,
		Timeout: DefaultTimeout,
		Clock:   time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Cache{
		opts:     opts,
		entries:  make(map[string]entry),
		inflight: make(map[string]*flight),
	}
}

// Fingerprint derives the cache key of a tool invocation.
func Fingerprint(toolName string, input any, scope string) (string, error) {
	canonical, err := util.CanonicalJSON(input)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", toolName, err)
	}
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write(canonical)
	h.Write([]byte{0})
	h.Write([]byte(scope))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// GetOrExecute returns the cached value of fp or runs exec. Concurrent calls
// for the same fingerprint share one execution, bounded by the cache timeout.
// A caller whose ctx ends stops waiting; when the last waiter has left, the
// execution's context is cancelled and its result is discarded.
func (c *Cache) GetOrExecute(ctx context.Context, fp, scope string, exec Executor) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok, f, err := c.lookup(ctx, fp, scope)
	if err != nil || ok {
		return v, err
	}
	defer c.leave(fp, f)

	ch := c.group.DoChan(fp, func() (any, error) {
		return c.run(f, fp, scope, exec)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookup serves completed entries. On a miss it registers the caller as a
// waiter of the fingerprint's flight, creating the flight if needed.
func (c *Cache) lookup(ctx context.Context, fp, scope string) (any, bool, *flight, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[fp]; ok {
		switch {
		case e.scope != scope:
			delete(c.entries, fp)
			c.stats.Evictions++
			c.debug("corrupted", fp, "scope", scope, "entry_scope", e.scope)
			return nil, false, nil, fmt.Errorf("%w: fingerprint %s", ErrCacheCorrupted, shortFP(fp))
		case c.opts.Clock().Sub(e.createdAt) > c.opts.TTL:
			delete(c.entries, fp)
			c.stats.Evictions++
			c.debug("evict", fp, "reason", "ttl")
		default:
			c.stats.Hits++
			c.debug("hit", fp)
			return e.value, true, nil, nil
		}
	}

	if f, ok := c.inflight[fp]; ok {
		f.waiters++
		c.stats.Joins++
		c.debug("join", fp)
		return nil, false, f, nil
	}
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{ctx: fctx, cancel: cancel, scope: scope, waiters: 1}
	c.inflight[fp] = f
	c.stats.Misses++
	c.debug("miss", fp)
	return nil, false, f, nil
}

// leave unregisters a waiter and cancels the flight when none remain.
func (c *Cache) leave(fp string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.inflight[fp] == f {
		delete(c.inflight, fp)
	}
}

func (c *Cache) run(f *flight, fp, scope string, exec Executor) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[fp]; ok && e.scope == scope {
		// another flight finished between lookup and DoChan
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	runCtx, cancel := context.WithTimeout(f.ctx, c.opts.Timeout)
	defer cancel()

	runCtx, span := tracer.Start(runCtx, "cache.execute", trace.WithAttributes(
		attribute.String("cache.fingerprint", shortFP(fp)),
		attribute.String("cache.scope", scope),
	))
	defer span.End()

	type outcome struct {
		v   any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrExecutorPanic, r)}
			}
		}()
		v, err := exec(runCtx)
		done <- outcome{v: v, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-runCtx.Done():
		if f.ctx.Err() != nil {
			res = outcome{err: ErrExecutionCancelled}
		} else {
			res = outcome{err: fmt.Errorf("%w after %s", ErrExecutionTimeout, c.opts.Timeout)}
		}
	}

	c.mu.Lock()
	if c.inflight[fp] == f {
		delete(c.inflight, fp)
	}
	switch {
	case res.err != nil:
		c.stats.Evictions++
		c.debug("evict", fp, "reason", "error", "error", res.err.Error())
	case f.ctx.Err() != nil:
		// abandoned or purged while the executor was finishing
		res = outcome{err: ErrExecutionCancelled}
		c.debug("discard", fp, "reason", "cancelled")
	default:
		c.entries[fp] = entry{value: res.v, scope: scope, createdAt: c.opts.Clock()}
	}
	c.mu.Unlock()

	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	}
	return res.v, res.err
}

// Purge drops every completed entry whose scope equals scope or lies below
// it (scope + "/...") and cancels the flights of those scopes, whose results
// are then never stored. It returns the number of entries removed.
func (c *Cache) Purge(scope string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for fp, e := range c.entries {
		if inScope(e.scope, scope) {
			delete(c.entries, fp)
			n++
		}
	}
	for fp, f := range c.inflight {
		if inScope(f.scope, scope) {
			f.cancel()
			delete(c.inflight, fp)
		}
	}
	c.stats.Evictions += int64(n)
	if n > 0 && c.opts.Debug {
		c.opts.Logger.Debug("cache.purge", "scope", scope, "entries", n)
	}
	return n
}

// Len returns the number of completed entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache) debug(event, fp string, args ...any) {
	if !c.opts.Debug {
		return
	}
	logging.LogCacheEvent(c.opts.Logger, event, fp, args...)
}

func inScope(s, scope string) bool {
	return s == scope || strings.HasPrefix(s, scope+"/")
}

func shortFP(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
