package core

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"
	_ "time/tzdata"

	"github.com/hupe1980/finmesh/finance"
)

// ErrContextNotSet is returned when a tool asks for the execution context
// outside of a bound turn, or after the turn released its binding.
var ErrContextNotSet = errors.New("execution context not set")

// ExecutionContext is the per-turn bundle of identity, locale and data access
// every tool reads. It is created once when a turn starts and never mutated.
type ExecutionContext struct {
	TurnID         string
	ChatID         string
	ActorID        string
	OrganizationID string
	FullName       string
	Locale         string
	BaseCurrency   string
	Timezone       string
	Country        string
	City           string
	DB             finance.Store
	Now            time.Time
}

// Validate checks that the fields every tool depends on are present.
func (ec ExecutionContext) Validate() error {
	var missing []string
	if strings.TrimSpace(ec.TurnID) == "" {
		missing = append(missing, "turn id")
	}
	if strings.TrimSpace(ec.OrganizationID) == "" {
		missing = append(missing, "organization id")
	}
	if ec.DB == nil {
		missing = append(missing, "db")
	}
	if len(missing) > 0 {
		return errors.New("invalid execution context: missing " + strings.Join(missing, ", "))
	}
	return nil
}

// Scope is the cache scope of the turn (organization/actor/turn).
func (ec ExecutionContext) Scope() string {
	return ec.OrganizationID + "/" + ec.ActorID + "/" + ec.TurnID
}

// Location resolves Timezone, falling back to UTC.
func (ec ExecutionContext) Location() *time.Location {
	if ec.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(ec.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Currency returns BaseCurrency or "EUR".
func (ec ExecutionContext) Currency() string {
	if ec.BaseCurrency == "" {
		return "EUR"
	}
	return ec.BaseCurrency
}

// Clock returns Now in the user's location, or the current time when Now is zero.
func (ec ExecutionContext) Clock() time.Time {
	now := ec.Now
	if now.IsZero() {
		now = time.Now()
	}
	return now.In(ec.Location())
}

type bindingKey struct{}

// binding is shared by every context derived from the bound one, so a
// release is observed by all of them.
type binding struct {
	ec atomic.Pointer[ExecutionContext]
}

// WithExecutionContext binds ec to the returned context. Calling release
// tears the binding down; later CurrentExecutionContext calls on any derived
// context return ErrContextNotSet.
func WithExecutionContext(ctx context.Context, ec ExecutionContext) (context.Context, func()) {
	b := &binding{}
	b.ec.Store(&ec)
	return context.WithValue(ctx, bindingKey{}, b), func() { b.ec.Store(nil) }
}

// RunWithExecutionContext binds ec, runs fn with the bound context and
// releases the binding when fn returns.
func RunWithExecutionContext(ctx context.Context, ec ExecutionContext, fn func(ctx context.Context) error) error {
	bound, release := WithExecutionContext(ctx, ec)
	defer release()
	return fn(bound)
}

// CurrentExecutionContext returns the execution context bound to ctx.
func CurrentExecutionContext(ctx context.Context) (ExecutionContext, error) {
	if ctx == nil {
		return ExecutionContext{}, ErrContextNotSet
	}
	b, ok := ctx.Value(bindingKey{}).(*binding)
	if !ok || b == nil {
		return ExecutionContext{}, ErrContextNotSet
	}
	ec := b.ec.Load()
	if ec == nil {
		return ExecutionContext{}, ErrContextNotSet
	}
	return *ec, nil
}
