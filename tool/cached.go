package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/finmesh/cache"
	"github.com/hupe1980/finmesh/core"
)

// CachedTool memoizes a simple tool in a fingerprint cache. The fingerprint
// covers the tool name, the validated input and the scope of the turn's
// execution context.
type CachedTool struct {
	Tool
	cache *cache.Cache
}

// Cached wraps t, which must return Final results.
func Cached(t Tool, c *cache.Cache) *CachedTool {
	return &CachedTool{Tool: t, cache: c}
}

// Execute serves the call from the cache or runs the wrapped tool once.
func (t *CachedTool) Execute(tc *core.ToolContext, input map[string]any) (Result, error) {
	ec, err := tc.Exec()
	if err != nil {
		return Result{}, err
	}
	scope := ec.Scope()
	fp, err := cache.Fingerprint(t.Name(), input, scope)
	if err != nil {
		return Result{}, err
	}

	v, err := t.cache.GetOrExecute(tc.Context(), fp, scope, func(ctx context.Context) (any, error) {
		res, err := t.Tool.Execute(tc.WithContext(ctx), input)
		if err != nil {
			return nil, err
		}
		if res.IsStream() {
			return nil, fmt.Errorf("%s: streaming results cannot be cached", t.Name())
		}
		return res.Value(), nil
	})
	if err != nil {
		return Result{}, err
	}
	return Final(v), nil
}
