package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint("getAccounts", map[string]any{"type": "asset", "enabled": true}, "org-1/u-1/t-1")
	require.NoError(t, err)
	b, err := Fingerprint("getAccounts", map[string]any{"enabled": true, "type": "asset"}, "org-1/u-1/t-1")
	require.NoError(t, err)
	assert.Equal(t, a, b, "key order does not matter")
	assert.Len(t, a, 64)

	other, err := Fingerprint("getAccounts", map[string]any{"enabled": true, "type": "asset"}, "org-2/u-1/t-1")
	require.NoError(t, err)
	assert.NotEqual(t, a, other, "scope separates tenants")

	tool, err := Fingerprint("getTransactions", map[string]any{"enabled": true, "type": "asset"}, "org-1/u-1/t-1")
	require.NoError(t, err)
	assert.NotEqual(t, a, tool)
}

func TestGetOrExecute_SingleExecutionUnderConcurrency(t *testing.T) {
	c := New()
	ctx := context.Background()

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	exec := func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "accounts", nil
	}

	const callers = 8
	results := make([]any, callers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = c.GetOrExecute(ctx, "fp", "s", exec)
	}()
	<-started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = c.GetOrExecute(ctx, "fp", "s", exec)
		}()
	}
	require.Eventually(t, func() bool { return c.Stats().Joins == callers-1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "accounts", r)
	}

	v, err := c.GetOrExecute(ctx, "fp", "s", exec)
	require.NoError(t, err)
	assert.Equal(t, "accounts", v)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), c.Stats().Hits)
}

func TestGetOrExecute_ErrorIsNotCached(t *testing.T) {
	c := New()
	ctx := context.Background()
	boom := errors.New("db down")

	var calls int
	_, err := c.GetOrExecute(ctx, "fp", "s", func(context.Context) (any, error) {
		calls++
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, err := c.GetOrExecute(ctx, "fp", "s", func(context.Context) (any, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestGetOrExecute_TimeoutEvicts(t *testing.T) {
	c := New(func(o *Options) { o.Timeout = 20 * time.Millisecond })
	ctx := context.Background()

	_, err := c.GetOrExecute(ctx, "fp", "s", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return "late", nil
	})
	assert.ErrorIs(t, err, ErrExecutionTimeout)

	v, err := c.GetOrExecute(ctx, "fp", "s", func(context.Context) (any, error) { return "retry", nil })
	require.NoError(t, err)
	assert.Equal(t, "retry", v)
}

func TestGetOrExecute_PanicBecomesError(t *testing.T) {
	c := New()
	_, err := c.GetOrExecute(context.Background(), "fp", "s", func(context.Context) (any, error) {
		panic("bad tool")
	})
	assert.ErrorIs(t, err, ErrExecutorPanic)
	assert.Equal(t, 0, c.Len())
}

func TestGetOrExecute_TTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(func(o *Options) {
		o.TTL = time.Minute
		o.Clock = func() time.Time { return now }
	})
	ctx := context.Background()

	var calls int
	exec := func(context.Context) (any, error) { calls++; return calls, nil }

	v, _ := c.GetOrExecute(ctx, "fp", "s", exec)
	assert.Equal(t, 1, v)
	now = now.Add(30 * time.Second)
	v, _ = c.GetOrExecute(ctx, "fp", "s", exec)
	assert.Equal(t, 1, v)
	now = now.Add(time.Minute)
	v, _ = c.GetOrExecute(ctx, "fp", "s", exec)
	assert.Equal(t, 2, v, "expired entries are re-executed")
}

func TestGetOrExecute_ScopeMismatchIsCorruption(t *testing.T) {
	c := New()
	ctx := context.Background()
	_, err := c.GetOrExecute(ctx, "fp", "org-1/u/t", func(context.Context) (any, error) { return 1, nil })
	require.NoError(t, err)

	_, err = c.GetOrExecute(ctx, "fp", "org-2/u/t", func(context.Context) (any, error) { return 2, nil })
	assert.ErrorIs(t, err, ErrCacheCorrupted)
	assert.Equal(t, 0, c.Len(), "corrupted entry is dropped")
}

func TestGetOrExecute_LastWaiterCancelsExecution(t *testing.T) {
	c := New()
	const scope = "org/actor/turn-1"

	started := make(chan struct{})
	seen := make(chan error, 1)
	exec := func(ctx context.Context) (any, error) {
		close(started)
		select {
		case <-ctx.Done():
			seen <- ctx.Err()
		case <-time.After(time.Second):
			seen <- nil
		}
		return "late", nil
	}

	turnCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.GetOrExecute(turnCtx, "fp", scope, exec)
		errCh <- err
	}()
	<-started
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	select {
	case err := <-seen:
		assert.ErrorIs(t, err, context.Canceled, "executor observes the cancellation")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("executor was not cancelled")
	}

	c.Purge(scope)
	assert.Never(t, func() bool { return c.Len() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		v, err := c.GetOrExecute(context.Background(), "fp", scope, func(context.Context) (any, error) { return "fresh", nil })
		return err == nil && v == "fresh"
	}, time.Second, 5*time.Millisecond, "the abandoned result is never served")
}

func TestGetOrExecute_RemainingWaiterKeepsFlight(t *testing.T) {
	c := New()
	started := make(chan struct{})
	release := make(chan struct{})
	var cancelled atomic.Bool
	exec := func(ctx context.Context) (any, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			cancelled.Store(true)
			return nil, ctx.Err()
		}
		return "v", nil
	}

	leaving, leave := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.GetOrExecute(leaving, "fp", "s", exec)
		errCh <- err
	}()
	<-started

	done := make(chan any, 1)
	go func() {
		v, _ := c.GetOrExecute(context.Background(), "fp", "s", exec)
		done <- v
	}()
	require.Eventually(t, func() bool { return c.Stats().Joins == 1 }, time.Second, time.Millisecond)

	leave()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	close(release)

	assert.Equal(t, "v", <-done)
	assert.False(t, cancelled.Load())
	assert.Equal(t, 1, c.Len())
}

func TestGetOrExecute_CancelledCallerDoesNotExecute(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	_, err := c.GetOrExecute(ctx, "fp", "s", func(context.Context) (any, error) {
		calls.Add(1)
		return "v", nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestPurge_CancelsInflight(t *testing.T) {
	c := New()
	started := make(chan struct{})
	exec := func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return "late", nil
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := c.GetOrExecute(context.Background(), "fp", "org/u/t1", exec)
		errCh <- err
	}()
	<-started

	c.Purge("org/u/t1")
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrExecutionCancelled)
	case <-time.After(time.Second):
		t.Fatal("purge did not cancel the flight")
	}
	assert.Equal(t, 0, c.Len())
}

func TestPurge(t *testing.T) {
	c := New()
	ctx := context.Background()
	for _, key := range []struct{ fp, scope string }{
		{"a", "org/u/t1"},
		{"b", "org/u/t1"},
		{"c", "org/u/t2"},
	} {
		_, err := c.GetOrExecute(ctx, key.fp, key.scope, func(context.Context) (any, error) { return key.fp, nil })
		require.NoError(t, err)
	}

	assert.Equal(t, 2, c.Purge("org/u/t1"))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, c.Purge("org"))
	assert.Equal(t, 0, c.Len())
}
