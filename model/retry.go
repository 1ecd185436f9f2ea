package model

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/finmesh/logging"
)

// RetryOptions configures WithRetry.
type RetryOptions struct {
	// MaxAttempts including the first call.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
	Logger   logging.Logger
}

// DefaultRetryOptions returns 3 attempts, 200ms base and a 2s cap.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
}

type retryModel struct {
	Model
	opts RetryOptions
}

// WithRetry wraps m with bounded exponential backoff. An attempt is retried
// only if it failed before any chunk reached the caller, so retries never
// duplicate streamed text, and only if the error does not match ErrPermanent. Exhausted retries surface as *ProviderError.
// Context cancellation is never retried.
func WithRetry(m Model, optFns ...func(o *RetryOptions)) Model {
	opts := DefaultRetryOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &retryModel{Model: m, opts: opts}
}

func (r *retryModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		info := r.Model.Info()
		var lastErr error
		attempts := 0
		for attempts < r.opts.MaxAttempts {
			attempts++
			start := time.Now()
			forwarded, err := r.attempt(ctx, req, out)
			logging.LogModelCall(r.opts.Logger, info.Name, attempts, time.Since(start), err)
			if err == nil {
				return
			}
			if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) {
				errCh <- err
				return
			}
			lastErr = err
			if forwarded || errors.Is(err, ErrPermanent) || attempts == r.opts.MaxAttempts {
				break
			}
			if err := sleep(ctx, r.backoff(attempts)); err != nil {
				errCh <- err
				return
			}
		}
		errCh <- &ProviderError{Provider: info.Provider, Model: info.Name, Attempts: attempts, Err: lastErr}
	}()

	return out, errCh
}

// attempt forwards one generation and reports whether any chunk was sent.
func (r *retryModel) attempt(ctx context.Context, req Request, out chan<- Response) (bool, error) {
	respCh, eCh := r.Model.Generate(ctx, req)
	forwarded := false
	var err error
	for respCh != nil || eCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			select {
			case out <- resp:
				forwarded = true
			case <-ctx.Done():
				return forwarded, ctx.Err()
			}
		case e, ok := <-eCh:
			if !ok {
				eCh = nil
				continue
			}
			if e != nil {
				err = e
			}
		case <-ctx.Done():
			return forwarded, ctx.Err()
		}
	}
	return forwarded, err
}

func (r *retryModel) backoff(attempt int) time.Duration {
	d := r.opts.BaseDelay << (attempt - 1)
	if d <= 0 || (r.opts.MaxDelay > 0 && d > r.opts.MaxDelay) {
		d = r.opts.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
