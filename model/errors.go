package model

import (
	"errors"
	"fmt"
)

// ErrUpstreamProvider matches every *ProviderError.
var ErrUpstreamProvider = errors.New("upstream provider error")

// ProviderError is a model call that failed after all retry attempts.
type ProviderError struct {
	Provider string
	Model    string
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s/%s failed after %d attempt(s): %v", e.Provider, e.Model, e.Attempts, e.Err)
}

// Is matches ErrUpstreamProvider.
func (e *ProviderError) Is(target error) bool { return target == ErrUpstreamProvider }

// Unwrap returns the last attempt's error.
func (e *ProviderError) Unwrap() error { return e.Err }

// ErrPermanent marks provider failures that a retry cannot fix, such as an
// invalid API key or a rejected request.
var ErrPermanent = errors.New("permanent provider error")

// Permanent wraps err so that it matches ErrPermanent.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string        { return e.err.Error() }
func (e *permanentError) Unwrap() error        { return e.err }
func (e *permanentError) Is(target error) bool { return target == ErrPermanent }

// IsPermanentStatus reports whether an HTTP status from a provider API should
// not be retried. Rate limits and timeouts stay retryable.
func IsPermanentStatus(code int) bool {
	switch {
	case code == 408, code == 409, code == 429:
		return false
	case code >= 400 && code < 500:
		return true
	}
	return false
}
