package core

import (
	"fmt"
	"sync"
)

// ModelLimiter caps the number of model calls a single turn may make. It
// backs the agent loop's step budget independently of the stop condition.
type ModelLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewModelLimiter returns a limiter allowing max calls (0 = unlimited).
func NewModelLimiter(max int) *ModelLimiter {
	return &ModelLimiter{max: max}
}

// Increment records a call and fails once the budget is exceeded.
func (ml *ModelLimiter) Increment() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	ml.count++
	if ml.max > 0 && ml.count > ml.max {
		return fmt.Errorf("exceeded max model calls: %d", ml.max)
	}
	return nil
}

// Count returns the calls recorded so far.
func (ml *ModelLimiter) Count() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.count
}

// Remaining returns the calls left, or -1 when unlimited.
func (ml *ModelLimiter) Remaining() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.max == 0 {
		return -1
	}
	return ml.max - ml.count
}
