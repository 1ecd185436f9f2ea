package agent

import "github.com/hupe1980/finmesh/core"

// DefaultMaxSteps bounds a turn when no stop condition is configured.
const DefaultMaxSteps = 10

// StopCondition decides after each step whether the loop ends. It receives
// every step of the turn so far, oldest first.
type StopCondition func(steps []core.StepRecord) bool

// StepCountIs stops once n steps have run.
func StepCountIs(n int) StopCondition {
	return func(steps []core.StepRecord) bool {
		return len(steps) >= n
	}
}

// ForceStopRequested stops when the last result, in call order, of the
// latest step carries ForceStop.
func ForceStopRequested() StopCondition {
	return func(steps []core.StepRecord) bool {
		if len(steps) == 0 {
			return false
		}
		last, ok := steps[len(steps)-1].LastResult()
		return ok && last.ForceStop
	}
}

// AnyOf stops when any of conds does.
func AnyOf(conds ...StopCondition) StopCondition {
	return func(steps []core.StepRecord) bool {
		for _, c := range conds {
			if c != nil && c(steps) {
				return true
			}
		}
		return false
	}
}

// DefaultStopCondition is AnyOf(StepCountIs(maxSteps), ForceStopRequested()).
func DefaultStopCondition(maxSteps int) StopCondition {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return AnyOf(StepCountIs(maxSteps), ForceStopRequested())
}
