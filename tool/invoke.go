package tool

import (
	"time"

	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/internal/util"
)

// Invoke validates args against the tool's input schema, executes the tool
// and validates a Final value against the declared output schema.
//
// Error semantics:
//
//	input schema failure  -> *InputError (errors.Is ErrInvalidToolInput)
//	output schema failure -> *ContractError (errors.Is ErrToolContractViolation)
//	executor error        -> returned unchanged
func Invoke(tc *core.ToolContext, t Tool, args map[string]any) (Result, error) {
	logger := tc.Logger()
	start := time.Now()
	logger.Debug("tool.call.start", "tool", t.Name(), "fc_id", tc.FunctionCallID())

	if args == nil {
		args = map[string]any{}
	}
	validated, err := util.ValidateValue(args, t.InputSchema())
	if err != nil {
		ie := newInputError(t.Name(), err)
		logger.Warn("tool.call.validation_failed", "tool", t.Name(), "fields", ie.Fields, "error", err.Error())
		return Result{}, ie
	}
	input, _ := validated.(map[string]any)

	res, err := t.Execute(tc, input)
	if err != nil {
		return Result{}, err
	}
	if res.IsStream() {
		logger.Debug("tool.call.streaming", "tool", t.Name(), "fc_id", tc.FunctionCallID())
		return res, nil
	}

	if schema := t.OutputSchema(); schema != nil {
		normalized, err := util.Normalize(res.Value())
		if err != nil {
			return Result{}, &ContractError{Tool: t.Name(), Err: err}
		}
		if _, err := util.ValidateValue(normalized, schema); err != nil {
			ce := &ContractError{Tool: t.Name(), Err: err}
			logger.Error("tool.call.contract_violation", "tool", t.Name(), "fc_id", tc.FunctionCallID(), "error", err.Error())
			return Result{}, ce
		}
	}

	logger.Info("tool.call.success", "tool", t.Name(), "duration_ms", time.Since(start).Milliseconds())
	return res, nil
}
