package tool

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/finmesh/internal/util"
)

var (
	// ErrInvalidToolInput matches every *InputError.
	ErrInvalidToolInput = errors.New("invalid tool input")
	// ErrToolContractViolation matches every *ContractError.
	ErrToolContractViolation = errors.New("tool contract violation")
	// ErrToolNotFound is returned for calls to unregistered tools.
	ErrToolNotFound = errors.New("tool not found")
	// ErrDuplicateTool is returned when a name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")
)

// Error codes carried by ToolError.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeContractViolation = "CONTRACT_VIOLATION"
	CodeExecution         = "EXECUTION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeTimeout           = "TIMEOUT"
)

// ValidationError represents one offending field.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
	Err     error  `json:"-"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// InputError reports arguments that failed schema validation.
type InputError struct {
	Tool   string
	Fields []string
	Err    error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input for %s (fields: %s): %v", e.Tool, strings.Join(e.Fields, ", "), e.Err)
}

// Is matches ErrInvalidToolInput.
func (e *InputError) Is(target error) bool { return target == ErrInvalidToolInput }

// Unwrap returns the validation errors.
func (e *InputError) Unwrap() error { return e.Err }

// ContractError reports an output that violates the declared output schema.
// It is an internal bug; its details must not reach the model.
type ContractError struct {
	Tool string
	Err  error
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("%s returned output violating its schema: %v", e.Tool, e.Err)
}

// Is matches ErrToolContractViolation.
func (e *ContractError) Is(target error) bool { return target == ErrToolContractViolation }

// Unwrap returns the validation errors.
func (e *ContractError) Unwrap() error { return e.Err }

func newInputError(name string, err error) *InputError {
	ie := &InputError{Tool: name, Err: err}
	var verrs util.ValidationErrors
	if errors.As(err, &verrs) {
		ie.Fields = verrs.Fields()
	}
	return ie
}
