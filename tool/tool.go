// Package tool implements the uniform tool invocation contract used by every
// worker: retrieval, calculators and LLM completion calls are all registered
// by name and invoked with schema validated arguments, consistent error
// codes and a per-call timeout.
package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/internal/util"
)

// Tool defines the interface for capabilities reachable from workers.
//
// Tool implementations should:
//   - Provide clear, descriptive names (dotted lowercase recommended, e.g. "llm.complete")
//   - Define proper JSON schema for parameters
//   - Respect context cancellation and deadlines
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with structured arguments.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Limited is implemented by tools that front a rate limited downstream. The
// registry derives the scheduler's default concurrency from these limits.
type Limited interface {
	MaxConcurrency() int
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeNotFound    = "NOT_FOUND"
	CodeValidation  = "VALIDATION_ERROR"
	CodeExecution   = "EXECUTION_ERROR"
	CodeTransient   = "TRANSIENT"
	CodeRateLimited = "RATE_LIMITED"
	CodeTimeout     = "TIMEOUT"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
	Err     error  `json:"-"`                 // Underlying cause
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *ToolError) Unwrap() error { return e.Err }

// ErrorKind maps the tool error onto the core taxonomy. A classified cause
// (for example a calculator's core.DivisionByZero) takes precedence.
func (e *ToolError) ErrorKind() core.ErrorKind {
	if ce := e.cause(); ce != nil {
		return ce.Kind
	}
	switch e.Code {
	case CodeRateLimited:
		return core.ToolRateLimited
	case CodeTimeout:
		return core.Timeout
	case CodeValidation:
		return core.ValidationFailure
	default:
		return core.ToolExecutionError
	}
}

// Retryable reports whether the scheduler may retry the call.
func (e *ToolError) Retryable() bool {
	if ce := e.cause(); ce != nil {
		return ce.Retryable()
	}
	switch e.Code {
	case CodeNotFound, CodeValidation:
		return false
	default:
		return true
	}
}

func (e *ToolError) cause() *core.Error {
	var ce *core.Error
	if errors.As(e.Err, &ce) {
		return ce
	}
	return nil
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
