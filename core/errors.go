package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures for retry and propagation decisions.
type ErrorKind string

const (
	// PlanningError is fatal and aborts a request before execution.
	PlanningError ErrorKind = "PlanningError"
	// ToolExecutionError is a transient tool failure and is retried.
	ToolExecutionError ErrorKind = "ToolExecutionError"
	// ToolRateLimited is retried with a longer backoff.
	ToolRateLimited ErrorKind = "ToolRateLimited"
	// ValidationFailure means node output failed a schema check; retried once, then Skipped.
	ValidationFailure ErrorKind = "ValidationFailure"
	// UngroundedClaim is non-fatal; the claim is flagged, not discarded.
	UngroundedClaim ErrorKind = "UngroundedClaim"
	// CheckpointRejected terminates the affected branch only.
	CheckpointRejected ErrorKind = "CheckpointRejected"
	// EvaluationUnscored is recorded and never blocks artifact delivery.
	EvaluationUnscored ErrorKind = "EvaluationUnscored"
	// DivisionByZero is a permanent calculator failure.
	DivisionByZero ErrorKind = "DivisionByZero"
	// MissingOperand is a permanent calculator failure.
	MissingOperand ErrorKind = "MissingOperand"
	// Timeout is an expired attempt; it counts as a failed, retryable attempt.
	Timeout ErrorKind = "Timeout"
	// Cancelled marks work abandoned after request cancellation.
	Cancelled ErrorKind = "Cancelled"
)

// retryableKinds lists kinds that are retried by default.
var retryableKinds = map[ErrorKind]bool{
	ToolExecutionError: true,
	ToolRateLimited:    true,
	ValidationFailure:  true,
	Timeout:            true,
}

// Sentinels usable with errors.Is.
var (
	ErrPlanning           = &Error{Kind: PlanningError}
	ErrToolExecution      = &Error{Kind: ToolExecutionError}
	ErrRateLimited        = &Error{Kind: ToolRateLimited}
	ErrValidation         = &Error{Kind: ValidationFailure}
	ErrCheckpointRejected = &Error{Kind: CheckpointRejected}
	ErrDivisionByZero     = &Error{Kind: DivisionByZero}
	ErrMissingOperand     = &Error{Kind: MissingOperand}
	ErrTimeout            = &Error{Kind: Timeout}
	ErrCancelled          = &Error{Kind: Cancelled}
)

// Error is the typed error carried through planner, workers and scheduler.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Op      string    `json:"op,omitempty"`
	NodeID  string    `json:"node_id,omitempty"`
	Message string    `json:"message,omitempty"`
	// Permanent disables retries even for a retryable kind.
	Permanent bool  `json:"permanent,omitempty"`
	Err       error `json:"-"`
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps err with a kind and operation.
func WrapError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	prefix := string(e.Kind)
	if e.Op != "" {
		prefix += " in " + e.Op
	}
	if e.NodeID != "" {
		prefix += " [" + e.NodeID + "]"
	}
	if msg == "" {
		return prefix
	}
	return prefix + ": " + msg
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind. A sentinel carries only a Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.NodeID == "" && t.Kind == e.Kind
}

// ErrorKind implements the classification contract used by KindOf.
func (e *Error) ErrorKind() ErrorKind { return e.Kind }

// Retryable reports whether the scheduler may retry the failed attempt.
func (e *Error) Retryable() bool { return !e.Permanent && retryableKinds[e.Kind] }

// WithNode returns a copy of e tagged with a node id.
func (e *Error) WithNode(nodeID string) *Error {
	cp := *e
	cp.NodeID = nodeID
	return &cp
}

// classified is satisfied by errors from other packages (tool.ToolError,
// model.RateLimitError) that know their own kind.
type classified interface {
	ErrorKind() ErrorKind
	Retryable() bool
}

// KindOf classifies err. Unknown errors are treated as transient tool failures.
func KindOf(err error) (kind ErrorKind, retryable bool) {
	if err == nil {
		return "", false
	}
	var c classified
	if errors.As(err, &c) {
		return c.ErrorKind(), c.Retryable()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout, true
	case errors.Is(err, context.Canceled):
		return Cancelled, false
	}
	return ToolExecutionError, true
}
