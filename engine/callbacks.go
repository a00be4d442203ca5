package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/execlog"
)

// CallbackType identifies the lifecycle point at which a callback runs.
type CallbackType string

const (
	// CallbackOnStateChange runs whenever a request changes its persisted state.
	CallbackOnStateChange CallbackType = "on_state_change"

	// CallbackOnCheckpoint runs when a request opens a checkpoint and waits
	// for a human decision.
	CallbackOnCheckpoint CallbackType = "on_checkpoint"

	// CallbackOnTransition runs for every node status transition.
	CallbackOnTransition CallbackType = "on_transition"

	// CallbackOnComplete runs once a request reaches a terminal state.
	CallbackOnComplete CallbackType = "on_complete"
)

// CallbackContext carries the data relevant to one callback invocation.
// Only the fields matching the CallbackType are set.
type CallbackContext struct {
	RequestID    string
	CallbackType CallbackType
	State        core.RequestState
	Checkpoint   *core.CheckpointRecord
	Transition   *execlog.Entry
	Artifact     *core.Artifact
	Err          error
}

// Callback is a hook executed by the engine. Errors are logged and never
// change the outcome of a request.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback adapts a plain function to Callback.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a FunctionCallback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type returns the callback type.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute runs the function.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager stores callbacks by type. It is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	t := callback.Type()
	cm.callbacks[t] = append(cm.callbacks[t], callback)
}

// ExecuteCallbacks runs the callbacks of one type in registration order and
// stops at the first error.
func (cm *CallbackManager) ExecuteCallbacks(ctx context.Context, callbackType CallbackType, callbackCtx *CallbackContext) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, cb := range callbacks {
		if err := cb.Execute(ctx, callbackCtx); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}
	return nil
}

// LoggingCallback formats each invocation and hands it to a sink function.
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a LoggingCallback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{callbackType: callbackType, logger: logger}
}

// Type returns the callback type.
func (c *LoggingCallback) Type() CallbackType { return c.callbackType }

// Execute writes one line describing the invocation.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	msg := fmt.Sprintf("[%s] request=%s", c.callbackType, callbackCtx.RequestID)
	if callbackCtx.State != "" {
		msg += " state=" + string(callbackCtx.State)
	}
	if cp := callbackCtx.Checkpoint; cp != nil {
		msg += fmt.Sprintf(" checkpoint=%s decision=%s", cp.NodeID, cp.Decision)
	}
	if tr := callbackCtx.Transition; tr != nil {
		msg += fmt.Sprintf(" node=%s %s->%s", tr.NodeID, tr.From, tr.To)
	}
	if callbackCtx.Err != nil {
		msg += " error=" + callbackCtx.Err.Error()
	}
	c.logger(msg)
	return nil
}
