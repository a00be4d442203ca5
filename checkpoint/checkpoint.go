// Package checkpoint implements human-in-the-loop checkpoints. A checkpoint
// opens in AwaitingApproval and is resolved exactly once as Approved, Edited
// or Rejected, either by a caller of Resolve or by the timeout policy.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/logging"
)

// Pseudo node ids for request-level checkpoints.
const (
	PlanNodeID    = "plan"
	SignOffNodeID = "signoff"
)

// TimeoutDecider is recorded as DecidedBy when the timeout policy resolves a checkpoint.
const TimeoutDecider = "system:timeout"

var (
	// ErrCheckpointNotFound is returned when no such checkpoint was ever opened.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrCheckpointResolved is returned when resolving an already decided checkpoint.
	ErrCheckpointResolved = errors.New("checkpoint already resolved")
	// ErrCheckpointOpen is returned when opening a checkpoint that is still pending.
	ErrCheckpointOpen = errors.New("checkpoint already open")
	// ErrInvalidDecision is returned for Pending decisions or edits without a payload.
	ErrInvalidDecision = errors.New("invalid checkpoint decision")
)

// Options configures a Manager.
type Options struct {
	// Timeout bounds how long a checkpoint stays open. Zero waits until the
	// checkpoint is resolved or the awaiting context ends.
	Timeout time.Duration
	// TimeoutDecision is applied when Timeout expires.
	TimeoutDecision core.Decision
	// OnOpen is called (outside the manager lock) whenever a checkpoint opens.
	OnOpen func(rec core.CheckpointRecord)
	Logger logging.Logger
}

// DefaultOptions are used by New before option functions run.
var DefaultOptions = Options{
	TimeoutDecision: core.DecisionRejected,
}

type key struct{ requestID, nodeID string }

type waiter struct {
	rec  core.CheckpointRecord
	done chan core.CheckpointRecord
}

// Manager tracks open checkpoints and their decisions.
type Manager struct {
	opts    Options
	logger  logging.Logger
	now     func() time.Time
	mu      sync.Mutex
	pending map[key]*waiter
	history map[string][]core.CheckpointRecord
}

// New creates a Manager.
func New(optFns ...func(o *Options)) *Manager {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if !opts.TimeoutDecision.Valid() || opts.TimeoutDecision == core.DecisionEdited {
		opts.TimeoutDecision = core.DecisionRejected
	}
	return &Manager{
		opts:    opts,
		logger:  logging.OrNoOp(opts.Logger),
		now:     time.Now,
		pending: make(map[key]*waiter),
		history: make(map[string][]core.CheckpointRecord),
	}
}

// Await opens a checkpoint for nodeID and blocks until it is decided. When ctx
// ends first the checkpoint is withdrawn and ctx's error is returned.
func (m *Manager) Await(ctx context.Context, requestID, nodeID, label string, payload any) (core.CheckpointRecord, error) {
	k := key{requestID, nodeID}
	w := &waiter{
		rec: core.CheckpointRecord{
			RequestID: requestID,
			NodeID:    nodeID,
			Label:     label,
			Payload:   payload,
			Decision:  core.DecisionPending,
			OpenedAt:  m.now(),
		},
		done: make(chan core.CheckpointRecord, 1),
	}

	m.mu.Lock()
	if _, open := m.pending[k]; open {
		m.mu.Unlock()
		return core.CheckpointRecord{}, fmt.Errorf("%w: %s/%s", ErrCheckpointOpen, requestID, nodeID)
	}
	m.pending[k] = w
	m.mu.Unlock()

	m.logger.Info("checkpoint.open", "request_id", requestID, "node_id", nodeID, "label", label)
	if m.opts.OnOpen != nil {
		m.opts.OnOpen(w.rec)
	}

	var timeout <-chan time.Time
	if m.opts.Timeout > 0 {
		timer := time.NewTimer(m.opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case rec := <-w.done:
		return rec, nil
	case <-timeout:
		rec, err := m.decide(k, m.opts.TimeoutDecision, nil, TimeoutDecider)
		if err != nil {
			// Resolved concurrently; the decision is already buffered.
			return <-w.done, nil
		}
		return rec, nil
	case <-ctx.Done():
		m.mu.Lock()
		if cur, ok := m.pending[k]; ok && cur == w {
			delete(m.pending, k)
			m.mu.Unlock()
			return core.CheckpointRecord{}, ctx.Err()
		}
		m.mu.Unlock()
		return <-w.done, nil
	}
}

// Resolve decides an open checkpoint.
func (m *Manager) Resolve(requestID, nodeID string, decision core.Decision, payload any, decidedBy string) (core.CheckpointRecord, error) {
	if !decision.Valid() {
		return core.CheckpointRecord{}, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
	if decision == core.DecisionEdited && payload == nil {
		return core.CheckpointRecord{}, fmt.Errorf("%w: edited decision requires a payload", ErrInvalidDecision)
	}
	return m.decide(key{requestID, nodeID}, decision, payload, decidedBy)
}

func (m *Manager) decide(k key, decision core.Decision, payload any, decidedBy string) (core.CheckpointRecord, error) {
	m.mu.Lock()
	w, ok := m.pending[k]
	if !ok {
		defer m.mu.Unlock()
		for _, rec := range m.history[k.requestID] {
			if rec.NodeID == k.nodeID {
				return core.CheckpointRecord{}, fmt.Errorf("%w: %s/%s", ErrCheckpointResolved, k.requestID, k.nodeID)
			}
		}
		return core.CheckpointRecord{}, fmt.Errorf("%w: %s/%s", ErrCheckpointNotFound, k.requestID, k.nodeID)
	}
	delete(m.pending, k)

	rec := w.rec
	rec.Decision = decision
	rec.Edited = payload
	rec.DecidedBy = decidedBy
	rec.Timestamp = m.now()
	m.history[k.requestID] = append(m.history[k.requestID], rec)
	m.mu.Unlock()

	w.done <- rec
	m.logger.Info("checkpoint.resolved", "request_id", k.requestID, "node_id", k.nodeID, "decision", string(decision), "decided_by", decidedBy)
	return rec, nil
}

// Pending returns the open checkpoints of a request ordered by opening time.
func (m *Manager) Pending(requestID string) []core.CheckpointRecord {
	m.mu.Lock()
	var out []core.CheckpointRecord
	for k, w := range m.pending {
		if k.requestID == requestID {
			out = append(out, w.rec)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out
}

// History returns the decided checkpoints of a request in decision order.
func (m *Manager) History(requestID string) []core.CheckpointRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.CheckpointRecord(nil), m.history[requestID]...)
}

// Forget drops the decision history of a finished request. Open
// checkpoints are left to their awaiting contexts.
func (m *Manager) Forget(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, requestID)
}
