package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentplan/artifact"
	"github.com/hupe1980/agentplan/checkpoint"
	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/evidence"
	"github.com/hupe1980/agentplan/logging"
	"github.com/hupe1980/agentplan/planner"
	"github.com/hupe1980/agentplan/queue"
	"github.com/hupe1980/agentplan/request"
	"github.com/hupe1980/agentplan/scheduler"
	"github.com/hupe1980/agentplan/tool"
)

var (
	// ErrRequestFinished is returned when cancelling a request that already resolved.
	ErrRequestFinished = errors.New("request already finished")
	// ErrNoQueue is returned by Start when the engine has no queue.
	ErrNoQueue = errors.New("engine has no queue")
)

// Config defines tuning parameters of request execution.
type Config struct {
	// Workers is the number of concurrent pipelines Start runs.
	Workers int

	// Concurrency bounds in-flight nodes per request. Zero derives it from
	// the tool registry's concurrency hint.
	Concurrency int

	// MaxAttempts bounds attempts per node (first attempt included).
	MaxAttempts int

	// ValidationRetries is the number of retries after a ValidationFailure.
	ValidationRetries int

	BaseBackoff         time.Duration
	MaxBackoff          time.Duration
	RateLimitMultiplier float64

	// AttemptTimeout bounds one worker attempt; ToolTimeout one tool call.
	AttemptTimeout time.Duration
	ToolTimeout    time.Duration

	// Temperature is used by generating workers.
	Temperature float64

	// PollInterval is used by Wait for requests running in another process.
	PollInterval time.Duration
}

// DefaultConfig mirrors the scheduler defaults.
var DefaultConfig = Config{
	Workers:             2,
	MaxAttempts:         scheduler.DefaultOptions.MaxAttempts,
	ValidationRetries:   scheduler.DefaultOptions.ValidationRetries,
	BaseBackoff:         scheduler.DefaultOptions.BaseBackoff,
	MaxBackoff:          scheduler.DefaultOptions.MaxBackoff,
	RateLimitMultiplier: scheduler.DefaultOptions.RateLimitMultiplier,
	AttemptTimeout:      scheduler.DefaultOptions.AttemptTimeout,
	ToolTimeout:         60 * time.Second,
	Temperature:         0.2,
	PollInterval:        100 * time.Millisecond,
}

// Options configures an Engine. Every store has an in-memory default.
type Options struct {
	Config Config

	// Planner decomposes goals. Defaults to planner.New().
	Planner *planner.Planner

	// Requests persists request records.
	Requests request.Store

	// Artifacts archives final artifacts and execution logs.
	Artifacts artifact.Store

	// Evidence creates the evidence store of each request.
	Evidence evidence.Factory

	// Queue, when set, decouples Submit from execution; see Start.
	Queue queue.Queue

	// CheckpointOptions configure the engine's checkpoint manager.
	CheckpointOptions []func(o *checkpoint.Options)

	Callbacks *CallbackManager
	Logger    logging.Logger
}

// Status is the user-visible state of a request.
type Status struct {
	RequestID string            `json:"request_id"`
	State     core.RequestState `json:"state"`
	// CurrentCheckpoint is the checkpoint the request is blocked on.
	CurrentCheckpoint *core.CheckpointRecord `json:"current_checkpoint,omitempty"`
	Error             string                 `json:"error,omitempty"`
	Warnings          []string               `json:"warnings,omitempty"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Engine runs generation requests end to end.
type Engine struct {
	tools       *tool.Registry
	planner     *planner.Planner
	requests    request.Store
	artifacts   artifact.Store
	evidence    evidence.Factory
	queue       queue.Queue
	checkpoints *checkpoint.Manager
	callbacks   *CallbackManager
	logger      logging.Logger
	config      Config

	// Active requests of this process by id.
	active   map[string]*invocation
	activeMu sync.Mutex
}

// invocation tracks one request executing (or queued) in this process.
type invocation struct {
	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
	started   bool
	done      chan struct{}
}

func (inv *invocation) setCancel(cancel context.CancelFunc) (alreadyCancelled bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.cancel = cancel
	inv.started = true
	return inv.cancelled
}

func (inv *invocation) stop() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.cancelled = true
	if inv.cancel != nil {
		inv.cancel()
	}
}

// New creates an Engine. tools must provide llm.complete, retrieval.search
// and calculator.
func New(tools *tool.Registry, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:    DefaultConfig,
		Requests:  request.NewInMemoryStore(),
		Artifacts: artifact.NewInMemoryStore(),
		Evidence:  evidence.InMemoryFactory(),
		Callbacks: NewCallbackManager(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := logging.OrNoOp(opts.Logger)
	if opts.Planner == nil {
		opts.Planner = planner.New(func(o *planner.Options) { o.Logger = logger })
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	if opts.Config.Workers <= 0 {
		opts.Config.Workers = 1
	}
	if opts.Config.PollInterval <= 0 {
		opts.Config.PollInterval = DefaultConfig.PollInterval
	}

	e := &Engine{
		tools:     tools,
		planner:   opts.Planner,
		requests:  opts.Requests,
		artifacts: opts.Artifacts,
		evidence:  opts.Evidence,
		queue:     opts.Queue,
		callbacks: opts.Callbacks,
		logger:    logger,
		config:    opts.Config,
		active:    make(map[string]*invocation),
	}

	cpOpts := append([]func(o *checkpoint.Options){func(o *checkpoint.Options) { o.Logger = logger }}, opts.CheckpointOptions...)
	cpOpts = append(cpOpts, func(o *checkpoint.Options) {
		user := o.OnOpen
		o.OnOpen = func(rec core.CheckpointRecord) {
			e.onCheckpointOpen(rec)
			if user != nil {
				user(rec)
			}
		}
	})
	e.checkpoints = checkpoint.New(cpOpts...)
	return e
}

// Checkpoints exposes the engine's checkpoint manager.
func (e *Engine) Checkpoints() *checkpoint.Manager { return e.checkpoints }

// Submit persists a new Queued request and schedules it. The returned id is
// used with every other method. Execution does not inherit ctx's
// cancellation; use Cancel.
func (e *Engine) Submit(ctx context.Context, goal core.Goal) (string, error) {
	rec := &request.Record{ID: core.NewID(), Goal: goal, State: core.RequestQueued}
	if err := e.requests.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	e.logger.Info("engine.request.submitted", "request_id", rec.ID, "task_type", goal.TaskType)
	e.fire(ctx, CallbackOnStateChange, &CallbackContext{RequestID: rec.ID, State: core.RequestQueued})

	if e.queue != nil {
		if err := e.queue.Publish(ctx, rec.ID); err != nil {
			rec.State = core.RequestFailed
			rec.Error = err.Error()
			_ = e.requests.Update(context.WithoutCancel(ctx), rec)
			return "", fmt.Errorf("submit: publish %s: %w", rec.ID, err)
		}
		return rec.ID, nil
	}

	// Track before the goroutine starts so Cancel and Wait see the request.
	e.track(rec.ID)
	go func() { _ = e.process(context.WithoutCancel(ctx), rec.ID) }()
	return rec.ID, nil
}

// Start consumes the queue until ctx ends. It returns ErrNoQueue when the
// engine was built without one.
func (e *Engine) Start(ctx context.Context) error {
	if e.queue == nil {
		return ErrNoQueue
	}
	e.logger.Info("engine.start", "workers", e.config.Workers)
	return e.queue.Consume(ctx, e.config.Workers, func(ctx context.Context, requestID string) error {
		return e.process(ctx, requestID)
	})
}

// GetStatus reports the request state. A running request blocked on a
// checkpoint reports AwaitingApproval together with that checkpoint.
func (e *Engine) GetStatus(ctx context.Context, requestID string) (Status, error) {
	rec, err := e.requests.Get(ctx, requestID)
	if err != nil {
		return Status{}, err
	}
	st := Status{RequestID: rec.ID, State: rec.State, Error: rec.Error, UpdatedAt: rec.UpdatedAt}
	if rec.Artifact != nil {
		st.Warnings = append([]string(nil), rec.Artifact.Warnings...)
	}
	if rec.State == core.RequestRunning {
		if pending := e.checkpoints.Pending(requestID); len(pending) > 0 {
			cp := pending[0]
			st.State = core.RequestAwaitingApproval
			st.CurrentCheckpoint = &cp
		}
	}
	return st, nil
}

// ResolveCheckpoint decides an open checkpoint of the request.
func (e *Engine) ResolveCheckpoint(ctx context.Context, requestID, nodeID string, decision core.Decision, payload any, decidedBy string) (core.CheckpointRecord, error) {
	if _, err := e.requests.Get(ctx, requestID); err != nil {
		return core.CheckpointRecord{}, err
	}
	rec, err := e.checkpoints.Resolve(requestID, nodeID, decision, payload, decidedBy)
	if err != nil {
		return rec, err
	}
	e.fire(ctx, CallbackOnCheckpoint, &CallbackContext{RequestID: requestID, Checkpoint: &rec})
	return rec, nil
}

// Cancel stops a queued or running request. Running tool calls finish but
// their results are discarded; every non-terminal node ends Skipped.
func (e *Engine) Cancel(ctx context.Context, requestID string) error {
	rec, err := e.requests.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if rec.State.IsTerminal() {
		return ErrRequestFinished
	}

	e.activeMu.Lock()
	inv, local := e.active[requestID]
	e.activeMu.Unlock()
	if local {
		inv.stop()
		e.logger.Info("engine.request.cancel", "request_id", requestID)
		return nil
	}

	// Queued in another process: mark it so the consumer skips it.
	if rec.State == core.RequestQueued {
		rec.State = core.RequestCancelled
		rec.Error = core.ErrCancelled.Error()
		return e.requests.Update(ctx, rec)
	}
	return fmt.Errorf("cancel %s: request is running in another process", requestID)
}

// Wait blocks until the request resolves or ctx ends and returns its final status.
func (e *Engine) Wait(ctx context.Context, requestID string) (Status, error) {
	e.activeMu.Lock()
	inv, local := e.active[requestID]
	e.activeMu.Unlock()
	if local {
		select {
		case <-inv.done:
		case <-ctx.Done():
			return Status{}, ctx.Err()
		}
	}

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()
	for {
		st, err := e.GetStatus(ctx, requestID)
		if err != nil {
			return st, err
		}
		if st.State.IsTerminal() {
			return st, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Result returns the persisted record with artifact and execution log.
func (e *Engine) Result(ctx context.Context, requestID string) (*request.Record, error) {
	return e.requests.Get(ctx, requestID)
}

func (e *Engine) track(id string) *invocation {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	inv, ok := e.active[id]
	if !ok {
		inv = &invocation{done: make(chan struct{})}
		e.active[id] = inv
	}
	return inv
}

func (e *Engine) untrack(id string, inv *invocation) {
	e.activeMu.Lock()
	if e.active[id] == inv {
		delete(e.active, id)
	}
	e.activeMu.Unlock()
	close(inv.done)
}

func (e *Engine) onCheckpointOpen(rec core.CheckpointRecord) {
	e.logger.Info("engine.checkpoint.open", "request_id", rec.RequestID, "node_id", rec.NodeID, "label", rec.Label)
	e.fire(context.Background(), CallbackOnCheckpoint, &CallbackContext{RequestID: rec.RequestID, State: core.RequestAwaitingApproval, Checkpoint: &rec})
}

func (e *Engine) fire(ctx context.Context, t CallbackType, cbCtx *CallbackContext) {
	if err := e.callbacks.ExecuteCallbacks(ctx, t, cbCtx); err != nil {
		e.logger.Warn("engine.callback.error", "request_id", cbCtx.RequestID, "type", string(t), "error", err.Error())
	}
}
