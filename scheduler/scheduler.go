package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentplan/checkpoint"
	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/execlog"
	"github.com/hupe1980/agentplan/graph"
	"github.com/hupe1980/agentplan/logging"
	"github.com/hupe1980/agentplan/model"
)

// Executor runs nodes; worker.Registry implements it.
type Executor interface {
	Execute(ctx context.Context, node graph.NodeSpec, view *graph.View) (any, error)
	ApplyEdit(ctx context.Context, node graph.NodeSpec, original, payload any) (any, error)
}

// Options configures a Scheduler.
type Options struct {
	// RequestID scopes checkpoints and artifact.
	RequestID string
	// Concurrency bounds in-flight workers. Zero means DefaultConcurrency.
	Concurrency int
	// MaxAttempts bounds attempts per node, the first one included.
	MaxAttempts int
	// ValidationRetries is the number of retries after a ValidationFailure.
	ValidationRetries int
	// BaseBackoff is the delay after the first failed attempt; it doubles
	// with every further attempt.
	BaseBackoff time.Duration
	// MaxBackoff caps every retry delay.
	MaxBackoff time.Duration
	// RateLimitMultiplier scales the delay after ToolRateLimited failures.
	RateLimitMultiplier float64
	// AttemptTimeout bounds a single worker attempt.
	AttemptTimeout time.Duration
	// Checkpoints resolves nodes with RequiresCheckpoint. Without a manager
	// such nodes complete directly.
	Checkpoints *checkpoint.Manager
	// OnTransition observes every logged transition.
	OnTransition func(e execlog.Entry)
	Logger       logging.Logger
}

// DefaultConcurrency is used when Options.Concurrency is zero.
const DefaultConcurrency = 4

// DefaultOptions holds the retry policy defaults.
var DefaultOptions = Options{
	Concurrency:         DefaultConcurrency,
	MaxAttempts:         3,
	ValidationRetries:   1,
	BaseBackoff:         200 * time.Millisecond,
	MaxBackoff:          10 * time.Second,
	RateLimitMultiplier: 4,
	AttemptTimeout:      60 * time.Second,
}

// Scheduler drives one Task Graph to completion.
type Scheduler struct {
	exec   Executor
	opts   Options
	logger logging.Logger
}

// New creates a Scheduler.
func New(exec Executor, optFns ...func(o *Options)) *Scheduler {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.RateLimitMultiplier < 1 {
		opts.RateLimitMultiplier = 1
	}
	return &Scheduler{exec: exec, opts: opts, logger: logging.OrNoOp(opts.Logger)}
}

// Backoff returns the delay before retrying after the given failed attempt.
func (s *Scheduler) Backoff(attempt int, err error) time.Duration {
	return s.BackoffPolicy().Delay(attempt, err)
}

// BackoffPolicy returns the retry delays configured for this scheduler.
func (s *Scheduler) BackoffPolicy() model.Backoff {
	return model.Backoff{Base: s.opts.BaseBackoff, Max: s.opts.MaxBackoff, RateLimitMultiplier: s.opts.RateLimitMultiplier}
}

type eventKind int

const (
	evResult eventKind = iota
	evCheckpoint
	evRetry
)

type event struct {
	kind    eventKind
	nodeID  string
	attempt int
	result  any
	err     error
	rec     core.CheckpointRecord
}

// run is the state of one Run call. It is only touched by the actor goroutine.
type run struct {
	s         *Scheduler
	g         *graph.Graph
	log       *execlog.Log
	events    chan event
	eg        errgroup.Group
	runCtx    context.Context
	cancelRun context.CancelFunc
	workCtx   context.Context

	inflight  int
	awaiting  int
	backoffs  int
	waiting   map[string]bool
	valFails  map[string]int
	stopping  bool
	cancelled bool
	fatal     error
	records   []core.CheckpointRecord
	warnings  []string
}

// Run executes g and assembles the draft artifact from the completed Write,
// Critique and Evaluate nodes. On a fatal node failure the first fatal error
// is returned together with the partial artifact and the full log. On
// cancellation every non-terminal node is Skipped and core.ErrCancelled is
// returned.
func (s *Scheduler) Run(ctx context.Context, g *graph.Graph) (*core.Artifact, *execlog.Log, error) {
	r := &run{
		s:        s,
		g:        g,
		log:      execlog.New(),
		events:   make(chan event, g.Len()+1),
		workCtx:  context.WithoutCancel(ctx),
		waiting:  make(map[string]bool),
		valFails: make(map[string]int),
	}
	r.runCtx, r.cancelRun = context.WithCancel(ctx)
	defer r.cancelRun()

	if err := g.Validate(); err != nil {
		e := core.WrapError(core.PlanningError, "scheduler", err)
		e.Permanent = true
		return nil, r.log, e
	}

	s.logger.Info("scheduler.run.start", "request_id", s.opts.RequestID, "nodes", g.Len(), "concurrency", s.opts.Concurrency)
	done := ctx.Done()
	for {
		if !r.stopping && ctx.Err() != nil {
			r.cancel()
		}
		r.promote()
		if !r.stopping {
			r.dispatch()
		}
		if r.outstanding() == 0 {
			break
		}
		select {
		case ev := <-r.events:
			r.handle(ev)
		case <-done:
			done = nil
			if !r.stopping {
				r.cancel()
			}
		}
	}
	_ = r.eg.Wait()
	r.skipRemaining(nil)

	art := r.assemble()
	s.logger.Info("scheduler.run.done", "request_id", s.opts.RequestID, "entries", r.log.Len(), "cancelled", r.cancelled, "failed", r.fatal != nil)

	switch {
	case r.fatal != nil:
		return art, r.log, r.fatal
	case r.cancelled:
		return art, r.log, core.WrapError(core.Cancelled, "scheduler", context.Cause(ctx))
	}
	return art, r.log, nil
}

func (r *run) outstanding() int { return r.inflight + r.awaiting + r.backoffs }

func (r *run) transition(n *graph.Node, to core.TaskStatus, err error) {
	from, terr := r.g.Transition(n.ID, to)
	if terr != nil {
		r.s.logger.Error("scheduler.transition.invalid", "node_id", n.ID, "error", terr.Error())
		return
	}
	e := r.log.Append(n.ID, from, to, n.Attempts, err)
	logging.LogTransition(r.s.logger, r.s.opts.RequestID, n.ID, string(from), string(to), n.Attempts, err)
	if r.s.opts.OnTransition != nil {
		r.s.opts.OnTransition(e)
	}
}

// promote moves Pending nodes to Ready or Skipped until nothing changes.
func (r *run) promote() {
	for changed := true; changed; {
		changed = false
		for _, n := range r.g.Nodes() {
			if n.Status != core.StatusPending || r.waiting[n.ID] {
				continue
			}
			switch {
			case r.g.Blocked(n.ID):
				r.transition(n, core.StatusSkipped, nil)
				r.warnings = append(r.warnings, fmt.Sprintf("node %s skipped: a required dependency did not complete", n.ID))
				changed = true
			case !r.stopping && r.g.Runnable(n.ID):
				r.transition(n, core.StatusReady, nil)
				changed = true
			}
		}
	}
}

// dispatch starts Ready nodes by priority, declaration order, then id.
func (r *run) dispatch() {
	var ready []*graph.Node
	for _, n := range r.g.Nodes() {
		if n.Status == core.StatusReady {
			ready = append(ready, n)
		}
	}
	SortReady(ready)

	for _, n := range ready {
		if r.inflight >= r.s.opts.Concurrency {
			return
		}
		n.Attempts++
		r.transition(n, core.StatusRunning, nil)
		r.inflight++
		r.s.logger.Debug("scheduler.node.dispatch", "request_id", r.s.opts.RequestID, "node_id", n.ID, "attempt", n.Attempts)

		spec, view, attempt := n.Spec(), r.g.NewView(n), n.Attempts
		r.eg.Go(func() error {
			res, err := r.execute(spec, view)
			r.events <- event{kind: evResult, nodeID: spec.ID, attempt: attempt, result: res, err: err}
			return nil
		})
	}
}

func (r *run) execute(spec graph.NodeSpec, view *graph.View) (res any, err error) {
	ctx, cancel := r.workCtx, context.CancelFunc(func() {})
	if r.s.opts.AttemptTimeout > 0 {
		ctx, cancel = context.WithTimeout(r.workCtx, r.s.opts.AttemptTimeout)
	}
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, core.NewError(core.ToolExecutionError, "worker", "panic: %v", rec).WithNode(spec.ID)
		}
	}()

	return r.s.exec.Execute(ctx, spec, view)
}

func (r *run) handle(ev event) {
	switch ev.kind {
	case evResult:
		r.inflight--
		r.onResult(ev)
	case evCheckpoint:
		r.awaiting--
		r.onCheckpoint(ev)
	case evRetry:
		r.backoffs--
		delete(r.waiting, ev.nodeID)
	}
}

func (r *run) onResult(ev event) {
	n, _ := r.g.Node(ev.nodeID)
	if n.Status != core.StatusRunning || n.Attempts != ev.attempt {
		r.s.logger.Debug("scheduler.result.discarded", "request_id", r.s.opts.RequestID, "node_id", n.ID, "attempt", ev.attempt)
		return
	}

	if ev.err == nil {
		n.Result, n.Err = ev.result, nil
		if n.RequiresCheckpoint && r.s.opts.Checkpoints != nil {
			r.transition(n, core.StatusAwaitingApproval, nil)
			r.await(n)
			return
		}
		r.transition(n, core.StatusCompleted, nil)
		return
	}

	n.Err = ev.err
	kind, retryable := core.KindOf(ev.err)

	if kind == core.ValidationFailure && retryable {
		r.valFails[n.ID]++
		if r.valFails[n.ID] > r.s.opts.ValidationRetries || n.Attempts >= r.s.opts.MaxAttempts {
			r.transition(n, core.StatusSkipped, ev.err)
			r.warnings = append(r.warnings, fmt.Sprintf("node %s skipped: %v", n.ID, ev.err))
			return
		}
		r.retry(n, ev.err)
		return
	}

	if retryable && n.Attempts < r.s.opts.MaxAttempts {
		r.retry(n, ev.err)
		return
	}

	r.transition(n, core.StatusFailed, ev.err)
	if n.Optional {
		r.warnings = append(r.warnings, fmt.Sprintf("optional node %s failed: %v", n.ID, ev.err))
		return
	}
	r.fail(n, ev.err)
}

func (r *run) retry(n *graph.Node, err error) {
	r.transition(n, core.StatusPending, err)
	delay := r.s.Backoff(n.Attempts, err)
	r.waiting[n.ID] = true
	r.backoffs++

	id, ctx := n.ID, r.runCtx
	r.eg.Go(func() error {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
		r.events <- event{kind: evRetry, nodeID: id}
		return nil
	})
}

func (r *run) await(n *graph.Node) {
	r.awaiting++
	cp := r.s.opts.Checkpoints
	id, label, payload, ctx := n.ID, n.CheckpointLabel, n.Result, r.runCtx
	if label == "" {
		label = n.ID
	}
	r.eg.Go(func() error {
		rec, err := cp.Await(ctx, r.s.opts.RequestID, id, label, payload)
		r.events <- event{kind: evCheckpoint, nodeID: id, rec: rec, err: err}
		return nil
	})
}

func (r *run) onCheckpoint(ev event) {
	n, _ := r.g.Node(ev.nodeID)
	if ev.err != nil || n.Status != core.StatusAwaitingApproval {
		return
	}
	r.records = append(r.records, ev.rec)

	switch ev.rec.Decision {
	case core.DecisionApproved:
		r.transition(n, core.StatusCompleted, nil)
	case core.DecisionEdited:
		res, err := r.s.exec.ApplyEdit(r.workCtx, n.Spec(), n.Result, ev.rec.Edited)
		if err != nil {
			r.warnings = append(r.warnings, fmt.Sprintf("edit of %s ignored: %v", n.ID, err))
		} else {
			n.Result = res
		}
		r.transition(n, core.StatusCompleted, nil)
	default:
		rejected := core.NewError(core.CheckpointRejected, "checkpoint", "rejected by %s", ev.rec.DecidedBy).WithNode(n.ID)
		n.Err = rejected
		n.Result = nil
		r.transition(n, core.StatusSkipped, rejected)
		r.warnings = append(r.warnings, fmt.Sprintf("branch %s rejected by %s", n.ID, ev.rec.DecidedBy))
		for _, id := range r.g.Subtree(n.ID) {
			d, _ := r.g.Node(id)
			if !d.Status.IsTerminal() {
				d.Err = rejected
				r.transition(d, core.StatusSkipped, rejected)
			}
		}
	}
}

// fail records the first fatal error and stops the run.
func (r *run) fail(n *graph.Node, err error) {
	if r.fatal == nil {
		var ce *core.Error
		if errors.As(err, &ce) {
			r.fatal = ce.WithNode(n.ID)
		} else {
			r.fatal = fmt.Errorf("node %s: %w", n.ID, err)
		}
	}
	r.s.logger.Error("scheduler.node.fatal", "request_id", r.s.opts.RequestID, "node_id", n.ID, "error", err.Error())
	r.stopping = true
	r.cancelRun()
	r.skipRemaining(r.fatal)
}

func (r *run) cancel() {
	r.cancelled = true
	r.stopping = true
	r.s.logger.Warn("scheduler.run.cancelled", "request_id", r.s.opts.RequestID)
	r.cancelRun()
	r.skipRemaining(core.ErrCancelled)
}

// skipRemaining marks every non-terminal node Skipped. Results of skipped
// in-flight nodes are discarded when they arrive.
func (r *run) skipRemaining(reason error) {
	for _, n := range r.g.Nodes() {
		if !n.Status.IsTerminal() {
			r.transition(n, core.StatusSkipped, reason)
		}
	}
}

func (r *run) assemble() *core.Artifact {
	art := &core.Artifact{
		RequestID:         r.s.opts.RequestID,
		Version:           1,
		Status:            core.ArtifactDraft,
		CheckpointHistory: r.records,
	}
	for _, n := range r.g.Nodes() {
		if n.Status != core.StatusCompleted {
			continue
		}
		switch res := n.Result.(type) {
		case core.Section:
			art.Sections = append(art.Sections, res)
		case []core.Issue:
			art.Critique = append(art.Critique, res...)
		case *core.EvaluationResult:
			_ = art.SetEvaluation(res)
		}
	}
	for _, w := range r.warnings {
		art.Warn(w)
	}
	return art
}

// SortReady orders nodes by Priority descending, Seq ascending, then ID.
func SortReady(nodes []*graph.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.ID < b.ID
	})
}
