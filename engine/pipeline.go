package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hupe1980/agentplan/artifact"
	"github.com/hupe1980/agentplan/checkpoint"
	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/evaluation"
	"github.com/hupe1980/agentplan/evidence"
	"github.com/hupe1980/agentplan/execlog"
	"github.com/hupe1980/agentplan/graph"
	"github.com/hupe1980/agentplan/grounding"
	"github.com/hupe1980/agentplan/logging"
	"github.com/hupe1980/agentplan/model"
	"github.com/hupe1980/agentplan/request"
	"github.com/hupe1980/agentplan/scheduler"
	"github.com/hupe1980/agentplan/worker"
)

// pipeline holds the per-request collaborators.
type pipeline struct {
	e         *Engine
	rec       *request.Record
	logger    logging.Logger
	store     evidence.Store
	tracker   *grounding.Tracker
	evaluator *evaluation.Evaluator
	records   []core.CheckpointRecord
}

// process runs one request from Queued to a terminal state. Records that
// left Queued in the meantime (cancelled elsewhere) are ignored.
func (e *Engine) process(ctx context.Context, requestID string) error {
	inv := e.track(requestID)
	defer e.untrack(requestID, inv)

	rec, err := e.requests.Get(ctx, requestID)
	if err != nil {
		e.logger.Error("engine.request.load", "request_id", requestID, "error", err.Error())
		return err
	}
	if rec.State != core.RequestQueued {
		e.logger.Info("engine.request.ignored", "request_id", requestID, "state", string(rec.State))
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if inv.setCancel(cancel) {
		cancel()
	}

	rec.State = core.RequestRunning
	if err := e.requests.Update(ctx, rec); err != nil {
		return fmt.Errorf("process %s: %w", requestID, err)
	}
	e.fire(ctx, CallbackOnStateChange, &CallbackContext{RequestID: requestID, State: core.RequestRunning})

	p := &pipeline{
		e:      e,
		rec:    rec,
		logger: e.logger,
	}
	if l, ok := e.logger.(*logging.AgentPlanLogger); ok {
		p.logger = l.WithRequest(requestID)
	}

	art, log, runErr := p.run(runCtx)
	return p.finish(context.WithoutCancel(ctx), art, log, runErr)
}

func (p *pipeline) run(ctx context.Context) (*core.Artifact, *execlog.Log, error) {
	e, goal := p.e, p.rec.Goal

	store, err := e.evidence(p.rec.ID)
	if err != nil {
		return nil, execlog.New(), fmt.Errorf("evidence store: %w", err)
	}
	p.store = store
	p.tracker = grounding.New(func(o *grounding.Options) { o.Logger = p.logger })
	p.evaluator = evaluation.New(e.tools, func(o *evaluation.Options) {
		o.Logger = p.logger
		if e.config.MaxAttempts > 0 {
			o.MaxAttempts = e.config.MaxAttempts
		}
		o.Backoff = model.Backoff{
			Base:                e.config.BaseBackoff,
			Max:                 e.config.MaxBackoff,
			RateLimitMultiplier: e.config.RateLimitMultiplier,
		}
		if e.config.ToolTimeout > 0 {
			o.Timeout = e.config.ToolTimeout
		}
	})

	g, err := e.planner.Plan(goal)
	if err != nil {
		return nil, execlog.New(), err
	}

	if goal.Checkpoints.PlanApproval {
		g, err = p.approvePlan(ctx, g)
		if err != nil {
			return nil, execlog.New(), err
		}
	}

	workers := worker.NewRegistry(worker.Deps{
		Tools:       e.tools,
		Evidence:    store,
		Grounding:   p.tracker,
		Evaluator:   p.evaluator,
		ToolTimeout: e.config.ToolTimeout,
		Temperature: e.config.Temperature,
		Logger:      p.logger,
	})
	sched := scheduler.New(workers, func(o *scheduler.Options) {
		o.RequestID = p.rec.ID
		o.Concurrency = e.concurrency()
		o.MaxAttempts = e.config.MaxAttempts
		o.ValidationRetries = e.config.ValidationRetries
		o.BaseBackoff = e.config.BaseBackoff
		o.MaxBackoff = e.config.MaxBackoff
		o.RateLimitMultiplier = e.config.RateLimitMultiplier
		o.AttemptTimeout = e.config.AttemptTimeout
		o.Checkpoints = e.checkpoints
		o.OnTransition = func(entry execlog.Entry) {
			e.fire(ctx, CallbackOnTransition, &CallbackContext{RequestID: p.rec.ID, Transition: &entry})
		}
		o.Logger = p.logger
	})

	art, log, err := sched.Run(ctx, g)
	if art != nil {
		art.Title = goal.Title
		art.CheckpointHistory = append(append([]core.CheckpointRecord(nil), p.records...), art.CheckpointHistory...)
	}
	if err != nil {
		return art, log, err
	}

	if art.Evaluation == nil && len(art.Sections) > 0 {
		if err := p.evaluate(ctx, art); err != nil {
			return art, log, err
		}
	}

	if goal.Checkpoints.SignOff {
		if err := p.signOff(ctx, art); err != nil {
			return art, log, err
		}
	}
	return art, log, nil
}

// approvePlan presents the plan summary. An edited goal is planned again.
func (p *pipeline) approvePlan(ctx context.Context, g *graph.Graph) (*graph.Graph, error) {
	rec, err := p.e.checkpoints.Await(ctx, p.rec.ID, checkpoint.PlanNodeID, "plan approval", g.Summary())
	if err != nil {
		return nil, cancelled(ctx, err)
	}
	p.records = append(p.records, rec)

	switch rec.Decision {
	case core.DecisionApproved:
		return g, nil
	case core.DecisionEdited:
		var goal core.Goal
		switch v := rec.Edited.(type) {
		case core.Goal:
			goal = v
		case *core.Goal:
			goal = *v
		default:
			e := core.NewError(core.PlanningError, "plan approval", "edited plan must be a goal, got %T", rec.Edited)
			e.Permanent = true
			return nil, e
		}
		p.rec.Goal = goal
		p.logger.Info("engine.plan.replanned", "request_id", p.rec.ID, "task_type", goal.TaskType)
		return p.e.planner.Plan(goal)
	default:
		e := core.NewError(core.CheckpointRejected, "plan approval", "plan rejected by %s", rec.DecidedBy)
		e.NodeID = checkpoint.PlanNodeID
		return nil, e
	}
}

// signOff presents the evaluated draft. Edited sections are re-grounded,
// the version is bumped and the evaluation runs again.
func (p *pipeline) signOff(ctx context.Context, art *core.Artifact) error {
	rec, err := p.e.checkpoints.Await(ctx, p.rec.ID, checkpoint.SignOffNodeID, "final sign-off", art.Sections)
	if err != nil {
		return cancelled(ctx, err)
	}

	switch rec.Decision {
	case core.DecisionApproved:
		return art.Annotate(rec)
	case core.DecisionEdited:
		edits, err := sectionEdits(rec.Edited)
		if err != nil {
			art.Warn(fmt.Sprintf("sign-off edit ignored: %v", err))
			return art.Annotate(rec)
		}
		sections := make([]core.Section, 0, len(art.Sections))
		for _, s := range art.Sections {
			text, ok := edits[s.Title]
			if !ok {
				sections = append(sections, s)
				continue
			}
			edited, err := p.tracker.Section(ctx, s.Title, text, p.store)
			if err != nil {
				return err
			}
			sections = append(sections, edited)
		}
		if err := art.ReplaceSections(sections); err != nil {
			return err
		}
		if err := art.Annotate(rec); err != nil {
			return err
		}
		return p.evaluate(ctx, art)
	default:
		if err := art.Annotate(rec); err != nil {
			return err
		}
		if err := art.Finalize(core.ArtifactRejected); err != nil {
			return err
		}
		e := core.NewError(core.CheckpointRejected, "sign-off", "artifact rejected by %s", rec.DecidedBy)
		e.NodeID = checkpoint.SignOffNodeID
		return e
	}
}

func (p *pipeline) evaluate(ctx context.Context, art *core.Artifact) error {
	rubric := core.DefaultRubric()
	if p.rec.Goal.Rubric != nil {
		rubric = *p.rec.Goal.Rubric
	}
	res, err := p.evaluator.Evaluate(ctx, art, rubric)
	if err != nil {
		return cancelled(ctx, err)
	}
	return art.SetEvaluation(res)
}

// finish derives the request outcome, persists the record and archives the
// artifact together with the log.
func (p *pipeline) finish(ctx context.Context, art *core.Artifact, log *execlog.Log, runErr error) error {
	e, rec := p.e, p.rec
	defer e.checkpoints.Forget(rec.ID)

	if art != nil {
		for _, c := range art.UngroundedClaims() {
			art.Warn(fmt.Sprintf("%s: %q", core.UngroundedClaim, c.Text))
		}
		if art.Evaluation != nil {
			for _, name := range art.Evaluation.Unscored {
				art.Warn(fmt.Sprintf("%s: criterion %s", core.EvaluationUnscored, name))
			}
		}
	}

	kind, _ := core.KindOf(runErr)
	switch {
	case runErr == nil:
		rec.State = core.RequestCompleted
		if art != nil && len(art.Warnings) > 0 {
			rec.State = core.RequestCompletedWithWarnings
		}
		if art != nil && !art.Finalized() {
			_ = art.Finalize(core.ArtifactApproved)
		}
	case kind == core.Cancelled:
		rec.State = core.RequestCancelled
		rec.Error, rec.ErrorKind = runErr.Error(), kind
	default:
		rec.State = core.RequestFailed
		rec.Error, rec.ErrorKind = runErr.Error(), kind
	}

	if log == nil {
		log = execlog.New()
	}
	rec.Artifact = art
	rec.Log = log.Entries()

	args := []any{"request_id", rec.ID, "state", string(rec.State), "transitions", len(rec.Log)}
	if runErr != nil {
		p.logger.Warn("engine.request.done", append(args, "error", runErr.Error())...)
	} else {
		p.logger.Info("engine.request.done", args...)
	}

	if err := e.requests.Update(ctx, rec); err != nil {
		p.logger.Error("engine.request.persist", "request_id", rec.ID, "error", err.Error())
		return fmt.Errorf("persist %s: %w", rec.ID, err)
	}
	if art != nil {
		if err := artifact.Archive(ctx, e.artifacts, art, log); err != nil {
			p.logger.Warn("engine.artifact.archive", "request_id", rec.ID, "error", err.Error())
		}
	}

	e.fire(ctx, CallbackOnStateChange, &CallbackContext{RequestID: rec.ID, State: rec.State})
	e.fire(ctx, CallbackOnComplete, &CallbackContext{RequestID: rec.ID, State: rec.State, Artifact: art, Err: runErr})
	return nil
}

// concurrency resolves the per-request node limit.
func (e *Engine) concurrency() int {
	if e.config.Concurrency > 0 {
		return e.config.Concurrency
	}
	if e.tools != nil {
		if hint := e.tools.ConcurrencyHint(); hint > 0 {
			return hint
		}
	}
	return scheduler.DefaultConcurrency
}

// cancelled maps context errors to a Cancelled error.
func cancelled(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return core.WrapError(core.Cancelled, "engine", err)
	}
	return err
}

// sectionEdits accepts a title -> text map in either typed or decoded form.
func sectionEdits(payload any) (map[string]string, error) {
	switch v := payload.(type) {
	case map[string]string:
		return v, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s, ok := v[k].(string)
			if !ok {
				return nil, fmt.Errorf("section %q: text must be a string, got %T", k, v[k])
			}
			out[k] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("edited sign-off must map section titles to text, got %T", payload)
}
