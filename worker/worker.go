package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/evaluation"
	"github.com/hupe1980/agentplan/evidence"
	"github.com/hupe1980/agentplan/graph"
	"github.com/hupe1980/agentplan/grounding"
	"github.com/hupe1980/agentplan/logging"
	"github.com/hupe1980/agentplan/tool"
)

// Input names shared between the planner and the workers.
const (
	InQuery        = "query"
	InSource       = "source"
	InFilters      = "filters"
	InTopK         = "top_k"
	InFields       = "fields"
	InText         = "text"
	InOp           = "op"
	InOperands     = "operands"
	InMetric       = "metric"
	InRecord       = "record"
	InTitle        = "title"
	InInstructions = "instructions"
	InRubric       = "rubric"
)

// Worker executes one node.
type Worker interface {
	Execute(ctx context.Context, node graph.NodeSpec, view *graph.View) (any, error)
}

// Func adapts a function to Worker.
type Func func(ctx context.Context, node graph.NodeSpec, view *graph.View) (any, error)

// Execute implements Worker.
func (f Func) Execute(ctx context.Context, node graph.NodeSpec, view *graph.View) (any, error) {
	return f(ctx, node, view)
}

// Deps are the collaborators shared by the builtin workers of one request.
type Deps struct {
	Tools     tool.Invoker
	Evidence  evidence.Store
	Grounding *grounding.Tracker
	Evaluator *evaluation.Evaluator
	// ToolTimeout bounds each tool call; zero uses the registry default.
	ToolTimeout time.Duration
	// Temperature is passed to llm.complete by generating workers.
	Temperature float64
	Logger      logging.Logger
}

// Registry maps task kinds to workers.
type Registry struct {
	workers map[core.TaskKind]Worker
	deps    Deps
}

// NewRegistry creates a registry with the builtin worker for every kind.
func NewRegistry(deps Deps) *Registry {
	deps.Logger = logging.OrNoOp(deps.Logger)
	if deps.Grounding == nil {
		deps.Grounding = grounding.New(func(o *grounding.Options) { o.Logger = deps.Logger })
	}
	if deps.Evaluator == nil && deps.Tools != nil {
		deps.Evaluator = evaluation.New(deps.Tools, func(o *evaluation.Options) { o.Logger = deps.Logger })
	}
	r := &Registry{workers: make(map[core.TaskKind]Worker), deps: deps}
	r.workers[core.KindRetrieve] = &Retriever{deps: deps}
	r.workers[core.KindExtract] = &Extractor{deps: deps}
	r.workers[core.KindCalculate] = &Calculator{deps: deps}
	r.workers[core.KindWrite] = &Writer{deps: deps}
	r.workers[core.KindCritique] = &Critic{deps: deps}
	r.workers[core.KindEvaluate] = &Evaluate{deps: deps}
	return r
}

// Register replaces the worker for kind.
func (r *Registry) Register(kind core.TaskKind, w Worker) {
	r.workers[kind] = w
}

// Get returns the worker for kind.
func (r *Registry) Get(kind core.TaskKind) (Worker, bool) {
	w, ok := r.workers[kind]
	return w, ok
}

// Execute dispatches node to the worker registered for its kind.
func (r *Registry) Execute(ctx context.Context, node graph.NodeSpec, view *graph.View) (any, error) {
	w, ok := r.Get(node.Kind)
	if !ok {
		e := core.NewError(core.PlanningError, "worker", "no worker for kind %q", node.Kind)
		e.Permanent = true
		return nil, e.WithNode(node.ID)
	}
	return w.Execute(ctx, node, view)
}

// ApplyEdit turns a checkpoint's edited payload into the node result that
// replaces original. Edited sections are re-grounded.
func (r *Registry) ApplyEdit(ctx context.Context, node graph.NodeSpec, original, payload any) (any, error) {
	switch orig := original.(type) {
	case core.Record:
		return editRecord(orig, payload)
	case core.Section:
		text, ok := payload.(string)
		if !ok {
			return nil, fmt.Errorf("edited section must be text, got %T", payload)
		}
		return r.deps.Grounding.Section(ctx, orig.Title, text, r.deps.Evidence)
	}
	return payload, nil
}

func editRecord(orig core.Record, payload any) (any, error) {
	rec := core.Record{Fields: make(map[string]*string, len(orig.Fields)), EvidenceIDs: map[string]string{}}
	for k, v := range orig.Fields {
		rec.Fields[k] = v
	}
	for k, v := range orig.EvidenceIDs {
		rec.EvidenceIDs[k] = v
	}

	set := func(k string, v *string) {
		old, had := rec.Fields[k]
		if !had || old == nil || v == nil || *old != *v {
			delete(rec.EvidenceIDs, k)
		}
		rec.Fields[k] = v
	}
	switch p := payload.(type) {
	case core.Record:
		return p, nil
	case map[string]string:
		for k, v := range p {
			v := v
			set(k, &v)
		}
	case map[string]any:
		for k, v := range p {
			if v == nil {
				set(k, nil)
				continue
			}
			s := fmt.Sprint(v)
			set(k, &s)
		}
	default:
		return nil, fmt.Errorf("edited record must be a field map, got %T", payload)
	}
	return rec, nil
}

func (d Deps) complete(ctx context.Context, system, prompt string) (string, error) {
	out, err := d.Tools.Invoke(ctx, tool.CompletionToolName, map[string]any{
		"system":      system,
		"prompt":      prompt,
		"temperature": d.Temperature,
	}, d.ToolTimeout)
	if err != nil {
		return "", err
	}
	return tool.CompletionText(out)
}

func validationError(op, nodeID, format string, args ...any) error {
	return core.NewError(core.ValidationFailure, op, format, args...).WithNode(nodeID)
}

// evidenceOf collects the evidence visible through view: retrieval hits,
// extracted values and calculation results, ordered by evidence id.
func evidenceOf(ctx context.Context, view *graph.View, store evidence.Store) []core.EvidenceItem {
	seen := map[string]bool{}
	var items []core.EvidenceItem
	add := func(item core.EvidenceItem) {
		if item.ID == "" || seen[item.ID] {
			return
		}
		seen[item.ID] = true
		items = append(items, item)
	}
	lookup := func(id string) {
		if seen[id] {
			return
		}
		if item, err := store.Get(ctx, id); err == nil {
			add(item)
		}
	}

	for _, out := range view.Outputs() {
		if out.Missing != nil {
			continue
		}
		switch r := out.Result.(type) {
		case []core.ScoredEvidence:
			for _, se := range r {
				add(se.Item)
			}
		case core.Record:
			keys := make([]string, 0, len(r.EvidenceIDs))
			for k := range r.EvidenceIDs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				lookup(r.EvidenceIDs[k])
			}
		case core.CalcResult:
			lookup(r.EvidenceID)
		}
	}
	evidence.SortByID(items)
	return items
}

// sectionsOf returns the Writer outputs visible through view.
func sectionsOf(view *graph.View) []core.Section {
	var out []core.Section
	for _, o := range view.Outputs() {
		if s, ok := o.Result.(core.Section); ok && o.Missing == nil {
			out = append(out, s)
		}
	}
	return out
}

func formatEvidence(items []core.EvidenceItem) string {
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "[%s] (%s) %s\n", it.ID, it.SourceRef, strings.TrimSpace(it.Content))
	}
	return b.String()
}
