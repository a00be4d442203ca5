// Package planner decomposes a generation goal into a Task Graph. Task types
// are templates registered by name; "memo_section" and "document_qa" are
// builtin. A planning failure is fatal and never yields a partial graph.
package planner

import (
	"sort"
	"strings"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/graph"
	"github.com/hupe1980/agentplan/logging"
)

// Builtin task types.
const (
	TaskMemoSection = "memo_section"
	TaskDocumentQA  = "document_qa"
)

// DefaultSourceName is used when a goal declares no sources.
const DefaultSourceName = "default"

// Template builds the graph for one task type.
type Template func(goal core.Goal, opts Options) (*graph.Graph, error)

// Options configures a Planner.
type Options struct {
	// DefaultTopK applies to sources without their own top_k.
	DefaultTopK int
	Logger      logging.Logger
	templates   map[string]Template
}

// WithTemplate registers a custom task type.
func WithTemplate(name string, fn Template) func(o *Options) {
	return func(o *Options) {
		o.templates[name] = fn
	}
}

// Planner turns goals into validated task graphs.
type Planner struct {
	opts   Options
	logger logging.Logger
}

// New creates a Planner with the builtin templates.
func New(optFns ...func(o *Options)) *Planner {
	opts := Options{
		DefaultTopK: 5,
		Logger:      logging.NoOpLogger{},
		templates: map[string]Template{
			TaskMemoSection: MemoSection,
			TaskDocumentQA:  DocumentQA,
		},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Planner{opts: opts, logger: logging.OrNoOp(opts.Logger)}
}

// TaskTypes returns the registered task types, sorted.
func (p *Planner) TaskTypes() []string {
	out := make([]string, 0, len(p.opts.templates))
	for name := range p.opts.templates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Plan builds and validates the graph for goal.
func (p *Planner) Plan(goal core.Goal) (*graph.Graph, error) {
	tmpl, ok := p.opts.templates[goal.TaskType]
	if !ok {
		return nil, planningError("unknown task type %q (known: %s)", goal.TaskType, strings.Join(p.TaskTypes(), ", "))
	}
	g, err := tmpl(goal, p.opts)
	if err != nil {
		if isPlanning(err) {
			return nil, err
		}
		return nil, planningError("%v", err)
	}
	if err := g.Validate(); err != nil {
		return nil, planningError("%v", err)
	}
	for _, n := range g.Nodes() {
		if len(n.Dependencies) > 0 {
			continue
		}
		for _, in := range n.Inputs {
			if in.IsRef() {
				return nil, planningError("leaf node %q has a reference input %q", n.ID, in.Name)
			}
		}
	}
	p.logger.Info("planner.plan.created", "task_type", goal.TaskType, "nodes", g.Len())
	return g, nil
}

func planningError(format string, args ...any) error {
	e := core.NewError(core.PlanningError, "planner", format, args...)
	e.Permanent = true
	return e
}

func isPlanning(err error) bool {
	kind, _ := core.KindOf(err)
	return kind == core.PlanningError
}
