package worker

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/graph"
)

// Evaluate assembles the draft from its dependencies and scores it with the
// evaluator.
type Evaluate struct {
	deps Deps
}

// Execute implements Worker. The result is *core.EvaluationResult.
func (w *Evaluate) Execute(ctx context.Context, node graph.NodeSpec, view *graph.View) (any, error) {
	if w.deps.Evaluator == nil {
		e := core.NewError(core.EvaluationUnscored, "evaluate", "no evaluator configured")
		e.Permanent = true
		return nil, e.WithNode(node.ID)
	}

	draft := &core.Artifact{Version: 1, Status: core.ArtifactDraft, Sections: sectionsOf(view)}
	for _, o := range view.Outputs() {
		if issues, ok := o.Result.([]core.Issue); ok {
			draft.Critique = append(draft.Critique, issues...)
		}
	}

	rubric, err := rubricOf(node)
	if err != nil {
		return nil, validationError("evaluate", node.ID, "%v", err)
	}
	return w.deps.Evaluator.Evaluate(ctx, draft, rubric)
}

func rubricOf(node graph.NodeSpec) (core.Rubric, error) {
	raw, ok := node.Literal(InRubric)
	if !ok || raw == nil {
		return core.DefaultRubric(), nil
	}
	switch r := raw.(type) {
	case core.Rubric:
		return r, nil
	case *core.Rubric:
		return *r, nil
	}
	return core.Rubric{}, fmt.Errorf("rubric has unsupported type %T", raw)
}
