package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/graph"
	"github.com/hupe1980/agentplan/tool"
)

// Calculator computes a metric from extracted fields with the calculator
// tool and records the formula as derived evidence.
type Calculator struct {
	deps Deps
}

// Execute implements Worker.
func (w *Calculator) Execute(ctx context.Context, node graph.NodeSpec, view *graph.View) (any, error) {
	names := operandNames(node)
	values := make([]any, len(names))
	var sources []string

	rec, _ := view.Resolve(InRecord)
	record, _ := rec.(core.Record)
	for i, name := range names {
		raw, ok := record.Value(name)
		if !ok {
			continue
		}
		n, err := tool.ParseNumber(raw)
		if err != nil {
			continue
		}
		values[i] = n
		if id := record.EvidenceIDs[name]; id != "" {
			sources = append(sources, id)
		}
	}

	out, err := w.deps.Tools.Invoke(ctx, tool.CalculatorToolName, map[string]any{
		InOp:       node.String(InOp),
		InOperands: values,
		"names":    toAny(names),
	}, w.deps.ToolTimeout)
	if err != nil {
		return nil, err
	}
	res, ok := out.(core.CalcResult)
	if !ok {
		return nil, validationError("calculator", node.ID, "calculator returned %T", out)
	}

	metric := node.String(InMetric)
	content := res.Formula
	if metric != "" {
		content = metric + ": " + res.Formula
	}
	meta := map[string]string{"op": res.Op}
	if metric != "" {
		meta["metric"] = metric
	}
	for i, s := range sources {
		sources[i] = "[" + s + "]"
	}
	if len(sources) > 0 {
		content += " from " + strings.Join(sources, " ")
		meta["derived_from"] = strings.Join(sources, ",")
	}

	item, err := w.deps.Evidence.Append(ctx, core.EvidenceItem{
		SourceRef:  "derived:" + node.ID,
		Content:    content,
		ProducedBy: node.ID,
		Metadata:   meta,
	})
	if err != nil {
		return nil, fmt.Errorf("append evidence: %w", err)
	}
	res.EvidenceID = item.ID
	return res, nil
}

func operandNames(node graph.NodeSpec) []string {
	raw, _ := node.Literal(InOperands)
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, len(v))
		for i, x := range v {
			out[i] = fmt.Sprint(x)
		}
		return out
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
