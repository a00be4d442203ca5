package graph

import (
	"fmt"

	"github.com/hupe1980/agentplan/core"
)

// NodeSpec is the read-only description of a node handed to a worker.
type NodeSpec struct {
	ID           string
	Kind         core.TaskKind
	Section      string
	Attempt      int
	Inputs       []Input
	Dependencies []string
}

// Spec copies the worker-visible part of n.
func (n *Node) Spec() NodeSpec {
	return NodeSpec{
		ID:           n.ID,
		Kind:         n.Kind,
		Section:      n.Section,
		Attempt:      n.Attempts,
		Inputs:       append([]Input(nil), n.Inputs...),
		Dependencies: append([]string(nil), n.Dependencies...),
	}
}

// Literal returns the literal input called name.
func (s NodeSpec) Literal(name string) (any, bool) {
	for _, in := range s.Inputs {
		if in.Name == name && !in.IsRef() {
			return in.Literal, true
		}
	}
	return nil, false
}

// String returns a literal string input or "".
func (s NodeSpec) String(name string) string {
	v, _ := s.Literal(name)
	str, _ := v.(string)
	return str
}

// Output is the published result of a terminal dependency.
type Output struct {
	NodeID  string
	Kind    core.TaskKind
	Section string
	Result  any
	// Missing is set when the dependency was optional and did not complete.
	Missing *core.MissingInput
}

// View exposes only the outputs of a node's declared dependencies.
type View struct {
	spec    NodeSpec
	outputs map[string]Output
}

// NewView builds the view for n. Outputs of nodes that are not declared
// dependencies of n are dropped.
func (g *Graph) NewView(n *Node) *View {
	v := &View{spec: n.Spec(), outputs: make(map[string]Output, len(n.Dependencies))}
	for _, dep := range n.Dependencies {
		d := g.index[dep]
		out := Output{NodeID: d.ID, Kind: d.Kind, Section: d.Section}
		if d.Status == core.StatusCompleted {
			out.Result = d.Result
		} else {
			reason := string(d.Status)
			if d.Err != nil {
				reason = d.Err.Error()
			}
			out.Missing = &core.MissingInput{NodeID: d.ID, Reason: reason}
		}
		v.outputs[dep] = out
	}
	return v
}

// NewStaticView builds a view over explicit outputs, mainly for worker tests.
func NewStaticView(spec NodeSpec, outputs ...Output) *View {
	v := &View{spec: spec, outputs: make(map[string]Output, len(outputs))}
	for _, o := range outputs {
		v.outputs[o.NodeID] = o
	}
	return v
}

// Outputs returns dependency outputs in declaration order.
func (v *View) Outputs() []Output {
	out := make([]Output, 0, len(v.outputs))
	for _, dep := range v.spec.Dependencies {
		if o, ok := v.outputs[dep]; ok {
			out = append(out, o)
		}
	}
	return out
}

// Result returns the completed result of dependency id. It reports false for
// undeclared ids and for missing optional inputs.
func (v *View) Result(id string) (any, bool) {
	o, ok := v.outputs[id]
	if !ok || o.Missing != nil {
		return nil, false
	}
	return o.Result, true
}

// Missing returns placeholders for optional dependencies that did not complete.
func (v *View) Missing() []core.MissingInput {
	var out []core.MissingInput
	for _, o := range v.Outputs() {
		if o.Missing != nil {
			out = append(out, *o.Missing)
		}
	}
	return out
}

// Resolve returns the value of the named input. A reference to a missing
// optional dependency resolves to its core.MissingInput placeholder.
func (v *View) Resolve(name string) (any, error) {
	for _, in := range v.spec.Inputs {
		if in.Name != name {
			continue
		}
		if !in.IsRef() {
			return in.Literal, nil
		}
		o, ok := v.outputs[in.From]
		if !ok {
			return nil, fmt.Errorf("input %q references %q outside the node's dependencies", name, in.From)
		}
		if o.Missing != nil {
			return *o.Missing, nil
		}
		if in.Field == "" {
			return o.Result, nil
		}
		return fieldOf(o.Result, in.Field)
	}
	return nil, fmt.Errorf("input %q not declared", name)
}

func fieldOf(result any, field string) (any, error) {
	switch r := result.(type) {
	case core.Record:
		if v, ok := r.Value(field); ok {
			return v, nil
		}
		return nil, nil
	case core.CalcResult:
		if field == "value" {
			return r.Value, nil
		}
	case core.Section:
		if field == "text" {
			return r.Text, nil
		}
	case map[string]any:
		return r[field], nil
	}
	return nil, fmt.Errorf("field %q not available on %T", field, result)
}
