package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/agentplan/core"
)

// ErrNodeNotFound is returned for unknown node ids.
var ErrNodeNotFound = errors.New("node not found")

// Input is a named worker argument. It either references the output of
// another node (From set, optionally narrowed by Field) or carries a Literal.
type Input struct {
	Name    string `json:"name"`
	From    string `json:"from,omitempty"`
	Field   string `json:"field,omitempty"`
	Literal any    `json:"literal,omitempty"`
}

// IsRef reports whether the input references another node.
func (in Input) IsRef() bool { return in.From != "" }

// Lit builds a literal input.
func Lit(name string, v any) Input { return Input{Name: name, Literal: v} }

// Ref builds a reference input to the output of node from.
func Ref(name, from string) Input { return Input{Name: name, From: from} }

// FieldRef builds a reference input narrowed to one field of from's output.
func FieldRef(name, from, field string) Input { return Input{Name: name, From: from, Field: field} }

// Node is a single unit of work in the Task Graph.
type Node struct {
	ID           string          `json:"id"`
	Kind         core.TaskKind   `json:"kind"`
	Inputs       []Input         `json:"inputs,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Status       core.TaskStatus `json:"status"`
	Attempts     int             `json:"attempts"`
	Result       any             `json:"result,omitempty"`
	Err          error           `json:"-"`

	// Priority orders Ready nodes; higher runs first.
	Priority int `json:"priority,omitempty"`
	// Seq is the declaration order, assigned by Graph.Add.
	Seq int `json:"seq"`
	// Optional nodes hand a core.MissingInput placeholder to dependents
	// instead of blocking them when they fail.
	Optional           bool   `json:"optional,omitempty"`
	RequiresCheckpoint bool   `json:"requires_checkpoint,omitempty"`
	CheckpointLabel    string `json:"checkpoint_label,omitempty"`
	// Section names the document section the node contributes to.
	Section string `json:"section,omitempty"`
}

// Graph is an ordered set of nodes with dependency edges.
type Graph struct {
	nodes      []*Node
	index      map[string]*Node
	dependents map[string][]string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		index:      make(map[string]*Node),
		dependents: make(map[string][]string),
	}
}

// Add appends n in declaration order. Status defaults to Pending.
func (g *Graph) Add(n *Node) error {
	if n.ID == "" {
		return errors.New("node id is required")
	}
	if _, exists := g.index[n.ID]; exists {
		return fmt.Errorf("duplicate node id %q", n.ID)
	}
	if !n.Kind.Valid() {
		return fmt.Errorf("node %q has unknown kind %q", n.ID, n.Kind)
	}
	if n.Status == "" {
		n.Status = core.StatusPending
	}
	n.Seq = len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.index[n.ID] = n
	for _, dep := range n.Dependencies {
		g.dependents[dep] = append(g.dependents[dep], n.ID)
	}
	return nil
}

// MustAdd is like Add but panics on error.
func (g *Graph) MustAdd(nodes ...*Node) *Graph {
	for _, n := range nodes {
		if err := g.Add(n); err != nil {
			panic(err)
		}
	}
	return g
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Nodes returns the nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.index[id]
	return n, ok
}

// Dependents returns the direct dependents of id in declaration order.
func (g *Graph) Dependents(id string) []string {
	deps := g.dependents[id]
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// Subtree returns every transitive dependent of id in declaration order.
func (g *Graph) Subtree(id string) []string {
	seen := map[string]bool{}
	stack := g.Dependents(id)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, g.dependents[cur]...)
	}
	out := make([]string, 0, len(seen))
	for _, n := range g.nodes {
		if seen[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}

// Validate checks the structural invariants: every dependency exists, every
// reference input names a declared dependency, leaf nodes carry only
// literal inputs, and the graph is acyclic.
func (g *Graph) Validate() error {
	for _, n := range g.nodes {
		deps := make(map[string]bool, len(n.Dependencies))
		for _, dep := range n.Dependencies {
			if _, ok := g.index[dep]; !ok {
				return fmt.Errorf("node %q depends on unknown node %q", n.ID, dep)
			}
			if dep == n.ID {
				return fmt.Errorf("node %q depends on itself", n.ID)
			}
			deps[dep] = true
		}
		for _, in := range n.Inputs {
			if in.IsRef() && !deps[in.From] {
				return fmt.Errorf("node %q input %q references undeclared dependency %q", n.ID, in.Name, in.From)
			}
		}
	}
	if _, err := g.TopoOrder(); err != nil {
		return err
	}
	return nil
}

// TopoOrder returns node ids in a dependency respecting order, breaking ties
// by declaration order.
func (g *Graph) TopoOrder() ([]string, error) {
	indeg := make(map[string]int, len(g.nodes))
	for _, n := range g.nodes {
		indeg[n.ID] = len(n.Dependencies)
	}
	var queue []*Node
	for _, n := range g.nodes {
		if indeg[n.ID] == 0 {
			queue = append(queue, n)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		sort.SliceStable(queue, func(i, j int) bool { return queue[i].Seq < queue[j].Seq })
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur.ID)
		for _, d := range g.dependents[cur.ID] {
			indeg[d]--
			if indeg[d] == 0 {
				queue = append(queue, g.index[d])
			}
		}
	}
	if len(order) != len(g.nodes) {
		var cyclic []string
		for _, n := range g.nodes {
			if indeg[n.ID] > 0 {
				cyclic = append(cyclic, n.ID)
			}
		}
		return nil, fmt.Errorf("task graph has a cycle through %s", strings.Join(cyclic, ", "))
	}
	return order, nil
}

// Transition moves node id to status to. Leaving a terminal status is an error.
func (g *Graph) Transition(id string, to core.TaskStatus) (from core.TaskStatus, err error) {
	n, ok := g.index[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	from = n.Status
	if err := core.ValidateTransition(from, to); err != nil {
		return from, fmt.Errorf("node %s: %w", id, err)
	}
	n.Status = to
	return from, nil
}

// Satisfied reports whether a dependency no longer holds back its dependent:
// it completed, or it is optional and reached a terminal status.
func (g *Graph) Satisfied(dep string) bool {
	n, ok := g.index[dep]
	if !ok {
		return false
	}
	return n.Status == core.StatusCompleted || (n.Optional && n.Status.IsTerminal())
}

// Blocked reports whether some non-optional dependency of id failed or was
// skipped, so id can never run.
func (g *Graph) Blocked(id string) bool {
	n, ok := g.index[id]
	if !ok {
		return false
	}
	for _, dep := range n.Dependencies {
		d := g.index[dep]
		if !d.Optional && (d.Status == core.StatusFailed || d.Status == core.StatusSkipped) {
			return true
		}
	}
	return false
}

// Runnable reports whether a Pending node has all dependencies satisfied.
func (g *Graph) Runnable(id string) bool {
	n, ok := g.index[id]
	if !ok || n.Status != core.StatusPending {
		return false
	}
	for _, dep := range n.Dependencies {
		if !g.Satisfied(dep) {
			return false
		}
	}
	return true
}

// Done reports whether every node is terminal.
func (g *Graph) Done() bool {
	for _, n := range g.nodes {
		if !n.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Statuses returns a snapshot of node statuses.
func (g *Graph) Statuses() map[string]core.TaskStatus {
	out := make(map[string]core.TaskStatus, len(g.nodes))
	for _, n := range g.nodes {
		out[n.ID] = n.Status
	}
	return out
}

// DependencyMap returns each node's dependency ids.
func (g *Graph) DependencyMap() map[string][]string {
	out := make(map[string][]string, len(g.nodes))
	for _, n := range g.nodes {
		out[n.ID] = append([]string(nil), n.Dependencies...)
	}
	return out
}

// OptionalSet returns the ids of optional nodes.
func (g *Graph) OptionalSet() map[string]bool {
	out := make(map[string]bool)
	for _, n := range g.nodes {
		if n.Optional {
			out[n.ID] = true
		}
	}
	return out
}

// Summary renders the plan as one line per node, used for plan approval.
func (g *Graph) Summary() string {
	var b strings.Builder
	for _, n := range g.nodes {
		fmt.Fprintf(&b, "%s (%s)", n.ID, n.Kind)
		if len(n.Dependencies) > 0 {
			fmt.Fprintf(&b, " <- %s", strings.Join(n.Dependencies, ", "))
		}
		var flags []string
		if n.Optional {
			flags = append(flags, "optional")
		}
		if n.RequiresCheckpoint {
			flags = append(flags, "checkpoint")
		}
		if len(flags) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(flags, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
