package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentplan/core"
)

func diamond() *Graph {
	return New().MustAdd(
		&Node{ID: "a", Kind: core.KindRetrieve, Inputs: []Input{Lit("query", "q")}},
		&Node{ID: "b", Kind: core.KindExtract, Dependencies: []string{"a"}, Inputs: []Input{Ref("evidence", "a")}},
		&Node{ID: "c", Kind: core.KindCalculate, Dependencies: []string{"b"}, Optional: true},
		&Node{ID: "d", Kind: core.KindWrite, Dependencies: []string{"b", "c"}},
	)
}

func TestGraph_AddAndValidate(t *testing.T) {
	g := diamond()
	require.NoError(t, g.Validate())
	assert.Equal(t, 4, g.Len())
	assert.Equal(t, []string{"d"}, g.Dependents("c"))
	assert.Equal(t, []string{"b", "c", "d"}, g.Subtree("a"))

	n, ok := g.Node("c")
	require.True(t, ok)
	assert.Equal(t, 2, n.Seq)
	assert.Equal(t, core.StatusPending, n.Status)

	assert.Error(t, g.Add(&Node{ID: "a", Kind: core.KindWrite}))
	assert.Error(t, g.Add(&Node{ID: "x", Kind: "bogus"}))
}

func TestGraph_ValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		nodes []*Node
	}{
		{"unknown dependency", []*Node{{ID: "a", Kind: core.KindWrite, Dependencies: []string{"zzz"}}}},
		{"self dependency", []*Node{{ID: "a", Kind: core.KindWrite, Dependencies: []string{"a"}}}},
		{"cycle", []*Node{
			{ID: "a", Kind: core.KindWrite, Dependencies: []string{"b"}},
			{ID: "b", Kind: core.KindWrite, Dependencies: []string{"a"}},
		}},
		{"undeclared reference", []*Node{
			{ID: "a", Kind: core.KindRetrieve},
			{ID: "b", Kind: core.KindWrite, Inputs: []Input{Ref("x", "a")}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New().MustAdd(tt.nodes...)
			assert.Error(t, g.Validate())
		})
	}
}

func TestGraph_TopoOrder(t *testing.T) {
	order, err := diamond().TopoOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestGraph_TerminalNodesAreImmutable(t *testing.T) {
	g := diamond()
	_, err := g.Transition("a", core.StatusReady)
	require.NoError(t, err)
	_, err = g.Transition("a", core.StatusRunning)
	require.NoError(t, err)
	from, err := g.Transition("a", core.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, from)

	_, err = g.Transition("a", core.StatusRunning)
	assert.Error(t, err)
	_, err = g.Transition("missing", core.StatusReady)
	assert.True(t, errors.Is(err, ErrNodeNotFound))
}

func TestGraph_ReadinessWithOptionalDependency(t *testing.T) {
	g := diamond()
	assert.True(t, g.Runnable("a"))
	assert.False(t, g.Runnable("b"))

	mark := func(id string, path ...core.TaskStatus) {
		for _, s := range path {
			_, err := g.Transition(id, s)
			require.NoError(t, err)
		}
	}
	mark("a", core.StatusReady, core.StatusRunning, core.StatusCompleted)
	mark("b", core.StatusReady, core.StatusRunning, core.StatusCompleted)
	assert.False(t, g.Runnable("d"))

	mark("c", core.StatusReady, core.StatusRunning, core.StatusFailed)
	assert.True(t, g.Runnable("d"))
	assert.False(t, g.Blocked("d"))

	d, _ := g.Node("d")
	v := g.NewView(d)
	missing := v.Missing()
	require.Len(t, missing, 1)
	assert.Equal(t, "c", missing[0].NodeID)
}

func TestGraph_BlockedByFailedRequiredDependency(t *testing.T) {
	g := diamond()
	for _, s := range []core.TaskStatus{core.StatusReady, core.StatusRunning, core.StatusFailed} {
		_, err := g.Transition("a", s)
		require.NoError(t, err)
	}
	assert.True(t, g.Blocked("b"))
	assert.False(t, g.Runnable("b"))
}

func TestView_ScopedToDependencies(t *testing.T) {
	g := diamond()
	a, _ := g.Node("a")
	a.Status = core.StatusCompleted
	a.Result = "evidence"
	c, _ := g.Node("c")
	c.Status = core.StatusCompleted
	c.Result = core.CalcResult{Value: 2}

	b, _ := g.Node("b")
	v := g.NewView(b)

	got, err := v.Resolve("evidence")
	require.NoError(t, err)
	assert.Equal(t, "evidence", got)

	_, ok := v.Result("c")
	assert.False(t, ok, "c is not a dependency of b")
	_, err = v.Resolve("nope")
	assert.Error(t, err)
}

func TestView_FieldReference(t *testing.T) {
	val := "42"
	spec := NodeSpec{
		ID:           "calc",
		Inputs:       []Input{FieldRef("revenue", "ext", "revenue"), FieldRef("costs", "ext", "costs"), Lit("op", "ratio")},
		Dependencies: []string{"ext"},
	}
	v := NewStaticView(spec, Output{NodeID: "ext", Result: core.Record{Fields: map[string]*string{"revenue": &val, "costs": nil}}})

	got, err := v.Resolve("revenue")
	require.NoError(t, err)
	assert.Equal(t, "42", got)

	got, err = v.Resolve("costs")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Equal(t, "ratio", spec.String("op"))
}

func TestGraph_Summary(t *testing.T) {
	s := diamond().Summary()
	assert.Contains(t, s, "d (write) <- b, c")
	assert.Contains(t, s, "c (calculate) <- b [optional]")
}
