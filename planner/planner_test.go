package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/graph"
	"github.com/hupe1980/agentplan/worker"
)

func memoGoal() core.Goal {
	return core.Goal{
		TaskType: TaskMemoSection,
		Title:    "Acme memo",
		Sources: []core.SourceSpec{
			{Name: "Filings", Filters: map[string]string{"type": "10k"}},
			{Name: "News", TopK: 3},
		},
		Sections: []core.SectionSpec{
			{
				Title:  "Financials",
				Fields: []core.FieldSpec{{Name: "revenue"}, {Name: "costs"}},
				Metrics: []core.MetricSpec{
					{Name: "Margin", Op: "ratio", Operands: []string{"revenue", "costs"}},
				},
			},
			{Title: "Recommendation", DependsOn: []string{"Financials"}},
		},
		Checkpoints: core.CheckpointPolicy{KeyFindings: true},
	}
}

func ids(g *graph.Graph) []string {
	var out []string
	for _, n := range g.Nodes() {
		out = append(out, n.ID)
	}
	return out
}

func TestPlan_MemoSection(t *testing.T) {
	g, err := New().Plan(memoGoal())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"s1-retrieve-filings", "s1-retrieve-news", "s1-extract", "s1-calc-margin", "s1-write",
		"s2-retrieve-filings", "s2-retrieve-news", "s2-write",
		"critique", "evaluate",
	}, ids(g))

	ext, _ := g.Node("s1-extract")
	assert.True(t, ext.RequiresCheckpoint)
	assert.Equal(t, []string{"s1-retrieve-filings", "s1-retrieve-news"}, ext.Dependencies)

	calc, _ := g.Node("s1-calc-margin")
	assert.True(t, calc.Optional)
	assert.Equal(t, []string{"s1-extract"}, calc.Dependencies)

	w1, _ := g.Node("s1-write")
	assert.Equal(t, []string{"s1-retrieve-filings", "s1-retrieve-news", "s1-extract", "s1-calc-margin"}, w1.Dependencies)
	w2, _ := g.Node("s2-write")
	assert.Contains(t, w2.Dependencies, "s1-write")

	crit, _ := g.Node("critique")
	assert.Equal(t, []string{"s1-write", "s2-write"}, crit.Dependencies)
	eval, _ := g.Node("evaluate")
	assert.Equal(t, []string{"s1-write", "s2-write", "critique"}, eval.Dependencies)

	news, _ := g.Node("s1-retrieve-news")
	topK, _ := news.Spec().Literal(worker.InTopK)
	assert.Equal(t, 3, topK)
	filings, _ := g.Node("s1-retrieve-filings")
	topK, _ = filings.Spec().Literal(worker.InTopK)
	assert.Equal(t, 5, topK)
}

func TestPlan_LeavesHaveOnlyLiteralInputs(t *testing.T) {
	g, err := New().Plan(memoGoal())
	require.NoError(t, err)
	for _, n := range g.Nodes() {
		if len(n.Dependencies) > 0 {
			continue
		}
		for _, in := range n.Inputs {
			assert.False(t, in.IsRef(), "leaf %s input %s", n.ID, in.Name)
		}
	}
}

func TestPlan_DocumentQA(t *testing.T) {
	g, err := New().Plan(core.Goal{TaskType: TaskDocumentQA, Query: "What changed in 2023?"})
	require.NoError(t, err)
	assert.Equal(t, []string{"retrieve-default", "write", "evaluate"}, ids(g))

	_, err = New().Plan(core.Goal{TaskType: TaskDocumentQA})
	assert.ErrorIs(t, err, core.ErrPlanning)
}

func TestPlan_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(g *core.Goal)
	}{
		{"unknown task type", func(g *core.Goal) { g.TaskType = "poem" }},
		{"no sections", func(g *core.Goal) { g.Sections = nil }},
		{"duplicate titles", func(g *core.Goal) { g.Sections[1].Title = "Financials" }},
		{"unknown section dependency", func(g *core.Goal) { g.Sections[1].DependsOn = []string{"Team"} }},
		{"operand not a field", func(g *core.Goal) { g.Sections[0].Metrics[0].Operands = []string{"revenue", "ebitda"} }},
		{"unknown op", func(g *core.Goal) { g.Sections[0].Metrics[0].Op = "sqrt" }},
		{"cyclic sections", func(g *core.Goal) { g.Sections[0].DependsOn = []string{"Recommendation"} }},
		{"duplicate source", func(g *core.Goal) { g.Sources[1].Name = "filings" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			goal := memoGoal()
			tt.mutate(&goal)
			g, err := New().Plan(goal)
			assert.Nil(t, g, "no partial graph")
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrPlanning)
			_, retryable := core.KindOf(err)
			assert.False(t, retryable)
		})
	}
}

func TestPlan_CustomTemplate(t *testing.T) {
	p := New(WithTemplate("single", func(goal core.Goal, _ Options) (*graph.Graph, error) {
		g := graph.New()
		return g, g.Add(&graph.Node{ID: "only", Kind: core.KindWrite, Inputs: []graph.Input{graph.Lit(worker.InTitle, goal.Title)}})
	}))
	assert.Contains(t, p.TaskTypes(), "single")

	g, err := p.Plan(core.Goal{TaskType: "single", Title: "T"})
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "gross-margin", Slug(" Gross Margin! "))
}
