package planner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/graph"
	"github.com/hupe1980/agentplan/tool"
	"github.com/hupe1980/agentplan/worker"
)

// Dispatch priorities per kind; evidence gathering runs first.
var kindPriority = map[core.TaskKind]int{
	core.KindRetrieve:  50,
	core.KindExtract:   40,
	core.KindCalculate: 30,
	core.KindWrite:     20,
	core.KindCritique:  10,
	core.KindEvaluate:  0,
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and joins its alphanumeric runs with dashes.
func Slug(s string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

func node(id string, kind core.TaskKind, deps []string, inputs ...graph.Input) *graph.Node {
	return &graph.Node{ID: id, Kind: kind, Dependencies: deps, Inputs: inputs, Priority: kindPriority[kind]}
}

func sources(goal core.Goal) []core.SourceSpec {
	if len(goal.Sources) == 0 {
		return []core.SourceSpec{{Name: DefaultSourceName}}
	}
	return goal.Sources
}

func retrieveNode(id, query, section string, src core.SourceSpec, defaultTopK int) *graph.Node {
	topK := src.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	inputs := []graph.Input{
		graph.Lit(worker.InQuery, query),
		graph.Lit(worker.InSource, src.Name),
		graph.Lit(worker.InTopK, topK),
	}
	if len(src.Filters) > 0 {
		inputs = append(inputs, graph.Lit(worker.InFilters, src.Filters))
	}
	n := node(id, core.KindRetrieve, nil, inputs...)
	n.Section = section
	return n
}

func rubric(goal core.Goal) core.Rubric {
	if goal.Rubric != nil && len(goal.Rubric.Criteria) > 0 {
		return *goal.Rubric
	}
	return core.DefaultRubric()
}

// MemoSection plans one retrieve per source, an optional extract and
// calculations, and a write per section, followed by a critique and an
// evaluation over all writes.
func MemoSection(goal core.Goal, opts Options) (*graph.Graph, error) {
	if len(goal.Sections) == 0 {
		return nil, planningError("goal has no sections")
	}
	srcs := sources(goal)
	if err := checkSources(srcs); err != nil {
		return nil, err
	}

	writeIDs := make(map[string]string, len(goal.Sections))
	for i, s := range goal.Sections {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			return nil, planningError("section %d has no title", i+1)
		}
		if _, dup := writeIDs[title]; dup {
			return nil, planningError("duplicate section title %q", title)
		}
		writeIDs[title] = fmt.Sprintf("s%d-write", i+1)
	}

	g := graph.New()
	var writes []string
	for i, s := range goal.Sections {
		prefix := fmt.Sprintf("s%d", i+1)
		title := strings.TrimSpace(s.Title)
		query := firstNonEmpty(s.Query, goal.Query, title)

		var deps []string
		for _, src := range srcs {
			id := fmt.Sprintf("%s-retrieve-%s", prefix, Slug(src.Name))
			if err := g.Add(retrieveNode(id, query, title, src, opts.DefaultTopK)); err != nil {
				return nil, planningError("%v", err)
			}
			deps = append(deps, id)
		}
		retrieves := append([]string(nil), deps...)

		declared := make(map[string]bool, len(s.Fields))
		for _, f := range s.Fields {
			if f.Name == "" {
				return nil, planningError("section %q has a field without a name", title)
			}
			declared[f.Name] = true
		}

		var extractID string
		if len(s.Fields) > 0 {
			extractID = prefix + "-extract"
			ext := node(extractID, core.KindExtract, retrieves, graph.Lit(worker.InFields, append([]core.FieldSpec(nil), s.Fields...)))
			ext.Section = title
			if goal.Checkpoints.KeyFindings {
				ext.RequiresCheckpoint = true
				ext.CheckpointLabel = "key findings: " + title
			}
			if err := g.Add(ext); err != nil {
				return nil, planningError("%v", err)
			}
			deps = append(deps, extractID)
		}

		for _, m := range s.Metrics {
			if !tool.ValidOp(m.Op) {
				return nil, planningError("metric %q in section %q has unknown op %q", m.Name, title, m.Op)
			}
			if len(m.Operands) == 0 {
				return nil, planningError("metric %q in section %q has no operands", m.Name, title)
			}
			for _, op := range m.Operands {
				if !declared[op] {
					return nil, planningError("metric %q operand %q is not a declared field of section %q", m.Name, op, title)
				}
			}
			id := fmt.Sprintf("%s-calc-%s", prefix, Slug(m.Name))
			calc := node(id, core.KindCalculate, []string{extractID},
				graph.Lit(worker.InOp, m.Op),
				graph.Lit(worker.InOperands, append([]string(nil), m.Operands...)),
				graph.Lit(worker.InMetric, m.Name),
				graph.Ref(worker.InRecord, extractID),
			)
			calc.Optional = true
			calc.Section = title
			if err := g.Add(calc); err != nil {
				return nil, planningError("%v", err)
			}
			deps = append(deps, id)
		}

		for _, dep := range s.DependsOn {
			id, ok := writeIDs[strings.TrimSpace(dep)]
			if !ok {
				return nil, planningError("section %q depends on unknown section %q", title, dep)
			}
			deps = append(deps, id)
		}

		write := node(writeIDs[title], core.KindWrite, deps,
			graph.Lit(worker.InTitle, title),
			graph.Lit(worker.InInstructions, s.Instructions),
			graph.Lit(worker.InQuery, query),
		)
		write.Section = title
		if err := g.Add(write); err != nil {
			return nil, planningError("%v", err)
		}
		writes = append(writes, write.ID)
	}

	critique := node("critique", core.KindCritique, append([]string(nil), writes...))
	critique.Optional = true
	evaluate := node("evaluate", core.KindEvaluate, append(append([]string(nil), writes...), critique.ID), graph.Lit(worker.InRubric, rubric(goal)))
	evaluate.Optional = true
	if err := g.Add(critique); err != nil {
		return nil, planningError("%v", err)
	}
	if err := g.Add(evaluate); err != nil {
		return nil, planningError("%v", err)
	}
	return g, nil
}

// DocumentQA plans one retrieve per source, a single answer write and an
// evaluation.
func DocumentQA(goal core.Goal, opts Options) (*graph.Graph, error) {
	query := strings.TrimSpace(goal.Query)
	if query == "" {
		return nil, planningError("document_qa goal has no query")
	}
	srcs := sources(goal)
	if err := checkSources(srcs); err != nil {
		return nil, err
	}
	title := firstNonEmpty(goal.Title, "Answer")

	g := graph.New()
	var deps []string
	for _, src := range srcs {
		id := "retrieve-" + Slug(src.Name)
		if err := g.Add(retrieveNode(id, query, title, src, opts.DefaultTopK)); err != nil {
			return nil, planningError("%v", err)
		}
		deps = append(deps, id)
	}
	write := node("write", core.KindWrite, deps,
		graph.Lit(worker.InTitle, title),
		graph.Lit(worker.InInstructions, "Answer the question using only the evidence."),
		graph.Lit(worker.InQuery, query),
	)
	write.Section = title
	evaluate := node("evaluate", core.KindEvaluate, []string{write.ID}, graph.Lit(worker.InRubric, rubric(goal)))
	evaluate.Optional = true
	if err := g.Add(write); err != nil {
		return nil, planningError("%v", err)
	}
	if err := g.Add(evaluate); err != nil {
		return nil, planningError("%v", err)
	}
	return g, nil
}

func checkSources(srcs []core.SourceSpec) error {
	seen := make(map[string]bool, len(srcs))
	for _, s := range srcs {
		slug := Slug(s.Name)
		if slug == "" {
			return planningError("source %q has no usable name", s.Name)
		}
		if seen[slug] {
			return planningError("duplicate source %q", s.Name)
		}
		seen[slug] = true
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
