package testutil

import "github.com/hupe1980/agentplan/core"

// GoalBuilder provides a fluent helper for constructing goals in tests.
// Example:
//
//	goal := NewGoalBuilder("memo_section").Title("Q3").Section("Overview", "summarize").Build()
//
// Chain only the parts you need.
type GoalBuilder struct {
	goal core.Goal
}

// NewGoalBuilder creates a builder for the given task type.
func NewGoalBuilder(taskType string) *GoalBuilder {
	return &GoalBuilder{goal: core.Goal{TaskType: taskType}}
}

// Title sets the artifact title (chainable).
func (b *GoalBuilder) Title(t string) *GoalBuilder { b.goal.Title = t; return b }

// Query sets the goal-level query (chainable).
func (b *GoalBuilder) Query(q string) *GoalBuilder { b.goal.Query = q; return b }

// Source adds an evidence source (chainable).
func (b *GoalBuilder) Source(name string, filters map[string]string) *GoalBuilder {
	b.goal.Sources = append(b.goal.Sources, core.SourceSpec{Name: name, Filters: filters})
	return b
}

// Section adds a section with instructions (chainable).
func (b *GoalBuilder) Section(title, instructions string) *GoalBuilder {
	b.goal.Sections = append(b.goal.Sections, core.SectionSpec{Title: title, Instructions: instructions})
	return b
}

// Fields attaches extraction fields to the last section (chainable).
func (b *GoalBuilder) Fields(fields ...core.FieldSpec) *GoalBuilder {
	if s := b.last(); s != nil {
		s.Fields = append(s.Fields, fields...)
	}
	return b
}

// Metric attaches a calculator metric to the last section (chainable).
func (b *GoalBuilder) Metric(name, op string, operands ...string) *GoalBuilder {
	if s := b.last(); s != nil {
		s.Metrics = append(s.Metrics, core.MetricSpec{Name: name, Op: op, Operands: operands})
	}
	return b
}

// DependsOn makes the last section depend on prior sections (chainable).
func (b *GoalBuilder) DependsOn(titles ...string) *GoalBuilder {
	if s := b.last(); s != nil {
		s.DependsOn = append(s.DependsOn, titles...)
	}
	return b
}

// Checkpoints sets the checkpoint policy (chainable).
func (b *GoalBuilder) Checkpoints(plan, keyFindings, signOff bool) *GoalBuilder {
	b.goal.Checkpoints = core.CheckpointPolicy{PlanApproval: plan, KeyFindings: keyFindings, SignOff: signOff}
	return b
}

// Rubric sets the evaluation rubric (chainable).
func (b *GoalBuilder) Rubric(r core.Rubric) *GoalBuilder { b.goal.Rubric = &r; return b }

// Build returns the goal.
func (b *GoalBuilder) Build() core.Goal { return b.goal }

func (b *GoalBuilder) last() *core.SectionSpec {
	if len(b.goal.Sections) == 0 {
		return nil
	}
	return &b.goal.Sections[len(b.goal.Sections)-1]
}
