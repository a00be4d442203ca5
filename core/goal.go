package core

// Goal is the high-level generation request handed to the Planner.
//
// TaskType selects the decomposition template ("memo_section",
// "document_qa", or a custom registered type). Sections lists the required
// output sections; Sources lists the evidence sources available to
// retrieval nodes.
type Goal struct {
	TaskType    string           `json:"task_type" yaml:"task_type"`
	Title       string           `json:"title,omitempty" yaml:"title,omitempty"`
	Query       string           `json:"query,omitempty" yaml:"query,omitempty"`
	Sections    []SectionSpec    `json:"sections,omitempty" yaml:"sections,omitempty"`
	Sources     []SourceSpec     `json:"sources,omitempty" yaml:"sources,omitempty"`
	Rubric      *Rubric          `json:"rubric,omitempty" yaml:"rubric,omitempty"`
	Checkpoints CheckpointPolicy `json:"checkpoints" yaml:"checkpoints"`
	Context     map[string]any   `json:"context,omitempty" yaml:"context,omitempty"`
}

// SectionSpec describes one required output section.
type SectionSpec struct {
	Title        string       `json:"title" yaml:"title"`
	Instructions string       `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Query        string       `json:"query,omitempty" yaml:"query,omitempty"`
	Fields       []FieldSpec  `json:"fields,omitempty" yaml:"fields,omitempty"`
	Metrics      []MetricSpec `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	// DependsOn names prior sections whose drafts feed this section's writer.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// SourceSpec describes an evidence source reachable through the retrieval gateway.
type SourceSpec struct {
	Name    string            `json:"name" yaml:"name"`
	Filters map[string]string `json:"filters,omitempty" yaml:"filters,omitempty"`
	TopK    int               `json:"top_k,omitempty" yaml:"top_k,omitempty"`
}

// FieldSpec is one named field of an extraction schema. When Pattern is set
// the field is extracted by regular expression (first capture group).
type FieldSpec struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Pattern     string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// MetricSpec declares a calculator operation over extracted fields.
type MetricSpec struct {
	Name     string   `json:"name" yaml:"name"`
	Op       string   `json:"op" yaml:"op"`
	Operands []string `json:"operands" yaml:"operands"`
}

// CheckpointPolicy selects which human checkpoints a request pauses at.
type CheckpointPolicy struct {
	PlanApproval bool `json:"plan_approval" yaml:"plan_approval"`
	KeyFindings  bool `json:"key_findings" yaml:"key_findings"`
	SignOff      bool `json:"sign_off" yaml:"sign_off"`
}

// Rubric is the set of criteria the Evaluator scores an artifact against.
type Rubric struct {
	Name     string      `json:"name" yaml:"name"`
	Criteria []Criterion `json:"criteria" yaml:"criteria"`
}

// Criterion is a single rubric line. Weight participates in the fixed
// weighted sum that produces the overall score; an unset weight counts as 1
// and a zero weight leaves the criterion out of the sum.
type Criterion struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Weight      *float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
	// Hallucination marks a criterion whose failure indicates fabricated content.
	Hallucination bool `json:"hallucination,omitempty" yaml:"hallucination,omitempty"`
}

// EffectiveWeight returns the weight used in the overall score. Negative
// weights count as 0.
func (c Criterion) EffectiveWeight() float64 {
	if c.Weight == nil {
		return 1
	}
	return max(*c.Weight, 0)
}

// Weight returns a pointer to w for Criterion literals.
func Weight(w float64) *float64 { return &w }

// DefaultRubric is used when a goal carries no rubric of its own.
func DefaultRubric() Rubric {
	return Rubric{
		Name: "default",
		Criteria: []Criterion{
			{Name: "faithfulness", Description: "Every factual statement is supported by the cited evidence.", Weight: Weight(0.4), Hallucination: true},
			{Name: "completeness", Description: "The draft covers every requested section and instruction.", Weight: Weight(0.3)},
			{Name: "clarity", Description: "The draft is clear, well organized and free of filler.", Weight: Weight(0.3)},
		},
	}
}
