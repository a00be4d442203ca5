package core

// EvidenceItem is a retrieved or derived fact with a stable identifier.
// Items are append-only: downstream nodes reference them, never mutate them.
type EvidenceItem struct {
	ID         string            `json:"id"`
	SourceRef  string            `json:"source_ref"`
	Content    string            `json:"content"`
	ProducedBy string            `json:"produced_by_node_id"`
	Score      float64           `json:"score,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ScoredEvidence is a ranked retrieval hit that has been stored as evidence.
type ScoredEvidence struct {
	Item  EvidenceItem `json:"item"`
	Score float64      `json:"score"`
}

// Claim is a sentence-level unit of Writer output.
//
// A claim with no resolvable evidence ids has Ungrounded set; it is kept in
// the artifact and surfaced, never dropped.
type Claim struct {
	Text          string   `json:"text"`
	EvidenceIDs   []string `json:"evidence_ids,omitempty"`
	UnresolvedIDs []string `json:"unresolved_ids,omitempty"`
	Ungrounded    bool     `json:"ungrounded"`
}

// Section is one titled part of a draft with its claims.
type Section struct {
	Title  string  `json:"title"`
	Text   string  `json:"text"`
	Claims []Claim `json:"claims"`
}

// UngroundedCount returns the number of ungrounded claims in the section.
func (s Section) UngroundedCount() int {
	n := 0
	for _, c := range s.Claims {
		if c.Ungrounded {
			n++
		}
	}
	return n
}

// Record is the structured output of an Extractor. Every schema field has an
// entry; a nil value means the field was not found in the input.
type Record struct {
	Fields      map[string]*string `json:"fields"`
	EvidenceIDs map[string]string  `json:"evidence_ids,omitempty"`
}

// Value returns the extracted value for field and whether it was found.
func (r Record) Value(field string) (string, bool) {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// CalcResult is the auditable output of a Calculator node.
type CalcResult struct {
	Op         string             `json:"op"`
	Operands   map[string]float64 `json:"operands"`
	Value      float64            `json:"value"`
	Formula    string             `json:"formula"`
	EvidenceID string             `json:"evidence_id"`
}

// Issue is a single Critic finding.
type Issue struct {
	Issue        string `json:"issue"`
	Severity     string `json:"severity"`
	SuggestedFix string `json:"suggested_fix"`
}

// MissingInput is the placeholder handed to dependents of a failed optional node.
type MissingInput struct {
	NodeID string `json:"node_id"`
	Reason string `json:"reason"`
}
