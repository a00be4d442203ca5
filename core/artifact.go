package core

import (
	"errors"
	"strings"
	"time"
)

// ErrArtifactFinalized is returned when mutating an approved or rejected artifact.
var ErrArtifactFinalized = errors.New("artifact is finalized")

// ArtifactStatus is the lifecycle state of a GenerationArtifact.
type ArtifactStatus string

const (
	ArtifactDraft    ArtifactStatus = "Draft"
	ArtifactApproved ArtifactStatus = "Approved"
	ArtifactRejected ArtifactStatus = "Rejected"
)

// Artifact is the assembled output of a generation request.
type Artifact struct {
	RequestID         string             `json:"request_id"`
	Title             string             `json:"title,omitempty"`
	Version           int                `json:"version"`
	Status            ArtifactStatus     `json:"status"`
	Sections          []Section          `json:"sections"`
	Critique          []Issue            `json:"critique,omitempty"`
	Evaluation        *EvaluationResult  `json:"evaluation,omitempty"`
	CheckpointHistory []CheckpointRecord `json:"checkpoint_history,omitempty"`
	Warnings          []string           `json:"warnings,omitempty"`
}

// Finalized reports whether the artifact can no longer be mutated.
func (a *Artifact) Finalized() bool {
	return a.Status == ArtifactApproved || a.Status == ArtifactRejected
}

// Annotate appends a checkpoint record to the artifact history.
func (a *Artifact) Annotate(rec CheckpointRecord) error {
	if a.Finalized() {
		return ErrArtifactFinalized
	}
	a.CheckpointHistory = append(a.CheckpointHistory, rec)
	return nil
}

// SetEvaluation attaches an evaluation result to the current version.
func (a *Artifact) SetEvaluation(res *EvaluationResult) error {
	if a.Finalized() {
		return ErrArtifactFinalized
	}
	if res != nil {
		res.ArtifactVersion = a.Version
	}
	a.Evaluation = res
	return nil
}

// ReplaceSections swaps the section list and bumps the version. Any previous
// evaluation belongs to the old version and is cleared.
func (a *Artifact) ReplaceSections(sections []Section) error {
	if a.Finalized() {
		return ErrArtifactFinalized
	}
	a.Sections = sections
	a.Version++
	a.Evaluation = nil
	return nil
}

// Finalize moves the artifact into a terminal status.
func (a *Artifact) Finalize(status ArtifactStatus) error {
	if a.Finalized() {
		return ErrArtifactFinalized
	}
	a.Status = status
	return nil
}

// Warn records a non-fatal warning.
func (a *Artifact) Warn(msg string) {
	a.Warnings = append(a.Warnings, msg)
}

// UngroundedClaims returns every ungrounded claim across sections.
func (a *Artifact) UngroundedClaims() []Claim {
	var out []Claim
	for _, s := range a.Sections {
		for _, c := range s.Claims {
			if c.Ungrounded {
				out = append(out, c)
			}
		}
	}
	return out
}

// Decision is the outcome of a checkpoint.
type Decision string

const (
	DecisionPending  Decision = "Pending"
	DecisionApproved Decision = "Approved"
	DecisionEdited   Decision = "Edited"
	DecisionRejected Decision = "Rejected"
)

// Valid reports whether d is a resolvable decision (anything but Pending).
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionEdited || d == DecisionRejected
}

// CheckpointRecord captures a single human checkpoint.
type CheckpointRecord struct {
	RequestID string    `json:"request_id"`
	NodeID    string    `json:"node_id"`
	Label     string    `json:"label,omitempty"`
	Payload   any       `json:"presented_payload,omitempty"`
	Decision  Decision  `json:"decision"`
	Edited    any       `json:"edited_payload,omitempty"`
	DecidedBy string    `json:"decided_by,omitempty"`
	OpenedAt  time.Time `json:"opened_at"`
	Timestamp time.Time `json:"timestamp"`
}

// EvaluationResult holds per-criterion judge scores for one artifact version.
type EvaluationResult struct {
	ArtifactVersion       int                `json:"artifact_version"`
	Scores                map[string]float64 `json:"scores"`
	Rationales            map[string]string  `json:"rationales"`
	Unscored              []string           `json:"unscored,omitempty"`
	Overall               float64            `json:"overall"`
	HallucinationDetected bool               `json:"hallucination_detected"`
	Rationale             string             `json:"rationale"`
}

// RequestState is the user-visible state of a generation request.
type RequestState string

const (
	RequestQueued                RequestState = "Queued"
	RequestRunning               RequestState = "Running"
	RequestAwaitingApproval      RequestState = "AwaitingApproval"
	RequestCompleted             RequestState = "Completed"
	RequestCompletedWithWarnings RequestState = "CompletedWithWarnings"
	RequestFailed                RequestState = "Failed"
	RequestCancelled             RequestState = "Cancelled"
)

// IsTerminal reports whether the request has resolved.
func (s RequestState) IsTerminal() bool {
	switch s {
	case RequestCompleted, RequestCompletedWithWarnings, RequestFailed, RequestCancelled:
		return true
	default:
		return false
	}
}

// RenderSections renders sections as markdown-like text for prompts.
func RenderSections(sections []Section) string {
	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(s.Title)
		b.WriteString("\n")
		b.WriteString(s.Text)
	}
	return b.String()
}
