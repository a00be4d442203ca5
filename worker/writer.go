package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/evidence"
	"github.com/hupe1980/agentplan/graph"
	"github.com/hupe1980/agentplan/internal/util"
)

const writerSystem = `You write sections of analytical documents. Every factual sentence must cite
the evidence it relies on with markers such as [E3] placed before the sentence's
final punctuation. Use only the evidence provided. Do not cite ids that are not listed.`

const writerPrompt = `Write the section "{{.title}}".
{{if .instructions}}
Instructions: {{.instructions}}
{{end}}{{if .query}}
Question: {{.query}}
{{end}}
Evidence:
{{if .evidence}}{{.evidence}}{{else}}(none available)
{{end}}{{if .prior}}
Previously written sections:
{{.prior}}
{{end}}{{if .missing}}
Unavailable inputs (mention the gap, do not invent the values):
{{.missing}}{{end}}`

// Writer drafts a section from dependency evidence and grounds its claims.
type Writer struct {
	deps Deps
}

// Execute implements Worker. The result is a core.Section.
func (w *Writer) Execute(ctx context.Context, node graph.NodeSpec, view *graph.View) (any, error) {
	title := node.String(InTitle)
	if title == "" {
		title = node.Section
	}

	var missing strings.Builder
	for _, m := range view.Missing() {
		fmt.Fprintf(&missing, "- %s: %s\n", m.NodeID, m.Reason)
	}

	// Claims only ground against evidence reachable from dependency outputs,
	// so items left behind by discarded attempts never resolve.
	visible := evidenceOf(ctx, view, w.deps.Evidence)
	prompt, err := util.RenderTemplate(writerPrompt, map[string]any{
		"title":        title,
		"instructions": node.String(InInstructions),
		"query":        node.String(InQuery),
		"evidence":     formatEvidence(visible),
		"prior":        core.RenderSections(sectionsOf(view)),
		"missing":      missing.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("render writer prompt: %w", err)
	}

	text, err := w.deps.complete(ctx, writerSystem, prompt)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, validationError("writer", node.ID, "empty draft for %q", title)
	}

	section, err := w.deps.Grounding.Section(ctx, title, text, evidence.NewView(visible))
	if err != nil {
		return nil, err
	}
	w.deps.Logger.Debug("worker.write.done", "node_id", node.ID, "claims", len(section.Claims), "ungrounded", section.UngroundedCount())
	return section, nil
}
