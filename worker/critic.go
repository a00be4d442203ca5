package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/graph"
	"github.com/hupe1980/agentplan/internal/util"
)

// Issue severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

const criticSystem = `You review analytical documents for unsupported claims, gaps and unclear
wording. You do not rewrite the document.`

const criticPrompt = `Review the draft below.

{{indent "> " .draft}}

Reply with a JSON array. Each element is an object with the keys "issue",
"severity" (low, medium or high) and "suggested_fix". Reply with [] if there
are no issues.`

// Critic reviews the assembled draft. Ungrounded claims always produce a
// high severity issue, independent of the model's answer.
type Critic struct {
	deps Deps
}

// Execute implements Worker. The result is []core.Issue.
func (w *Critic) Execute(ctx context.Context, node graph.NodeSpec, view *graph.View) (any, error) {
	sections := sectionsOf(view)
	prompt, err := util.RenderTemplate(criticPrompt, map[string]any{"draft": core.RenderSections(sections)})
	if err != nil {
		return nil, fmt.Errorf("render critic prompt: %w", err)
	}
	text, err := w.deps.complete(ctx, criticSystem, prompt)
	if err != nil {
		return nil, err
	}
	issues, err := ParseIssues(text)
	if err != nil {
		return nil, validationError("critic", node.ID, "%v", err)
	}
	return append(issues, UngroundedIssues(sections)...), nil
}

// ParseIssues reads a JSON list of issues from model output.
func ParseIssues(text string) ([]core.Issue, error) {
	arr, ok := util.ExtractJSON(text, '[', ']')
	if !ok {
		return nil, fmt.Errorf("model output is not a JSON array")
	}
	issues := []core.Issue{}
	for _, v := range gjson.Parse(arr).Array() {
		desc := strings.TrimSpace(v.Get("issue").String())
		if desc == "" {
			continue
		}
		issues = append(issues, core.Issue{
			Issue:        desc,
			Severity:     normalizeSeverity(v.Get("severity").String()),
			SuggestedFix: strings.TrimSpace(v.Get("suggested_fix").String()),
		})
	}
	return issues, nil
}

// UngroundedIssues returns one high severity issue per ungrounded claim.
func UngroundedIssues(sections []core.Section) []core.Issue {
	var out []core.Issue
	for _, s := range sections {
		for _, c := range s.Claims {
			if !c.Ungrounded {
				continue
			}
			fix := "cite supporting evidence or remove the claim"
			if len(c.UnresolvedIDs) > 0 {
				fix = fmt.Sprintf("replace unknown evidence ids %s with valid citations", strings.Join(c.UnresolvedIDs, ", "))
			}
			out = append(out, core.Issue{
				Issue:        fmt.Sprintf("%s in %q: %s", core.UngroundedClaim, s.Title, c.Text),
				Severity:     SeverityHigh,
				SuggestedFix: fix,
			})
		}
	}
	return out
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case SeverityHigh, "critical":
		return SeverityHigh
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityMedium
	}
}
