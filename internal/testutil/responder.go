package testutil

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hupe1980/agentplan/model"
	"github.com/hupe1980/agentplan/retrieval"
	"github.com/hupe1980/agentplan/tool"
)

var (
	titlePattern    = regexp.MustCompile(`Write the section "([^"]*)"`)
	evidencePattern = regexp.MustCompile(`(?m)^\[(E\d+)\]`)
)

// DraftResponder answers the prompts of every builtin worker and of the
// evaluator deterministically:
//
//	writer     one sentence per evidence item (at most three), each cited
//	extractor  an empty JSON object, so every field is not found
//	critic     an empty issue list
//	judge      score 1.0 with a short rationale
//
// Writer prompts listing unavailable inputs get an extra uncited sentence.
func DraftResponder() model.Responder {
	return func(req model.Request) (string, error) {
		prompt := req.Messages[len(req.Messages)-1].Content
		switch {
		case strings.HasPrefix(prompt, "Write the section"):
			return draft(prompt), nil
		case strings.HasPrefix(prompt, "Extract the following fields"):
			return "{}", nil
		case strings.HasPrefix(prompt, "Review the draft below."):
			return "[]", nil
		case strings.HasPrefix(prompt, "You are grading"):
			return `{"rationale": "The draft is supported by its evidence.", "score": 1.0}`, nil
		}
		return "", fmt.Errorf("unexpected prompt: %.40q", prompt)
	}
}

func draft(prompt string) string {
	title := "section"
	if m := titlePattern.FindStringSubmatch(prompt); m != nil {
		title = m[1]
	}
	var sentences []string
	for i, m := range evidencePattern.FindAllStringSubmatch(prompt, 3) {
		sentences = append(sentences, fmt.Sprintf("Point %d of %s is documented [%s].", i+1, title, m[1]))
	}
	if len(sentences) == 0 {
		sentences = append(sentences, fmt.Sprintf("No evidence was available for %s.", title))
	}
	if strings.Contains(prompt, "Unavailable inputs") {
		sentences = append(sentences, "Some inputs could not be computed.")
	}
	return strings.Join(sentences, " ")
}

// NewMockModel returns a mock model answering with DraftResponder.
func NewMockModel() *model.MockModel {
	m := model.NewMockModel("mock", "mock")
	m.SetResponder(DraftResponder())
	return m
}

// NewTools registers llm.complete over m, the calculator and a
// retrieval.search tool over an in-memory gateway seeded with docs.
func NewTools(m model.Model, docs ...retrieval.Document) *tool.Registry {
	return tool.NewRegistry().MustRegister(
		tool.NewCompletionTool(m),
		tool.NewCalculatorTool(),
		retrieval.NewSearchTool(retrieval.NewInMemoryGateway(docs...)),
	)
}
