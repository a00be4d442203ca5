package worker

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/graph"
	"github.com/hupe1980/agentplan/internal/util"
)

const extractSystem = `You extract structured fields from source text. Copy values verbatim from
the text. Use null for any field the text does not state. Never guess.`

const extractPrompt = `Extract the following fields from the text below.

Fields:
{{range .fields}}- {{.Name}}{{if .Description}}: {{.Description}}{{end}}
{{end}}
Text:
{{.text}}

Reply with a single JSON object mapping each field name to its value as a string, or null.`

// Extractor turns raw text into a core.Record. Values that do not literally
// occur in the input are dropped to nil.
type Extractor struct {
	deps Deps
}

type passage struct {
	evidenceID string
	text       string
}

// Execute implements Worker.
func (w *Extractor) Execute(ctx context.Context, node graph.NodeSpec, view *graph.View) (any, error) {
	fields, err := FieldSpecs(node)
	if err != nil {
		return nil, validationError("extractor", node.ID, "%v", err)
	}

	var passages []passage
	if lit := node.String(InText); lit != "" {
		passages = append(passages, passage{text: lit})
	}
	for _, item := range evidenceOf(ctx, view, w.deps.Evidence) {
		passages = append(passages, passage{evidenceID: item.ID, text: item.Content})
	}

	rec := core.Record{Fields: make(map[string]*string, len(fields)), EvidenceIDs: map[string]string{}}
	var llmFields []core.FieldSpec
	for _, f := range fields {
		rec.Fields[f.Name] = nil
		if f.Pattern == "" {
			llmFields = append(llmFields, f)
			continue
		}
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			e := core.NewError(core.ValidationFailure, "extractor", "field %q pattern: %v", f.Name, err).WithNode(node.ID)
			e.Permanent = true
			return nil, e
		}
		if v, ok := matchPattern(re, passages); ok {
			rec.Fields[f.Name] = &v
		}
	}

	if len(llmFields) > 0 && len(passages) > 0 {
		values, err := w.extractLLM(ctx, node, llmFields, passages)
		if err != nil {
			return nil, err
		}
		for name, v := range values {
			v := v
			rec.Fields[name] = &v
		}
	}

	for _, f := range fields {
		v := rec.Fields[f.Name]
		if v == nil {
			continue
		}
		src := sourceOf(*v, passages)
		meta := map[string]string{"field": f.Name}
		ref := "derived:" + node.ID
		if src != "" {
			meta["derived_from"] = src
		}
		item, err := w.deps.Evidence.Append(ctx, core.EvidenceItem{
			SourceRef:  ref,
			Content:    fmt.Sprintf("%s: %s", f.Name, *v),
			ProducedBy: node.ID,
			Metadata:   meta,
		})
		if err != nil {
			return nil, fmt.Errorf("append evidence: %w", err)
		}
		rec.EvidenceIDs[f.Name] = item.ID
	}

	w.deps.Logger.Debug("worker.extract.done", "node_id", node.ID, "fields", len(fields), "found", len(rec.EvidenceIDs))
	return rec, nil
}

func (w *Extractor) extractLLM(ctx context.Context, node graph.NodeSpec, fields []core.FieldSpec, passages []passage) (map[string]string, error) {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.text
	}
	corpus := strings.Join(texts, "\n\n")

	prompt, err := util.RenderTemplate(extractPrompt, map[string]any{"fields": fields, "text": corpus})
	if err != nil {
		return nil, fmt.Errorf("render extract prompt: %w", err)
	}
	text, err := w.deps.complete(ctx, extractSystem, prompt)
	if err != nil {
		return nil, err
	}

	obj, ok := util.ExtractJSON(text, '{', '}')
	if !ok {
		return nil, validationError("extractor", node.ID, "model output is not a JSON object")
	}
	parsed := gjson.Parse(obj)

	out := make(map[string]string)
	for _, f := range fields {
		v := parsed.Get(gjson.Escape(f.Name))
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		val := strings.TrimSpace(v.String())
		if val == "" || !strings.Contains(corpus, val) {
			w.deps.Logger.Debug("worker.extract.unsupported", "node_id", node.ID, "field", f.Name)
			continue
		}
		out[f.Name] = val
	}
	return out, nil
}

func matchPattern(re *regexp.Regexp, passages []passage) (string, bool) {
	for _, p := range passages {
		m := re.FindStringSubmatch(p.text)
		if m == nil {
			continue
		}
		v := m[0]
		if len(m) > 1 {
			v = m[1]
		}
		if v = strings.TrimSpace(v); v != "" {
			return v, true
		}
	}
	return "", false
}

func sourceOf(value string, passages []passage) string {
	for _, p := range passages {
		if p.evidenceID != "" && strings.Contains(p.text, value) {
			return p.evidenceID
		}
	}
	return ""
}

// FieldSpecs reads the fields literal of an Extract node.
func FieldSpecs(node graph.NodeSpec) ([]core.FieldSpec, error) {
	raw, ok := node.Literal(InFields)
	if !ok {
		return nil, fmt.Errorf("no fields declared")
	}
	switch v := raw.(type) {
	case []core.FieldSpec:
		if len(v) == 0 {
			return nil, fmt.Errorf("no fields declared")
		}
		return v, nil
	case []string:
		out := make([]core.FieldSpec, len(v))
		for i, name := range v {
			out[i] = core.FieldSpec{Name: name}
		}
		return out, nil
	}
	return nil, fmt.Errorf("fields has unsupported type %T", raw)
}
