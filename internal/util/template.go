package util

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// Compiled prompt templates keyed by their source text. Worker prompts are
// package constants, so the cache stays small.
var templates sync.Map

var promptFuncs = template.FuncMap{
	"default": func(fallback, val any) any {
		if val == nil || val == "" {
			return fallback
		}
		return val
	},
	"upper": strings.ToUpper,
	"trim":  strings.TrimSpace,
	// bullets renders one "- item" line per element.
	"bullets": func(items any) string {
		var b strings.Builder
		switch list := items.(type) {
		case []string:
			for _, s := range list {
				fmt.Fprintf(&b, "- %s\n", s)
			}
		case []any:
			for _, s := range list {
				fmt.Fprintf(&b, "- %v\n", s)
			}
		}
		return b.String()
	},
	"indent": func(prefix, text string) string {
		lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
		for i, l := range lines {
			lines[i] = prefix + l
		}
		return strings.Join(lines, "\n")
	},
}

// RenderTemplate renders a prompt with text/template (no HTML escaping).
func RenderTemplate(text string, data map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := compile(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

func compile(text string) (*template.Template, error) {
	if t, ok := templates.Load(text); ok {
		return t.(*template.Template), nil
	}
	t, err := template.New("prompt").Funcs(promptFuncs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt: %w", err)
	}
	actual, _ := templates.LoadOrStore(text, t)
	return actual.(*template.Template), nil
}
