package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/retrieval"
)

// LoadGoal reads a YAML goal file.
func LoadGoal(path string) (core.Goal, error) {
	var goal core.Goal
	content, err := os.ReadFile(path)
	if err != nil {
		return goal, fmt.Errorf("config: read goal %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, &goal); err != nil {
		return goal, fmt.Errorf("config: parse goal %s: %w", path, err)
	}
	if goal.TaskType == "" {
		return goal, fmt.Errorf("config: goal %s has no task_type", path)
	}
	return goal, nil
}

// Documents returns the inline documents followed by one document per file.
// A file's source ref is its base name.
func (c RetrievalConfig) Documents() ([]retrieval.Document, error) {
	docs := make([]retrieval.Document, 0, len(c.Inline)+len(c.Files))
	for _, d := range c.Inline {
		docs = append(docs, retrieval.Document{SourceRef: d.SourceRef, Content: d.Content, Metadata: d.Metadata})
	}
	for _, f := range c.Files {
		content, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("config: read corpus file: %w", err)
		}
		docs = append(docs, retrieval.Document{
			SourceRef: filepath.Base(f),
			Content:   string(content),
			Metadata:  map[string]string{"path": f},
		})
	}
	return docs, nil
}
