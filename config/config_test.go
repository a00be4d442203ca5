package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, 1, cfg.Engine.ValidationRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Engine.BaseBackoff)
	assert.Equal(t, 60*time.Second, cfg.Engine.AttemptTimeout)
	assert.Equal(t, "Rejected", cfg.Checkpoint.TimeoutDecision)
	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, "memory", cfg.Storage.Requests.Driver)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "q3.txt", "Revenue was $1,200.")
	path := write(t, dir, "agentplan.yaml", `
engine:
  concurrency: 8
  base_backoff: 50ms
  attempt_timeout: 2m
checkpoint:
  timeout: 30m
llm:
  provider: anthropic
  model: claude-sonnet
retrieval:
  documents:
    - source_ref: memo.md
      content: Costs were $300.
      metadata: {quarter: Q3}
  files: [q3.txt]
queue:
  driver: redis
  redis:
    address: localhost:6379
    queue: jobs
    block_wait: 1s
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.Concurrency)
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.BaseBackoff)
	assert.Equal(t, 2*time.Minute, cfg.Engine.AttemptTimeout)
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Checkpoint.Timeout)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.LLM.APIKeyEnv)
	assert.Equal(t, "localhost:6379", cfg.Queue.Redis.Address)
	assert.Equal(t, "jobs", cfg.Queue.Redis.Queue)
	assert.Equal(t, time.Second, cfg.Queue.Redis.BlockWait)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, []string{filepath.Join(dir, "q3.txt")}, cfg.Retrieval.Files)

	docs, err := cfg.Retrieval.Documents()
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "memo.md", docs[0].SourceRef)
	assert.Equal(t, "Q3", docs[0].Metadata["quarter"])
	assert.Equal(t, "q3.txt", docs[1].SourceRef)
	assert.Equal(t, "Revenue was $1,200.", docs[1].Content)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown provider", "llm: {provider: bard}"},
		{"mysql without dsn", "storage: {requests: {driver: mysql}}"},
		{"rabbitmq without url", "queue: {driver: rabbitmq}"},
		{"edited timeout decision", "checkpoint: {timeout_decision: Edited}"},
		{"bad yaml", "engine: [1, 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content), "")
			assert.Error(t, err)
		})
	}

	_, err := Load("")
	assert.Error(t, err)
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLLMConfig_APIKey(t *testing.T) {
	t.Setenv("AGENTPLAN_TEST_KEY", "secret")
	assert.Equal(t, "secret", LLMConfig{APIKeyEnv: "AGENTPLAN_TEST_KEY"}.APIKey())
	assert.Empty(t, LLMConfig{}.APIKey())
}

func TestLoadGoal(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "goal.yaml", `
task_type: memo_section
title: Q3 memo
sections:
  - title: Margin
    query: revenue costs
    fields:
      - name: revenue
        pattern: 'Revenue was \$([0-9,]+)'
    metrics:
      - name: margin
        op: ratio
        operands: [revenue, costs]
checkpoints:
  key_findings: true
`)
	goal, err := LoadGoal(path)
	require.NoError(t, err)
	assert.Equal(t, "memo_section", goal.TaskType)
	require.Len(t, goal.Sections, 1)
	assert.Equal(t, "ratio", goal.Sections[0].Metrics[0].Op)
	assert.Equal(t, `Revenue was \$([0-9,]+)`, goal.Sections[0].Fields[0].Pattern)
	assert.True(t, goal.Checkpoints.KeyFindings)

	_, err = LoadGoal(write(t, dir, "empty.yaml", "title: x"))
	assert.Error(t, err)
}
