package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
llm:
  provider: mock
retrieval:
  documents:
    - source_ref: q3-report
      content: Revenue grew 12 percent in the third quarter.
logging:
  level: error
`

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCLI(t *testing.T, goal, policy string, stdin string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := write(t, dir, "agentplan.yaml", testConfig)
	g := write(t, dir, "goal.yaml", goal)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	err := run(ctx, []string{"-config", cfg, "-goal", g, "-checkpoints", policy}, strings.NewReader(stdin), &out)
	require.NoError(t, err)
	return out.String()
}

func TestRun_ApprovesCheckpoints(t *testing.T) {
	out := runCLI(t, `
task_type: document_qa
title: Revenue
query: How did revenue grow?
checkpoints:
  sign_off: true
`, "approve", "")

	assert.Contains(t, out, ": Completed")
	assert.Contains(t, out, "# Revenue")
	assert.Contains(t, out, "execution log:")
}

func TestRun_RejectedPlanFails(t *testing.T) {
	out := runCLI(t, `
task_type: document_qa
query: How did revenue grow?
checkpoints:
  plan_approval: true
`, "reject", "")

	assert.Contains(t, out, ": Failed")
	assert.Contains(t, out, "plan rejected by cli")
}

func TestRun_AskReadsDecisionFromStdin(t *testing.T) {
	out := runCLI(t, `
task_type: document_qa
query: How did revenue grow?
checkpoints:
  plan_approval: true
`, "ask", "y\n")

	assert.Contains(t, out, "approve? [y/N]")
	assert.Contains(t, out, ": Completed")
}

func TestRun_Flags(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(context.Background(), nil, strings.NewReader(""), &out))

	dir := t.TempDir()
	g := write(t, dir, "goal.yaml", "task_type: document_qa\n")
	err := run(context.Background(), []string{"-goal", g, "-checkpoints", "maybe"}, strings.NewReader(""), &out)
	assert.ErrorContains(t, err, "unknown checkpoint policy")
}
