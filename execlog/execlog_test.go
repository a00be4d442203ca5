package execlog

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentplan/core"
)

func TestLog_AppendExport(t *testing.T) {
	l := New()
	l.Append("a", core.StatusPending, core.StatusReady, 0, nil)
	l.Append("a", core.StatusRunning, core.StatusPending, 1, errors.New("tool down"))

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Seq)
	assert.Equal(t, 2, entries[1].Seq)

	out := l.Export()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "a Pending -> Ready attempt=0")
	assert.Contains(t, lines[1], `error="tool down"`)
}

func TestLog_JSONRoundTrip(t *testing.T) {
	l := New()
	l.Append("a", core.StatusRunning, core.StatusCompleted, 1, nil)
	data, err := json.Marshal(l)
	require.NoError(t, err)

	var back Log
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, 1, back.Len())
	assert.Equal(t, core.StatusCompleted, back.Entries()[0].To)
}

func TestLog_ConcurrentAppendKeepsDenseSeq(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append("n", core.StatusPending, core.StatusReady, 0, nil)
		}()
	}
	wg.Wait()
	for i, e := range l.Entries() {
		assert.Equal(t, i+1, e.Seq)
	}
}

func TestVerifyDependencyOrder(t *testing.T) {
	deps := map[string][]string{"b": {"a"}}

	ok := New()
	ok.Append("a", core.StatusReady, core.StatusRunning, 1, nil)
	ok.Append("a", core.StatusRunning, core.StatusCompleted, 1, nil)
	ok.Append("b", core.StatusReady, core.StatusRunning, 1, nil)
	assert.NoError(t, VerifyDependencyOrder(ok.Entries(), deps, nil))

	bad := New()
	bad.Append("a", core.StatusReady, core.StatusRunning, 1, nil)
	bad.Append("b", core.StatusReady, core.StatusRunning, 1, nil)
	assert.Error(t, VerifyDependencyOrder(bad.Entries(), deps, nil))
}

func TestVerifyDependencyOrder_FailedDependency(t *testing.T) {
	deps := map[string][]string{"b": {"a"}}

	l := New()
	l.Append("a", core.StatusReady, core.StatusRunning, 1, nil)
	l.Append("a", core.StatusRunning, core.StatusFailed, 1, errors.New("boom"))
	l.Append("b", core.StatusReady, core.StatusRunning, 1, nil)

	err := VerifyDependencyOrder(l.Entries(), deps, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required dependency a ended Failed")

	assert.NoError(t, VerifyDependencyOrder(l.Entries(), deps, map[string]bool{"a": true}))
}

func TestVerifyDependencyOrder_SkippedRequiredDependency(t *testing.T) {
	l := New()
	l.Append("a", core.StatusAwaitingApproval, core.StatusSkipped, 0, nil)
	l.Append("b", core.StatusReady, core.StatusRunning, 1, nil)

	assert.Error(t, VerifyDependencyOrder(l.Entries(), map[string][]string{"b": {"a"}}, nil))
}
