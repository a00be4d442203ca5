package checkpoint

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentplan/core"
)

// awaitAsync opens a checkpoint in a goroutine and waits until it is pending.
func awaitAsync(t *testing.T, m *Manager, ctx context.Context, req, node string) <-chan result {
	t.Helper()
	out := make(chan result, 1)
	go func() {
		rec, err := m.Await(ctx, req, node, "review", "draft")
		out <- result{rec, err}
	}()
	require.Eventually(t, func() bool { return len(m.Pending(req)) > 0 }, time.Second, time.Millisecond)
	return out
}

type result struct {
	rec core.CheckpointRecord
	err error
}

func TestManager_ApproveEditReject(t *testing.T) {
	tests := []struct {
		decision core.Decision
		payload  any
	}{
		{core.DecisionApproved, nil},
		{core.DecisionEdited, "edited text"},
		{core.DecisionRejected, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.decision), func(t *testing.T) {
			m := New()
			ch := awaitAsync(t, m, context.Background(), "r1", "n1")

			pending := m.Pending("r1")
			require.Len(t, pending, 1)
			assert.Equal(t, core.DecisionPending, pending[0].Decision)
			assert.Equal(t, "draft", pending[0].Payload)

			rec, err := m.Resolve("r1", "n1", tt.decision, tt.payload, "alice")
			require.NoError(t, err)
			assert.Equal(t, tt.decision, rec.Decision)

			got := <-ch
			require.NoError(t, got.err)
			assert.Equal(t, tt.decision, got.rec.Decision)
			assert.Equal(t, tt.payload, got.rec.Edited)
			assert.Equal(t, "alice", got.rec.DecidedBy)
			assert.False(t, got.rec.Timestamp.Before(got.rec.OpenedAt))

			assert.Empty(t, m.Pending("r1"))
			assert.Len(t, m.History("r1"), 1)
		})
	}
}

func TestManager_ResolveErrors(t *testing.T) {
	m := New()
	_, err := m.Resolve("r1", "nope", core.DecisionApproved, nil, "bob")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)

	ch := awaitAsync(t, m, context.Background(), "r1", "n1")

	_, err = m.Resolve("r1", "n1", core.DecisionPending, nil, "bob")
	assert.ErrorIs(t, err, ErrInvalidDecision)
	_, err = m.Resolve("r1", "n1", core.DecisionEdited, nil, "bob")
	assert.ErrorIs(t, err, ErrInvalidDecision)

	_, err = m.Resolve("r1", "n1", core.DecisionApproved, nil, "bob")
	require.NoError(t, err)
	<-ch

	_, err = m.Resolve("r1", "n1", core.DecisionRejected, nil, "bob")
	assert.ErrorIs(t, err, ErrCheckpointResolved)
}

func TestManager_TimeoutAppliesDecision(t *testing.T) {
	m := New(func(o *Options) { o.Timeout = 10 * time.Millisecond })
	rec, err := m.Await(context.Background(), "r1", "n1", "review", nil)
	require.NoError(t, err)
	assert.Equal(t, core.DecisionRejected, rec.Decision)
	assert.Equal(t, TimeoutDecider, rec.DecidedBy)

	m = New(func(o *Options) {
		o.Timeout = 10 * time.Millisecond
		o.TimeoutDecision = core.DecisionApproved
	})
	rec, err = m.Await(context.Background(), "r1", "n1", "review", nil)
	require.NoError(t, err)
	assert.Equal(t, core.DecisionApproved, rec.Decision)
}

func TestManager_ZeroTimeoutWaitsForContext(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := awaitAsync(t, m, ctx, "r1", "n1")

	select {
	case <-ch:
		t.Fatal("checkpoint resolved without a decision")
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	got := <-ch
	assert.ErrorIs(t, got.err, context.Canceled)
	assert.Empty(t, m.Pending("r1"))
	_, err := m.Resolve("r1", "n1", core.DecisionApproved, nil, "late")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestManager_DuplicateOpenAndOnOpen(t *testing.T) {
	var mu sync.Mutex
	var opened []string
	m := New(func(o *Options) {
		o.OnOpen = func(rec core.CheckpointRecord) {
			mu.Lock()
			opened = append(opened, rec.NodeID)
			mu.Unlock()
		}
	})
	ch := awaitAsync(t, m, context.Background(), "r1", "n1")

	_, err := m.Await(context.Background(), "r1", "n1", "again", nil)
	assert.ErrorIs(t, err, ErrCheckpointOpen)

	_, err = m.Resolve("r1", "n1", core.DecisionApproved, nil, "bob")
	require.NoError(t, err)
	<-ch

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"n1"}, opened)
}
