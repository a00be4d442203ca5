package request

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/execlog"
)

func TestInMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	rec := &Record{ID: "r1", Goal: core.Goal{TaskType: "document_qa", Query: "q"}, State: core.RequestQueued}
	require.NoError(t, s.Create(ctx, rec))
	assert.ErrorIs(t, s.Create(ctx, &Record{ID: "r1"}), ErrConflict)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "q", got.Goal.Query)

	got.State = core.RequestCompleted
	got.Log = []execlog.Entry{{Seq: 1, NodeID: "a", From: core.StatusPending, To: core.StatusReady}}
	got.Artifact = &core.Artifact{RequestID: "r1", Version: 1, Sections: []core.Section{{Title: "A"}}}
	require.NoError(t, s.Update(ctx, got))

	again, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, core.RequestCompleted, again.State)
	assert.Len(t, again.Log, 1)
	assert.Equal(t, rec.CreatedAt, again.CreatedAt)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, &Record{ID: "missing"}), ErrNotFound)
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.Create(ctx, &Record{
		ID:       "r1",
		Artifact: &core.Artifact{Sections: []core.Section{{Title: "A"}}},
	}))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	got.Artifact.Sections[0].Title = "mutated"

	again, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "A", again.Artifact.Sections[0].Title)
}

func TestInMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	require.NoError(t, s.Create(ctx, &Record{ID: "b", State: core.RequestRunning}))
	require.NoError(t, s.Create(ctx, &Record{ID: "a", State: core.RequestFailed}))
	require.NoError(t, s.Create(ctx, &Record{ID: "c", State: core.RequestRunning}))

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].ID)

	running, err := s.List(ctx, core.RequestRunning)
	require.NoError(t, err)
	require.Len(t, running, 2)
	assert.Equal(t, []string{"b", "c"}, []string{running[0].ID, running[1].ID})
}
