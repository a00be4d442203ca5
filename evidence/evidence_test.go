package evidence

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentplan/core"
)

func TestInMemoryStore_AppendGetList(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	a, err := s.Append(ctx, core.EvidenceItem{ID: "ignored", SourceRef: "a.pdf", Content: "alpha", Metadata: map[string]string{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, "E1", a.ID)

	b, err := s.Append(ctx, core.EvidenceItem{SourceRef: "b.pdf", Content: "beta"})
	require.NoError(t, err)
	assert.Equal(t, "E2", b.ID)

	got, err := s.Get(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Content)

	got.Metadata["k"] = "changed"
	again, _ := s.Get(ctx, "E1")
	assert.Equal(t, "v", again.Metadata["k"])

	_, err = s.Get(ctx, "E99")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []string{"E1", "E2"}, []string{list[0].ID, list[1].ID})
}

func TestInMemoryStore_ConcurrentAppendsGetUniqueIDs(t *testing.T) {
	s := NewInMemoryStore()
	const n = 200

	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := s.Append(context.Background(), core.EvidenceItem{Content: "x"})
			assert.NoError(t, err)
			ids <- item.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)

	list, _ := s.List(context.Background())
	assert.Equal(t, "E1", list[0].ID)
	assert.Equal(t, FormatID(n), list[n-1].ID)
}

func TestParseID(t *testing.T) {
	n, err := ParseID("E42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	_, err = ParseID("X1")
	assert.Error(t, err)
}

func TestView_ExposesOnlyItsItems(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	a, err := s.Append(ctx, core.EvidenceItem{SourceRef: "a", Content: "alpha"})
	require.NoError(t, err)
	_, err = s.Append(ctx, core.EvidenceItem{SourceRef: "b", Content: "beta"})
	require.NoError(t, err)

	v := NewView([]core.EvidenceItem{a, {Content: "no id"}})

	got, err := v.Get(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Content)

	_, err = v.Get(ctx, "E2")
	assert.ErrorIs(t, err, ErrNotFound)

	items, err := v.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = v.Append(ctx, core.EvidenceItem{Content: "gamma"})
	assert.ErrorIs(t, err, ErrReadOnly)
}
