package artifact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/execlog"
)

func TestInMemoryStore_SaveGetIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	data := []byte("hello")
	require.NoError(t, s.Save(ctx, "r1", "a1", data))

	data[0] = 'H'
	out, err := s.Get(ctx, "r1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))

	out[0] = 'x'
	again, _ := s.Get(ctx, "r1", "a1")
	assert.Equal(t, "hello", string(again))
}

func TestInMemoryStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.Save(ctx, "r1", "b", []byte("2")))
	require.NoError(t, s.Save(ctx, "r1", "a", []byte("1")))

	names, err := s.List(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, s.Delete(ctx, "r1", "a"))
	_, err = s.Get(ctx, "r1", "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "r1", "a"), ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "nope", "a"), ErrNotFound)

	names, _ = s.List(ctx, "nope")
	assert.Empty(t, names)
}

func TestArchiveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	art := &core.Artifact{
		RequestID: "r1",
		Title:     "Q3 memo",
		Version:   2,
		Status:    core.ArtifactApproved,
		Sections: []core.Section{{
			Title:  "Revenue",
			Text:   "Revenue grew. Margins looked great.",
			Claims: []core.Claim{{Text: "Revenue grew.", EvidenceIDs: []string{"E1"}}, {Text: "Margins looked great.", Ungrounded: true}},
		}},
		Evaluation: &core.EvaluationResult{ArtifactVersion: 2, Scores: map[string]float64{"clarity": 0.75}, Overall: 0.75, Unscored: []string{"faithfulness"}},
		Warnings:   []string{"node s1-calc skipped"},
	}
	log := execlog.New()
	log.Append("a", core.StatusPending, core.StatusReady, 0, nil)

	require.NoError(t, Archive(ctx, s, art, log))

	names, err := s.List(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{NameArtifact, NameDocument, NameLogJSON, NameLog}, names)

	got, err := Load(ctx, s, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Q3 memo", got.Title)
	assert.Equal(t, 2, got.Version)
	require.Len(t, got.Sections, 1)
	assert.True(t, got.Sections[0].Claims[1].Ungrounded)

	gotLog, err := LoadLog(ctx, s, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, gotLog.Len())

	doc, err := s.Get(ctx, "r1", NameDocument)
	require.NoError(t, err)
	text := string(doc)
	assert.Contains(t, text, "# Q3 memo")
	assert.Contains(t, text, "## Revenue")
	assert.Contains(t, text, "clarity: 0.75")
	assert.Contains(t, text, "faithfulness: unscored")
	assert.Contains(t, text, "- Margins looked great.")
	assert.Contains(t, text, "node s1-calc skipped")

	assert.Error(t, Archive(ctx, s, &core.Artifact{}, nil))
	_, err = Load(ctx, s, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
