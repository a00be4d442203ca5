package grounding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/evidence"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"simple", "Revenue grew. Costs fell!", []string{"Revenue grew.", "Costs fell!"}},
		{"marker after punctuation", "Revenue grew. [E1] Costs fell [E2].", []string{"Revenue grew. [E1]", "Costs fell [E2]."}},
		{"decimal", "Margin was 12.5% in 2023.", []string{"Margin was 12.5% in 2023."}},
		{"no terminal punctuation", "Revenue grew [E1]", []string{"Revenue grew [E1]"}},
		{"paragraphs", "Intro line\n\nSecond paragraph.", []string{"Intro line", "Second paragraph."}},
		{"empty", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSentences(tt.in))
		})
	}
}

func TestMarkerIDs(t *testing.T) {
	assert.Equal(t, []string{"E3", "E1"}, MarkerIDs("x [E3] y [E1] z [E3]"))
	assert.Empty(t, MarkerIDs("no markers"))
}

func TestCheckGrounding(t *testing.T) {
	ctx := context.Background()
	store := evidence.NewInMemoryStore()
	_, err := store.Append(ctx, core.EvidenceItem{SourceRef: "a", Content: "revenue 100"})
	require.NoError(t, err)

	claims, err := New().CheckGrounding(ctx, "Revenue was 100 [E1]. Growth was strong. Margin rose [E7].", store)
	require.NoError(t, err)
	require.Len(t, claims, 3)

	assert.False(t, claims[0].Ungrounded)
	assert.Equal(t, []string{"E1"}, claims[0].EvidenceIDs)

	assert.True(t, claims[1].Ungrounded)
	assert.Empty(t, claims[1].EvidenceIDs)

	assert.True(t, claims[2].Ungrounded, "unresolvable marker does not ground a claim")
	assert.Equal(t, []string{"E7"}, claims[2].UnresolvedIDs)
}

func TestSection_KeepsUngroundedClaims(t *testing.T) {
	sec, err := New().Section(context.Background(), "Overview", "Nothing cited here.", evidence.NewInMemoryStore())
	require.NoError(t, err)
	assert.Equal(t, "Overview", sec.Title)
	require.Len(t, sec.Claims, 1)
	assert.Equal(t, 1, sec.UngroundedCount())
}
