package agentplan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentplan/config"
	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/engine"
	"github.com/hupe1980/agentplan/internal/testutil"
	"github.com/hupe1980/agentplan/logging"
)

func TestNew_RunsGoalWithMockProvider(t *testing.T) {
	cfg, err := config.Parse([]byte(`
llm:
  provider: mock
retrieval:
  documents:
    - source_ref: q3-report
      content: Revenue grew 12 percent in the third quarter.
    - source_ref: press
      content: Analysts expect revenue growth to continue.
`), "")
	require.NoError(t, err)

	ap, err := New(context.Background(), cfg, func(o *Options) { o.Logger = logging.NoOpLogger{} })
	require.NoError(t, err)
	defer func() { assert.NoError(t, ap.Close()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	goal := testutil.NewGoalBuilder("document_qa").Title("Revenue").Query("How did revenue grow?").Build()
	rec, err := ap.Run(ctx, goal)
	require.NoError(t, err)

	assert.Equal(t, core.RequestCompleted, rec.State)
	require.NotNil(t, rec.Artifact)
	require.Len(t, rec.Artifact.Sections, 1)
	assert.Empty(t, rec.Artifact.UngroundedClaims())
	assert.NotEmpty(t, rec.Log)
	assert.ElementsMatch(t, []string{"calculator", "llm.complete", "retrieval.search"}, ap.Tools().Names())
}

func TestNew_InProcessWithoutQueue(t *testing.T) {
	ap, err := New(context.Background(), nil, func(o *Options) { o.Logger = logging.NoOpLogger{} })
	require.NoError(t, err)
	defer ap.Close()

	assert.ErrorIs(t, ap.Start(context.Background()), engine.ErrNoQueue)
}

func TestNewModel(t *testing.T) {
	for _, provider := range []string{"mock", "anthropic", "openai"} {
		m, err := NewModel(config.LLMConfig{Provider: provider, Model: "some-model", MaxTokens: 256})
		require.NoError(t, err, provider)
		assert.NotNil(t, m, provider)
	}

	_, err := NewModel(config.LLMConfig{Provider: "bard"})
	assert.Error(t, err)
}
