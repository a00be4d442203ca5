package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentplan/artifact"
	"github.com/hupe1980/agentplan/checkpoint"
	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/execlog"
	"github.com/hupe1980/agentplan/internal/testutil"
	"github.com/hupe1980/agentplan/queue"
	"github.com/hupe1980/agentplan/retrieval"
)

var corpus = []retrieval.Document{
	{SourceRef: "q3-report", Content: "Revenue of 100 was booked in the third quarter."},
	{SourceRef: "q3-costs", Content: "Costs of 0 were recorded for revenue generation."},
	{SourceRef: "press", Content: "The company expanded revenue in Europe."},
}

func newEngine(t *testing.T, optFns ...func(o *Options)) (*Engine, *artifact.InMemoryStore) {
	t.Helper()
	archive := artifact.NewInMemoryStore()
	fns := append([]func(o *Options){func(o *Options) {
		o.Artifacts = archive
		o.Config.BaseBackoff = time.Millisecond
		o.Config.MaxBackoff = 5 * time.Millisecond
	}}, optFns...)
	return New(testutil.NewTools(testutil.NewMockModel(), corpus...), fns...), archive
}

func qaGoal() core.Goal {
	return testutil.NewGoalBuilder("document_qa").Title("Answer").Query("How did revenue develop?").Build()
}

func wait(t *testing.T, e *Engine, id string) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := e.Wait(ctx, id)
	require.NoError(t, err)
	return st
}

func awaitCheckpoint(t *testing.T, e *Engine, id, nodeID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := e.GetStatus(context.Background(), id)
		return err == nil && st.State == core.RequestAwaitingApproval &&
			st.CurrentCheckpoint != nil && st.CurrentCheckpoint.NodeID == nodeID
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_DocumentQACompletes(t *testing.T) {
	e, archive := newEngine(t)
	ctx := context.Background()

	id, err := e.Submit(ctx, qaGoal())
	require.NoError(t, err)

	st := wait(t, e, id)
	assert.Equal(t, core.RequestCompleted, st.State)

	rec, err := e.Result(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec.Artifact)
	assert.Equal(t, core.ArtifactApproved, rec.Artifact.Status)
	assert.Equal(t, "Answer", rec.Artifact.Title)
	require.Len(t, rec.Artifact.Sections, 1)
	assert.Empty(t, rec.Artifact.UngroundedClaims())

	require.NotNil(t, rec.Artifact.Evaluation)
	assert.InDelta(t, 1.0, rec.Artifact.Evaluation.Overall, 1e-9)
	assert.False(t, rec.Artifact.Evaluation.HallucinationDetected)

	deps := map[string][]string{"write": {"retrieve-default"}, "evaluate": {"write"}}
	assert.NoError(t, execlog.VerifyDependencyOrder(rec.Log, deps, nil))

	names, err := archive.List(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, names, artifact.NameArtifact)
	assert.Contains(t, names, artifact.NameLog)
}

func TestEngine_UnknownTaskTypeFails(t *testing.T) {
	e, _ := newEngine(t)

	id, err := e.Submit(context.Background(), core.Goal{TaskType: "poem"})
	require.NoError(t, err)

	st := wait(t, e, id)
	assert.Equal(t, core.RequestFailed, st.State)
	assert.Contains(t, st.Error, "unknown task type")

	rec, err := e.Result(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, core.PlanningError, rec.ErrorKind)
	assert.Empty(t, rec.Log)
	assert.Nil(t, rec.Artifact)
}

func TestEngine_DivisionByZeroCompletesWithWarnings(t *testing.T) {
	e, _ := newEngine(t)
	goal := testutil.NewGoalBuilder("memo_section").
		Title("Q3 memo").
		Section("Margins", "Discuss the margin.").
		Fields(
			core.FieldSpec{Name: "revenue", Pattern: `(?i)revenue of (\d+)`},
			core.FieldSpec{Name: "costs", Pattern: `(?i)costs of (\d+)`},
		).
		Metric("margin", "ratio", "revenue", "costs").
		Build()
	goal.Sections[0].Query = "revenue costs"

	id, err := e.Submit(context.Background(), goal)
	require.NoError(t, err)

	st := wait(t, e, id)
	assert.Equal(t, core.RequestCompletedWithWarnings, st.State)

	rec, err := e.Result(context.Background(), id)
	require.NoError(t, err)

	var calcFailed, writeDone bool
	for _, entry := range rec.Log {
		if entry.NodeID == "s1-calc-margin" && entry.To == core.StatusFailed {
			calcFailed = true
			assert.Contains(t, entry.Error, string(core.DivisionByZero))
		}
		if entry.NodeID == "s1-write" && entry.To == core.StatusCompleted {
			writeDone = true
		}
	}
	assert.True(t, calcFailed)
	assert.True(t, writeDone)
	require.Len(t, rec.Artifact.Sections, 1)
	assert.NotEmpty(t, rec.Artifact.UngroundedClaims())
}

func TestEngine_PlanApproval(t *testing.T) {
	e, _ := newEngine(t)
	goal := qaGoal()
	goal.Checkpoints.PlanApproval = true
	ctx := context.Background()

	id, err := e.Submit(ctx, goal)
	require.NoError(t, err)
	awaitCheckpoint(t, e, id, checkpoint.PlanNodeID)

	st, err := e.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, st.CurrentCheckpoint.Payload, "write (write)")

	_, err = e.ResolveCheckpoint(ctx, id, checkpoint.PlanNodeID, core.DecisionApproved, nil, "alice")
	require.NoError(t, err)

	st = wait(t, e, id)
	assert.Equal(t, core.RequestCompleted, st.State)

	rec, err := e.Result(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, rec.Artifact.CheckpointHistory)
	assert.Equal(t, checkpoint.PlanNodeID, rec.Artifact.CheckpointHistory[0].NodeID)
	assert.Equal(t, "alice", rec.Artifact.CheckpointHistory[0].DecidedBy)
}

func TestEngine_PlanRejectedFails(t *testing.T) {
	e, _ := newEngine(t)
	goal := qaGoal()
	goal.Checkpoints.PlanApproval = true
	ctx := context.Background()

	id, err := e.Submit(ctx, goal)
	require.NoError(t, err)
	awaitCheckpoint(t, e, id, checkpoint.PlanNodeID)

	_, err = e.ResolveCheckpoint(ctx, id, checkpoint.PlanNodeID, core.DecisionRejected, nil, "bob")
	require.NoError(t, err)

	st := wait(t, e, id)
	assert.Equal(t, core.RequestFailed, st.State)

	rec, err := e.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.CheckpointRejected, rec.ErrorKind)
}

func TestEngine_SignOffEditRegroundsAndReevaluates(t *testing.T) {
	e, _ := newEngine(t)
	goal := qaGoal()
	goal.Checkpoints.SignOff = true
	ctx := context.Background()

	id, err := e.Submit(ctx, goal)
	require.NoError(t, err)
	awaitCheckpoint(t, e, id, checkpoint.SignOffNodeID)

	_, err = e.ResolveCheckpoint(ctx, id, checkpoint.SignOffNodeID, core.DecisionEdited,
		map[string]string{"Answer": "Revenue grew strongly [E1]. Margins will double next year."}, "carol")
	require.NoError(t, err)

	st := wait(t, e, id)
	assert.Equal(t, core.RequestCompletedWithWarnings, st.State)

	rec, err := e.Result(ctx, id)
	require.NoError(t, err)
	art := rec.Artifact
	assert.Equal(t, 2, art.Version)
	assert.Equal(t, core.ArtifactApproved, art.Status)

	claims := art.Sections[0].Claims
	require.Len(t, claims, 2)
	assert.False(t, claims[0].Ungrounded)
	assert.True(t, claims[1].Ungrounded)

	require.NotNil(t, art.Evaluation)
	assert.Equal(t, 2, art.Evaluation.ArtifactVersion)
	assert.True(t, art.Evaluation.HallucinationDetected)

	last := art.CheckpointHistory[len(art.CheckpointHistory)-1]
	assert.Equal(t, core.DecisionEdited, last.Decision)
}

func TestEngine_CancelWhileAwaitingApproval(t *testing.T) {
	e, _ := newEngine(t)
	goal := qaGoal()
	goal.Checkpoints.PlanApproval = true
	ctx := context.Background()

	id, err := e.Submit(ctx, goal)
	require.NoError(t, err)
	awaitCheckpoint(t, e, id, checkpoint.PlanNodeID)

	require.NoError(t, e.Cancel(ctx, id))

	st := wait(t, e, id)
	assert.Equal(t, core.RequestCancelled, st.State)
	assert.ErrorIs(t, e.Cancel(ctx, id), ErrRequestFinished)

	_, err = e.ResolveCheckpoint(ctx, id, checkpoint.PlanNodeID, core.DecisionApproved, nil, "late")
	assert.Error(t, err)
}

func TestEngine_QueueMode(t *testing.T) {
	q := queue.NewMemoryQueue(4)
	var mu sync.Mutex
	var completed []core.RequestState
	cbs := NewCallbackManager()
	cbs.RegisterCallback(NewFunctionCallback(CallbackOnComplete, func(_ context.Context, c *CallbackContext) error {
		mu.Lock()
		defer mu.Unlock()
		completed = append(completed, c.State)
		return nil
	}))
	e, _ := newEngine(t, func(o *Options) {
		o.Queue = q
		o.Callbacks = cbs
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()

	id, err := e.Submit(context.Background(), qaGoal())
	require.NoError(t, err)

	st := wait(t, e, id)
	assert.Equal(t, core.RequestCompleted, st.State)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(completed) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, core.RequestCompleted, completed[0])
	mu.Unlock()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestEngine_StartWithoutQueue(t *testing.T) {
	e, _ := newEngine(t)
	assert.ErrorIs(t, e.Start(context.Background()), ErrNoQueue)
}

func TestEngine_CancelQueuedRequestIsSkipped(t *testing.T) {
	q := queue.NewMemoryQueue(4)
	e, _ := newEngine(t, func(o *Options) { o.Queue = q })
	ctx := context.Background()

	id, err := e.Submit(ctx, qaGoal())
	require.NoError(t, err)
	require.NoError(t, e.Cancel(ctx, id))

	st, err := e.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.RequestCancelled, st.State)

	require.NoError(t, e.process(ctx, id))
	st, err = e.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.RequestCancelled, st.State)
}
