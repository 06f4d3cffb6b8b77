package runstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/inkpress-ai/inkpress/internal/run"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStoreWithClient(client, zaptest.NewLogger(t)), mr
}

func testInputs() run.Inputs {
	return run.Inputs{
		Document:  "PRD body",
		Tone:      "professional",
		Audience:  "engineers",
		WordCount: 800,
		ModelName: "groq/llama-3.1-8b-instant",
	}
}

func TestCreateAndLoadRoundtrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "r1", testInputs())
	require.NoError(t, err)
	assert.Equal(t, "r1", created.ID)
	assert.Equal(t, run.StatusPending, created.Status)
	assert.Empty(t, created.Steps.Drafts)
	require.Len(t, created.Logs, 1)
	assert.Contains(t, created.Logs[0], "Run initialised")

	loaded, err := store.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, created.Inputs, loaded.Inputs)
	assert.False(t, loaded.CreatedAt.IsZero())
}

func TestLoadMissingRun(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Load(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, run.ErrRunNotFound)
}

func TestAppendSequencesKeepOrder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "r1", testInputs())
	require.NoError(t, err)

	require.NoError(t, store.AppendToSequence(ctx, "r1", "drafts", run.Draft{Iteration: 1, Text: "first"}))
	require.NoError(t, store.AppendToSequence(ctx, "r1", "drafts", run.Draft{Iteration: 2, Text: "second"}))
	require.NoError(t, store.AppendToSequence(ctx, "r1", "fact_checks", run.FactCheck{Iteration: 1, Passed: false}))
	require.NoError(t, store.AppendToSequence(ctx, "r1", "fact_checks", run.FactCheck{Iteration: 2, Passed: true}))

	loaded, err := store.Load(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, loaded.Steps.Drafts, 2)
	assert.Equal(t, "first", loaded.Steps.Drafts[0].Text)
	assert.Equal(t, "second", loaded.Steps.Drafts[1].Text)
	require.Len(t, loaded.Steps.FactChecks, 2)
	assert.False(t, loaded.Steps.FactChecks[0].Passed)
	assert.True(t, loaded.Steps.FactChecks[1].Passed)

	latest := loaded.LatestDraft()
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.Iteration)
}

func TestAppendToSequenceRejectsBadTargets(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "r1", testInputs())
	require.NoError(t, err)

	err = store.AppendToSequence(ctx, "r1", "final", run.Draft{})
	assert.ErrorIs(t, err, run.ErrNotSequence)

	err = store.AppendToSequence(ctx, "r1", "drafts", "not a draft")
	assert.ErrorIs(t, err, run.ErrNotSequence)

	// Rejected appends must not corrupt state.
	loaded, err := store.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, loaded.Steps.Drafts)
}

func TestSetStatusKeepsErrorOnlyWhenProvided(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "r1", testInputs())
	require.NoError(t, err)

	require.NoError(t, store.SetStatus(ctx, "r1", run.StatusError, "stage writer failed"))
	loaded, _ := store.Load(ctx, "r1")
	assert.Equal(t, run.StatusError, loaded.Status)
	assert.Equal(t, "stage writer failed", loaded.Error)

	require.NoError(t, store.SetStatus(ctx, "r1", run.StatusRunning, ""))
	loaded, _ = store.Load(ctx, "r1")
	assert.Equal(t, run.StatusRunning, loaded.Status)
	assert.Equal(t, "stage writer failed", loaded.Error)
}

func TestSetResearchReplacesCitationsWholesale(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "r1", testInputs())
	require.NoError(t, err)

	first := run.Research{Sources: []run.Source{
		{ID: "S1", Title: "One", URL: "https://one"},
		{ID: "S2", Title: "Two", URL: "https://two"},
	}}
	require.NoError(t, store.SetResearch(ctx, "r1", first))

	second := run.Research{Sources: []run.Source{
		{ID: "S1", Title: "One v2", URL: "https://one-v2"},
	}}
	require.NoError(t, store.SetResearch(ctx, "r1", second))

	loaded, err := store.Load(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, loaded.Citations, 1)
	assert.Equal(t, "One v2", loaded.Citations[0].Title)
	assert.Equal(t, "https://one-v2", loaded.Citations[0].URL)
}

func TestSetRubricStoresGateSnapshot(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "r1", testInputs())
	require.NoError(t, err)

	rubric := run.Rubric{
		Scores:   run.RubricScores{Clarity: 4, Correctness: 4.5, Completeness: 4, Overall: 4.17, ScaleMin: 1, ScaleMax: 5},
		Passed:   true,
		Attempts: 1,
	}
	gate := run.QualityGate{Passed: true, Attempts: 1, Scores: rubric.Scores}
	require.NoError(t, store.SetRubric(ctx, "r1", rubric, gate))

	loaded, err := store.Load(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, loaded.Steps.Rubric)
	assert.True(t, loaded.Steps.Rubric.Passed)
	require.NotNil(t, loaded.QualityGate)
	assert.Equal(t, 1, loaded.QualityGate.Attempts)
	assert.InDelta(t, 4.17, loaded.QualityGate.Scores.Overall, 0.001)
}

func TestAppendFeedbackAddsEntryAndLog(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "r1", testInputs())
	require.NoError(t, err)

	require.NoError(t, store.AppendFeedback(ctx, "r1", run.StageWriter, "tighten the intro"))

	loaded, err := store.Load(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, loaded.Feedback, 1)
	assert.Equal(t, run.StageWriter, loaded.Feedback[0].Stage)
	assert.Equal(t, "tighten the intro", loaded.Feedback[0].Feedback)
	assert.False(t, loaded.Feedback[0].Timestamp.IsZero())
	assert.Contains(t, loaded.Logs[len(loaded.Logs)-1], "User feedback added for stage: writer")
}

func TestAppendLogMirrorsToStream(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "r1", testInputs())
	require.NoError(t, err)

	require.NoError(t, store.AppendLog(ctx, "r1", "Step 1: Researcher starting"))
	require.NoError(t, store.AppendLog(ctx, "r1", "Research done - 2 sources found"))

	loaded, err := store.Load(ctx, "r1")
	require.NoError(t, err)
	// Create writes one line; two more were appended.
	require.Len(t, loaded.Logs, 3)
	assert.Contains(t, loaded.Logs[1], "Step 1: Researcher starting")
	assert.Contains(t, loaded.Logs[2], "Research done - 2 sources found")

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	entries, err := client.XRange(ctx, "run:r1:log", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, entry := range entries {
		assert.Equal(t, loaded.Logs[i], entry.Values["message"])
	}
}
