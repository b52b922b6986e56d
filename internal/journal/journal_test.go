package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "state", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRunLifecycle(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rec := RunRecord{ID: "run-1", Verb: "upgrade", Status: "running", Cursor: -1, FailedStep: -1, Snapshot: "snapshot_x", StartedAt: started}
	require.NoError(t, j.BeginRun(ctx, rec))

	require.NoError(t, j.RecordStep(ctx, "run-1", StepRecord{Index: 0, Name: "check connectivity", OK: true, Attempts: 1, Duration: 1500 * time.Millisecond}))
	require.NoError(t, j.RecordStep(ctx, "run-1", StepRecord{Index: 1, Name: "start routing service", OK: false, Error: "probe failed", Attempts: 3}))

	rec.Status = "rolled_back"
	rec.Cursor = 1
	rec.FailedStep = 1
	rec.FailedName = "start routing service"
	rec.Outcome = "recovered"
	rec.EndedAt = started.Add(time.Minute)
	require.NoError(t, j.UpdateRun(ctx, rec))

	got, err := j.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "rolled_back", got.Status)
	assert.Equal(t, 1, got.FailedStep)
	assert.Equal(t, "recovered", got.Outcome)
	assert.True(t, got.StartedAt.Equal(started))
	assert.True(t, got.EndedAt.Equal(started.Add(time.Minute)))

	steps, err := j.Steps(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.True(t, steps[0].OK)
	assert.Equal(t, 1500*time.Millisecond, steps[0].Duration)
	assert.False(t, steps[1].OK)
	assert.Equal(t, 3, steps[1].Attempts)
}

func TestLatestAndListOrder(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := j.LatestRun(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, j.BeginRun(ctx, RunRecord{ID: id, Verb: "install", Status: "succeeded", StartedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	latest, err := j.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)

	runs, err := j.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[1].ID)
}

func TestInterruptedRuns(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, j.BeginRun(ctx, RunRecord{ID: "done", Verb: "install", Status: "succeeded", StartedAt: now}))
	require.NoError(t, j.BeginRun(ctx, RunRecord{ID: "crashed", Verb: "upgrade", Status: "running", StartedAt: now.Add(time.Second)}))

	runs, err := j.Interrupted(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "crashed", runs[0].ID)

	require.NoError(t, j.MarkAbandoned(ctx, "crashed", "superseded by --rollback"))
	runs, err = j.Interrupted(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.ErrorIs(t, j.MarkAbandoned(ctx, "crashed", "again"), ErrNotFound)
}

func TestUpdateUnknownRun(t *testing.T) {
	j := openTemp(t)
	err := j.UpdateRun(context.Background(), RunRecord{ID: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = j.GetRun(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordStepRequiresRun(t *testing.T) {
	j := openTemp(t)
	err := j.RecordStep(context.Background(), "ghost", StepRecord{Index: 0, Name: "x"})
	assert.Error(t, err)
}
