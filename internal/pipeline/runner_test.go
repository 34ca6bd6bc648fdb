package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcut/voxcut/internal/checkpoint"
	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.StateRoot = t.TempDir()
	cfg.Media.OutputDir = t.TempDir()
	cfg.Media.Quality = "1080p"
	cfg.Media.Subtitle.MaxLineLength = 42
	cfg.Media.Subtitle.MaxLineLengthCJK = 16
	cfg.Media.Subtitle.MaxLines = 2
	cfg.Media.Subtitle.MinDuration = time.Second
	cfg.Media.Subtitle.MaxDuration = 7 * time.Second
	cfg.Media.Subtitle.Gap = 80 * time.Millisecond
	cfg.Translation.MinSuccessRate = 0.9
	cfg.Translation.TargetLanguages = []string{"es"}
	cfg.Stage.RetryBudget = 2
	cfg.Checkpoint.CleanupOnSuccess = true
	cfg.Checkpoint.KeepTempOnFailure = true
	return cfg
}

func newTestState(t *testing.T, cfg *config.Config) *State {
	t.Helper()
	store, err := checkpoint.NewStore(cfg.StateRoot, discardLogger())
	require.NoError(t, err)
	runID := models.NewRunID()
	handle, err := store.Open(runID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = handle.Close() })

	cp := models.NewCheckpoint(runID, nil)
	cp.AdvanceStage(models.StageFetch)
	require.NoError(t, handle.Save(cp))

	return &State{
		RunID:       runID,
		Config:      cfg,
		Project:     &models.Project{RunID: runID},
		Logger:      discardLogger(),
		handle:      handle,
		cp:          cp,
		progress:    newProgressSink(runID, nil),
		selectionCh: make(chan models.Selection),
	}
}

func TestRunItemsPersistsEachCompletion(t *testing.T) {
	st := newTestState(t, testConfig(t))

	var ran []string
	items := []Item{
		{ID: "a", Run: func(ctx context.Context, progress func(float64, string)) error {
			ran = append(ran, "a")
			return nil
		}},
		{ID: "b", Run: func(ctx context.Context, progress func(float64, string)) error {
			ran = append(ran, "b")
			return nil
		}},
	}
	report, err := st.RunItems(context.Background(), items, 1.0, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, ran)
	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 1.0, report.SuccessRate())
	assert.True(t, st.cp.CompletedItems.Has("a"))
	assert.True(t, st.cp.CompletedItems.Has("b"))
	assert.Equal(t, 1.0, st.cp.StageProgress)

	loaded, err := st.handle.Load()
	require.NoError(t, err)
	assert.True(t, loaded.CompletedItems.Has("b"))
}

func TestRunItemsSkipsCompletedItems(t *testing.T) {
	st := newTestState(t, testConfig(t))
	st.cp.CompletedItems.Add("a")

	var ran []string
	items := []Item{
		{ID: "a", Run: func(ctx context.Context, progress func(float64, string)) error {
			ran = append(ran, "a")
			return nil
		}},
		{ID: "b", Run: func(ctx context.Context, progress func(float64, string)) error {
			ran = append(ran, "b")
			return nil
		}},
	}
	report, err := st.RunItems(context.Background(), items, 1.0, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, ran)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Completed)
}

func TestRunItemsCollectsFailuresUntilRateBreached(t *testing.T) {
	st := newTestState(t, testConfig(t))

	boom := errors.New("boom")
	items := []Item{
		{ID: "a", Run: func(ctx context.Context, progress func(float64, string)) error { return nil }},
		{ID: "b", Run: func(ctx context.Context, progress func(float64, string)) error { return boom }},
		{ID: "c", Run: func(ctx context.Context, progress func(float64, string)) error { return nil }},
	}

	report, err := st.RunItems(context.Background(), items, 0.5, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.ErrorIs(t, report.Errors["b"], boom)
	assert.InDelta(t, 2.0/3.0, report.SuccessRate(), 1e-9)

	st2 := newTestState(t, testConfig(t))
	_, err = st2.RunItems(context.Background(), items, 0.9, 0)
	assert.ErrorIs(t, err, ErrItemFailures)
}

func TestRunItemsStopsOnCancellation(t *testing.T) {
	st := newTestState(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())

	var ran []string
	items := []Item{
		{ID: "a", Run: func(ctx context.Context, progress func(float64, string)) error {
			ran = append(ran, "a")
			cancel()
			return nil
		}},
		{ID: "b", Run: func(ctx context.Context, progress func(float64, string)) error {
			ran = append(ran, "b")
			return nil
		}},
	}
	report, err := st.RunItems(ctx, items, 1.0, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, ran)
	assert.Equal(t, 1, report.Completed)
	assert.True(t, st.cp.CompletedItems.Has("a"))
}

func TestRunItemsAppliesItemTimeout(t *testing.T) {
	st := newTestState(t, testConfig(t))

	items := []Item{
		{ID: "slow", Run: func(ctx context.Context, progress func(float64, string)) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		}},
	}
	report, err := st.RunItems(context.Background(), items, 0, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.ErrorIs(t, report.Errors["slow"], context.DeadlineExceeded)
}
