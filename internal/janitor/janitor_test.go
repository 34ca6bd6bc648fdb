package janitor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
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

func janitorConfig(stateRoot string, expire time.Duration) *config.Config {
	cfg := &config.Config{}
	cfg.StateRoot = stateRoot
	cfg.Checkpoint.ExpireAfter = expire
	cfg.Janitor.Schedule = "@hourly"
	return cfg
}

type fakeSweeper struct {
	mu      sync.Mutex
	calls   int
	removed int
	err     error
}

func (f *fakeSweeper) Sweep(maxAge time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.removed, f.err
}

func (f *fakeSweeper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSweepNowRemovesStaleOrphans(t *testing.T) {
	root := t.TempDir()
	old := time.Now().Add(-48 * time.Hour)

	stale := filepath.Join(root, "scratch-download")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := filepath.Join(root, "scratch-active")
	require.NoError(t, os.MkdirAll(fresh, 0o755))

	// Run directories are left to the checkpoint store even when old.
	runDir := filepath.Join(root, models.NewRunID().String())
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.Chtimes(runDir, old, old))

	j := New(&fakeSweeper{}, janitorConfig(root, 0), discardLogger())
	report, err := j.SweepNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrphansRemoved)

	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, runDir)
}

func TestSweepNowExpiresAbandonedRuns(t *testing.T) {
	root := t.TempDir()
	store, err := checkpoint.NewStore(root, discardLogger())
	require.NoError(t, err)

	// An unreadable checkpoint in an old run directory counts as
	// abandoned state.
	runID := models.NewRunID()
	runDir := filepath.Join(root, runID.String())
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "checkpoint.json"), []byte("{broken"), 0o644))
	old := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(runDir, old, old))

	j := New(store, janitorConfig(root, 24*time.Hour), discardLogger())
	report, err := j.SweepNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.ExpiredRuns)
	assert.NoDirExists(t, runDir)
}

func TestSweepNowSkipsExpirationWhenDisabled(t *testing.T) {
	sweeper := &fakeSweeper{removed: 3}
	j := New(sweeper, janitorConfig(t.TempDir(), 0), discardLogger())

	report, err := j.SweepNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.ExpiredRuns)
	assert.Equal(t, 1, sweeper.callCount())
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	cfg := janitorConfig(t.TempDir(), 0)
	cfg.Janitor.Schedule = "every ten minutes"

	j := New(&fakeSweeper{}, cfg, discardLogger())
	err := j.Start(context.Background())
	assert.ErrorContains(t, err, "invalid janitor schedule")
}

func TestStartRunsImmediateSweepAndStops(t *testing.T) {
	sweeper := &fakeSweeper{}
	j := New(sweeper, janitorConfig(t.TempDir(), time.Hour), discardLogger())

	require.NoError(t, j.Start(context.Background()))
	require.Error(t, j.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return sweeper.callCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	j.Stop()
	j.Stop()
}