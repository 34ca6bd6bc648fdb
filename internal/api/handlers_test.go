package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcut/voxcut/internal/checkpoint"
	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/pipeline"
	"github.com/voxcut/voxcut/pkg/httpclient"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeController struct {
	active    []models.RunID
	startErr  error
	submitErr error
	cancelErr error

	started    []string
	startOpts  *pipeline.RunOptions
	submitted  *models.Selection
	cancelled  []models.RunID
	submitRuns []models.RunID
}

func (f *fakeController) StartRun(ctx context.Context, url string, opts pipeline.RunOptions) (models.RunID, error) {
	if f.startErr != nil {
		return models.RunID{}, f.startErr
	}
	f.started = append(f.started, url)
	f.startOpts = &opts
	return models.NewRunID(), nil
}

func (f *fakeController) SubmitSelection(runID models.RunID, sel models.Selection) error {
	f.submitRuns = append(f.submitRuns, runID)
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = &sel
	return nil
}

func (f *fakeController) Cancel(runID models.RunID) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, runID)
	return nil
}

func (f *fakeController) ActiveRuns() []models.RunID {
	return f.active
}

func testStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	store, err := checkpoint.NewStore(t.TempDir(), discardLogger())
	require.NoError(t, err)
	return store
}

// seedRun persists an incomplete checkpoint mid-transcription.
func seedRun(t *testing.T, store *checkpoint.Store) models.RunID {
	t.Helper()
	runID := models.NewRunID()
	handle, err := store.Open(runID)
	require.NoError(t, err)
	defer handle.Close()

	cp := models.NewCheckpoint(runID, nil)
	cp.AdvanceStage(models.StageFetch)
	cp.AdvanceStage(models.StageExtractAudio)
	cp.AdvanceStage(models.StageTranscribe)
	cp.StageProgress = 0.5
	cp.CompletedItems.Add("chunk-1")
	cp.CurrentItem = "chunk-2"
	require.NoError(t, cp.SetArtifact("video", models.VideoArtifact{Path: "/tmp/v.mp4"}))
	require.NoError(t, cp.SetArtifact("audio", models.AudioArtifact{Path: "/tmp/a.wav"}))
	require.NoError(t, handle.Save(cp))
	return runID
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	return se.GetStatus()
}

func TestGetHealthReportsCounters(t *testing.T) {
	ctrl := &fakeController{active: []models.RunID{models.NewRunID()}}
	h := NewHandler(testStore(t), ctrl).
		WithCircuitStats(func() map[string]httpclient.CircuitBreakerStats {
			return map[string]httpclient.CircuitBreakerStats{
				"ollama": {State: httpclient.CircuitClosed},
			}
		})

	out, err := h.getHealth(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Body.Status)
	assert.Equal(t, 1, out.Body.ActiveRuns)
	assert.GreaterOrEqual(t, out.Body.UptimeSeconds, 0.0)
	assert.Equal(t, httpclient.CircuitClosed, out.Body.CircuitBreakers["ollama"].State)
	assert.Nil(t, out.Body.Resources)
	assert.Nil(t, out.Body.Gate)
}

func TestListRunsMarksActiveRuns(t *testing.T) {
	store := testStore(t)
	activeID := seedRun(t, store)
	idleID := seedRun(t, store)

	ctrl := &fakeController{active: []models.RunID{activeID}}
	h := NewHandler(store, ctrl)

	out, err := h.listRuns(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out.Body.Incomplete, 2)

	byID := make(map[string]RunSummary)
	for _, s := range out.Body.Incomplete {
		byID[s.RunID] = s
	}
	assert.True(t, byID[activeID.String()].Active)
	assert.False(t, byID[idleID.String()].Active)
	assert.Equal(t, "transcribe", byID[activeID.String()].Stage)
	assert.Greater(t, byID[activeID.String()].Overall, 0.0)
}

func TestGetRunReturnsCheckpointDetail(t *testing.T) {
	store := testStore(t)
	runID := seedRun(t, store)

	h := NewHandler(store, &fakeController{})
	out, err := h.getRun(context.Background(), &runInput{ID: runID.String()})
	require.NoError(t, err)

	assert.Equal(t, runID.String(), out.Body.RunID)
	assert.Equal(t, "transcribe", out.Body.Stage)
	assert.InDelta(t, 0.5, out.Body.StageProgress, 0.001)
	assert.Equal(t, []string{"chunk-1"}, out.Body.CompletedItems)
	assert.Equal(t, "chunk-2", out.Body.CurrentItem)
	assert.Equal(t, []string{"audio", "video"}, out.Body.Artifacts)
	assert.False(t, out.Body.Active)
}

func TestGetRunUnknownAndInvalidIDs(t *testing.T) {
	h := NewHandler(testStore(t), &fakeController{})

	_, err := h.getRun(context.Background(), &runInput{ID: models.NewRunID().String()})
	assert.Equal(t, 404, statusOf(t, err))

	_, err = h.getRun(context.Background(), &runInput{ID: "not-a-ulid"})
	assert.Equal(t, 400, statusOf(t, err))
}

func TestSubmitSelectionMapsCoordinatorErrors(t *testing.T) {
	runID := models.NewRunID()
	sel := models.Selection{HighlightIndexes: []int{0}}

	tests := []struct {
		name       string
		submitErr  error
		wantStatus int
	}{
		{"unknown run", pipeline.ErrUnknownRun, 404},
		{"not awaiting", pipeline.ErrNotAwaiting, 409},
		{"invalid selection", errors.New("segment 1: start after end"), 422},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{submitErr: tt.submitErr}
			h := NewHandler(testStore(t), ctrl)

			input := &selectionInput{ID: runID.String(), Body: sel}
			_, err := h.submitSelection(context.Background(), input)
			assert.Equal(t, tt.wantStatus, statusOf(t, err))
		})
	}
}

func TestSubmitSelectionAccepted(t *testing.T) {
	ctrl := &fakeController{}
	h := NewHandler(testStore(t), ctrl)

	runID := models.NewRunID()
	sel := models.Selection{HighlightIndexes: []int{1, 2}, TargetLanguages: []string{"es"}}
	out, err := h.submitSelection(context.Background(), &selectionInput{ID: runID.String(), Body: sel})
	require.NoError(t, err)
	assert.Equal(t, "accepted", out.Body.Status)
	require.NotNil(t, ctrl.submitted)
	assert.Equal(t, sel, *ctrl.submitted)
	assert.Equal(t, []models.RunID{runID}, ctrl.submitRuns)
}

func TestCancelRun(t *testing.T) {
	runID := models.NewRunID()

	ctrl := &fakeController{}
	h := NewHandler(testStore(t), ctrl)
	out, err := h.cancelRun(context.Background(), &runInput{ID: runID.String()})
	require.NoError(t, err)
	assert.Equal(t, "cancelling", out.Body.Status)
	assert.Equal(t, []models.RunID{runID}, ctrl.cancelled)

	ctrl = &fakeController{cancelErr: pipeline.ErrUnknownRun}
	h = NewHandler(testStore(t), ctrl)
	_, err = h.cancelRun(context.Background(), &runInput{ID: runID.String()})
	assert.Equal(t, 404, statusOf(t, err))
}

func TestStartRunLaunchesBackgroundRun(t *testing.T) {
	ctrl := &fakeController{}
	h := NewHandler(testStore(t), ctrl)

	input := &startRunInput{}
	input.Body.URL = "https://youtube.com/watch?v=abc123def45"
	input.Body.Languages = []string{"de"}
	input.Body.AutoSelectTop = 3

	out, err := h.startRun(context.Background(), input)
	require.NoError(t, err)

	_, err = models.ParseRunID(out.Body.RunID)
	assert.NoError(t, err)
	assert.Equal(t, []string{"https://youtube.com/watch?v=abc123def45"}, ctrl.started)
	require.NotNil(t, ctrl.startOpts)
	assert.Equal(t, []string{"de"}, ctrl.startOpts.Languages)
	assert.Equal(t, 3, ctrl.startOpts.AutoSelectTop)
}

func TestStartRunRejectsFailedStart(t *testing.T) {
	ctrl := &fakeController{startErr: errors.New("state root unwritable")}
	h := NewHandler(testStore(t), ctrl)

	input := &startRunInput{}
	input.Body.URL = "https://youtube.com/watch?v=abc123def45"

	_, err := h.startRun(context.Background(), input)
	assert.Equal(t, 422, statusOf(t, err))
}
