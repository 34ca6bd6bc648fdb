package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/voxcut/voxcut/internal/checkpoint"
	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/media"
	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/observability"
	"github.com/voxcut/voxcut/internal/resource"
)

// Collaborators are the external workers the stages delegate to.
type Collaborators struct {
	Fetcher     media.Fetcher
	Extractor   media.AudioExtractor
	Transcriber media.Transcriber
	Editor      media.VideoEditor
	Analyzer    Analyzer
	Translator  Translator
}

// Recorder persists completed runs into the library. Recording failures are
// logged, never fatal to the run.
type Recorder interface {
	RecordRun(ctx context.Context, p *models.Project) error
}

type activeRun struct {
	cancel      context.CancelFunc
	selectionCh chan models.Selection
}

// Coordinator owns run lifecycles: it opens the checkpoint, drives the stage
// sequence with the configured retry budget, and exposes cancel and
// selection entry points for in-flight runs.
type Coordinator struct {
	cfg      *config.Config
	store    *checkpoint.Store
	collab   Collaborators
	gate     *resource.Gate
	recorder Recorder
	progress ProgressFunc
	logger   *slog.Logger

	mu   sync.Mutex
	runs map[string]*activeRun
}

// NewCoordinator wires a coordinator over the checkpoint store.
func NewCoordinator(cfg *config.Config, store *checkpoint.Store, collab Collaborators, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		store:  store,
		collab: collab,
		logger: observability.WithComponent(logger, "coordinator"),
		runs:   make(map[string]*activeRun),
	}
}

// SetGate enables resource admission for encode-heavy stages.
func (c *Coordinator) SetGate(g *resource.Gate) { c.gate = g }

// SetRecorder enables library recording of completed runs.
func (c *Coordinator) SetRecorder(r Recorder) { c.recorder = r }

// SetProgressFunc installs the progress callback for subsequent runs.
func (c *Coordinator) SetProgressFunc(fn ProgressFunc) { c.progress = fn }

// Store exposes the underlying checkpoint store for listing and inspection.
func (c *Coordinator) Store() *checkpoint.Store { return c.store }

func (c *Coordinator) stages() map[models.Stage]Stage {
	return map[models.Stage]Stage{
		models.StageFetch:          &fetchStage{fetcher: c.collab.Fetcher},
		models.StageExtractAudio:   &extractStage{extractor: c.collab.Extractor},
		models.StageTranscribe:     &transcribeStage{transcriber: c.collab.Transcriber},
		models.StageAnalyze:        &analyzeStage{analyzer: c.collab.Analyzer},
		models.StageAwaitSelection: &awaitStage{},
		models.StageTranslate:      &translateStage{translator: c.collab.Translator},
		models.StageSubtitles:      &subtitlesStage{},
		models.StageEdit:           &editStage{editor: c.collab.Editor, gate: c.gate},
		models.StageExport:         &exportStage{outputDir: c.cfg.Media.OutputDir},
	}
}

// Run starts a fresh run for the URL and drives it to completion. The
// returned error is always a *models.PipelineError on failure.
func (c *Coordinator) Run(ctx context.Context, url string, opts RunOptions) (*models.Project, error) {
	st, handle, err := c.prepare(url, opts)
	if err != nil {
		return nil, err
	}
	return c.drive(ctx, st, handle)
}

// StartRun begins a fresh run in the background and returns its id as soon
// as the initial checkpoint is written. Used by the status API when voxcut
// runs as a daemon.
func (c *Coordinator) StartRun(ctx context.Context, url string, opts RunOptions) (models.RunID, error) {
	st, handle, err := c.prepare(url, opts)
	if err != nil {
		return models.RunID{}, err
	}
	go func() {
		if _, err := c.drive(ctx, st, handle); err != nil {
			c.logger.Error("background run failed", "run_id", st.RunID, "error", err)
		}
	}()
	return st.RunID, nil
}

func (c *Coordinator) prepare(url string, opts RunOptions) (*State, *checkpoint.Handle, error) {
	runID := models.NewRunID()
	handle, err := c.store.Open(runID)
	if err != nil {
		return nil, nil, models.NewPipelineError(checkpoint.ClassifyError(err), models.StagePending, err)
	}

	snapshot, err := json.Marshal(c.cfg)
	if err != nil {
		_ = handle.Close()
		return nil, nil, models.NewPipelineError(models.ErrKindCorruptState, models.StagePending, err)
	}
	cp := models.NewCheckpoint(runID, snapshot)
	if err := cp.SetArtifact(artifactSourceURL, url); err != nil {
		_ = handle.Close()
		return nil, nil, models.NewPipelineError(models.ErrKindCorruptState, models.StagePending, err)
	}

	st := c.newState(runID, handle, cp, opts)
	st.SourceURL = url
	st.Project.SourceURL = url
	if err := st.save(); err != nil {
		_ = handle.Close()
		return nil, nil, models.NewPipelineError(checkpoint.ClassifyError(err), models.StagePending, err)
	}
	return st, handle, nil
}

// Resume reopens an interrupted run and continues from its checkpointed
// stage. Completed stages and items are not repeated.
func (c *Coordinator) Resume(ctx context.Context, runID models.RunID, opts RunOptions) (*models.Project, error) {
	handle, err := c.store.Open(runID)
	if err != nil {
		return nil, models.NewPipelineError(checkpoint.ClassifyError(err), models.StagePending, err)
	}
	cp, err := handle.Load()
	if err != nil {
		_ = handle.Close()
		return nil, models.NewPipelineError(checkpoint.ClassifyError(err), models.StagePending, err)
	}
	if cp.IsTerminal() {
		_ = handle.Close()
		return nil, models.NewPipelineError(models.ErrKindInvalidInput, cp.Stage,
			fmt.Errorf("run %s already finished as %s", runID, cp.Stage))
	}

	st := c.newState(runID, handle, cp, opts)
	st.Project.StartedAt = cp.CreatedAt
	if err := st.restore(); err != nil {
		_ = handle.Close()
		return nil, models.NewPipelineError(models.ErrKindCorruptState, cp.Stage, err)
	}
	c.logger.Info("resuming run", "run_id", runID, "stage", cp.Stage,
		"completed_items", len(cp.CompletedItems))
	return c.drive(ctx, st, handle)
}

// Cancel aborts an in-flight run. The checkpoint keeps everything completed
// so far, so a later Resume picks up where the cancel landed. Cancelling a
// run that is not active returns ErrUnknownRun.
func (c *Coordinator) Cancel(runID models.RunID) error {
	c.mu.Lock()
	ar, ok := c.runs[runID.String()]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s: %w", runID, ErrUnknownRun)
	}
	ar.cancel()
	return nil
}

// SubmitSelection hands the curated selection to a run blocked in the await
// stage. It validates shape here so the submitter gets the error, not the
// run.
func (c *Coordinator) SubmitSelection(runID models.RunID, sel models.Selection) error {
	if sel.Empty() {
		return fmt.Errorf("selection for run %s is empty", runID)
	}
	for _, seg := range sel.EditSegments {
		if err := seg.Validate(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	ar, ok := c.runs[runID.String()]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s: %w", runID, ErrUnknownRun)
	}
	select {
	case ar.selectionCh <- sel:
		return nil
	default:
		return fmt.Errorf("run %s: %w", runID, ErrNotAwaiting)
	}
}

// ActiveRuns lists the runs currently executing in this process.
func (c *Coordinator) ActiveRuns() []models.RunID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.RunID, 0, len(c.runs))
	for id := range c.runs {
		rid, err := models.ParseRunID(id)
		if err != nil {
			continue
		}
		out = append(out, rid)
	}
	return out
}

func (c *Coordinator) newState(runID models.RunID, handle *checkpoint.Handle, cp *models.Checkpoint, opts RunOptions) *State {
	return &State{
		RunID:       runID,
		Options:     opts,
		Config:      c.cfg,
		Project:     &models.Project{RunID: runID, StartedAt: time.Now().UTC()},
		Logger:      c.logger.With("run_id", runID),
		handle:      handle,
		cp:          cp,
		progress:    newProgressSink(runID, combineProgress(c.progress, opts.Progress)),
		selectionCh: make(chan models.Selection),
	}
}

func (c *Coordinator) drive(ctx context.Context, st *State, handle *checkpoint.Handle) (*models.Project, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	key := st.RunID.String()
	c.mu.Lock()
	c.runs[key] = &activeRun{cancel: cancel, selectionCh: st.selectionCh}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.runs, key)
		c.mu.Unlock()
		if err := handle.Close(); err != nil {
			c.logger.Warn("closing checkpoint handle", "run_id", st.RunID, "error", err)
		}
	}()

	stages := c.stages()
	if st.cp.Stage == models.StagePending {
		st.cp.AdvanceStage(models.StageFetch)
		if err := st.save(); err != nil {
			return nil, models.NewPipelineError(checkpoint.ClassifyError(err), models.StageFetch, err)
		}
	}

	for !st.cp.Stage.IsTerminal() {
		stage, ok := stages[st.cp.Stage]
		if !ok {
			err := fmt.Errorf("checkpoint names unknown stage %q", st.cp.Stage)
			return nil, models.NewPipelineError(models.ErrKindCorruptState, st.cp.Stage, err)
		}

		st.progress.publish(stage.ID(), st.cp.StageProgress, "starting "+stage.Name(), true)
		done := observability.TimedOperation(runCtx, st.Logger, "stage "+stage.Name())
		err := c.runStage(runCtx, stage, st)
		done()
		if err != nil {
			return nil, c.fail(st, stage.ID(), err)
		}

		st.progress.publish(stage.ID(), 1, stage.Name()+" complete", true)
		st.cp.AdvanceStage(st.cp.Stage.Next())
		if err := st.save(); err != nil {
			return nil, c.fail(st, stage.ID(), err)
		}
	}

	st.Project.CompletedAt = time.Now().UTC()
	st.progress.publish(models.StageCompleted, 1, "run complete", true)
	if c.recorder != nil {
		if err := c.recorder.RecordRun(ctx, st.Project); err != nil {
			c.logger.Warn("recording run in library", "run_id", st.RunID, "error", err)
		}
	}
	if c.cfg.Checkpoint.CleanupOnSuccess {
		if err := handle.Delete(); err != nil {
			c.logger.Warn("deleting checkpoint after success", "run_id", st.RunID, "error", err)
		}
	}
	return st.Project, nil
}

// fail persists the failure on the checkpoint so the run can be resumed,
// then wraps the cause as a PipelineError.
func (c *Coordinator) fail(st *State, stage models.Stage, err error) error {
	kind := classifyError(err)
	st.cp.LastError = err.Error()
	if saveErr := st.save(); saveErr != nil {
		c.logger.Error("persisting failure checkpoint", "run_id", st.RunID, "error", saveErr)
	}
	if !c.cfg.Checkpoint.KeepTempOnFailure && kind != models.ErrKindCancelled {
		if tmp, terr := st.handle.TempDir(); terr == nil {
			if rmErr := os.RemoveAll(tmp); rmErr != nil {
				c.logger.Warn("removing scratch dir", "run_id", st.RunID, "error", rmErr)
			}
		}
	}
	c.logger.Error("run failed", "run_id", st.RunID, "stage", stage, "kind", kind, "error", err)
	return models.NewPipelineError(kind, stage, err)
}

// runStage executes one stage with the retry budget. Only retryable kinds
// consume budget; cancellation and invalid input surface immediately.
func (c *Coordinator) runStage(ctx context.Context, stage Stage, st *State) error {
	budget := c.cfg.Stage.RetryBudget
	for attempt := 0; ; attempt++ {
		stageCtx := ctx
		cancel := context.CancelFunc(func() {})
		if d := c.cfg.Stage.Timeout; d > 0 && stage.ID() != models.StageAwaitSelection {
			stageCtx, cancel = context.WithTimeout(ctx, d)
		}
		result, err := stage.Execute(stageCtx, st)
		timedOut := errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()

		if err == nil {
			if result != nil {
				st.Logger.Info("stage complete", "stage", stage.Name(),
					"summary", result.Summary, "partial", result.Partial)
			}
			stage.Cleanup(ctx, st)
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if timedOut {
			err = fmt.Errorf("%w: stage %s after %s: %v", ErrStageTimeout, stage.Name(), c.cfg.Stage.Timeout, err)
		}

		kind := classifyError(err)
		if !kind.Retryable() || attempt >= budget {
			stage.Cleanup(ctx, st)
			return err
		}

		st.cp.RetryCount = attempt + 1
		st.cp.LastError = err.Error()
		if saveErr := st.save(); saveErr != nil {
			return saveErr
		}
		delay := models.DefaultBackoffDelay(attempt)
		st.Logger.Warn("stage attempt failed, backing off", "stage", stage.Name(),
			"attempt", attempt+1, "delay", delay, "kind", kind, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
