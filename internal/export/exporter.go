// Package export runs batches of pipeline requests with bounded
// parallelism. Each request is a full run (or resume) admitted through the
// resource gate; the batch result always accounts for every submitted
// request.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/observability"
	"github.com/voxcut/voxcut/internal/pipeline"
	"github.com/voxcut/voxcut/internal/resource"
)

var (
	// ErrUnknownRequest means no in-flight request carries that ID.
	ErrUnknownRequest = errors.New("no in-flight request with this id")
	// ErrBatchAborted marks requests never started because an earlier
	// failure stopped the batch.
	ErrBatchAborted = errors.New("batch aborted before this request started")
)

// gateAcquireTimeout bounds how long a request waits for export capacity.
const gateAcquireTimeout = 30 * time.Minute

// Runner drives one request's pipeline. The coordinator satisfies this.
type Runner interface {
	Run(ctx context.Context, url string, opts pipeline.RunOptions) (*models.Project, error)
	Resume(ctx context.Context, runID models.RunID, opts pipeline.RunOptions) (*models.Project, error)
}

// BatchExporter fans requests out over a bounded worker pool. A single
// exporter handles one batch at a time.
type BatchExporter struct {
	runner   Runner
	gate     *resource.Gate
	cfg      config.ExportConfig
	defaults pipeline.RunOptions
	parallel int
	logger   *slog.Logger
	progress BatchProgressFunc

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// BatchProgressEvent is one observation of a batch's advancement: how many
// requests have finished out of the total, plus the live run event of the
// request that produced it. An event marking a request finishing carries a
// zero Run.
type BatchProgressEvent struct {
	RequestID string                 `json:"request_id"`
	Completed int                    `json:"completed"`
	Total     int                    `json:"total"`
	Run       pipeline.ProgressEvent `json:"run"`
}

// BatchProgressFunc receives batch progress events. It is called from
// worker goroutines and must not block.
type BatchProgressFunc func(BatchProgressEvent)

// NewBatchExporter wires an exporter over the runner. The gate may be nil
// when resource admission is disabled.
func NewBatchExporter(runner Runner, gate *resource.Gate, cfg *config.Config, logger *slog.Logger) *BatchExporter {
	parallel := cfg.Resource.MaxParallelExports
	if parallel < 1 {
		parallel = 1
	}
	return &BatchExporter{
		runner:   runner,
		gate:     gate,
		cfg:      cfg.Export,
		parallel: parallel,
		logger:   observability.WithComponent(logger, "exporter"),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// SetDefaultOptions sets run options applied to every request; per-request
// languages and quality still win.
func (b *BatchExporter) SetDefaultOptions(opts pipeline.RunOptions) {
	b.defaults = opts
}

// SetProgressFunc installs the batch progress callback. Set before Export.
func (b *BatchExporter) SetProgressFunc(fn BatchProgressFunc) {
	b.progress = fn
}

// Export processes the batch and returns once every request has finished or
// the batch aborted. Successful plus failed always equals the number of
// submitted requests.
func (b *BatchExporter) Export(ctx context.Context, requests []models.ExportRequest) (*models.ExportResult, error) {
	queue := append([]models.ExportRequest(nil), requests...)
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Priority > queue[j].Priority
	})

	var (
		mu      sync.Mutex
		results = make(map[string]models.ExportItemResult, len(queue))
	)
	record := func(r models.ExportItemResult) {
		mu.Lock()
		results[r.ID] = r
		mu.Unlock()
	}
	emit := func(reqID string, run pipeline.ProgressEvent) {
		if b.progress == nil {
			return
		}
		mu.Lock()
		done := len(results)
		mu.Unlock()
		b.progress(BatchProgressEvent{
			RequestID: reqID,
			Completed: done,
			Total:     len(queue),
			Run:       run,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(b.parallel))
	for _, req := range queue {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			item := b.process(gctx, req, emit)
			record(item)
			emit(req.ID, pipeline.ProgressEvent{})
			if !item.Succeeded() && !b.cfg.ContinueOnError {
				return fmt.Errorf("request %s: %s", req.ID, item.Error)
			}
			return nil
		})
	}
	batchErr := g.Wait()

	result := &models.ExportResult{}
	for _, req := range requests {
		item, ok := results[req.ID]
		if !ok {
			item = models.ExportItemResult{ID: req.ID, Error: ErrBatchAborted.Error()}
		}
		result.Items = append(result.Items, item)
		if item.Succeeded() {
			result.Successful++
		} else {
			result.Failed++
		}
	}
	b.logger.Info("batch finished", "submitted", len(requests),
		"successful", result.Successful, "failed", result.Failed)
	return result, batchErr
}

// process runs one request with the configured retry policy.
func (b *BatchExporter) process(ctx context.Context, req models.ExportRequest, emit func(string, pipeline.ProgressEvent)) models.ExportItemResult {
	item := models.ExportItemResult{ID: req.ID}
	if err := req.Validate(); err != nil {
		item.Error = err.Error()
		return item
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.mu.Lock()
	b.cancels[req.ID] = cancel
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.cancels, req.ID)
		b.mu.Unlock()
	}()

	retries := 0
	if b.cfg.RetryFailed {
		retries = b.cfg.MaxRetries
	}
	opts := b.defaults
	if len(req.Languages) > 0 {
		opts.Languages = req.Languages
	}
	if req.Quality != "" {
		opts.Quality = req.Quality
	}
	opts.Progress = func(ev pipeline.ProgressEvent) {
		emit(req.ID, ev)
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		item.Attempts = attempt + 1
		project, err := b.run(reqCtx, req, opts)
		if err == nil {
			item.DurationS = project.Duration().Seconds()
			if len(project.EditedVideos) > 0 {
				item.Path = project.EditedVideos[0].Path
				item.Bytes = project.EditedVideos[0].Bytes
			}
			return item
		}
		lastErr = err
		if reqCtx.Err() != nil || !models.IsRetryable(err) {
			break
		}
		if attempt < retries {
			delay := models.DefaultBackoffDelay(attempt)
			b.logger.Warn("request failed, retrying", "request", req.ID,
				"attempt", attempt+1, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-reqCtx.Done():
				attempt = retries
			}
		}
	}
	item.Error = lastErr.Error()
	return item
}

func (b *BatchExporter) run(ctx context.Context, req models.ExportRequest, opts pipeline.RunOptions) (*models.Project, error) {
	if b.gate != nil {
		ticket, err := b.gate.Acquire(ctx, resource.JobKindExport, gateAcquireTimeout)
		if err != nil {
			return nil, err
		}
		defer ticket.Release()
	}
	if !req.RunID.IsZero() {
		return b.runner.Resume(ctx, req.RunID, opts)
	}
	return b.runner.Run(ctx, req.URL, opts)
}

// Cancel aborts one in-flight request; the rest of the batch continues.
func (b *BatchExporter) Cancel(requestID string) error {
	b.mu.Lock()
	cancel, ok := b.cancels[requestID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("request %s: %w", requestID, ErrUnknownRequest)
	}
	cancel()
	return nil
}

// Stop aborts every in-flight request. Export still returns a complete
// accounting for the batch.
func (b *BatchExporter) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cancel := range b.cancels {
		cancel()
	}
}

// Active lists the request IDs currently executing.
func (b *BatchExporter) Active() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.cancels))
	for id := range b.cancels {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
