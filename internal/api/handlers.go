package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/voxcut/voxcut/internal/checkpoint"
	"github.com/voxcut/voxcut/internal/library"
	"github.com/voxcut/voxcut/internal/llm"
	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/pipeline"
	"github.com/voxcut/voxcut/internal/resource"
	"github.com/voxcut/voxcut/internal/version"
	"github.com/voxcut/voxcut/pkg/httpclient"
)

// RunController is the slice of the coordinator the API needs. Satisfied by
// pipeline.Coordinator.
type RunController interface {
	StartRun(ctx context.Context, url string, opts pipeline.RunOptions) (models.RunID, error)
	SubmitSelection(runID models.RunID, sel models.Selection) error
	Cancel(runID models.RunID) error
	ActiveRuns() []models.RunID
}

// CircuitStatsFunc reports transport breaker states keyed by provider name.
type CircuitStatsFunc func() map[string]httpclient.CircuitBreakerStats

// Handler registers the status API operations.
type Handler struct {
	startTime  time.Time
	store      *checkpoint.Store
	controller RunController
	library    *library.Store
	monitor    *resource.Monitor
	gate       *resource.Gate
	router     *llm.Router
	circuits   CircuitStatsFunc
}

// NewHandler builds a handler over the checkpoint store and coordinator.
func NewHandler(store *checkpoint.Store, controller RunController) *Handler {
	return &Handler{
		startTime:  time.Now(),
		store:      store,
		controller: controller,
	}
}

// WithLibrary adds completed-run listings to GET /runs.
func (h *Handler) WithLibrary(lib *library.Store) *Handler {
	h.library = lib
	return h
}

// WithMonitor adds a resource snapshot to GET /health.
func (h *Handler) WithMonitor(m *resource.Monitor) *Handler {
	h.monitor = m
	return h
}

// WithGate adds admission gate counters to GET /health.
func (h *Handler) WithGate(g *resource.Gate) *Handler {
	h.gate = g
	return h
}

// WithRouter adds LLM routing counters to GET /health.
func (h *Handler) WithRouter(r *llm.Router) *Handler {
	h.router = r
	return h
}

// WithCircuitStats adds provider circuit breaker states to GET /health.
func (h *Handler) WithCircuitStats(fn CircuitStatsFunc) *Handler {
	h.circuits = fn
	return h
}

// Register registers all status operations with the API.
func (h *Handler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Service health and counters",
		Tags:        []string{"System"},
	}, h.getHealth)

	huma.Register(api, huma.Operation{
		OperationID: "listRuns",
		Method:      "GET",
		Path:        "/runs",
		Summary:     "Incomplete and recently finished runs",
		Tags:        []string{"Runs"},
	}, h.listRuns)

	huma.Register(api, huma.Operation{
		OperationID:   "startRun",
		Method:        "POST",
		Path:          "/runs",
		Summary:       "Start a pipeline run for a video URL",
		Tags:          []string{"Runs"},
		DefaultStatus: 202,
	}, h.startRun)

	huma.Register(api, huma.Operation{
		OperationID: "getRun",
		Method:      "GET",
		Path:        "/runs/{id}",
		Summary:     "Checkpoint detail for one run",
		Tags:        []string{"Runs"},
	}, h.getRun)

	huma.Register(api, huma.Operation{
		OperationID: "submitSelection",
		Method:      "POST",
		Path:        "/runs/{id}/selection",
		Summary:     "Submit a highlight selection to a waiting run",
		Tags:        []string{"Runs"},
	}, h.submitSelection)

	huma.Register(api, huma.Operation{
		OperationID: "cancelRun",
		Method:      "POST",
		Path:        "/runs/{id}/cancel",
		Summary:     "Cancel an active run",
		Tags:        []string{"Runs"},
	}, h.cancelRun)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status          string                                    `json:"status"`
	Version         string                                    `json:"version"`
	UptimeSeconds   float64                                   `json:"uptime_seconds"`
	ActiveRuns      int                                       `json:"active_runs"`
	Resources       *resource.Snapshot                        `json:"resources,omitempty"`
	Gate            *resource.GateStats                       `json:"gate,omitempty"`
	Router          *llm.RouterStats                          `json:"router,omitempty"`
	CircuitBreakers map[string]httpclient.CircuitBreakerStats `json:"circuit_breakers,omitempty"`
}

type healthOutput struct {
	Body HealthResponse
}

func (h *Handler) getHealth(ctx context.Context, _ *struct{}) (*healthOutput, error) {
	out := &healthOutput{
		Body: HealthResponse{
			Status:        "ok",
			Version:       version.Version,
			UptimeSeconds: time.Since(h.startTime).Seconds(),
			ActiveRuns:    len(h.controller.ActiveRuns()),
		},
	}
	if h.monitor != nil {
		snap := h.monitor.Snapshot()
		out.Body.Resources = &snap
	}
	if h.gate != nil {
		stats := h.gate.Stats()
		out.Body.Gate = &stats
	}
	if h.router != nil {
		stats := h.router.Stats()
		out.Body.Router = &stats
	}
	if h.circuits != nil {
		out.Body.CircuitBreakers = h.circuits()
	}
	return out, nil
}

// RunSummary is one incomplete run in GET /runs.
type RunSummary struct {
	RunID         string    `json:"run_id"`
	Stage         string    `json:"stage"`
	StageProgress float64   `json:"stage_progress"`
	Overall       float64   `json:"overall_progress"`
	RetryCount    int       `json:"retry_count"`
	LastError     string    `json:"last_error,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RunsResponse is the body of GET /runs.
type RunsResponse struct {
	Incomplete []RunSummary     `json:"incomplete"`
	Recent     []library.Record `json:"recent,omitempty"`
}

type runsOutput struct {
	Body RunsResponse
}

func (h *Handler) listRuns(ctx context.Context, _ *struct{}) (*runsOutput, error) {
	cps, err := h.store.ListIncomplete()
	if err != nil {
		return nil, huma.Error500InternalServerError("listing runs", err)
	}

	active := make(map[string]bool)
	for _, id := range h.controller.ActiveRuns() {
		active[id.String()] = true
	}

	out := &runsOutput{Body: RunsResponse{Incomplete: make([]RunSummary, 0, len(cps))}}
	for _, cp := range cps {
		out.Body.Incomplete = append(out.Body.Incomplete, summarize(cp, active[cp.RunID.String()]))
	}
	sort.Slice(out.Body.Incomplete, func(i, j int) bool {
		return out.Body.Incomplete[i].RunID < out.Body.Incomplete[j].RunID
	})

	if h.library != nil {
		recent, err := h.library.Recent(ctx, 20)
		if err != nil {
			return nil, huma.Error500InternalServerError("listing recent runs", err)
		}
		out.Body.Recent = recent
	}
	return out, nil
}

type startRunInput struct {
	Body struct {
		URL           string   `json:"url" minLength:"1" doc:"Source video URL"`
		Languages     []string `json:"languages,omitempty" doc:"Target subtitle languages"`
		Quality       string   `json:"quality,omitempty" doc:"Source quality, e.g. 1080p"`
		AutoSelectTop int      `json:"auto_select_top,omitempty" doc:"Skip the selection wait and keep the top N highlights"`
	}
}

type startRunOutput struct {
	Body struct {
		RunID string `json:"run_id"`
	}
}

func (h *Handler) startRun(ctx context.Context, input *startRunInput) (*startRunOutput, error) {
	opts := pipeline.RunOptions{
		Languages:     input.Body.Languages,
		Quality:       input.Body.Quality,
		AutoSelectTop: input.Body.AutoSelectTop,
	}
	// The run outlives this request; only process shutdown stops it.
	runID, err := h.controller.StartRun(context.WithoutCancel(ctx), input.Body.URL, opts)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	out := &startRunOutput{}
	out.Body.RunID = runID.String()
	return out, nil
}

// RunDetail is the body of GET /runs/{id}.
type RunDetail struct {
	RunSummary
	CurrentItem         string   `json:"current_item,omitempty"`
	CurrentItemProgress float64  `json:"current_item_progress,omitempty"`
	CompletedItems      []string `json:"completed_items,omitempty"`
	Artifacts           []string `json:"artifacts,omitempty"`
}

type runInput struct {
	ID string `path:"id" doc:"Run ID (ULID)"`
}

type runDetailOutput struct {
	Body RunDetail
}

func (h *Handler) getRun(ctx context.Context, input *runInput) (*runDetailOutput, error) {
	runID, err := models.ParseRunID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest(fmt.Sprintf("invalid run id %q", input.ID))
	}

	cp, err := h.store.Peek(runID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, huma.Error404NotFound(fmt.Sprintf("run %s not found", runID))
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("loading run", err)
	}

	active := false
	for _, id := range h.controller.ActiveRuns() {
		if id == runID {
			active = true
			break
		}
	}

	detail := RunDetail{
		RunSummary:          summarize(cp, active),
		CurrentItem:         cp.CurrentItem,
		CurrentItemProgress: cp.CurrentItemProgress,
		CompletedItems:      cp.CompletedItems.Sorted(),
	}
	for key := range cp.Artifacts {
		detail.Artifacts = append(detail.Artifacts, key)
	}
	sort.Strings(detail.Artifacts)
	return &runDetailOutput{Body: detail}, nil
}

type selectionInput struct {
	ID   string `path:"id" doc:"Run ID (ULID)"`
	Body models.Selection
}

type statusOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

func (h *Handler) submitSelection(ctx context.Context, input *selectionInput) (*statusOutput, error) {
	runID, err := models.ParseRunID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest(fmt.Sprintf("invalid run id %q", input.ID))
	}

	err = h.controller.SubmitSelection(runID, input.Body)
	switch {
	case errors.Is(err, pipeline.ErrUnknownRun):
		return nil, huma.Error404NotFound(fmt.Sprintf("run %s is not active", runID))
	case errors.Is(err, pipeline.ErrNotAwaiting):
		return nil, huma.Error409Conflict(fmt.Sprintf("run %s is not awaiting a selection", runID))
	case err != nil:
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	out := &statusOutput{}
	out.Body.Status = "accepted"
	return out, nil
}

func (h *Handler) cancelRun(ctx context.Context, input *runInput) (*statusOutput, error) {
	runID, err := models.ParseRunID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest(fmt.Sprintf("invalid run id %q", input.ID))
	}

	if err := h.controller.Cancel(runID); err != nil {
		if errors.Is(err, pipeline.ErrUnknownRun) {
			return nil, huma.Error404NotFound(fmt.Sprintf("run %s is not active", runID))
		}
		return nil, huma.Error500InternalServerError("cancelling run", err)
	}

	out := &statusOutput{}
	out.Body.Status = "cancelling"
	return out, nil
}

func summarize(cp *models.Checkpoint, active bool) RunSummary {
	return RunSummary{
		RunID:         cp.RunID.String(),
		Stage:         cp.Stage.String(),
		StageProgress: cp.StageProgress,
		Overall:       models.OverallProgress(cp.Stage, cp.StageProgress),
		RetryCount:    cp.RetryCount,
		LastError:     cp.LastError,
		Active:        active,
		CreatedAt:     cp.CreatedAt,
		UpdatedAt:     cp.UpdatedAt,
	}
}
