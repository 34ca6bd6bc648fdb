package models

import (
	"fmt"

	"github.com/google/uuid"
)

// EditSegment is one user-curated cut: where to trim, optional title card,
// and playback adjustments.
type EditSegment struct {
	ID             int     `json:"id"`
	StartS         float64 `json:"start_s"`
	EndS           float64 `json:"end_s"`
	Title          string  `json:"title,omitempty"`
	TitleDurationS float64 `json:"title_duration_s"`
	Transition     string  `json:"transition,omitempty"`
	Speed          float64 `json:"speed"`
}

// Validate checks the edit segment invariants.
func (e EditSegment) Validate() error {
	if e.StartS > e.EndS {
		return fmt.Errorf("edit segment %d: start %.3f after end %.3f", e.ID, e.StartS, e.EndS)
	}
	if e.Speed <= 0 {
		return fmt.Errorf("edit segment %d: speed %.2f must be positive", e.ID, e.Speed)
	}
	if e.TitleDurationS < 0 {
		return fmt.Errorf("edit segment %d: negative title duration", e.ID)
	}
	return nil
}

// ExportPlanEntry is one derivative file the export stage will produce.
type ExportPlanEntry struct {
	Kind           string `json:"kind"`
	TargetPath     string `json:"target_path"`
	EstimatedBytes int64  `json:"estimated_bytes,omitempty"`
}

// ExportPlan enumerates every file the export stage produces for one run.
// It is built once at export start and immutable thereafter.
type ExportPlan struct {
	RunID   RunID             `json:"run_id"`
	Entries []ExportPlanEntry `json:"entries"`
}

// ExportItemResult is the outcome for one plan entry or batch request.
type ExportItemResult struct {
	ID        string  `json:"id"`
	Path      string  `json:"path,omitempty"`
	Bytes     int64   `json:"bytes,omitempty"`
	DurationS float64 `json:"duration_s,omitempty"`
	Error     string  `json:"error,omitempty"`
	Attempts  int     `json:"attempts"`
}

// Succeeded reports whether the item finished without error.
func (r ExportItemResult) Succeeded() bool {
	return r.Error == ""
}

// ExportResult aggregates a run's export stage or a whole batch session.
// Successful + Failed always equals the number of submitted items.
type ExportResult struct {
	Successful int                `json:"successful"`
	Failed     int                `json:"failed"`
	Items      []ExportItemResult `json:"items"`
}

// ExportRequest is one unit of batch-export work: either a fresh URL or a
// resumable run, plus per-request option overrides.
type ExportRequest struct {
	ID        string            `json:"id"`
	URL       string            `json:"url,omitempty"`
	RunID     RunID             `json:"run_id,omitempty"`
	Languages []string          `json:"languages,omitempty"`
	Quality   string            `json:"quality,omitempty"`
	Priority  int               `json:"priority,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewExportRequest builds a request for a URL with a fresh UUID.
func NewExportRequest(url string) ExportRequest {
	return ExportRequest{ID: uuid.NewString(), URL: url}
}

// Validate checks that the request names exactly one work source.
func (r ExportRequest) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("export request missing id")
	}
	if r.URL == "" && r.RunID.IsZero() {
		return fmt.Errorf("export request %s: neither url nor run_id set", r.ID)
	}
	if r.URL != "" && !r.RunID.IsZero() {
		return fmt.Errorf("export request %s: url and run_id are mutually exclusive", r.ID)
	}
	return nil
}
