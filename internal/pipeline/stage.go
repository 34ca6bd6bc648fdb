package pipeline

import (
	"context"

	"github.com/voxcut/voxcut/internal/models"
)

// StageResult summarizes a completed stage execution.
type StageResult struct {
	// Summary is a short human-readable description of what was produced.
	Summary string
	// Partial marks a stage that completed with flagged item failures.
	Partial bool
}

// Stage is one unit of the execution sequence. Execute must be idempotent
// against the state's checkpoint: re-running after a crash skips work the
// checkpoint already records.
type Stage interface {
	ID() models.Stage
	Name() string
	Execute(ctx context.Context, st *State) (*StageResult, error)
	// Cleanup releases per-stage resources after success or final failure.
	Cleanup(ctx context.Context, st *State)
}
