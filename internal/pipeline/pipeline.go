// Package pipeline drives a run through the fixed stage sequence, persisting
// a checkpoint at every item and stage boundary so an interrupted run resumes
// without repeating completed work.
package pipeline

import (
	"errors"

	"github.com/voxcut/voxcut/internal/checkpoint"
	"github.com/voxcut/voxcut/internal/llm"
	"github.com/voxcut/voxcut/internal/media"
	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/resource"
	"github.com/voxcut/voxcut/internal/translate"
)

var (
	// ErrUnknownRun means no active run with that ID is registered.
	ErrUnknownRun = errors.New("no active run with this id")
	// ErrNotAwaiting means the run is not blocked on a selection.
	ErrNotAwaiting = errors.New("run is not awaiting a selection")
	// ErrSelectionTimeout means no selection arrived within the window.
	ErrSelectionTimeout = errors.New("timed out waiting for selection")
	// ErrItemFailures means too many items of a stage failed.
	ErrItemFailures = errors.New("stage item failures exceed the allowed rate")
	// ErrStageTimeout means a stage ran past its soft deadline.
	ErrStageTimeout = errors.New("stage exceeded its timeout")
)

// Checkpoint artifact keys. Translations are stored per language under
// artifactTranslationPrefix + language code.
const (
	artifactSourceURL         = "source_url"
	artifactVideo             = "video"
	artifactAudio             = "audio"
	artifactTranscription     = "transcription"
	artifactAnalysis          = "analysis"
	artifactSelection         = "selection"
	artifactSubtitles         = "subtitles"
	artifactEdited            = "edited_videos"
	artifactExportPlan        = "export_plan"
	artifactExportResult      = "export_result"
	artifactTranslationPrefix = "translation:"
)

// classifyError maps a stage failure onto an ErrorKind, consulting each
// collaborator's sentinel set before falling back to the generic mapping.
func classifyError(err error) models.ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrItemFailures), errors.Is(err, translate.ErrPartialFailure):
		return models.ErrKindPartialFailure
	case errors.Is(err, ErrSelectionTimeout):
		return models.ErrKindInvalidInput
	case errors.Is(err, ErrStageTimeout):
		return models.ErrKindTransientNetwork
	case errors.Is(err, resource.ErrAcquireTimeout):
		return models.ErrKindResourceExhausted
	case errors.Is(err, checkpoint.ErrAlreadyLocked),
		errors.Is(err, checkpoint.ErrCorruptCheckpoint),
		errors.Is(err, checkpoint.ErrStageRegression):
		return models.ErrKindCorruptState
	case errors.Is(err, llm.ErrRateLimited),
		errors.Is(err, llm.ErrQuotaExceeded),
		errors.Is(err, llm.ErrUnreachable),
		errors.Is(err, llm.ErrAuth),
		errors.Is(err, llm.ErrBadResponse),
		errors.Is(err, llm.ErrParseFailure),
		errors.Is(err, llm.ErrSchemaFailure):
		return llm.ClassifyError(err)
	default:
		return media.ClassifyError(err)
	}
}
