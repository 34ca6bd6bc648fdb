// Package media holds the narrow collaborator contracts the pipeline
// consumes (fetch, audio extraction, transcription, editing) and the
// subprocess-backed default adapters for yt-dlp, ffmpeg and whisper.
package media

import (
	"errors"

	"github.com/voxcut/voxcut/internal/models"
)

// Fetcher failures.
var (
	ErrInvalidURL    = errors.New("invalid or unsupported url")
	ErrNotFound      = errors.New("video not found")
	ErrGeoBlocked    = errors.New("video unavailable in this region")
	ErrAgeRestricted = errors.New("video is age restricted")
	ErrDownload      = errors.New("download failed")
	ErrDiskSpace     = errors.New("not enough disk space")
)

// AudioExtractor failures.
var (
	ErrExtraction        = errors.New("audio extraction failed")
	ErrNoAudioTrack      = errors.New("video has no audio track")
	ErrFormatUnsupported = errors.New("audio format unsupported")
)

// Transcriber failures.
var (
	ErrModelLoad          = errors.New("transcription model failed to load")
	ErrOutOfMemory        = errors.New("transcription ran out of memory")
	ErrEmptyTranscription = errors.New("transcription produced no segments")
	ErrLanguageDetect     = errors.New("language detection failed")
	ErrDevice             = errors.New("transcription device error")
)

// VideoEditor failures.
var (
	ErrEncoding       = errors.New("video encoding failed")
	ErrInvalidSegment = errors.New("invalid edit segment")
	ErrHWAccel        = errors.New("hardware acceleration failed")
)

// ClassifyError maps adapter failures onto the pipeline error taxonomy.
// Bad input and content restrictions are permanent; resource problems are
// resource_exhausted; the rest is treated as retryable.
func ClassifyError(err error) models.ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidURL), errors.Is(err, ErrInvalidSegment):
		return models.ErrKindInvalidInput
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrGeoBlocked),
		errors.Is(err, ErrAgeRestricted), errors.Is(err, ErrFormatUnsupported),
		errors.Is(err, ErrNoAudioTrack), errors.Is(err, ErrEmptyTranscription):
		return models.ErrKindInvalidInput
	case errors.Is(err, ErrDiskSpace), errors.Is(err, ErrOutOfMemory):
		return models.ErrKindResourceExhausted
	default:
		return models.KindOf(err)
	}
}
