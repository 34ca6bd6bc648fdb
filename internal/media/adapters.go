package media

import (
	"context"

	"github.com/voxcut/voxcut/internal/models"
)

// ProgressFunc receives fractional progress of one adapter operation.
// fraction is in [0,1]; detail is a short human-readable status. It may be
// invoked from the subprocess reader goroutine.
type ProgressFunc func(fraction float64, detail string)

// FetchOptions tunes one fetch.
type FetchOptions struct {
	Quality   string // 2160/1440/1080/720/480, best, worst
	OutputDir string
}

// Fetcher downloads a source video to local disk.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts FetchOptions, progress ProgressFunc) (*models.VideoArtifact, error)
}

// AudioExtractor pulls the audio track out of a video as 16 kHz mono
// 16-bit PCM WAV, the input format the transcriber expects.
type AudioExtractor interface {
	Extract(ctx context.Context, videoPath, outPath string, progress ProgressFunc) (*models.AudioArtifact, error)
}

// TranscribeOptions tunes one transcription.
type TranscribeOptions struct {
	Language string // BCP-47 source language; empty = auto-detect
	Diarize  bool
}

// Transcriber turns an audio file into timed transcript segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOptions, progress ProgressFunc) (*models.TranscriptionResult, error)
}

// EditJob describes one render: which cuts to keep, optional burned-in
// subtitles, and the output geometry.
type EditJob struct {
	VideoPath    string
	Segments     []models.EditSegment
	SubtitlePath string // empty = no subtitle burn-in
	OutputPath   string
	Vertical     bool   // crop center to 9:16 for shorts
	Resolution   string // e.g. "1920x1080"; empty keeps source
}

// VideoEditor renders an edited cut of the source video.
type VideoEditor interface {
	Edit(ctx context.Context, job EditJob, progress ProgressFunc) (*models.EditedVideo, error)
}
