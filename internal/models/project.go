package models

import "time"

// Project is the in-memory result of a completed run. Serialization into the
// project container is a collaborator responsibility; the core only exposes
// this value.
type Project struct {
	RunID         RunID                          `json:"run_id"`
	SourceURL     string                         `json:"source_url"`
	Video         *VideoArtifact                 `json:"video,omitempty"`
	Audio         *AudioArtifact                 `json:"audio,omitempty"`
	Transcription *TranscriptionResult           `json:"transcription,omitempty"`
	Analysis      *AnalysisResult                `json:"analysis,omitempty"`
	Selection     *Selection                     `json:"selection,omitempty"`
	Translations  map[string][]TranslatedSegment `json:"translations,omitempty"`
	Subtitles     []SubtitleArtifact             `json:"subtitles,omitempty"`
	EditedVideos  []EditedVideo                  `json:"edited_videos,omitempty"`
	ExportPlan    *ExportPlan                    `json:"export_plan,omitempty"`
	ExportResult  *ExportResult                  `json:"export_result,omitempty"`
	StartedAt     time.Time                      `json:"started_at"`
	CompletedAt   time.Time                      `json:"completed_at"`
}

// Duration returns wall-clock time from start to completion.
func (p *Project) Duration() time.Duration {
	if p.CompletedAt.IsZero() || p.StartedAt.IsZero() {
		return 0
	}
	return p.CompletedAt.Sub(p.StartedAt)
}
