package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/voxcut/voxcut/internal/checkpoint"
	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/models"
)

// RunOptions are per-run overrides on top of the loaded configuration.
type RunOptions struct {
	// Quality overrides media.quality for the fetch stage.
	Quality string
	// Languages overrides translation.target_languages.
	Languages []string
	// SubtitleFormat is srt, vtt or ass; empty means srt.
	SubtitleFormat string
	// AutoSelectTop skips the selection wait and keeps the N best
	// highlights. Zero falls back to selection.auto_select_top.
	AutoSelectTop int
	// BurnSubtitles hard-burns the first target language's subtitles
	// into the edited video.
	BurnSubtitles bool
	// Vertical crops the edit to a 9:16 frame.
	Vertical bool
	// Resolution forces an output resolution such as 1280x720.
	Resolution string
	// Progress receives this run's progress events in addition to any
	// coordinator-wide callback.
	Progress ProgressFunc
}

// State is the mutable context one run's stages execute against. It owns the
// checkpoint snapshot; stages mutate it only through the typed setters so
// every artifact lands in both the in-memory project and the durable record.
type State struct {
	RunID     models.RunID
	SourceURL string
	Options   RunOptions
	Config    *config.Config
	Project   *models.Project
	Logger    *slog.Logger

	handle      *checkpoint.Handle
	cp          *models.Checkpoint
	progress    *progressSink
	selectionCh chan models.Selection
}

// save persists the current checkpoint snapshot.
func (st *State) save() error {
	return st.handle.Save(st.cp)
}

// TempDir returns the run's scratch directory, creating it if needed.
func (st *State) TempDir() (string, error) {
	return st.handle.TempDir()
}

// Stage returns the current checkpoint cursor.
func (st *State) Stage() models.Stage {
	return st.cp.Stage
}

func (st *State) publish(frac float64, detail string) {
	st.progress.publish(st.cp.Stage, frac, detail, false)
}

func (st *State) setArtifact(key string, v any) error {
	if err := st.cp.SetArtifact(key, v); err != nil {
		return fmt.Errorf("artifact %s: %w", key, err)
	}
	return st.save()
}

// SetVideo records the fetched video on the project and checkpoint.
func (st *State) SetVideo(v *models.VideoArtifact) error {
	st.Project.Video = v
	return st.setArtifact(artifactVideo, v)
}

// Video returns the fetched video artifact, or nil before fetch completes.
func (st *State) Video() *models.VideoArtifact {
	return st.Project.Video
}

// SetAudio records the extracted audio track.
func (st *State) SetAudio(a *models.AudioArtifact) error {
	st.Project.Audio = a
	return st.setArtifact(artifactAudio, a)
}

// Audio returns the extracted audio artifact.
func (st *State) Audio() *models.AudioArtifact {
	return st.Project.Audio
}

// SetTranscription records the transcriber output.
func (st *State) SetTranscription(t *models.TranscriptionResult) error {
	st.Project.Transcription = t
	return st.setArtifact(artifactTranscription, t)
}

// Transcription returns the transcriber output.
func (st *State) Transcription() *models.TranscriptionResult {
	return st.Project.Transcription
}

// SetAnalysis records the highlight and chapter analysis.
func (st *State) SetAnalysis(a *models.AnalysisResult) error {
	st.Project.Analysis = a
	return st.setArtifact(artifactAnalysis, a)
}

// Analysis returns the analysis result.
func (st *State) Analysis() *models.AnalysisResult {
	return st.Project.Analysis
}

// SetSelection records the curated selection that unblocked the await stage.
func (st *State) SetSelection(s *models.Selection) error {
	st.Project.Selection = s
	return st.setArtifact(artifactSelection, s)
}

// Selection returns the curated selection.
func (st *State) Selection() *models.Selection {
	return st.Project.Selection
}

// SetTranslation records one language's translated segments.
func (st *State) SetTranslation(lang string, segs []models.TranslatedSegment) error {
	if st.Project.Translations == nil {
		st.Project.Translations = make(map[string][]models.TranslatedSegment)
	}
	st.Project.Translations[lang] = segs
	return st.setArtifact(artifactTranslationPrefix+lang, segs)
}

// Translation returns one language's translated segments, nil when absent.
func (st *State) Translation(lang string) []models.TranslatedSegment {
	return st.Project.Translations[lang]
}

// SetSubtitles records the written subtitle files.
func (st *State) SetSubtitles(subs []models.SubtitleArtifact) error {
	st.Project.Subtitles = subs
	return st.setArtifact(artifactSubtitles, subs)
}

// Subtitles returns the written subtitle files.
func (st *State) Subtitles() []models.SubtitleArtifact {
	return st.Project.Subtitles
}

// SetEditedVideos records the rendered cuts.
func (st *State) SetEditedVideos(vids []models.EditedVideo) error {
	st.Project.EditedVideos = vids
	return st.setArtifact(artifactEdited, vids)
}

// EditedVideos returns the rendered cuts.
func (st *State) EditedVideos() []models.EditedVideo {
	return st.Project.EditedVideos
}

// SetExportPlan records the immutable export plan.
func (st *State) SetExportPlan(p *models.ExportPlan) error {
	st.Project.ExportPlan = p
	return st.setArtifact(artifactExportPlan, p)
}

// ExportPlan returns the export plan.
func (st *State) ExportPlan() *models.ExportPlan {
	return st.Project.ExportPlan
}

// SetExportResult records the export stage outcome.
func (st *State) SetExportResult(r *models.ExportResult) error {
	st.Project.ExportResult = r
	return st.setArtifact(artifactExportResult, r)
}

// TargetLanguages resolves the languages to translate into: the selection
// wins over the per-run override, which wins over configuration.
func (st *State) TargetLanguages() []string {
	if sel := st.Selection(); sel != nil && len(sel.TargetLanguages) > 0 {
		return sel.TargetLanguages
	}
	if len(st.Options.Languages) > 0 {
		return st.Options.Languages
	}
	return st.Config.Translation.TargetLanguages
}

// restore rehydrates the project from the checkpoint's artifact registry so
// a resumed run sees every output its earlier process recorded.
func (st *State) restore() error {
	cp := st.cp
	load := func(key string, v any) error {
		if _, err := cp.Artifact(key, v); err != nil {
			return fmt.Errorf("artifact %s: %w", key, err)
		}
		return nil
	}

	var srcURL string
	if ok, err := cp.Artifact(artifactSourceURL, &srcURL); err != nil {
		return fmt.Errorf("artifact %s: %w", artifactSourceURL, err)
	} else if ok {
		st.SourceURL = srcURL
		st.Project.SourceURL = srcURL
	}
	var video models.VideoArtifact
	if ok, err := cp.Artifact(artifactVideo, &video); err != nil {
		return fmt.Errorf("artifact %s: %w", artifactVideo, err)
	} else if ok {
		st.Project.Video = &video
	}
	var audio models.AudioArtifact
	if ok, err := cp.Artifact(artifactAudio, &audio); err != nil {
		return fmt.Errorf("artifact %s: %w", artifactAudio, err)
	} else if ok {
		st.Project.Audio = &audio
	}
	var tr models.TranscriptionResult
	if ok, err := cp.Artifact(artifactTranscription, &tr); err != nil {
		return fmt.Errorf("artifact %s: %w", artifactTranscription, err)
	} else if ok {
		st.Project.Transcription = &tr
	}
	var analysis models.AnalysisResult
	if ok, err := cp.Artifact(artifactAnalysis, &analysis); err != nil {
		return fmt.Errorf("artifact %s: %w", artifactAnalysis, err)
	} else if ok {
		st.Project.Analysis = &analysis
	}
	var sel models.Selection
	if ok, err := cp.Artifact(artifactSelection, &sel); err != nil {
		return fmt.Errorf("artifact %s: %w", artifactSelection, err)
	} else if ok {
		st.Project.Selection = &sel
	}
	var plan models.ExportPlan
	if ok, err := cp.Artifact(artifactExportPlan, &plan); err != nil {
		return fmt.Errorf("artifact %s: %w", artifactExportPlan, err)
	} else if ok {
		st.Project.ExportPlan = &plan
	}

	if err := load(artifactSubtitles, &st.Project.Subtitles); err != nil {
		return err
	}
	if err := load(artifactEdited, &st.Project.EditedVideos); err != nil {
		return err
	}

	for key := range cp.Artifacts {
		if len(key) <= len(artifactTranslationPrefix) || key[:len(artifactTranslationPrefix)] != artifactTranslationPrefix {
			continue
		}
		lang := key[len(artifactTranslationPrefix):]
		var segs []models.TranslatedSegment
		if err := load(key, &segs); err != nil {
			return err
		}
		if st.Project.Translations == nil {
			st.Project.Translations = make(map[string][]models.TranslatedSegment)
		}
		st.Project.Translations[lang] = segs
	}
	return nil
}
