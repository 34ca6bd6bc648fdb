package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/storage"
	"github.com/voxcut/voxcut/internal/subtitle"
	"github.com/voxcut/voxcut/internal/translate"
)

// Translator is the slice of the translation component the pipeline needs.
type Translator interface {
	Translate(ctx context.Context, segments []models.Segment, sourceLang, targetLang string) (*translate.Result, error)
}

type translateStage struct {
	translator Translator
}

func (s *translateStage) ID() models.Stage { return models.StageTranslate }
func (s *translateStage) Name() string     { return "translate" }

func (s *translateStage) Execute(ctx context.Context, st *State) (*StageResult, error) {
	langs := st.TargetLanguages()
	if len(langs) == 0 {
		return &StageResult{Summary: "no target languages"}, nil
	}
	tr := st.Transcription()
	if tr == nil {
		return nil, fmt.Errorf("no transcription to translate")
	}

	partial := false
	items := make([]Item, 0, len(langs))
	for _, lang := range langs {
		items = append(items, Item{
			ID: lang,
			Run: func(ctx context.Context, progress func(float64, string)) error {
				return s.runLanguage(ctx, st, tr, lang, progress, &partial)
			},
		})
	}

	// A single failed language fails the stage with the underlying cause
	// so transient provider errors stay retryable; completed languages are
	// skipped on the retry.
	report, err := st.RunItems(ctx, items, 1.0, st.Config.Stage.ItemTimeout)
	if err != nil {
		if errors.Is(err, ErrItemFailures) {
			for lang, ierr := range report.Errors {
				return nil, fmt.Errorf("language %s: %w", lang, ierr)
			}
		}
		return nil, err
	}
	return &StageResult{
		Summary: fmt.Sprintf("translated into %d languages", report.Completed+report.Skipped),
		Partial: partial,
	}, nil
}

// runLanguage translates the segments of one language that no earlier
// attempt finished. Each translated segment is checkpointed under a lang:id
// item as it lands, so an interrupted run resumes with only the
// untranslated remainder.
func (s *translateStage) runLanguage(ctx context.Context, st *State, tr *models.TranscriptionResult, lang string, progress func(float64, string), partial *bool) error {
	pending := make([]models.Segment, 0, len(tr.Segments))
	for _, seg := range tr.Segments {
		if !st.cp.CompletedItems.Has(segmentItemID(lang, seg.ID)) {
			pending = append(pending, seg)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	progress(0, fmt.Sprintf("translating %d segments to %s", len(pending), lang))

	res, terr := s.translator.Translate(ctx, pending, tr.Language, lang)
	if res != nil && len(res.Segments) > 0 {
		done := res.Segments
		if terr != nil {
			// Untranslated segments come back flagged as failed; keep
			// only the ones that actually landed so the rest are re-sent.
			kept := make([]models.TranslatedSegment, 0, len(res.Segments))
			for _, ts := range res.Segments {
				if !ts.Failed() {
					kept = append(kept, ts)
				}
			}
			done = kept
		}
		if err := st.SetTranslation(lang, mergeTranslations(tr.Segments, st.Translation(lang), done)); err != nil && terr == nil {
			return err
		}
		for _, ts := range done {
			if !ts.Failed() {
				st.cp.CompletedItems.Add(segmentItemID(lang, ts.ID))
			}
		}
		if err := st.save(); err != nil && terr == nil {
			return err
		}
	}
	if terr != nil {
		return terr
	}
	if res.Failed > 0 {
		*partial = true
	}
	return nil
}

// segmentItemID keys one translated segment in the checkpoint item ledger.
func segmentItemID(lang string, id int) string {
	return fmt.Sprintf("%s:%d", lang, id)
}

// mergeTranslations overlays freshly translated segments onto a previously
// persisted track, keeping transcript order. Later entries win on
// duplicate ids.
func mergeTranslations(order []models.Segment, prev, next []models.TranslatedSegment) []models.TranslatedSegment {
	byID := make(map[int]models.TranslatedSegment, len(prev)+len(next))
	for _, ts := range prev {
		byID[ts.ID] = ts
	}
	for _, ts := range next {
		byID[ts.ID] = ts
	}
	out := make([]models.TranslatedSegment, 0, len(byID))
	for _, seg := range order {
		if ts, ok := byID[seg.ID]; ok {
			out = append(out, ts)
		}
	}
	return out
}

func (s *translateStage) Cleanup(context.Context, *State) {}

type subtitlesStage struct{}

func (s *subtitlesStage) ID() models.Stage { return models.StageSubtitles }
func (s *subtitlesStage) Name() string     { return "generate_subtitles" }

func (s *subtitlesStage) Execute(ctx context.Context, st *State) (*StageResult, error) {
	tr := st.Transcription()
	if tr == nil {
		return nil, fmt.Errorf("no transcription to subtitle")
	}

	format := subtitle.FormatSRT
	if st.Options.SubtitleFormat != "" {
		var err error
		if format, err = subtitle.ParseFormat(st.Options.SubtitleFormat); err != nil {
			return nil, err
		}
	}

	// Without translations the source language still gets subtitles.
	tracks := make(map[string][]models.TranslatedSegment)
	for lang, segs := range st.Project.Translations {
		tracks[lang] = segs
	}
	if len(tracks) == 0 {
		tracks[tr.Language] = passthroughSegments(tr.Segments)
	}

	tmp, err := st.TempDir()
	if err != nil {
		return nil, err
	}
	box, err := storage.NewSandbox(tmp)
	if err != nil {
		return nil, err
	}
	if err := box.MkdirAll("subs"); err != nil {
		return nil, err
	}

	subs := append([]models.SubtitleArtifact(nil), st.Subtitles()...)
	items := make([]Item, 0, len(tracks))
	for _, lang := range sortedKeys(tracks) {
		items = append(items, Item{
			ID: lang,
			Run: func(ctx context.Context, progress func(float64, string)) error {
				progress(0, "writing "+lang+" subtitles")
				entries := subtitle.OptimizeTiming(subtitle.FromTranslatedSegments(tracks[lang]), st.Config.Media.Subtitle)
				rel := fmt.Sprintf("subs/%s.%s", lang, format.Extension())
				path, err := subtitle.WriteFile(ctx, box, entries, subtitle.DefaultStyle(lang), format, rel, st.Config.Media.Subtitle)
				if err != nil {
					return err
				}
				subs = append(subs, models.SubtitleArtifact{
					Path:     path,
					Language: lang,
					Format:   string(format),
					Entries:  len(entries),
				})
				return st.SetSubtitles(subs)
			},
		})
	}

	report, err := st.RunItems(ctx, items, 1.0, st.Config.Stage.ItemTimeout)
	if err != nil {
		if errors.Is(err, ErrItemFailures) {
			for lang, ierr := range report.Errors {
				return nil, fmt.Errorf("subtitles %s: %w", lang, ierr)
			}
		}
		return nil, err
	}
	return &StageResult{Summary: fmt.Sprintf("%d subtitle files", len(st.Subtitles()))}, nil
}

func (s *subtitlesStage) Cleanup(context.Context, *State) {}

func passthroughSegments(segments []models.Segment) []models.TranslatedSegment {
	out := make([]models.TranslatedSegment, 0, len(segments))
	for _, seg := range segments {
		out = append(out, models.TranslatedSegment{
			ID:         seg.ID,
			Original:   seg.Text,
			Translated: seg.Text,
			StartS:     seg.StartS,
			EndS:       seg.EndS,
			Confidence: seg.Confidence,
		})
	}
	return out
}

func sortedKeys(m map[string][]models.TranslatedSegment) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
