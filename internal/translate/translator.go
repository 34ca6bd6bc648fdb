package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xeipuuv/gojsonschema"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/llm"
	"github.com/voxcut/voxcut/internal/llm/prompts"
	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/observability"
)

// ErrPartialFailure means too many segments failed to translate for the
// result to be trusted.
var ErrPartialFailure = errors.New("translation success rate below minimum")

// ClassifyError maps translate failures onto the pipeline taxonomy.
func ClassifyError(err error) models.ErrorKind {
	if errors.Is(err, ErrPartialFailure) {
		return models.ErrKindPartialFailure
	}
	return llm.ClassifyError(err)
}

// Executor is the slice of the LLM router the translator needs.
type Executor interface {
	Execute(ctx context.Context, task string, req llm.Request, schema *gojsonschema.Schema, v any) error
}

// Result is a possibly-partial translation of a transcript. Failed
// segments keep their original text and carry the translation_failed flag;
// callers decide whether the success rate is acceptable.
type Result struct {
	Segments    []models.TranslatedSegment `json:"segments"`
	Successful  int                        `json:"successful"`
	Failed      int                        `json:"failed"`
	SuccessRate float64                    `json:"success_rate"`
}

type translationItem struct {
	ID          int    `json:"id"`
	Translation string `json:"translation"`
}

// Translator batches segments through the router and assembles validated
// translated segments.
type Translator struct {
	exec   Executor
	cfg    config.TranslationConfig
	logger *slog.Logger
}

// NewTranslator wires a translator over the router.
func NewTranslator(exec Executor, cfg config.TranslationConfig, logger *slog.Logger) *Translator {
	return &Translator{
		exec:   exec,
		cfg:    cfg,
		logger: observability.WithComponent(logger, "translator"),
	}
}

// Translate renders segments into targetLang. Chunks that fail wholesale
// degrade to per-segment retries; segments that still fail are kept with
// their original text and flagged. A below-minimum success rate and a
// cancelled context both return the partial result alongside the error, so
// callers can persist the segments that did land.
func (t *Translator) Translate(ctx context.Context, segments []models.Segment, sourceLang, targetLang string) (*Result, error) {
	if len(segments) == 0 {
		return &Result{SuccessRate: 1}, nil
	}

	chunks := BuildChunks(segments, t.cfg.MaxTokensPerRequest, t.cfg.OverlapSegments)
	t.logger.Info("translating transcript",
		"segments", len(segments),
		"chunks", len(chunks),
		"source", sourceLang,
		"target", targetLang,
	)

	// Later chunks win on duplicate ids.
	translations := make(map[int]string)
	oversized := make(map[int]bool)
	failed := make(map[int]bool)

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return t.assemble(segments, translations, oversized, failed, sourceLang, targetLang), err
		}
		items, err := t.translateChunk(ctx, chunk, sourceLang, targetLang)
		if err != nil {
			t.logger.Warn("chunk translation failed, retrying segments individually",
				"chunk", i, "segments", len(chunk.Work), "error", err)
			items = t.retrySegments(ctx, chunk.Work, sourceLang, targetLang, failed)
		} else if missing := missingSegments(chunk.Work, items); len(missing) > 0 {
			t.logger.Warn("chunk response skipped segments, retrying them individually",
				"chunk", i, "missing", len(missing))
			items = append(items, t.retrySegments(ctx, missing, sourceLang, targetLang, failed)...)
		}
		for _, item := range items {
			translations[item.ID] = item.Translation
			delete(failed, item.ID)
		}
		if chunk.Oversized {
			for _, seg := range chunk.Work {
				oversized[seg.ID] = true
			}
		}
	}

	result := t.assemble(segments, translations, oversized, failed, sourceLang, targetLang)
	if result.SuccessRate < t.cfg.MinSuccessRate {
		return result, fmt.Errorf("%w: %.2f < %.2f (%d of %d segments failed)",
			ErrPartialFailure, result.SuccessRate, t.cfg.MinSuccessRate,
			result.Failed, len(segments))
	}
	return result, nil
}

// translateChunk sends one chunk through the router and keeps only the
// translations for work segments.
func (t *Translator) translateChunk(ctx context.Context, chunk Chunk, sourceLang, targetLang string) ([]translationItem, error) {
	lines := make([]prompts.TranslationLine, 0, len(chunk.Context)+len(chunk.Work))
	for _, seg := range chunk.Context {
		lines = append(lines, prompts.TranslationLine{ID: seg.ID, Text: seg.Text, ContextOnly: true})
	}
	work := make(map[int]bool, len(chunk.Work))
	for _, seg := range chunk.Work {
		lines = append(lines, prompts.TranslationLine{ID: seg.ID, Text: seg.Text})
		work[seg.ID] = true
	}

	var items []translationItem
	err := t.exec.Execute(ctx, config.TaskTranslation, llm.Request{
		Prompt:       prompts.Translation(lines, sourceLang, targetLang),
		SystemPrompt: prompts.SystemTranslator,
	}, prompts.TranslationSchema, &items)
	if err != nil {
		return nil, err
	}

	kept := items[:0]
	for _, item := range items {
		if work[item.ID] && item.Translation != "" {
			kept = append(kept, item)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: response translated none of the requested segments", llm.ErrBadResponse)
	}
	return kept, nil
}

// retrySegments translates each segment of a failed chunk on its own,
// recording the ones that still fail.
func (t *Translator) retrySegments(ctx context.Context, segments []models.Segment, sourceLang, targetLang string, failedOut map[int]bool) []translationItem {
	var items []translationItem
	for _, seg := range segments {
		if ctx.Err() != nil {
			failedOut[seg.ID] = true
			continue
		}
		got, err := t.translateChunk(ctx, Chunk{Work: []models.Segment{seg}}, sourceLang, targetLang)
		if err != nil {
			t.logger.Warn("segment translation failed",
				"segment", seg.ID, "error", err)
			failedOut[seg.ID] = true
			continue
		}
		items = append(items, got...)
	}
	return items
}

// missingSegments returns the work segments absent from a chunk response.
func missingSegments(work []models.Segment, items []translationItem) []models.Segment {
	got := make(map[int]bool, len(items))
	for _, item := range items {
		got[item.ID] = true
	}
	var missing []models.Segment
	for _, seg := range work {
		if !got[seg.ID] {
			missing = append(missing, seg)
		}
	}
	return missing
}

// assemble builds the final segment list in input order and applies
// quality validation.
func (t *Translator) assemble(segments []models.Segment, translations map[int]string, oversized, failed map[int]bool, sourceLang, targetLang string) *Result {
	result := &Result{Segments: make([]models.TranslatedSegment, 0, len(segments))}

	for _, seg := range segments {
		ts := models.TranslatedSegment{
			ID:         seg.ID,
			Original:   seg.Text,
			StartS:     seg.StartS,
			EndS:       seg.EndS,
			Confidence: 1,
		}
		if text, ok := translations[seg.ID]; ok && !failed[seg.ID] {
			ts.Translated = text
			result.Successful++
		} else {
			ts.Translated = seg.Text
			ts.Confidence = 0
			ts.AddFlag(models.QualityFlagTranslationFailed)
			result.Failed++
		}
		if oversized[seg.ID] {
			ts.AddFlag(models.QualityFlagOversizedSegment)
		}
		if !ts.Failed() {
			ValidateQuality(&ts, sourceLang, targetLang, t.cfg.ConfidenceThreshold)
		}
		result.Segments = append(result.Segments, ts)
	}

	if len(segments) > 0 {
		result.SuccessRate = float64(result.Successful) / float64(len(segments))
	}
	return result
}
