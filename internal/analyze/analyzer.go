// Package analyze runs the LLM analysis tasks over a transcript and cleans
// up what the models return: scores are clamped, invalid highlight ranges
// dropped, and chapters normalized into a contiguous non-overlapping cover
// of the transcript.
package analyze

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/xeipuuv/gojsonschema"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/llm"
	"github.com/voxcut/voxcut/internal/llm/prompts"
	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/observability"
)

// Executor is the slice of the LLM router the analyzer needs.
type Executor interface {
	Execute(ctx context.Context, task string, req llm.Request, schema *gojsonschema.Schema, v any) error
}

// Analyzer drives highlight, chapter, summary and title generation.
type Analyzer struct {
	exec   Executor
	cfg    config.AnalysisConfig
	logger *slog.Logger
}

// NewAnalyzer wires an analyzer over the router.
func NewAnalyzer(exec Executor, cfg config.AnalysisConfig, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		exec:   exec,
		cfg:    cfg,
		logger: observability.WithComponent(logger, "analyzer"),
	}
}

// Analyze produces the full analysis for a transcript. An empty transcript
// yields an empty result without touching any provider. Chapter detection
// failures degrade to an equal-duration fallback split rather than failing
// the stage; highlight, summary and title failures surface as errors.
func (a *Analyzer) Analyze(ctx context.Context, segments []models.Segment) (*models.AnalysisResult, error) {
	if len(segments) == 0 {
		return &models.AnalysisResult{}, nil
	}

	highlights, err := a.Highlights(ctx, segments)
	if err != nil {
		return nil, fmt.Errorf("highlight detection: %w", err)
	}

	chapters, err := a.Chapters(ctx, segments)
	if err != nil {
		a.logger.Warn("chapter detection failed, falling back to equal split", "error", err)
		chapters = fallbackChapters(segments)
	}

	summary, err := a.Summary(ctx, segments)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}

	titles, err := a.Titles(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("title generation: %w", err)
	}

	return &models.AnalysisResult{
		Highlights:      highlights,
		Chapters:        chapters,
		Summary:         summary,
		SuggestedTitles: titles,
	}, nil
}

// Highlights detects clip-worthy moments. Model output is sanitized:
// inverted or out-of-transcript ranges are dropped, scores clamped to
// [0,100], and anything under the configured minimum score discarded.
func (a *Analyzer) Highlights(ctx context.Context, segments []models.Segment) ([]models.Highlight, error) {
	var raw []models.Highlight
	err := a.exec.Execute(ctx, config.TaskHighlightDetection, llm.Request{
		Prompt:       prompts.Highlights(segments, a.cfg.MaxHighlights),
		SystemPrompt: prompts.SystemAnalyst,
	}, prompts.HighlightSchema, &raw)
	if err != nil {
		return nil, err
	}

	valid := segmentIDSet(segments)
	var kept []models.Highlight
	for _, h := range raw {
		if h.Score < 0 {
			h.Score = 0
		}
		if h.Score > 100 {
			h.Score = 100
		}
		if h.EndSegmentID < h.StartSegmentID || !valid[h.StartSegmentID] || !valid[h.EndSegmentID] {
			a.logger.Debug("dropping invalid highlight range",
				"start", h.StartSegmentID, "end", h.EndSegmentID)
			continue
		}
		if h.Score < a.cfg.MinHighlightScore {
			continue
		}
		kept = append(kept, h)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if len(kept) > a.cfg.MaxHighlights {
		kept = kept[:a.cfg.MaxHighlights]
	}
	a.logger.Info("highlight detection complete", "raw", len(raw), "kept", len(kept))
	return kept, nil
}

// chapterItem is the model's chapter shape, in segment-id space.
type chapterItem struct {
	Title          string `json:"title"`
	Summary        string `json:"summary"`
	StartSegmentID int    `json:"start_segment_id"`
	EndSegmentID   int    `json:"end_segment_id"`
}

// Chapters detects topical chapters and normalizes them into a contiguous
// partition of the transcript.
func (a *Analyzer) Chapters(ctx context.Context, segments []models.Segment) ([]models.Chapter, error) {
	var raw []chapterItem
	err := a.exec.Execute(ctx, config.TaskChapterDetection, llm.Request{
		Prompt:       prompts.Chapters(segments),
		SystemPrompt: prompts.SystemAnalyst,
	}, prompts.ChapterSchema, &raw)
	if err != nil {
		return nil, err
	}

	chapters, err := normalizeChapters(raw, segments)
	if err != nil {
		return nil, err
	}
	a.logger.Info("chapter detection complete", "chapters", len(chapters))
	return chapters, nil
}

type summaryPayload struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// Summary produces the whole-video summary.
func (a *Analyzer) Summary(ctx context.Context, segments []models.Segment) (string, error) {
	var payload summaryPayload
	err := a.exec.Execute(ctx, config.TaskSummary, llm.Request{
		Prompt:       prompts.Summary(segments),
		SystemPrompt: prompts.SystemAnalyst,
	}, prompts.SummarySchema, &payload)
	if err != nil {
		return "", err
	}
	return payload.Summary, nil
}

// Titles suggests video titles from the summary.
func (a *Analyzer) Titles(ctx context.Context, summary string) ([]string, error) {
	var titles []string
	err := a.exec.Execute(ctx, config.TaskTitleGeneration, llm.Request{
		Prompt:       prompts.Titles(summary, a.cfg.TitleCount),
		SystemPrompt: prompts.SystemAnalyst,
	}, prompts.TitleSchema, &titles)
	if err != nil {
		return nil, err
	}
	if len(titles) > a.cfg.TitleCount {
		titles = titles[:a.cfg.TitleCount]
	}
	return titles, nil
}

func segmentIDSet(segments []models.Segment) map[int]bool {
	set := make(map[int]bool, len(segments))
	for _, s := range segments {
		set[s.ID] = true
	}
	return set
}
