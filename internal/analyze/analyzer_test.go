package analyze

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xeipuuv/gojsonschema"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/llm"
	"github.com/voxcut/voxcut/internal/models"
)

// fakeExec answers per task kind, recording call counts.
type fakeExec struct {
	highlights []models.Highlight
	chapters   []chapterItem
	summary    string
	titles     []string

	errs  map[string]error
	calls map[string]int
}

func (f *fakeExec) Execute(ctx context.Context, task string, req llm.Request, schema *gojsonschema.Schema, v any) error {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[task]++
	if err := f.errs[task]; err != nil {
		return err
	}
	switch out := v.(type) {
	case *[]models.Highlight:
		*out = f.highlights
	case *[]chapterItem:
		*out = f.chapters
	case *summaryPayload:
		out.Summary = f.summary
	case *[]string:
		*out = f.titles
	}
	return nil
}

func transcript(n int) []models.Segment {
	segments := make([]models.Segment, n)
	for i := range segments {
		segments[i] = models.Segment{
			ID:     i + 1,
			StartS: float64(i) * 10,
			EndS:   float64(i+1) * 10,
			Text:   "segment text",
		}
	}
	return segments
}

func testAnalysisConfig() config.AnalysisConfig {
	return config.AnalysisConfig{MaxHighlights: 10, MinHighlightScore: 50, TitleCount: 5}
}

func newTestAnalyzer(exec Executor) *Analyzer {
	return NewAnalyzer(exec, testAnalysisConfig(), slog.Default())
}

func TestAnalyzer_EmptyTranscript(t *testing.T) {
	exec := &fakeExec{}
	a := newTestAnalyzer(exec)

	result, err := a.Analyze(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Highlights)
	assert.Empty(t, result.Chapters)
	assert.Empty(t, exec.calls, "no provider calls for an empty transcript")
}

func TestAnalyzer_FullAnalysis(t *testing.T) {
	exec := &fakeExec{
		highlights: []models.Highlight{
			{StartSegmentID: 1, EndSegmentID: 3, Score: 80, Category: "funny"},
		},
		chapters: []chapterItem{
			{Title: "Ch", Summary: "s", StartSegmentID: 1, EndSegmentID: 3},
		},
		summary: "a short video",
		titles:  []string{"Best Title", "Second Title"},
	}
	a := newTestAnalyzer(exec)

	result, err := a.Analyze(context.Background(), transcript(3))
	require.NoError(t, err)

	require.Len(t, result.Highlights, 1)
	assert.Equal(t, 80.0, result.Highlights[0].Score)
	require.Len(t, result.Chapters, 1)
	assert.Equal(t, []int{1, 2, 3}, result.Chapters[0].SegmentIDs)
	assert.Equal(t, "a short video", result.Summary)
	assert.Equal(t, []string{"Best Title", "Second Title"}, result.SuggestedTitles)
	assert.Equal(t, 1, exec.calls[config.TaskHighlightDetection])
	assert.Equal(t, 1, exec.calls[config.TaskChapterDetection])
}

func TestAnalyzer_HighlightSanitization(t *testing.T) {
	exec := &fakeExec{highlights: []models.Highlight{
		{StartSegmentID: 1, EndSegmentID: 2, Score: 150},  // clamped to 100
		{StartSegmentID: 3, EndSegmentID: 1, Score: 90},   // inverted, dropped
		{StartSegmentID: 1, EndSegmentID: 99, Score: 90},  // unknown id, dropped
		{StartSegmentID: 2, EndSegmentID: 3, Score: 30},   // under minimum, dropped
		{StartSegmentID: 2, EndSegmentID: 4, Score: -5},   // clamped to 0, dropped
		{StartSegmentID: 4, EndSegmentID: 5, Score: 61.5}, // kept
	}}
	a := newTestAnalyzer(exec)

	got, err := a.Highlights(context.Background(), transcript(5))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 100.0, got[0].Score, "sorted best first")
	assert.Equal(t, 61.5, got[1].Score)
}

func TestAnalyzer_HighlightCap(t *testing.T) {
	var raw []models.Highlight
	for i := 1; i <= 5; i++ {
		raw = append(raw, models.Highlight{StartSegmentID: i, EndSegmentID: i, Score: float64(50 + i)})
	}
	exec := &fakeExec{highlights: raw}
	cfg := testAnalysisConfig()
	cfg.MaxHighlights = 2
	a := NewAnalyzer(exec, cfg, slog.Default())

	got, err := a.Highlights(context.Background(), transcript(5))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 55.0, got[0].Score)
	assert.Equal(t, 54.0, got[1].Score)
}

func TestAnalyzer_ChapterNormalization(t *testing.T) {
	// Overlapping and gappy model output must come back as a contiguous
	// partition of all 6 segments.
	exec := &fakeExec{chapters: []chapterItem{
		{Title: "A", StartSegmentID: 1, EndSegmentID: 3},
		{Title: "B", StartSegmentID: 3, EndSegmentID: 4}, // overlaps A
		{Title: "C", StartSegmentID: 6, EndSegmentID: 6}, // gap before C
	}}
	a := newTestAnalyzer(exec)

	segments := transcript(6)
	got, err := a.Chapters(context.Background(), segments)
	require.NoError(t, err)
	require.NoError(t, models.ValidateChapters(got, segments))
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 3}, got[0].SegmentIDs)
	assert.Equal(t, []int{4}, got[1].SegmentIDs)
	assert.Equal(t, []int{5, 6}, got[2].SegmentIDs)
}

func TestAnalyzer_ChapterFallbackOnFailure(t *testing.T) {
	exec := &fakeExec{
		errs:    map[string]error{config.TaskChapterDetection: llm.ErrParseFailure},
		summary: "s",
		titles:  []string{"t"},
		highlights: []models.Highlight{
			{StartSegmentID: 1, EndSegmentID: 1, Score: 70},
		},
	}
	a := newTestAnalyzer(exec)

	segments := transcript(6)
	result, err := a.Analyze(context.Background(), segments)
	require.NoError(t, err)
	require.Len(t, result.Chapters, 3, "equal-duration fallback")
	require.NoError(t, models.ValidateChapters(result.Chapters, segments))
	assert.Equal(t, "Part 1", result.Chapters[0].Title)
	assert.Equal(t, []int{1, 2}, result.Chapters[0].SegmentIDs)
	assert.Equal(t, []int{3, 4}, result.Chapters[1].SegmentIDs)
	assert.Equal(t, []int{5, 6}, result.Chapters[2].SegmentIDs)
}

func TestAnalyzer_ChapterFallbackOnGarbageOutput(t *testing.T) {
	exec := &fakeExec{
		chapters: []chapterItem{{Title: "X", StartSegmentID: 42, EndSegmentID: 99}},
		summary:  "s",
		titles:   []string{"t"},
	}
	a := newTestAnalyzer(exec)

	segments := transcript(4)
	result, err := a.Analyze(context.Background(), segments)
	require.NoError(t, err)
	require.NoError(t, models.ValidateChapters(result.Chapters, segments))
	assert.Len(t, result.Chapters, 3)
}

func TestAnalyzer_HighlightFailureSurfaces(t *testing.T) {
	exec := &fakeExec{errs: map[string]error{config.TaskHighlightDetection: llm.ErrUnreachable}}
	a := newTestAnalyzer(exec)

	_, err := a.Analyze(context.Background(), transcript(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrUnreachable)
}

func TestAnalyzer_TitleCountCap(t *testing.T) {
	exec := &fakeExec{titles: []string{"a", "b", "c"}}
	cfg := testAnalysisConfig()
	cfg.TitleCount = 2
	a := NewAnalyzer(exec, cfg, slog.Default())

	titles, err := a.Titles(context.Background(), "summary")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, titles)
}

func TestFallbackChapters_FewerSegmentsThanChapters(t *testing.T) {
	segments := transcript(2)
	got := fallbackChapters(segments)
	require.Len(t, got, 2)
	require.NoError(t, models.ValidateChapters(got, segments))
}
