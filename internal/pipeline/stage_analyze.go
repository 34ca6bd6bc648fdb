package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/voxcut/voxcut/internal/models"
)

// Analyzer is the slice of the analysis component the pipeline needs.
type Analyzer interface {
	Analyze(ctx context.Context, segments []models.Segment) (*models.AnalysisResult, error)
}

type analyzeStage struct {
	analyzer Analyzer
}

func (s *analyzeStage) ID() models.Stage { return models.StageAnalyze }
func (s *analyzeStage) Name() string     { return "analyze" }

func (s *analyzeStage) Execute(ctx context.Context, st *State) (*StageResult, error) {
	if st.Analysis() != nil {
		return &StageResult{Summary: "analysis already recorded"}, nil
	}
	tr := st.Transcription()
	if tr == nil {
		return nil, fmt.Errorf("no transcription to analyze")
	}

	st.publish(0, "analyzing transcript")
	result, err := s.analyzer.Analyze(ctx, tr.Segments)
	if err != nil {
		return nil, err
	}
	if err := st.SetAnalysis(result); err != nil {
		return nil, err
	}
	return &StageResult{
		Summary: fmt.Sprintf("%d highlights, %d chapters", len(result.Highlights), len(result.Chapters)),
	}, nil
}

func (s *analyzeStage) Cleanup(context.Context, *State) {}

type awaitStage struct{}

func (s *awaitStage) ID() models.Stage { return models.StageAwaitSelection }
func (s *awaitStage) Name() string     { return "await_user_selection" }

func (s *awaitStage) Execute(ctx context.Context, st *State) (*StageResult, error) {
	if st.Selection() != nil {
		return &StageResult{Summary: "selection already recorded"}, nil
	}

	autoTop := st.Options.AutoSelectTop
	if autoTop == 0 {
		autoTop = st.Config.Selection.AutoSelectTop
	}
	if autoTop > 0 {
		sel, err := autoSelect(st, autoTop)
		if err != nil {
			return nil, err
		}
		if err := st.SetSelection(sel); err != nil {
			return nil, err
		}
		return &StageResult{Summary: fmt.Sprintf("auto-selected top %d highlights", len(sel.HighlightIndexes))}, nil
	}

	st.publish(0, "waiting for selection")
	sel, err := s.wait(ctx, st)
	if err != nil {
		return nil, err
	}
	if err := s.resolve(st, &sel); err != nil {
		return nil, err
	}
	if err := st.SetSelection(&sel); err != nil {
		return nil, err
	}
	return &StageResult{Summary: fmt.Sprintf("selection with %d cuts", len(sel.EditSegments))}, nil
}

func (s *awaitStage) wait(ctx context.Context, st *State) (models.Selection, error) {
	var timeout <-chan time.Time
	if d := st.Config.Selection.Timeout; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case sel := <-st.selectionCh:
		return sel, nil
	case <-timeout:
		return models.Selection{}, ErrSelectionTimeout
	case <-ctx.Done():
		return models.Selection{}, ctx.Err()
	}
}

// resolve fills in cuts derived from the chosen highlights when the caller
// supplied indexes only, and checks every index against the analysis.
func (s *awaitStage) resolve(st *State, sel *models.Selection) error {
	analysis := st.Analysis()
	if analysis == nil {
		return fmt.Errorf("no analysis to select from")
	}
	for _, idx := range sel.HighlightIndexes {
		if idx < 0 || idx >= len(analysis.Highlights) {
			return fmt.Errorf("highlight index %d out of range [0,%d)", idx, len(analysis.Highlights))
		}
	}
	if len(sel.EditSegments) > 0 {
		return nil
	}

	byID := segmentsByID(st.Transcription().Segments)
	for i, idx := range sel.HighlightIndexes {
		seg, err := highlightSpan(analysis.Highlights[idx], byID)
		if err != nil {
			return err
		}
		seg.ID = i + 1
		seg.Title = analysis.Highlights[idx].SuggestedTitle
		sel.EditSegments = append(sel.EditSegments, seg)
	}
	return nil
}

func (s *awaitStage) Cleanup(context.Context, *State) {}

// autoSelect keeps the top scored highlights and derives one cut per
// highlight, in source order so the edit plays chronologically.
func autoSelect(st *State, top int) (*models.Selection, error) {
	analysis := st.Analysis()
	if analysis == nil || len(analysis.Highlights) == 0 {
		return nil, fmt.Errorf("no highlights to auto-select")
	}

	indexes := make([]int, len(analysis.Highlights))
	for i := range indexes {
		indexes[i] = i
	}
	sort.SliceStable(indexes, func(a, b int) bool {
		return analysis.Highlights[indexes[a]].Score > analysis.Highlights[indexes[b]].Score
	})
	if top < len(indexes) {
		indexes = indexes[:top]
	}
	sort.Ints(indexes)

	byID := segmentsByID(st.Transcription().Segments)
	sel := &models.Selection{HighlightIndexes: indexes}
	for i, idx := range indexes {
		seg, err := highlightSpan(analysis.Highlights[idx], byID)
		if err != nil {
			return nil, err
		}
		seg.ID = i + 1
		seg.Title = analysis.Highlights[idx].SuggestedTitle
		sel.EditSegments = append(sel.EditSegments, seg)
	}
	return sel, nil
}

func segmentsByID(segments []models.Segment) map[int]models.Segment {
	m := make(map[int]models.Segment, len(segments))
	for _, s := range segments {
		m[s.ID] = s
	}
	return m
}

func highlightSpan(h models.Highlight, byID map[int]models.Segment) (models.EditSegment, error) {
	start, ok := byID[h.StartSegmentID]
	if !ok {
		return models.EditSegment{}, fmt.Errorf("highlight references unknown segment %d", h.StartSegmentID)
	}
	end, ok := byID[h.EndSegmentID]
	if !ok {
		return models.EditSegment{}, fmt.Errorf("highlight references unknown segment %d", h.EndSegmentID)
	}
	return models.EditSegment{
		StartS:         start.StartS,
		EndS:           end.EndS,
		TitleDurationS: 2.0,
		Speed:          1.0,
	}, nil
}
