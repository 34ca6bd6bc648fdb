package models

import "fmt"

// Highlight is a scored span of consecutive segments worth clipping.
type Highlight struct {
	StartSegmentID int     `json:"start_segment_id"`
	EndSegmentID   int     `json:"end_segment_id"`
	Score          float64 `json:"score"`
	Reason         string  `json:"reason"`
	Category       string  `json:"category"`
	SuggestedTitle string  `json:"suggested_title"`
}

// Validate checks the highlight invariants: a non-inverted segment range and
// a score within [0,100].
func (h Highlight) Validate() error {
	if h.EndSegmentID < h.StartSegmentID {
		return fmt.Errorf("highlight range inverted: %d > %d", h.StartSegmentID, h.EndSegmentID)
	}
	if h.Score < 0 || h.Score > 100 {
		return fmt.Errorf("highlight score %.1f outside [0,100]", h.Score)
	}
	return nil
}

// Chapter is a contiguous topical section of the transcript.
type Chapter struct {
	ID         int     `json:"id"`
	StartS     float64 `json:"start_s"`
	EndS       float64 `json:"end_s"`
	Title      string  `json:"title"`
	Summary    string  `json:"summary"`
	SegmentIDs []int   `json:"segment_ids"`
}

// ValidateChapters checks that chapters are ordered, non-overlapping, and
// that their segment IDs partition the given segment set exactly once.
func ValidateChapters(chapters []Chapter, segments []Segment) error {
	prevEnd := -1.0
	claimed := make(map[int]int, len(segments))
	for _, ch := range chapters {
		if ch.StartS > ch.EndS {
			return fmt.Errorf("chapter %d: start %.3f after end %.3f", ch.ID, ch.StartS, ch.EndS)
		}
		if ch.StartS < prevEnd {
			return fmt.Errorf("chapter %d overlaps previous (start %.3f < %.3f)", ch.ID, ch.StartS, prevEnd)
		}
		prevEnd = ch.EndS
		for _, id := range ch.SegmentIDs {
			claimed[id]++
			if claimed[id] > 1 {
				return fmt.Errorf("segment %d claimed by more than one chapter", id)
			}
		}
	}
	for _, seg := range segments {
		if claimed[seg.ID] == 0 {
			return fmt.Errorf("segment %d not covered by any chapter", seg.ID)
		}
	}
	return nil
}

// AnalysisResult aggregates everything the analyze stage produces.
type AnalysisResult struct {
	Highlights      []Highlight `json:"highlights"`
	Chapters        []Chapter   `json:"chapters"`
	Summary         string      `json:"summary,omitempty"`
	SuggestedTitles []string    `json:"suggested_titles,omitempty"`
}

// Selection is the user-curated input that unblocks AWAIT_USER_SELECTION:
// which highlights to keep, how to cut them, and which languages to produce.
type Selection struct {
	HighlightIndexes []int         `json:"highlight_indexes"`
	EditSegments     []EditSegment `json:"edit_segments"`
	TargetLanguages  []string      `json:"target_languages,omitempty"`
}

// Empty reports whether the selection carries no cuts at all.
func (s Selection) Empty() bool {
	return len(s.HighlightIndexes) == 0 && len(s.EditSegments) == 0
}
