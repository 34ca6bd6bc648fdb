package models

import (
	"fmt"
	"sort"
)

// WordTiming is a single word with its time span inside the parent segment.
type WordTiming struct {
	Word        string  `json:"word"`
	StartS      float64 `json:"start_s"`
	EndS        float64 `json:"end_s"`
	Probability float64 `json:"probability,omitempty"`
}

// Segment is one transcript unit as produced by the transcriber. Segments
// are immutable after creation; downstream stages reference them by ID.
type Segment struct {
	ID         int          `json:"id"`
	StartS     float64      `json:"start_s"`
	EndS       float64      `json:"end_s"`
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	Words      []WordTiming `json:"words,omitempty"`
	Speaker    string       `json:"speaker,omitempty"`
}

// Duration returns the segment's span in seconds.
func (s Segment) Duration() float64 {
	return s.EndS - s.StartS
}

// Validate checks the segment's local invariants.
func (s Segment) Validate() error {
	if s.StartS > s.EndS {
		return fmt.Errorf("segment %d: start %.3f after end %.3f", s.ID, s.StartS, s.EndS)
	}
	return nil
}

// ValidateSegments checks the sequence invariants: unique IDs and ordering
// by start time.
func ValidateSegments(segments []Segment) error {
	seen := make(map[int]struct{}, len(segments))
	prevStart := -1.0
	for _, seg := range segments {
		if err := seg.Validate(); err != nil {
			return err
		}
		if _, dup := seen[seg.ID]; dup {
			return fmt.Errorf("duplicate segment id %d", seg.ID)
		}
		seen[seg.ID] = struct{}{}
		if seg.StartS < prevStart {
			return fmt.Errorf("segment %d out of order: start %.3f before %.3f", seg.ID, seg.StartS, prevStart)
		}
		prevStart = seg.StartS
	}
	return nil
}

// SortSegments orders segments by start time, then by ID for equal starts.
func SortSegments(segments []Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		if segments[i].StartS != segments[j].StartS {
			return segments[i].StartS < segments[j].StartS
		}
		return segments[i].ID < segments[j].ID
	})
}

// Quality flags attached to translated segments.
const (
	QualityFlagTranslationFailed = "translation_failed"
	QualityFlagOversizedSegment  = "oversized_segment"
	QualityFlagLengthRatio       = "length_ratio_out_of_range"
	QualityFlagResidualSource    = "residual_source_language"
	QualityFlagPlaceholder       = "placeholder_detected"
	QualityFlagLowConfidence     = "low_confidence"
)

// TranslatedSegment pairs a source segment with its translation. ID always
// equals the source Segment.ID. When translation fails permanently the
// Translated text falls back to Original and QualityFlags records why.
type TranslatedSegment struct {
	ID           int      `json:"id"`
	Original     string   `json:"original"`
	Translated   string   `json:"translated"`
	StartS       float64  `json:"start_s"`
	EndS         float64  `json:"end_s"`
	QualityFlags []string `json:"quality_flags,omitempty"`
	Confidence   float64  `json:"confidence"`
}

// Failed reports whether this segment carries the translation_failed flag.
func (t TranslatedSegment) Failed() bool {
	for _, f := range t.QualityFlags {
		if f == QualityFlagTranslationFailed {
			return true
		}
	}
	return false
}

// AddFlag appends a quality flag if not already present.
func (t *TranslatedSegment) AddFlag(flag string) {
	for _, f := range t.QualityFlags {
		if f == flag {
			return
		}
	}
	t.QualityFlags = append(t.QualityFlags, flag)
}
