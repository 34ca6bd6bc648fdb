// Package subtitle turns translated transcript segments into subtitle
// files. Timing is normalized first (minimum readable duration, maximum
// display duration, inter-entry gap) and text is wrapped to the line
// limits of the target script before a format writer renders the file.
package subtitle

import (
	"github.com/voxcut/voxcut/internal/models"
)

// Entry is one subtitle cue.
type Entry struct {
	Index  int     `json:"index"`
	StartS float64 `json:"start_s"`
	EndS   float64 `json:"end_s"`
	Text   string  `json:"text"`
}

// DurationS returns the cue's display time in seconds.
func (e Entry) DurationS() float64 {
	return e.EndS - e.StartS
}

// FromTranslatedSegments builds entries from a translated transcript,
// keeping segment order. Empty segments are skipped.
func FromTranslatedSegments(segments []models.TranslatedSegment) []Entry {
	entries := make([]Entry, 0, len(segments))
	for _, seg := range segments {
		if seg.Translated == "" {
			continue
		}
		entries = append(entries, Entry{
			Index:  len(entries) + 1,
			StartS: seg.StartS,
			EndS:   seg.EndS,
			Text:   seg.Translated,
		})
	}
	return entries
}
