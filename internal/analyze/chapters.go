package analyze

import (
	"fmt"
	"sort"

	"github.com/voxcut/voxcut/internal/models"
)

// fallbackChapterCount is used when the model's chapter output is unusable.
const fallbackChapterCount = 3

// normalizeChapters turns raw model chapters into an ordered, contiguous,
// non-overlapping partition of the transcript. Items with unknown segment
// ids or inverted ranges are dropped; gaps and overlaps are healed by
// walking the transcript with a cursor so every segment lands in exactly
// one chapter.
func normalizeChapters(raw []chapterItem, segments []models.Segment) ([]models.Chapter, error) {
	if len(segments) == 0 {
		return nil, nil
	}

	pos := make(map[int]int, len(segments))
	for i, s := range segments {
		pos[s.ID] = i
	}

	var items []chapterItem
	for _, item := range raw {
		if _, ok := pos[item.StartSegmentID]; !ok {
			continue
		}
		if _, ok := pos[item.EndSegmentID]; !ok {
			continue
		}
		if pos[item.EndSegmentID] < pos[item.StartSegmentID] {
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no usable chapters in model output (%d raw)", len(raw))
	}
	sort.SliceStable(items, func(i, j int) bool {
		return pos[items[i].StartSegmentID] < pos[items[j].StartSegmentID]
	})

	var chapters []models.Chapter
	cursor := 0
	for i, item := range items {
		if cursor >= len(segments) {
			break
		}
		end := pos[item.EndSegmentID]
		if end < cursor {
			continue
		}
		if i == len(items)-1 {
			end = len(segments) - 1
		}
		chapters = append(chapters, buildChapter(len(chapters)+1, item.Title, item.Summary, segments[cursor:end+1]))
		cursor = end + 1
	}
	if cursor < len(segments) {
		last := &chapters[len(chapters)-1]
		extend(last, segments[cursor:])
	}

	if err := models.ValidateChapters(chapters, segments); err != nil {
		return nil, fmt.Errorf("normalized chapters still invalid: %w", err)
	}
	return chapters, nil
}

// fallbackChapters splits the transcript into up to three chapters of
// roughly equal duration.
func fallbackChapters(segments []models.Segment) []models.Chapter {
	if len(segments) == 0 {
		return nil
	}
	n := fallbackChapterCount
	if len(segments) < n {
		n = len(segments)
	}

	base := segments[0].StartS
	span := segments[len(segments)-1].EndS - base
	chunk := span / float64(n)

	var chapters []models.Chapter
	start := 0
	for i := 0; i < n; i++ {
		end := start
		if i == n-1 {
			end = len(segments) - 1
		} else {
			boundary := base + chunk*float64(i+1)
			for end+1 < len(segments) && segments[end+1].StartS < boundary {
				end++
			}
			// Leave at least one segment per remaining chapter.
			if limit := len(segments) - (n - i); end > limit {
				end = limit
			}
		}
		title := fmt.Sprintf("Part %d", i+1)
		chapters = append(chapters, buildChapter(i+1, title, "", segments[start:end+1]))
		start = end + 1
	}
	return chapters
}

func buildChapter(id int, title, summary string, segments []models.Segment) models.Chapter {
	ch := models.Chapter{
		ID:      id,
		Title:   title,
		Summary: summary,
		StartS:  segments[0].StartS,
		EndS:    segments[len(segments)-1].EndS,
	}
	for _, s := range segments {
		ch.SegmentIDs = append(ch.SegmentIDs, s.ID)
	}
	return ch
}

func extend(ch *models.Chapter, segments []models.Segment) {
	ch.EndS = segments[len(segments)-1].EndS
	for _, s := range segments {
		ch.SegmentIDs = append(ch.SegmentIDs, s.ID)
	}
}
