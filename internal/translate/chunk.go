// Package translate batches transcript segments into token-bounded chunks,
// drives the LLM translation task over them, and validates the quality of
// what comes back. A chunk failure degrades to per-segment retries so one
// bad batch cannot sink a whole run.
package translate

import (
	"github.com/voxcut/voxcut/internal/llm"
	"github.com/voxcut/voxcut/internal/models"
)

// Chunk is one translation request: the segments to translate plus a few
// trailing segments of the previous chunk carried as context only.
type Chunk struct {
	Work      []models.Segment
	Context   []models.Segment
	Oversized bool
}

// BuildChunks packs segments greedily by estimated token count. A single
// segment whose estimate exceeds maxTokens becomes its own chunk, marked
// oversized. Every chunk after the first carries the last overlap work
// segments of its predecessor as untranslated context.
func BuildChunks(segments []models.Segment, maxTokens, overlap int) []Chunk {
	if len(segments) == 0 {
		return nil
	}
	if maxTokens < 1 {
		maxTokens = 1
	}

	var chunks []Chunk
	var current []models.Segment
	budget := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, Chunk{Work: current})
			current = nil
			budget = 0
		}
	}

	for _, seg := range segments {
		cost := llm.EstimateTokens(seg.Text)
		if cost > maxTokens {
			flush()
			chunks = append(chunks, Chunk{Work: []models.Segment{seg}, Oversized: true})
			continue
		}
		if budget+cost > maxTokens {
			flush()
		}
		current = append(current, seg)
		budget += cost
	}
	flush()

	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Work
		n := overlap
		if n > len(prev) {
			n = len(prev)
		}
		if n > 0 {
			chunks[i].Context = append([]models.Segment(nil), prev[len(prev)-n:]...)
		}
	}
	return chunks
}
