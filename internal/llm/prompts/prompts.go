// Package prompts builds the task prompts sent through the LLM router and
// carries the JSON schema each response must satisfy. Prompt text demands
// strict JSON; the strict suffix is appended on fallback retries.
package prompts

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/voxcut/voxcut/internal/llm"
	"github.com/voxcut/voxcut/internal/models"
)

// StrictSuffix is appended to prompts on the strict-mode retry after a
// parse or schema failure.
const StrictSuffix = llm.StrictSuffix

// SystemAnalyst primes analysis tasks.
const SystemAnalyst = "You are a video content analyst. You respond with " +
	"precise, valid JSON matching the requested structure exactly."

// SystemTranslator primes translation tasks.
const SystemTranslator = "You are a professional subtitle translator. You " +
	"preserve tone and brevity, and respond with valid JSON only."

// Compiled response schemas, one per task kind.
var (
	HighlightSchema = llm.CompileSchema(`{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["start_segment_id", "end_segment_id", "score"],
			"properties": {
				"start_segment_id": {"type": "integer"},
				"end_segment_id": {"type": "integer"},
				"score": {"type": "number"},
				"reason": {"type": "string"},
				"category": {"type": "string"},
				"suggested_title": {"type": "string"}
			}
		}
	}`)

	ChapterSchema = llm.CompileSchema(`{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["title", "start_segment_id", "end_segment_id"],
			"properties": {
				"title": {"type": "string"},
				"summary": {"type": "string"},
				"start_segment_id": {"type": "integer"},
				"end_segment_id": {"type": "integer"}
			}
		}
	}`)

	SummarySchema = llm.CompileSchema(`{
		"type": "object",
		"required": ["summary"],
		"properties": {
			"summary": {"type": "string"},
			"keywords": {"type": "array", "items": {"type": "string"}}
		}
	}`)

	TitleSchema = llm.CompileSchema(`{
		"type": "array",
		"items": {"type": "string"}
	}`)

	TranslationSchema = llm.CompileSchema(`{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["id", "translation"],
			"properties": {
				"id": {"type": "integer"},
				"translation": {"type": "string"}
			}
		}
	}`)
)

// LanguageName renders a BCP-47 tag as an English language name for prompt
// text ("ja" -> "Japanese"). Unknown tags pass through unchanged.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		return code
	}
	return name
}

// transcriptBlock renders segments as numbered lines with timings.
func transcriptBlock(segments []models.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		fmt.Fprintf(&b, "[%d] (%.1fs-%.1fs) %s\n", seg.ID, seg.StartS, seg.EndS, seg.Text)
	}
	return b.String()
}

// Highlights builds the highlight-detection prompt.
func Highlights(segments []models.Segment, maxHighlights int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Analyze this video transcript and identify up to %d highlight-worthy moments: funny, surprising, emotional, insightful or otherwise clip-worthy spans.

Transcript (numbered segments with timings):
%s
Return a JSON array. Each element:
{"start_segment_id": <first segment id>, "end_segment_id": <last segment id>, "score": <0-100>, "reason": "<why this moment stands out>", "category": "<funny|surprising|emotional|insightful|other>", "suggested_title": "<short clip title>"}

Rules:
- end_segment_id must be >= start_segment_id
- score reflects clip-worthiness, 100 is best
- only use segment ids that appear in the transcript`,
		maxHighlights, transcriptBlock(segments))
	return b.String()
}

// Chapters builds the chapter-detection prompt.
func Chapters(segments []models.Segment) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Divide this video transcript into topical chapters. Every segment must belong to exactly one chapter and chapters must be contiguous.

Transcript (numbered segments with timings):
%s
Return a JSON array ordered by time. Each element:
{"title": "<chapter title>", "summary": "<one-sentence summary>", "start_segment_id": <first segment id>, "end_segment_id": <last segment id>}`,
		transcriptBlock(segments))
	return b.String()
}

// Summary builds the whole-video summary prompt.
func Summary(segments []models.Segment) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Summarize this video transcript in 2-3 sentences and list its main keywords.

Transcript:
%s
Return a JSON object: {"summary": "<summary>", "keywords": ["<keyword>", ...]}`,
		transcriptBlock(segments))
	return b.String()
}

// Titles builds the title-generation prompt.
func Titles(summary string, count int) string {
	return fmt.Sprintf(`Suggest %d catchy video titles for a video with this summary:

%s

Return a JSON array of strings, best title first. Keep each title under 80 characters.`,
		count, summary)
}

// TranslationLine is one segment row in a translation prompt.
type TranslationLine struct {
	ID          int
	Text        string
	ContextOnly bool
}

// Translation builds the batch translation prompt. Context-only lines come
// from the previous chunk's overlap; the model must not translate them.
func Translation(lines []TranslationLine, sourceLang, targetLang string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate these subtitle segments from %s to %s.\n\n",
		LanguageName(sourceLang), LanguageName(targetLang))

	var contextLines, workLines []TranslationLine
	for _, l := range lines {
		if l.ContextOnly {
			contextLines = append(contextLines, l)
		} else {
			workLines = append(workLines, l)
		}
	}

	if len(contextLines) > 0 {
		b.WriteString("Preceding context (do NOT translate, for reference only):\n")
		for _, l := range contextLines {
			fmt.Fprintf(&b, "[%d] %s\n", l.ID, l.Text)
		}
		b.WriteString("\n")
	}

	b.WriteString("Segments to translate:\n")
	for _, l := range workLines {
		fmt.Fprintf(&b, "[%d] %s\n", l.ID, l.Text)
	}

	b.WriteString(`
Return a JSON array with one element per translated segment:
{"id": <segment id>, "translation": "<translated text>"}

Rules:
- translate every segment listed under "Segments to translate", none of the context lines
- keep translations concise enough to read as subtitles
- preserve the speaker's tone`)
	return b.String()
}
