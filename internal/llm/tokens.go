package llm

import (
	"strings"
	"unicode"
)

// Token estimation ratios. Ideographic text tokenizes near one-and-a-half
// tokens per character; space-delimited text near 1.3 tokens per word.
const (
	ideographicTokensPerRune = 1.5
	tokensPerWord            = 1.3
)

// EstimateTokens approximates the token count of mixed-script text. The
// text is split into ideographic and non-ideographic runs; each run is
// estimated with its own ratio and the results are summed. Used by the
// translation batcher to pack chunks under the request budget.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	total := 0.0
	var wordRun strings.Builder
	flushWords := func() {
		if wordRun.Len() > 0 {
			words := len(strings.Fields(wordRun.String()))
			total += float64(words) * tokensPerWord
			wordRun.Reset()
		}
	}

	for _, r := range text {
		if isIdeographic(r) {
			flushWords()
			total += ideographicTokensPerRune
		} else {
			wordRun.WriteRune(r)
		}
	}
	flushWords()

	if total < 1 {
		total = 1
	}
	return int(total + 0.5)
}

// isIdeographic reports whether r belongs to a script without word
// delimiters: Han, Hiragana, Katakana or Hangul.
func isIdeographic(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
