package subtitle

import (
	"strings"
	"unicode"

	"github.com/voxcut/voxcut/internal/config"
)

const ellipsis = "…"

// WrapText lays text out for on-screen display: ideographic-script
// languages wrap at the CJK line limit by rune, everything else wraps
// greedily on spaces at the standard limit. At most MaxLines lines are
// kept; overflow is truncated with an ellipsis.
func WrapText(text, lang string, cfg config.SubtitleConfig) []string {
	limit := cfg.MaxLineLength
	cjk := isIdeographicLang(lang)
	if lang == "" {
		cjk = containsIdeographic(text)
	}
	if cjk {
		limit = cfg.MaxLineLengthCJK
	}
	if limit < 1 {
		limit = 1
	}
	maxLines := cfg.MaxLines
	if maxLines < 1 {
		maxLines = 1
	}

	var lines []string
	if cjk {
		lines = wrapRunes(text, limit)
	} else {
		lines = wrapWords(text, limit)
	}

	if len(lines) > maxLines {
		lines = lines[:maxLines]
		last := []rune(lines[maxLines-1])
		if len(last) >= limit {
			last = last[:limit-1]
		}
		lines[maxLines-1] = strings.TrimRight(string(last), " ") + ellipsis
	}
	return lines
}

func wrapWords(text string, limit int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if len([]rune(current))+1+len([]rune(word)) > limit {
			lines = append(lines, current)
			current = word
			continue
		}
		current += " " + word
	}
	return append(lines, current)
}

func wrapRunes(text string, limit int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var lines []string
	for len(runes) > limit {
		lines = append(lines, string(runes[:limit]))
		runes = runes[limit:]
	}
	return append(lines, string(runes))
}

// isIdeographicLang mirrors the translation quality check: scripts without
// word delimiters get the tighter line limit.
func isIdeographicLang(lang string) bool {
	primary := strings.ToLower(lang)
	if i := strings.IndexAny(primary, "-_"); i > 0 {
		primary = primary[:i]
	}
	switch primary {
	case "zh", "ja", "ko", "yue":
		return true
	}
	return false
}

// containsIdeographic reports whether any rune needs CJK treatment, used
// when the language tag is unknown.
func containsIdeographic(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}
