package translate

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/voxcut/voxcut/internal/models"
)

// Default acceptable translated/original length ratio. Pairs that cross
// the ideographic boundary get wider bounds because CJK text is far more
// compact than alphabetic text.
const (
	ratioMin = 0.3
	ratioMax = 2.0

	crossScriptRatioMin = 0.25
	crossScriptRatioMax = 3.5
)

// placeholderMarkers are literal failure markers some models emit instead
// of a translation.
var placeholderMarkers = []string{
	"[translation unavailable]",
	"[untranslated]",
	"<translation>",
	"todo",
	"n/a",
	"error",
	"???",
}

// ValidateQuality scores one translated segment in place. Length ratio
// violations and source-script residue each halve the confidence,
// placeholder output zeroes it, and anything below threshold is flagged
// low_confidence but kept.
func ValidateQuality(ts *models.TranslatedSegment, sourceLang, targetLang string, threshold float64) {
	if isPlaceholder(ts.Translated) {
		ts.Confidence = 0
		ts.AddFlag(models.QualityFlagPlaceholder)
	} else {
		lo, hi := ratioBounds(sourceLang, targetLang)
		if ratio := lengthRatio(ts.Translated, ts.Original); ratio < lo || ratio > hi {
			ts.Confidence /= 2
			ts.AddFlag(models.QualityFlagLengthRatio)
		}
		if hasResidualSourceScript(ts.Translated, sourceLang, targetLang) {
			ts.Confidence /= 2
			ts.AddFlag(models.QualityFlagResidualSource)
		}
	}

	if ts.Confidence < threshold {
		ts.AddFlag(models.QualityFlagLowConfidence)
	}
}

func isPlaceholder(text string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return true
	}
	for _, marker := range placeholderMarkers {
		if trimmed == marker {
			return true
		}
	}
	return false
}

func lengthRatio(translated, original string) float64 {
	origLen := utf8.RuneCountInString(original)
	if origLen == 0 {
		return 1
	}
	return float64(utf8.RuneCountInString(translated)) / float64(origLen)
}

// ratioBounds widens the acceptable band when exactly one side of the
// pair is an ideographic-script language.
func ratioBounds(sourceLang, targetLang string) (float64, float64) {
	if isIdeographicLanguage(sourceLang) != isIdeographicLanguage(targetLang) {
		return crossScriptRatioMin, crossScriptRatioMax
	}
	return ratioMin, ratioMax
}

// hasResidualSourceScript reports untranslated source text leaking into
// the output. Only meaningful when the source script differs from the
// target's. A Japanese name quoted in an English subtitle is one or two
// runes, so a handful of ideographic runes is tolerated; in the other
// direction loanwords and acronyms appear as short Latin islands, so only
// a long unbroken alphabetic run counts as residue.
func hasResidualSourceScript(translated, sourceLang, targetLang string) bool {
	srcIdeo, tgtIdeo := isIdeographicLanguage(sourceLang), isIdeographicLanguage(targetLang)
	switch {
	case srcIdeo && !tgtIdeo:
		count := 0
		for _, r := range translated {
			if isIdeographicRune(r) {
				count++
				if count > 3 {
					return true
				}
			}
		}
	case !srcIdeo && tgtIdeo:
		run := 0
		for _, r := range translated {
			switch {
			case unicode.Is(unicode.Latin, r):
				run++
				if run > 8 {
					return true
				}
			case r == ' ' || r == '\'' || r == '-':
				// Word separators keep the run alive.
			default:
				run = 0
			}
		}
	}
	return false
}

func isIdeographicLanguage(lang string) bool {
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

func isIdeographicRune(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
