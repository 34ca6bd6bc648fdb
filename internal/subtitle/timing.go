package subtitle

import (
	"strings"

	"github.com/voxcut/voxcut/internal/config"
)

// OptimizeTiming normalizes entry timing for readability: entries longer
// than the maximum duration are split on word boundaries, entries shorter
// than the minimum are extended (never past the next entry's start minus
// the gap), and consecutive entries keep at least the configured gap
// between them. Order is preserved and indexes are reassigned.
func OptimizeTiming(entries []Entry, cfg config.SubtitleConfig) []Entry {
	if len(entries) == 0 {
		return nil
	}

	minDur := cfg.MinDuration.Seconds()
	maxDur := cfg.MaxDuration.Seconds()
	gap := cfg.Gap.Seconds()

	var out []Entry
	for _, entry := range entries {
		out = append(out, splitLong(entry, maxDur)...)
	}

	for i := range out {
		nextStart := -1.0
		if i+1 < len(out) {
			nextStart = out[i+1].StartS
		}
		if out[i].DurationS() < minDur {
			end := out[i].StartS + minDur
			if nextStart >= 0 && end > nextStart-gap {
				end = nextStart - gap
			}
			if end > out[i].EndS {
				out[i].EndS = end
			}
		}
		if nextStart >= 0 && out[i].EndS > nextStart-gap {
			end := nextStart - gap
			if end > out[i].StartS {
				out[i].EndS = end
			}
		}
	}

	for i := range out {
		out[i].Index = i + 1
	}
	return out
}

// splitLong recursively splits an entry that exceeds maxDur. The text is
// cut at the space nearest to the proportional split point; text without
// spaces is cut at the proportional rune.
func splitLong(entry Entry, maxDur float64) []Entry {
	if maxDur <= 0 || entry.DurationS() <= maxDur {
		return []Entry{entry}
	}

	fraction := maxDur / entry.DurationS()
	head, tail := splitText(entry.Text, fraction)
	if tail == "" {
		// Nothing sensible to split on; keep the long entry.
		return []Entry{entry}
	}

	cut := entry.StartS + maxDur
	first := Entry{StartS: entry.StartS, EndS: cut, Text: head}
	rest := Entry{StartS: cut, EndS: entry.EndS, Text: tail}
	return append([]Entry{first}, splitLong(rest, maxDur)...)
}

// splitText cuts text near the given fraction of its runes, preferring the
// nearest space at or before that point.
func splitText(text string, fraction float64) (string, string) {
	runes := []rune(text)
	if len(runes) < 2 {
		return text, ""
	}
	target := int(float64(len(runes)) * fraction)
	if target < 1 {
		target = 1
	}
	if target >= len(runes) {
		target = len(runes) - 1
	}

	cut := -1
	for i := target; i > 0; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}
	if cut <= 0 {
		if hasSpace(text) {
			// Only spaces after the target; split at the first one.
			cut = strings.IndexRune(text, ' ')
			head := strings.TrimSpace(text[:cut])
			tail := strings.TrimSpace(text[cut:])
			return head, tail
		}
		return string(runes[:target]), string(runes[target:])
	}
	return strings.TrimSpace(string(runes[:cut])), strings.TrimSpace(string(runes[cut:]))
}

func hasSpace(text string) bool {
	return strings.ContainsRune(text, ' ')
}
