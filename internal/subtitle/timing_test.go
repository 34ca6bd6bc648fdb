package subtitle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/models"
)

func testSubtitleConfig() config.SubtitleConfig {
	return config.SubtitleConfig{
		MaxLineLength:    60,
		MaxLineLengthCJK: 40,
		MaxLines:         2,
		MinDuration:      1 * time.Second,
		MaxDuration:      5 * time.Second,
		Gap:              100 * time.Millisecond,
	}
}

func TestOptimizeTiming_Empty(t *testing.T) {
	assert.Nil(t, OptimizeTiming(nil, testSubtitleConfig()))
}

func TestOptimizeTiming_ExtendsShortEntries(t *testing.T) {
	entries := []Entry{
		{StartS: 0, EndS: 0.4, Text: "hi"},
		{StartS: 5, EndS: 7, Text: "there"},
	}
	out := OptimizeTiming(entries, testSubtitleConfig())
	require.Len(t, out, 2)
	assert.Equal(t, 1.0, out[0].EndS, "extended to the minimum duration")
	assert.Equal(t, 7.0, out[1].EndS)
}

func TestOptimizeTiming_ExtensionStopsBeforeNextEntry(t *testing.T) {
	entries := []Entry{
		{StartS: 0, EndS: 0.3, Text: "one"},
		{StartS: 0.8, EndS: 2, Text: "two"},
	}
	out := OptimizeTiming(entries, testSubtitleConfig())
	assert.InDelta(t, 0.7, out[0].EndS, 1e-9, "next start minus gap")
}

func TestOptimizeTiming_SplitsLongEntries(t *testing.T) {
	entries := []Entry{
		{StartS: 0, EndS: 12, Text: "this half goes first and then the rest follows right after it"},
	}
	out := OptimizeTiming(entries, testSubtitleConfig())
	require.Len(t, out, 3)
	for i, e := range out {
		assert.LessOrEqual(t, e.DurationS(), 5.0, "entry %d", i)
		assert.NotEmpty(t, e.Text)
	}
	assert.Equal(t, 0.0, out[0].StartS)
	assert.InDelta(t, 4.9, out[0].EndS, 1e-9, "split point minus the gap")
	assert.Equal(t, 5.0, out[1].StartS)
	assert.Equal(t, 12.0, out[2].EndS)
	// Text split on word boundaries, nothing lost.
	joined := out[0].Text + " " + out[1].Text + " " + out[2].Text
	assert.Equal(t, entries[0].Text, joined)
}

func TestOptimizeTiming_SplitsUnspacedText(t *testing.T) {
	entries := []Entry{
		{StartS: 0, EndS: 10, Text: "今日はとても良い天気だから散歩に行こうと思う"},
	}
	out := OptimizeTiming(entries, testSubtitleConfig())
	require.Len(t, out, 2)
	assert.Equal(t, entries[0].Text, out[0].Text+out[1].Text)
}

func TestOptimizeTiming_EnforcesGap(t *testing.T) {
	entries := []Entry{
		{StartS: 0, EndS: 2.05, Text: "one"},
		{StartS: 2.1, EndS: 4, Text: "two"},
	}
	out := OptimizeTiming(entries, testSubtitleConfig())
	assert.InDelta(t, 2.0, out[0].EndS, 1e-9)
	assert.Equal(t, 2.1, out[1].StartS)
}

func TestOptimizeTiming_ReindexesInOrder(t *testing.T) {
	entries := []Entry{
		{Index: 9, StartS: 0, EndS: 12, Text: "a long entry that will be split into multiple pieces here"},
		{Index: 10, StartS: 13, EndS: 14, Text: "tail"},
	}
	out := OptimizeTiming(entries, testSubtitleConfig())
	for i, e := range out {
		assert.Equal(t, i+1, e.Index)
		if i > 0 {
			assert.GreaterOrEqual(t, e.StartS, out[i-1].EndS)
		}
	}
}

func TestFromTranslatedSegments(t *testing.T) {
	segments := []models.TranslatedSegment{
		{ID: 1, StartS: 0, EndS: 2, Translated: "hallo"},
		{ID: 2, StartS: 2, EndS: 3, Translated: ""},
		{ID: 3, StartS: 3, EndS: 5, Translated: "welt"},
	}
	entries := FromTranslatedSegments(segments)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Index)
	assert.Equal(t, 2, entries[1].Index)
	assert.Equal(t, "welt", entries[1].Text)
}
