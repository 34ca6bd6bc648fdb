package translate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcut/voxcut/internal/models"
)

func seg(id int, text string) models.Segment {
	return models.Segment{ID: id, Text: text, StartS: float64(id), EndS: float64(id) + 1}
}

func TestBuildChunks_Empty(t *testing.T) {
	assert.Nil(t, BuildChunks(nil, 4000, 2))
}

func TestBuildChunks_SingleChunkUnderBudget(t *testing.T) {
	segments := []models.Segment{seg(1, "hello there"), seg(2, "general remark")}
	chunks := BuildChunks(segments, 4000, 2)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0].Work, 2)
	assert.Empty(t, chunks[0].Context)
	assert.False(t, chunks[0].Oversized)
}

func TestBuildChunks_SplitsOnBudget(t *testing.T) {
	// Each segment estimates to 4 tokens; a budget of 8 fits two.
	segments := []models.Segment{
		seg(1, "one two three"),
		seg(2, "one two three"),
		seg(3, "one two three"),
		seg(4, "one two three"),
		seg(5, "one two three"),
	}
	chunks := BuildChunks(segments, 8, 2)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0].Work, 2)
	assert.Len(t, chunks[1].Work, 2)
	assert.Len(t, chunks[2].Work, 1)
}

func TestBuildChunks_OverlapContext(t *testing.T) {
	segments := []models.Segment{
		seg(1, "one two three"),
		seg(2, "one two three"),
		seg(3, "one two three"),
		seg(4, "one two three"),
		seg(5, "one two three"),
	}
	chunks := BuildChunks(segments, 8, 2)
	require.Len(t, chunks, 3)

	assert.Empty(t, chunks[0].Context)
	require.Len(t, chunks[1].Context, 2)
	assert.Equal(t, []int{1, 2}, segmentIDs(chunks[1].Context))
	require.Len(t, chunks[2].Context, 2)
	assert.Equal(t, []int{3, 4}, segmentIDs(chunks[2].Context))
}

func TestBuildChunks_OversizedSegmentIsOwnChunk(t *testing.T) {
	huge := seg(2, strings.Repeat("word ", 50))
	segments := []models.Segment{seg(1, "short"), huge, seg(3, "short")}

	chunks := BuildChunks(segments, 20, 2)
	require.Len(t, chunks, 3)
	assert.False(t, chunks[0].Oversized)
	assert.True(t, chunks[1].Oversized)
	assert.Equal(t, []int{2}, segmentIDs(chunks[1].Work))
	assert.False(t, chunks[2].Oversized)
}

func TestBuildChunks_OverlapLargerThanChunk(t *testing.T) {
	segments := []models.Segment{
		seg(1, "one two three"),
		seg(2, "one two three"),
		seg(3, "one two three"),
	}
	chunks := BuildChunks(segments, 4, 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{1}, segmentIDs(chunks[1].Context))
	assert.Equal(t, []int{2}, segmentIDs(chunks[2].Context))
}

func segmentIDs(segments []models.Segment) []int {
	ids := make([]int, len(segments))
	for i, s := range segments {
		ids[i] = s.ID
	}
	return ids
}
