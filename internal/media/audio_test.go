package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcut/voxcut/internal/config"
)

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestExtractWithStubBinaries(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "audio", "track.wav")

	ffprobe := writeStub(t, dir, "ffprobe-stub.sh", `#!/bin/sh
echo '{"format":{"duration":"10.0"},"streams":[{"codec_type":"video","width":1920,"height":1080},{"codec_type":"audio","sample_rate":"48000","channels":2}]}'
`)
	ffmpeg := writeStub(t, dir, "ffmpeg-stub.sh", fmt.Sprintf(`#!/bin/sh
echo "out_time_ms=5000000"
echo "progress=continue"
echo "out_time_ms=10000000"
echo "progress=end"
printf RIFF > %s
`, outPath))

	e := NewFFmpegAudioExtractor(config.MediaConfig{
		FFmpegPath:  ffmpeg,
		FFprobePath: ffprobe,
	}, slog.Default())

	var (
		mu        sync.Mutex
		fractions []float64
	)
	artifact, err := e.Extract(context.Background(), "in.mp4", outPath, func(frac float64, _ string) {
		mu.Lock()
		fractions = append(fractions, frac)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, outPath, artifact.Path)
	assert.Equal(t, 16000, artifact.SampleRate)
	assert.Equal(t, 1, artifact.Channels)
	assert.InDelta(t, 10.0, artifact.DurationS, 0.001)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, fractions)
	assert.InDelta(t, 0.5, fractions[0], 0.001)
	assert.InDelta(t, 1.0, fractions[len(fractions)-1], 0.001)
}

func TestExtractFailsWithoutAudioTrack(t *testing.T) {
	dir := t.TempDir()
	ffprobe := writeStub(t, dir, "ffprobe-stub.sh", `#!/bin/sh
echo '{"format":{"duration":"10.0"},"streams":[{"codec_type":"video","width":1920,"height":1080}]}'
`)

	e := NewFFmpegAudioExtractor(config.MediaConfig{FFprobePath: ffprobe}, slog.Default())
	_, err := e.Extract(context.Background(), "in.mp4", filepath.Join(dir, "out.wav"), nil)
	assert.ErrorIs(t, err, ErrNoAudioTrack)
}

func TestAudioExtractorMapError(t *testing.T) {
	e := NewFFmpegAudioExtractor(config.MediaConfig{}, slog.Default())

	tests := []struct {
		msg  string
		want error
	}{
		{"in.mp4: Invalid data found when processing input", ErrFormatUnsupported},
		{"Output file does not contain any stream", ErrNoAudioTrack},
		{"conversion failed", ErrExtraction},
	}
	for _, tt := range tests {
		got := e.mapError(errors.New(tt.msg))
		assert.ErrorIs(t, got, tt.want, tt.msg)
	}
}
