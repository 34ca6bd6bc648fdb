package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcut/voxcut/internal/config"
)

func TestParseWhisperOutput(t *testing.T) {
	out := whisperOutput{
		Language: "en",
		Segments: []whisperSegment{
			{
				Start:      0,
				End:        4.2,
				Text:       "  hello world ",
				AvgLogProb: -0.3,
				Words: []whisperWord{
					{Word: " hello", Start: 0, End: 1.9, Probability: 0.98},
					{Word: "  ", Start: 1.9, End: 2.0},
					{Word: "world", Start: 2.0, End: 4.2, Probability: 0.95},
				},
			},
			{Start: 4.2, End: 5.0, Text: "   ", AvgLogProb: -0.1},
			{Start: 5.0, End: 9.0, Text: "second", AvgLogProb: 0.5},
		},
	}

	result := parseWhisperOutput(out, 9.5)
	assert.Equal(t, "en", result.Language)
	assert.InDelta(t, 9.5, result.DurationS, 0.001)

	// The blank segment is dropped and ids stay sequential.
	require.Len(t, result.Segments, 2)
	assert.Equal(t, 1, result.Segments[0].ID)
	assert.Equal(t, 2, result.Segments[1].ID)

	first := result.Segments[0]
	assert.Equal(t, "hello world", first.Text)
	assert.InDelta(t, math.Exp(-0.3), first.Confidence, 0.001)
	require.Len(t, first.Words, 2)
	assert.Equal(t, "hello", first.Words[0].Word)
	assert.Equal(t, "world", first.Words[1].Word)

	// A positive log prob clamps to 1.
	assert.InDelta(t, 1.0, result.Segments[1].Confidence, 0.001)
}

func TestParseWhisperTimestamp(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"[00:12.480 --> 00:15.200]  and that's the point", 15.2, true},
		{"[00:00:05.000 --> 01:02:03.500] long form", 3723.5, true},
		{"[00:00.000 --> 00:02.000] hello", 2.0, true},
		{"Detecting language using up to 30 seconds of audio", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseWhisperTimestamp(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 0.001, tt.line)
		}
	}
}

func TestWhisperMapError(t *testing.T) {
	tr := NewWhisperTranscriber(config.MediaConfig{}, slog.Default())

	tests := []struct {
		msg  string
		want error
	}{
		{"torch.cuda.OutOfMemoryError: CUDA out of memory", ErrOutOfMemory},
		{"RuntimeError: CUDA error: device-side assert triggered", ErrDevice},
		{"failed to detect language from audio", ErrLanguageDetect},
		{"RuntimeError: Model base has not been downloaded", ErrModelLoad},
	}
	for _, tt := range tests {
		got := tr.mapError(errors.New(tt.msg))
		assert.ErrorIs(t, got, tt.want, tt.msg)
	}
}

// stubWhisperEnv writes fake whisper and ffprobe scripts plus the audio
// file the transcriber will be pointed at.
func stubWhisperEnv(t *testing.T, dir string) (whisperPath, ffprobePath, audioPath string) {
	t.Helper()

	audioPath = filepath.Join(dir, "audio.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("RIFF"), 0o644))

	resultJSON := `{"text":"hello world second part","language":"en","segments":[` +
		`{"start":0,"end":4.2,"text":"hello world","avg_logprob":-0.25,` +
		`"words":[{"word":"hello","start":0,"end":1.9,"probability":0.98},{"word":"world","start":2.0,"end":4.2,"probability":0.95}]},` +
		`{"start":4.2,"end":9.0,"text":"second part","avg_logprob":-0.4,"words":[]}]}`

	whisper := fmt.Sprintf(`#!/bin/sh
echo "[00:00.000 --> 00:04.200]  hello world"
echo "[00:04.200 --> 00:09.000]  second part"
cat > %s/audio.json <<'EOF'
%s
EOF
`, dir, resultJSON)
	whisperPath = filepath.Join(dir, "whisper-stub.sh")
	require.NoError(t, os.WriteFile(whisperPath, []byte(whisper), 0o755))

	ffprobe := `#!/bin/sh
echo '{"format":{"duration":"9.0"},"streams":[{"codec_type":"audio","sample_rate":"16000","channels":1}]}'
`
	ffprobePath = filepath.Join(dir, "ffprobe-stub.sh")
	require.NoError(t, os.WriteFile(ffprobePath, []byte(ffprobe), 0o755))
	return whisperPath, ffprobePath, audioPath
}

func TestTranscribeWithStubBinary(t *testing.T) {
	dir := t.TempDir()
	whisperPath, ffprobePath, audioPath := stubWhisperEnv(t, dir)

	tr := NewWhisperTranscriber(config.MediaConfig{
		WhisperPath:  whisperPath,
		FFprobePath:  ffprobePath,
		WhisperModel: "base",
	}, slog.Default())

	result, err := tr.Transcribe(context.Background(), audioPath, TranscribeOptions{Language: "en"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "en", result.Language)
	assert.InDelta(t, 9.0, result.DurationS, 0.001)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "hello world", result.Segments[0].Text)
	assert.Len(t, result.Segments[0].Words, 2)
	assert.Equal(t, "second part", result.Segments[1].Text)
}

func TestTranscribeEmptyResult(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "audio.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("RIFF"), 0o644))

	whisper := fmt.Sprintf(`#!/bin/sh
cat > %s/audio.json <<'EOF'
{"text":"","language":"en","segments":[]}
EOF
`, dir)
	whisperPath := filepath.Join(dir, "whisper-stub.sh")
	require.NoError(t, os.WriteFile(whisperPath, []byte(whisper), 0o755))

	ffprobe := `#!/bin/sh
echo '{"format":{"duration":"9.0"},"streams":[{"codec_type":"audio"}]}'
`
	ffprobePath := filepath.Join(dir, "ffprobe-stub.sh")
	require.NoError(t, os.WriteFile(ffprobePath, []byte(ffprobe), 0o755))

	tr := NewWhisperTranscriber(config.MediaConfig{
		WhisperPath:  whisperPath,
		FFprobePath:  ffprobePath,
		WhisperModel: "base",
	}, slog.Default())

	_, err := tr.Transcribe(context.Background(), audioPath, TranscribeOptions{}, nil)
	assert.ErrorIs(t, err, ErrEmptyTranscription)
}
