package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/models"
)

// Transcription input format: whisper wants 16 kHz mono 16-bit PCM.
const (
	transcribeSampleRate = 16000
	transcribeChannels   = 1
)

// FFmpegAudioExtractor extracts the audio track of a video as WAV.
type FFmpegAudioExtractor struct {
	cfg    config.MediaConfig
	runner *runner
	prober *prober
	logger *slog.Logger
}

func NewFFmpegAudioExtractor(cfg config.MediaConfig, logger *slog.Logger) *FFmpegAudioExtractor {
	r := newRunner(logger)
	return &FFmpegAudioExtractor{
		cfg:    cfg,
		runner: r,
		prober: newProber(cfg.FFprobePath, r),
		logger: logger,
	}
}

func (e *FFmpegAudioExtractor) bin() string {
	if e.cfg.FFmpegPath != "" {
		return e.cfg.FFmpegPath
	}
	return "ffmpeg"
}

// Extract writes outPath as 16 kHz mono 16-bit PCM WAV. The source is
// probed first so a missing audio track fails before ffmpeg starts.
func (e *FFmpegAudioExtractor) Extract(ctx context.Context, videoPath, outPath string, progress ProgressFunc) (*models.AudioArtifact, error) {
	info, err := e.prober.Probe(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if !info.HasAudio {
		return nil, fmt.Errorf("%w: %s", ErrNoAudioTrack, videoPath)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	args := newFFmpeg(e.bin()).
		Overwrite().
		Progress().
		Input(videoPath).
		NoVideo().
		AudioCodec("pcm_s16le").
		SampleRate(transcribeSampleRate).
		AudioChannels(transcribeChannels).
		Output(outPath).
		Args()

	var snap ffmpegProgress
	_, err = e.runner.run(ctx, e.bin(), args, func(line string) {
		if !parseProgressLine(&snap, line) || progress == nil {
			return
		}
		if info.DurationS > 0 {
			frac := snap.OutTimeS / info.DurationS
			if frac > 1 {
				frac = 1
			}
			progress(frac, "extracting audio")
		}
	})
	if err != nil {
		return nil, e.mapError(err)
	}

	if progress != nil {
		progress(1, "audio extracted")
	}
	return &models.AudioArtifact{
		Path:       outPath,
		SampleRate: transcribeSampleRate,
		Channels:   transcribeChannels,
		DurationS:  info.DurationS,
	}, nil
}

func (e *FFmpegAudioExtractor) mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context canceled") || strings.Contains(msg, "context deadline"):
		return err
	case strings.Contains(msg, "invalid data found"), strings.Contains(msg, "unknown format"),
		strings.Contains(msg, "decoder not found"):
		return fmt.Errorf("%w: %v", ErrFormatUnsupported, err)
	case strings.Contains(msg, "does not contain any stream"), strings.Contains(msg, "no audio"):
		return fmt.Errorf("%w: %v", ErrNoAudioTrack, err)
	default:
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
}
