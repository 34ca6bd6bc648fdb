package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/models"
)

// whisperLineRe matches the per-segment console output, e.g.
// "[00:12.480 --> 00:15.200]  and that's the whole point". The captured
// group is the segment end time, used for progress estimation.
var whisperLineRe = regexp.MustCompile(`-->\s+(?:(\d+):)?(\d+):(\d+(?:\.\d+)?)\]`)

// whisperOutput is the JSON file whisper writes with --output_format json.
type whisperOutput struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments"`
}

type whisperSegment struct {
	Start      float64       `json:"start"`
	End        float64       `json:"end"`
	Text       string        `json:"text"`
	AvgLogProb float64       `json:"avg_logprob"`
	Words      []whisperWord `json:"words"`
}

type whisperWord struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// WhisperTranscriber shells out to the whisper CLI.
type WhisperTranscriber struct {
	cfg    config.MediaConfig
	runner *runner
	prober *prober
	logger *slog.Logger
}

func NewWhisperTranscriber(cfg config.MediaConfig, logger *slog.Logger) *WhisperTranscriber {
	r := newRunner(logger)
	return &WhisperTranscriber{
		cfg:    cfg,
		runner: r,
		prober: newProber(cfg.FFprobePath, r),
		logger: logger,
	}
}

func (t *WhisperTranscriber) bin() string {
	if t.cfg.WhisperPath != "" {
		return t.cfg.WhisperPath
	}
	return "whisper"
}

// Transcribe runs whisper with JSON output and word timestamps and parses
// the result file. Segment ids are assigned sequentially from 1.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string, opts TranscribeOptions, progress ProgressFunc) (*models.TranscriptionResult, error) {
	info, err := t.prober.Probe(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	outDir := filepath.Dir(audioPath)
	args := []string{
		audioPath,
		"--model", t.cfg.WhisperModel,
		"--output_format", "json",
		"--output_dir", outDir,
		"--word_timestamps", "True",
		"--task", "transcribe",
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}

	_, err = t.runner.run(ctx, t.bin(), args, func(line string) {
		if progress == nil || info.DurationS <= 0 {
			return
		}
		if end, ok := parseWhisperTimestamp(line); ok {
			frac := end / info.DurationS
			if frac > 1 {
				frac = 1
			}
			progress(frac, "transcribing")
		}
	})
	if err != nil {
		return nil, t.mapError(err)
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	jsonPath := filepath.Join(outDir, base+".json")
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrModelLoad, jsonPath, err)
	}
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrModelLoad, jsonPath, err)
	}

	result := parseWhisperOutput(out, info.DurationS)
	if len(result.Segments) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTranscription, audioPath)
	}
	if result.Language == "" {
		return nil, fmt.Errorf("%w: %s", ErrLanguageDetect, audioPath)
	}
	if progress != nil {
		progress(1, "transcription complete")
	}
	return result, nil
}

// parseWhisperOutput converts the raw JSON into the transcript model.
// Segments with empty text are dropped; confidence is exp(avg_logprob)
// clamped to [0,1].
func parseWhisperOutput(out whisperOutput, durationS float64) *models.TranscriptionResult {
	result := &models.TranscriptionResult{
		Language:  out.Language,
		DurationS: durationS,
	}
	for _, seg := range out.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		conf := math.Exp(seg.AvgLogProb)
		if conf > 1 {
			conf = 1
		}
		s := models.Segment{
			ID:         len(result.Segments) + 1,
			StartS:     seg.Start,
			EndS:       seg.End,
			Text:       text,
			Confidence: conf,
		}
		for _, w := range seg.Words {
			word := strings.TrimSpace(w.Word)
			if word == "" {
				continue
			}
			s.Words = append(s.Words, models.WordTiming{
				Word:        word,
				StartS:      w.Start,
				EndS:        w.End,
				Probability: w.Probability,
			})
		}
		result.Segments = append(result.Segments, s)
	}
	return result
}

// parseWhisperTimestamp extracts the end time in seconds from a console
// progress line.
func parseWhisperTimestamp(line string) (float64, bool) {
	m := whisperLineRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours := 0
	if m[1] != "" {
		hours, _ = strconv.Atoi(m[1])
	}
	mins, _ := strconv.Atoi(m[2])
	secs, _ := strconv.ParseFloat(m[3], 64)
	return float64(hours)*3600 + float64(mins)*60 + secs, true
}

func (t *WhisperTranscriber) mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context canceled") || strings.Contains(msg, "context deadline"):
		return err
	case strings.Contains(msg, "out of memory"), strings.Contains(msg, "oom"):
		return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	case strings.Contains(msg, "cuda"), strings.Contains(msg, "device"):
		return fmt.Errorf("%w: %v", ErrDevice, err)
	case strings.Contains(msg, "language"):
		return fmt.Errorf("%w: %v", ErrLanguageDetect, err)
	default:
		return fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
}
