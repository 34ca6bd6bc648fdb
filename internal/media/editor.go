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

// FFmpegEditor renders edit plans via a single ffmpeg filter_complex pass:
// per-segment trim and speed change, concat, optional title cards and
// subtitle burn-in.
type FFmpegEditor struct {
	cfg    config.MediaConfig
	runner *runner
	prober *prober
	logger *slog.Logger
}

func NewFFmpegEditor(cfg config.MediaConfig, logger *slog.Logger) *FFmpegEditor {
	r := newRunner(logger)
	return &FFmpegEditor{
		cfg:    cfg,
		runner: r,
		prober: newProber(cfg.FFprobePath, r),
		logger: logger,
	}
}

func (e *FFmpegEditor) bin() string {
	if e.cfg.FFmpegPath != "" {
		return e.cfg.FFmpegPath
	}
	return "ffmpeg"
}

// Edit validates the job against the probed source, renders it, and
// returns the probed result.
func (e *FFmpegEditor) Edit(ctx context.Context, job EditJob, progress ProgressFunc) (*models.EditedVideo, error) {
	if len(job.Segments) == 0 {
		return nil, fmt.Errorf("%w: no segments", ErrInvalidSegment)
	}
	for _, seg := range job.Segments {
		if err := seg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSegment, err)
		}
	}
	src, err := e.prober.Probe(ctx, job.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	for _, seg := range job.Segments {
		if src.DurationS > 0 && seg.EndS > src.DurationS+0.5 {
			return nil, fmt.Errorf("%w: segment %d ends at %.2fs past source duration %.2fs",
				ErrInvalidSegment, seg.ID, seg.EndS, src.DurationS)
		}
	}
	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	graph := buildEditGraph(job)
	args := newFFmpeg(e.bin()).
		Overwrite().
		Progress().
		Input(job.VideoPath).
		FilterComplex(graph).
		Map("[vout]", "[aout]").
		VideoCodec("libx264").
		Preset("medium").
		CRF(18).
		AudioCodec("aac").
		OutputArgs("-movflags", "+faststart").
		Output(job.OutputPath).
		Args()

	expected := expectedDuration(job.Segments)
	var snap ffmpegProgress
	_, err = e.runner.run(ctx, e.bin(), args, func(line string) {
		if !parseProgressLine(&snap, line) || progress == nil {
			return
		}
		if expected > 0 {
			frac := snap.OutTimeS / expected
			if frac > 1 {
				frac = 1
			}
			progress(frac, "encoding")
		}
	})
	if err != nil {
		return nil, e.mapError(err)
	}

	out, err := e.prober.Probe(ctx, job.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: probe output: %v", ErrEncoding, err)
	}
	stat, err := os.Stat(job.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if progress != nil {
		progress(1, "encode complete")
	}
	return &models.EditedVideo{
		Path:       job.OutputPath,
		DurationS:  out.DurationS,
		Resolution: fmt.Sprintf("%dx%d", out.Width, out.Height),
		Bytes:      stat.Size(),
	}, nil
}

// buildEditGraph assembles the filter_complex graph: one trim/speed branch
// per segment, concatenated, then geometry and subtitle filters on the
// joined video stream.
func buildEditGraph(job EditJob) string {
	var sb strings.Builder
	for i, seg := range job.Segments {
		fmt.Fprintf(&sb, "[0:v]trim=start=%.3f:end=%.3f,setpts=(PTS-STARTPTS)/%.4f",
			seg.StartS, seg.EndS, seg.Speed)
		if seg.Title != "" && seg.TitleDurationS > 0 {
			fmt.Fprintf(&sb, ",drawtext=text='%s':fontsize=48:fontcolor=white:borderw=2:x=(w-text_w)/2:y=h*0.12:enable='between(t,0,%.3f)'",
				escapeDrawText(seg.Title), seg.TitleDurationS)
		}
		fmt.Fprintf(&sb, "[v%d];", i)
		fmt.Fprintf(&sb, "[0:a]atrim=start=%.3f:end=%.3f,asetpts=PTS-STARTPTS%s[a%d];",
			seg.StartS, seg.EndS, atempoChain(seg.Speed), i)
	}
	for i := range job.Segments {
		fmt.Fprintf(&sb, "[v%d][a%d]", i, i)
	}
	fmt.Fprintf(&sb, "concat=n=%d:v=1:a=1[vcat][aout]", len(job.Segments))

	video := "[vcat]"
	var post []string
	if job.Vertical {
		post = append(post, "crop=ih*9/16:ih", "scale=1080:1920")
	} else if job.Resolution != "" {
		post = append(post, "scale="+strings.Replace(job.Resolution, "x", ":", 1))
	}
	if job.SubtitlePath != "" {
		post = append(post, "subtitles="+escapeFilterPath(job.SubtitlePath))
	}
	if len(post) == 0 {
		// concat output is already the final video stream
		return strings.Replace(sb.String(), "[vcat]", "[vout]", 1)
	}
	fmt.Fprintf(&sb, ";%s%s[vout]", video, strings.Join(post, ","))
	return sb.String()
}

// atempoChain builds the audio speed filter. atempo only accepts factors
// in [0.5,2.0], so out-of-range speeds are factored into a chain.
func atempoChain(speed float64) string {
	if speed == 1.0 {
		return ""
	}
	var sb strings.Builder
	for speed > 2.0 {
		sb.WriteString(",atempo=2.0")
		speed /= 2.0
	}
	for speed < 0.5 {
		sb.WriteString(",atempo=0.5")
		speed /= 0.5
	}
	fmt.Fprintf(&sb, ",atempo=%.4f", speed)
	return sb.String()
}

// expectedDuration is the output length implied by the plan, used only
// for progress estimation.
func expectedDuration(segments []models.EditSegment) float64 {
	var total float64
	for _, seg := range segments {
		total += (seg.EndS - seg.StartS) / seg.Speed
	}
	return total
}

// escapeDrawText escapes characters drawtext treats specially.
func escapeDrawText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`, `%`, `\%`)
	return r.Replace(s)
}

// escapeFilterPath quotes a file path for use inside a filter graph.
func escapeFilterPath(path string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`)
	return "'" + r.Replace(path) + "'"
}

func (e *FFmpegEditor) mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context canceled") || strings.Contains(msg, "context deadline"):
		return err
	case strings.Contains(msg, "no space left"), strings.Contains(msg, "disk full"):
		return fmt.Errorf("%w: %v", ErrDiskSpace, err)
	case strings.Contains(msg, "cuda"), strings.Contains(msg, "hwaccel"), strings.Contains(msg, "nvenc"):
		return fmt.Errorf("%w: %v", ErrHWAccel, err)
	default:
		return fmt.Errorf("%w: %v", ErrEncoding, err)
	}
}
