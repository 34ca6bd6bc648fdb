package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// probeInfo is the subset of ffprobe output the adapters care about.
type probeInfo struct {
	DurationS  float64
	Width      int
	Height     int
	HasAudio   bool
	SampleRate int
	Channels   int
}

// Vertical reports whether the video is taller than it is wide.
func (p probeInfo) Vertical() bool {
	return p.Height > p.Width && p.Width > 0
}

type ffprobeStream struct {
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type prober struct {
	bin    string
	runner *runner
}

func newProber(bin string, r *runner) *prober {
	if bin == "" {
		bin = "ffprobe"
	}
	return &prober{bin: bin, runner: r}
}

func (p *prober) Probe(ctx context.Context, path string) (*probeInfo, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	res, err := p.runner.run(ctx, p.bin, args, nil)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}
	var out ffprobeOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return nil, fmt.Errorf("probe %s: decode: %w", path, err)
	}
	return parseProbe(out), nil
}

func parseProbe(out ffprobeOutput) *probeInfo {
	info := &probeInfo{}
	info.DurationS, _ = strconv.ParseFloat(out.Format.Duration, 64)
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if s.Width > info.Width {
				info.Width = s.Width
			}
			if s.Height > info.Height {
				info.Height = s.Height
			}
		case "audio":
			info.HasAudio = true
			if info.SampleRate == 0 {
				info.SampleRate, _ = strconv.Atoi(s.SampleRate)
			}
			if info.Channels == 0 {
				info.Channels = s.Channels
			}
		}
	}
	return info
}
