package media

import (
	"strconv"
	"strings"
)

// ffmpegBuilder assembles an ffmpeg argument list with a small fluent API.
// The zero log level is "error" and stdin is disabled so a stray prompt can
// never hang the pipeline.
type ffmpegBuilder struct {
	bin        string
	globalArgs []string
	inputArgs  []string
	inputs     []string
	filters    []string
	complex    string
	mapArgs    []string
	outputArgs []string
	output     string
	overwrite  bool
	progress   bool
}

func newFFmpeg(bin string) *ffmpegBuilder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &ffmpegBuilder{
		bin:        bin,
		globalArgs: []string{"-hide_banner", "-nostdin", "-loglevel", "error"},
	}
}

func (b *ffmpegBuilder) Input(path string) *ffmpegBuilder {
	b.inputs = append(b.inputs, path)
	return b
}

func (b *ffmpegBuilder) InputArgs(args ...string) *ffmpegBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

func (b *ffmpegBuilder) Overwrite() *ffmpegBuilder {
	b.overwrite = true
	return b
}

// Progress enables machine-readable progress on stdout.
func (b *ffmpegBuilder) Progress() *ffmpegBuilder {
	b.progress = true
	return b
}

func (b *ffmpegBuilder) NoVideo() *ffmpegBuilder {
	b.outputArgs = append(b.outputArgs, "-vn")
	return b
}

func (b *ffmpegBuilder) VideoCodec(codec string) *ffmpegBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

func (b *ffmpegBuilder) AudioCodec(codec string) *ffmpegBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

func (b *ffmpegBuilder) SampleRate(hz int) *ffmpegBuilder {
	b.outputArgs = append(b.outputArgs, "-ar", strconv.Itoa(hz))
	return b
}

func (b *ffmpegBuilder) AudioChannels(n int) *ffmpegBuilder {
	b.outputArgs = append(b.outputArgs, "-ac", strconv.Itoa(n))
	return b
}

func (b *ffmpegBuilder) Preset(preset string) *ffmpegBuilder {
	b.outputArgs = append(b.outputArgs, "-preset", preset)
	return b
}

func (b *ffmpegBuilder) CRF(crf int) *ffmpegBuilder {
	b.outputArgs = append(b.outputArgs, "-crf", strconv.Itoa(crf))
	return b
}

func (b *ffmpegBuilder) VideoFilter(filter string) *ffmpegBuilder {
	b.filters = append(b.filters, filter)
	return b
}

func (b *ffmpegBuilder) FilterComplex(graph string) *ffmpegBuilder {
	b.complex = graph
	return b
}

func (b *ffmpegBuilder) Map(labels ...string) *ffmpegBuilder {
	for _, l := range labels {
		b.mapArgs = append(b.mapArgs, "-map", l)
	}
	return b
}

func (b *ffmpegBuilder) OutputArgs(args ...string) *ffmpegBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

func (b *ffmpegBuilder) Output(path string) *ffmpegBuilder {
	b.output = path
	return b
}

// Args flattens the builder into the final argument list. A filter chain
// and a filter_complex graph are mutually exclusive; the graph wins.
func (b *ffmpegBuilder) Args() []string {
	args := append([]string{}, b.globalArgs...)
	if b.overwrite {
		args = append(args, "-y")
	}
	if b.progress {
		args = append(args, "-progress", "pipe:1", "-nostats")
	}
	for _, in := range b.inputs {
		args = append(args, b.inputArgs...)
		args = append(args, "-i", in)
	}
	if b.complex != "" {
		args = append(args, "-filter_complex", b.complex)
	} else if len(b.filters) > 0 {
		args = append(args, "-vf", strings.Join(b.filters, ","))
	}
	args = append(args, b.mapArgs...)
	args = append(args, b.outputArgs...)
	args = append(args, b.output)
	return args
}

// ffmpegProgress is one snapshot of the `-progress pipe:1` key=value stream.
type ffmpegProgress struct {
	Frame     int64
	FPS       float64
	OutTimeS  float64
	Speed     float64
	TotalSize int64
	Done      bool
}

// parseProgressLine folds one key=value line into p. It returns true when
// the line is a `progress=` terminator, meaning p now holds a complete
// snapshot ready to report.
func parseProgressLine(p *ffmpegProgress, line string) bool {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return false
	}
	value = strings.TrimSpace(value)
	switch key {
	case "frame":
		p.Frame, _ = strconv.ParseInt(value, 10, 64)
	case "fps":
		p.FPS, _ = strconv.ParseFloat(value, 64)
	case "out_time_us":
		us, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			p.OutTimeS = float64(us) / 1e6
		}
	case "out_time_ms":
		// ffmpeg reports microseconds under this key.
		us, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			p.OutTimeS = float64(us) / 1e6
		}
	case "total_size":
		p.TotalSize, _ = strconv.ParseInt(value, 10, 64)
	case "speed":
		p.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64)
	case "progress":
		p.Done = value == "end"
		return true
	}
	return false
}
