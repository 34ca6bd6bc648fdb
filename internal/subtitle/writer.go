package subtitle

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/storage"
)

// Format identifies a subtitle file format.
type Format string

const (
	FormatSRT Format = "srt"
	FormatASS Format = "ass"
	FormatVTT Format = "vtt"
)

// ParseFormat maps a user-supplied name (or file extension) to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "srt":
		return FormatSRT, nil
	case "ass":
		return FormatASS, nil
	case "vtt", "webvtt":
		return FormatVTT, nil
	}
	return "", fmt.Errorf("unknown subtitle format %q", s)
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Style carries the render parameters the ASS writer needs. The plain-text
// formats ignore everything but the language, which drives line wrapping.
type Style struct {
	Language     string
	FontName     string
	FontSize     int
	PrimaryColor string // &HBBGGRR ASS color, e.g. &H00FFFFFF
	OutlineColor string
	Alignment    int // numpad layout, 2 = bottom center
	MarginV      int
}

// DefaultStyle is a readable bottom-centered caption style.
func DefaultStyle(lang string) Style {
	return Style{
		Language:     lang,
		FontName:     "Arial",
		FontSize:     48,
		PrimaryColor: "&H00FFFFFF",
		OutlineColor: "&H00000000",
		Alignment:    2,
		MarginV:      40,
	}
}

// Writer renders entries into one subtitle format.
type Writer interface {
	Format() Format
	Write(w io.Writer, entries []Entry, style Style, cfg config.SubtitleConfig) error
}

// NewWriter returns the writer for a format.
func NewWriter(format Format) (Writer, error) {
	switch format {
	case FormatSRT:
		return srtWriter{}, nil
	case FormatVTT:
		return vttWriter{}, nil
	case FormatASS:
		return assWriter{}, nil
	}
	return nil, fmt.Errorf("unknown subtitle format %q", format)
}

// WriteFile renders entries to path inside the sandbox and returns the
// path. The write is atomic so a crash cannot leave a torn file.
func WriteFile(ctx context.Context, sb *storage.Sandbox, entries []Entry, style Style, format Format, path string, cfg config.SubtitleConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	writer, err := NewWriter(format)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if err := writer.Write(&b, entries, style, cfg); err != nil {
		return "", err
	}
	if err := sb.AtomicWrite(path, []byte(b.String())); err != nil {
		return "", fmt.Errorf("writing subtitle file: %w", err)
	}
	return path, nil
}

type srtWriter struct{}

func (srtWriter) Format() Format { return FormatSRT }

func (srtWriter) Write(w io.Writer, entries []Entry, style Style, cfg config.SubtitleConfig) error {
	for i, e := range entries {
		lines := WrapText(e.Text, style.Language, cfg)
		_, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n",
			i+1, srtTimestamp(e.StartS), srtTimestamp(e.EndS), strings.Join(lines, "\n"))
		if err != nil {
			return err
		}
	}
	return nil
}

type vttWriter struct{}

func (vttWriter) Format() Format { return FormatVTT }

func (vttWriter) Write(w io.Writer, entries []Entry, style Style, cfg config.SubtitleConfig) error {
	if _, err := io.WriteString(w, "WEBVTT\n\n"); err != nil {
		return err
	}
	for _, e := range entries {
		lines := WrapText(e.Text, style.Language, cfg)
		_, err := fmt.Fprintf(w, "%s --> %s\n%s\n\n",
			vttTimestamp(e.StartS), vttTimestamp(e.EndS), strings.Join(lines, "\n"))
		if err != nil {
			return err
		}
	}
	return nil
}

type assWriter struct{}

func (assWriter) Format() Format { return FormatASS }

const assHeader = `[Script Info]
ScriptType: v4.00+
WrapStyle: 0
ScaledBorderAndShadow: yes
YCbCr Matrix: TV.709
PlayResX: 1920
PlayResY: 1080

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, OutlineColour, Bold, Outline, Shadow, Alignment, MarginL, MarginR, MarginV
Style: Default,%s,%d,%s,%s,0,2,1,%d,60,60,%d

[Events]
Format: Layer, Start, End, Style, Text
`

func (assWriter) Write(w io.Writer, entries []Entry, style Style, cfg config.SubtitleConfig) error {
	_, err := fmt.Fprintf(w, assHeader,
		style.FontName, style.FontSize, style.PrimaryColor, style.OutlineColor,
		style.Alignment, style.MarginV)
	if err != nil {
		return err
	}
	for _, e := range entries {
		lines := WrapText(e.Text, style.Language, cfg)
		_, err := fmt.Fprintf(w, "Dialogue: 0,%s,%s,Default,%s\n",
			assTimestamp(e.StartS), assTimestamp(e.EndS), strings.Join(lines, `\N`))
		if err != nil {
			return err
		}
	}
	return nil
}

func srtTimestamp(seconds float64) string {
	h, m, s, ms := clockParts(seconds)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func vttTimestamp(seconds float64) string {
	h, m, s, ms := clockParts(seconds)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func assTimestamp(seconds float64) string {
	h, m, s, ms := clockParts(seconds)
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, ms/10)
}

func clockParts(seconds float64) (h, m, s, ms int) {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds * 1000)
	return total / 3600000, total / 60000 % 60, total / 1000 % 60, total % 1000
}
