package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/models"
)

// shortMaxDurationS is the duration ceiling for classifying a vertical
// video as a short.
const shortMaxDurationS = 60

// youtubeURLPatterns match the supported URL shapes; the capture group is
// the 11-character video id.
var youtubeURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/watch\?v=([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/shorts/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:https?://)?youtu\.be/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/embed/([a-zA-Z0-9_-]{11})`),
}

// downloadLineRe matches yt-dlp --newline progress output, e.g.
// "[download]  42.7% of 110.55MiB at 5.50MiB/s ETA 00:12".
var downloadLineRe = regexp.MustCompile(`\[download\]\s+([\d.]+)%`)

// qualityFormats maps the configured quality to a yt-dlp format selector.
var qualityFormats = map[string]string{
	"2160":  "bestvideo[height<=2160]+bestaudio/best[height<=2160]",
	"1440":  "bestvideo[height<=1440]+bestaudio/best[height<=1440]",
	"1080":  "bestvideo[height<=1080]+bestaudio/best[height<=1080]",
	"720":   "bestvideo[height<=720]+bestaudio/best[height<=720]",
	"480":   "bestvideo[height<=480]+bestaudio/best[height<=480]",
	"best":  "bestvideo+bestaudio/best",
	"worst": "worstvideo+worstaudio/worst",
}

// ExtractVideoID returns the video id embedded in a supported URL, or ""
// when the URL matches no known pattern.
func ExtractVideoID(url string) string {
	for _, re := range youtubeURLPatterns {
		if m := re.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	}
	return ""
}

// FormatForQuality resolves a quality name to a yt-dlp format selector.
// Quality names may carry a trailing "p" (1080p). Unknown names fall back
// to 1080.
func FormatForQuality(quality string) string {
	q := strings.TrimSuffix(strings.ToLower(quality), "p")
	if f, ok := qualityFormats[q]; ok {
		return f
	}
	return qualityFormats["1080"]
}

// ytdlpInfo is the subset of `yt-dlp -J` output the fetcher consumes.
type ytdlpInfo struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Uploader   string  `json:"uploader"`
	UploadDate string  `json:"upload_date"`
	WebpageURL string  `json:"webpage_url"`
}

// YTDLPFetcher downloads videos through the yt-dlp binary.
type YTDLPFetcher struct {
	cfg    config.MediaConfig
	runner *runner
	logger *slog.Logger
}

func NewYTDLPFetcher(cfg config.MediaConfig, logger *slog.Logger) *YTDLPFetcher {
	return &YTDLPFetcher{
		cfg:    cfg,
		runner: newRunner(logger),
		logger: logger,
	}
}

func (f *YTDLPFetcher) bin() string {
	if f.cfg.YTDLPPath != "" {
		return f.cfg.YTDLPPath
	}
	return "yt-dlp"
}

// Fetch validates the URL, probes metadata without downloading, then
// downloads the video at the requested quality into opts.OutputDir. The
// artifact path always carries the video id as its base name.
func (f *YTDLPFetcher) Fetch(ctx context.Context, url string, opts FetchOptions, progress ProgressFunc) (*models.VideoArtifact, error) {
	videoID := ExtractVideoID(url)
	if videoID == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, url)
	}

	outDir := opts.OutputDir
	if outDir == "" {
		outDir = f.cfg.DownloadDir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	quality := opts.Quality
	if quality == "" {
		quality = f.cfg.Quality
	}

	if progress != nil {
		progress(0, "fetching metadata")
	}
	info, err := f.probeInfo(ctx, url)
	if err != nil {
		return nil, err
	}

	args := []string{
		"--newline",
		"--no-warnings",
		"--no-playlist",
		"-f", FormatForQuality(quality),
		"--merge-output-format", "mp4",
		"-o", filepath.Join(outDir, "%(id)s.%(ext)s"),
		url,
	}
	_, err = f.runner.run(ctx, f.bin(), args, func(line string) {
		if progress == nil {
			return
		}
		if m := downloadLineRe.FindStringSubmatch(line); m != nil {
			pct, perr := strconv.ParseFloat(m[1], 64)
			if perr == nil {
				progress(pct/100, "downloading")
			}
		}
	})
	if err != nil {
		return nil, f.mapError(err)
	}

	path, err := locateDownload(outDir, videoID)
	if err != nil {
		return nil, err
	}

	if progress != nil {
		progress(1, "download complete")
	}
	return &models.VideoArtifact{
		Path:      path,
		Title:     info.Title,
		DurationS: info.Duration,
		Width:     info.Width,
		Height:    info.Height,
		IsShort:   info.Duration > 0 && info.Duration <= shortMaxDurationS && info.Height > info.Width,
		Metadata: map[string]string{
			"video_id":    info.ID,
			"uploader":    info.Uploader,
			"upload_date": info.UploadDate,
			"webpage_url": info.WebpageURL,
		},
	}, nil
}

// probeInfo dumps video metadata without downloading.
func (f *YTDLPFetcher) probeInfo(ctx context.Context, url string) (*ytdlpInfo, error) {
	res, err := f.runner.run(ctx, f.bin(), []string{"-J", "--no-warnings", "--no-playlist", url}, nil)
	if err != nil {
		return nil, f.mapError(err)
	}
	var info ytdlpInfo
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return nil, fmt.Errorf("%w: decode metadata: %v", ErrDownload, err)
	}
	return &info, nil
}

// mapError classifies yt-dlp failures by their stderr text.
func (f *YTDLPFetcher) mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context canceled") || strings.Contains(msg, "context deadline"):
		return err
	case strings.Contains(msg, "video unavailable"), strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "404"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case strings.Contains(msg, "not available in your country"), strings.Contains(msg, "geo restriction"),
		strings.Contains(msg, "blocked in your country"):
		return fmt.Errorf("%w: %v", ErrGeoBlocked, err)
	case strings.Contains(msg, "age-restricted"), strings.Contains(msg, "age restricted"),
		strings.Contains(msg, "confirm your age"):
		return fmt.Errorf("%w: %v", ErrAgeRestricted, err)
	case strings.Contains(msg, "no space left"), strings.Contains(msg, "disk full"):
		return fmt.Errorf("%w: %v", ErrDiskSpace, err)
	default:
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}
}

// locateDownload finds the merged output file. yt-dlp normally produces
// <id>.mp4 but falls back to the source container when merging is not
// possible.
func locateDownload(dir, videoID string) (string, error) {
	for _, ext := range []string{"mp4", "mkv", "webm"} {
		path := filepath.Join(dir, videoID+"."+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: output file for %s not found in %s", ErrDownload, videoID, dir)
}
