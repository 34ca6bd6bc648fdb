package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/pipeline"
)

var runOpts struct {
	languages      []string
	quality        string
	subtitleFormat string
	autoSelect     int
	burnSubtitles  bool
	vertical       bool
	resolution     string
}

var runCmd = &cobra.Command{
	Use:   "run <url>",
	Short: "Run the full pipeline on a video URL",
	Long: `Fetch a video, transcribe and analyze it, wait for (or auto-pick) a
highlight selection, translate, render subtitles, cut the clip, and export
everything to the output directory. Progress is checkpointed; use
"voxcut resume" after an interruption.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context(), args[0], models.RunID{})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume an interrupted run from its checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := models.ParseRunID(args[0])
		if err != nil {
			return err
		}
		return runPipeline(cmd.Context(), "", runID)
	},
}

// registerRunFlags adds the per-run output flags shared by run, resume, and
// export.
func registerRunFlags(fs *pflag.FlagSet) {
	fs.StringSliceVar(&runOpts.languages, "language", nil, "target subtitle languages (overrides config)")
	fs.StringVar(&runOpts.quality, "quality", "", "source quality, e.g. 1080p (overrides config)")
	fs.StringVar(&runOpts.subtitleFormat, "subtitle-format", "", "subtitle format: srt, vtt, or ass")
	fs.IntVar(&runOpts.autoSelect, "auto-select", 0, "skip the selection wait and keep the top N highlights")
	fs.BoolVar(&runOpts.burnSubtitles, "burn-subtitles", false, "burn subtitles into the clip")
	fs.BoolVar(&runOpts.vertical, "vertical", false, "render a 9:16 vertical clip")
	fs.StringVar(&runOpts.resolution, "resolution", "", "output resolution, e.g. 1080x1920")
}

func init() {
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		registerRunFlags(c.Flags())
	}
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
}

func pipelineOptions() pipeline.RunOptions {
	return pipeline.RunOptions{
		Quality:        runOpts.quality,
		Languages:      runOpts.languages,
		SubtitleFormat: runOpts.subtitleFormat,
		AutoSelectTop:  runOpts.autoSelect,
		BurnSubtitles:  runOpts.burnSubtitles,
		Vertical:       runOpts.vertical,
		Resolution:     runOpts.resolution,
	}
}

func runPipeline(ctx context.Context, url string, runID models.RunID) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	a.coordinator.SetProgressFunc(printProgress)
	stopAPI := a.serveAPI(ctx)
	defer stopAPI()

	var project *models.Project
	if runID.IsZero() {
		project, err = a.coordinator.Run(ctx, url, pipelineOptions())
	} else {
		project, err = a.coordinator.Resume(ctx, runID, pipelineOptions())
	}
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return reportFailure(err)
	}

	printSummary(project, cfg.Media.OutputDir)
	return nil
}

func printProgress(ev pipeline.ProgressEvent) {
	detail := ev.Detail
	if len(detail) > 48 {
		detail = detail[:48]
	}
	fmt.Fprintf(os.Stderr, "\r%-22s %5.1f%% (overall %5.1f%%) %-48s",
		ev.Stage, ev.StageProgress*100, ev.Overall*100, detail)
}

func reportFailure(err error) error {
	var perr *models.PipelineError
	if errors.As(err, &perr) {
		fmt.Fprintf(os.Stderr, "run failed at %s: %s\n", perr.Stage, perr.UserMessage)
		if perr.Retryable {
			fmt.Fprintln(os.Stderr, "the failure looks transient; \"voxcut resume\" will retry from the checkpoint")
		}
	}
	return err
}

func printSummary(project *models.Project, outputDir string) {
	fmt.Printf("run %s completed in %s\n", project.RunID, project.Duration().Round(time.Second))
	if len(project.EditedVideos) > 0 {
		fmt.Printf("  clip: %s (%.1fs)\n", project.EditedVideos[0].Path, project.EditedVideos[0].DurationS)
	}
	for _, sub := range project.Subtitles {
		fmt.Printf("  subtitles [%s]: %s\n", sub.Language, sub.Path)
	}
	if project.ExportResult != nil {
		fmt.Printf("  exported %d file(s) to %s", project.ExportResult.Successful, outputDir)
		if project.ExportResult.Failed > 0 {
			fmt.Printf(" (%d failed)", project.ExportResult.Failed)
		}
		fmt.Println()
	}
}
