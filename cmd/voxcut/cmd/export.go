package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/voxcut/voxcut/internal/export"
	"github.com/voxcut/voxcut/internal/models"
)

var exportPlanFile string

var exportCmd = &cobra.Command{
	Use:   "export [url...]",
	Short: "Run a batch of exports with bounded parallelism",
	Long: `Process several videos in one session. Sources come from URL
arguments, from a YAML plan file, or both. Each entry runs the full pipeline;
use --auto-select on entries that should not wait for a manual selection.

Plan file format:

  - url: https://example.com/watch?v=abc
    languages: [es, de]
    quality: 1080p
    priority: 5
  - run_id: 01JF8...            # resume an interrupted run instead
`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		requests := make([]models.ExportRequest, 0, len(args))
		for _, url := range args {
			requests = append(requests, models.NewExportRequest(url))
		}
		if exportPlanFile != "" {
			fromPlan, err := readPlan(exportPlanFile)
			if err != nil {
				return err
			}
			requests = append(requests, fromPlan...)
		}
		if len(requests) == 0 {
			return fmt.Errorf("nothing to export: pass URLs or --plan")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := slog.Default()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		stopAPI := a.serveAPI(ctx)
		defer stopAPI()

		exporter := export.NewBatchExporter(a.coordinator, a.gate, cfg, logger)
		exporter.SetDefaultOptions(pipelineOptions())
		exporter.SetProgressFunc(printBatchProgress)
		result, batchErr := exporter.Export(ctx, requests)

		fmt.Printf("exported %d of %d request(s)\n", result.Successful, len(requests))
		for _, item := range result.Items {
			if item.Succeeded() {
				fmt.Printf("  ok   %s (%.1fs)\n", item.Path, item.DurationS)
			} else {
				fmt.Printf("  FAIL %s: %s\n", item.ID, item.Error)
			}
		}
		if batchErr != nil {
			return batchErr
		}
		if result.Failed > 0 {
			return fmt.Errorf("%d export(s) failed", result.Failed)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPlanFile, "plan", "", "YAML plan file with export entries")
	registerRunFlags(exportCmd.Flags())
	rootCmd.AddCommand(exportCmd)
}

func printBatchProgress(ev export.BatchProgressEvent) {
	if ev.Run.Stage == "" {
		fmt.Fprintf(os.Stderr, "\r[%d/%d] %s finished%-48s", ev.Completed, ev.Total, ev.RequestID, "")
		return
	}
	detail := ev.Run.Detail
	if len(detail) > 40 {
		detail = detail[:40]
	}
	fmt.Fprintf(os.Stderr, "\r[%d/%d] %s %-22s %5.1f%% %-40s",
		ev.Completed, ev.Total, ev.RequestID, ev.Run.Stage, ev.Run.Overall*100, detail)
}

// planEntry is the YAML shape of one export plan line.
type planEntry struct {
	URL       string   `yaml:"url"`
	RunID     string   `yaml:"run_id"`
	Languages []string `yaml:"languages"`
	Quality   string   `yaml:"quality"`
	Priority  int      `yaml:"priority"`
}

func readPlan(path string) ([]models.ExportRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []planEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing plan %s: %w", path, err)
	}

	requests := make([]models.ExportRequest, 0, len(entries))
	for i, e := range entries {
		req := models.ExportRequest{
			ID:        uuid.NewString(),
			URL:       e.URL,
			Languages: e.Languages,
			Quality:   e.Quality,
			Priority:  e.Priority,
		}
		if e.RunID != "" {
			id, err := models.ParseRunID(e.RunID)
			if err != nil {
				return nil, fmt.Errorf("plan entry %d: %w", i+1, err)
			}
			req.RunID = id
		}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("plan entry %d: %w", i+1, err)
		}
		requests = append(requests, req)
	}
	return requests, nil
}
