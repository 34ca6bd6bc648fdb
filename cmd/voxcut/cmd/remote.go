package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/version"
	"github.com/voxcut/voxcut/pkg/httpclient"
)

// cancel and select talk to the status API of the process that owns the run.

var serverURL string

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel an active run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := models.ParseRunID(args[0])
		if err != nil {
			return err
		}
		return postJSON(cmd.Context(), fmt.Sprintf("/runs/%s/cancel", runID), nil)
	},
}

var selectOpts struct {
	highlights []int
	languages  []string
	file       string
}

var selectCmd = &cobra.Command{
	Use:   "select <run-id>",
	Short: "Submit a highlight selection to a waiting run",
	Long: `Submit which highlights to keep to a run blocked in the selection
stage. Pass highlight indexes from "analysis" output, or a JSON file with a
full selection (edit segments, target languages).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := models.ParseRunID(args[0])
		if err != nil {
			return err
		}

		var sel models.Selection
		if selectOpts.file != "" {
			data, err := os.ReadFile(selectOpts.file)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &sel); err != nil {
				return fmt.Errorf("parsing selection file: %w", err)
			}
		}
		if len(selectOpts.highlights) > 0 {
			sel.HighlightIndexes = selectOpts.highlights
		}
		if len(selectOpts.languages) > 0 {
			sel.TargetLanguages = selectOpts.languages
		}
		if sel.Empty() {
			return fmt.Errorf("selection is empty: pass --highlight or --file")
		}
		return postJSON(cmd.Context(), fmt.Sprintf("/runs/%s/selection", runID), sel)
	},
}

func init() {
	for _, c := range []*cobra.Command{cancelCmd, selectCmd} {
		c.Flags().StringVar(&serverURL, "server", "", "status API base URL (default http://127.0.0.1:<server.port>)")
	}
	selectCmd.Flags().IntSliceVar(&selectOpts.highlights, "highlight", nil, "highlight indexes to keep")
	selectCmd.Flags().StringSliceVar(&selectOpts.languages, "language", nil, "target subtitle languages")
	selectCmd.Flags().StringVar(&selectOpts.file, "file", "", "JSON file with a full selection")
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(selectCmd)
}

func baseURL() (string, error) {
	if serverURL != "" {
		return serverURL, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port), nil
}

func postJSON(ctx context.Context, path string, body any) error {
	base, err := baseURL()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	clientCfg := httpclient.DefaultConfig()
	clientCfg.Logger = slog.Default()
	clientCfg.RetryAttempts = 0
	resp, err := httpclient.New(clientCfg).Do(req)
	if err != nil {
		return fmt.Errorf("reaching status API at %s: %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("status API returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	fmt.Println("ok")
	return nil
}
