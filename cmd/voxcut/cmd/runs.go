package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/voxcut/voxcut/internal/checkpoint"
	"github.com/voxcut/voxcut/internal/library"
	"github.com/voxcut/voxcut/internal/models"
)

var runsRecent int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List incomplete runs and recently finished ones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := slog.Default()

		store, err := checkpoint.NewStore(cfg.StateRoot, logger)
		if err != nil {
			return err
		}
		incomplete, err := store.ListIncomplete()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tSTAGE\tPROGRESS\tUPDATED\tLAST ERROR")
		for _, cp := range incomplete {
			lastErr := cp.LastError
			if len(lastErr) > 60 {
				lastErr = lastErr[:60] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%s\t%s\n",
				cp.RunID, cp.Stage,
				models.OverallProgress(cp.Stage, cp.StageProgress)*100,
				cp.UpdatedAt.Format("2006-01-02 15:04"), lastErr)
		}
		if len(incomplete) == 0 {
			fmt.Fprintln(w, "(no incomplete runs)\t\t\t\t")
		}
		if err := w.Flush(); err != nil {
			return err
		}

		lib, err := library.Open(cfg.Database, logger)
		if err != nil {
			return err
		}
		defer lib.Close()

		recent, err := lib.Recent(cmd.Context(), runsRecent)
		if err != nil {
			return err
		}
		if len(recent) == 0 {
			return nil
		}

		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tTITLE\tLANGUAGES\tCLIP\tCOMPLETED")
		for _, rec := range recent {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				rec.RunID, rec.Title, rec.Languages, rec.ClipPath,
				rec.CompletedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsRecent, "recent", 10, "number of finished runs to show")
	rootCmd.AddCommand(runsCmd)
}
