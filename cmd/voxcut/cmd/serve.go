package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run voxcut as a daemon behind the status API",
	Long: `Start the status API and wait for work. Runs are submitted with
POST /runs (or steered with "voxcut cancel" and "voxcut select"), the
janitor sweeps expired checkpoints on its schedule, and every run is
checkpointed so an interrupted daemon resumes cleanly.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Server.Enabled = true
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

		fmt.Fprintf(os.Stderr, "listening on %s\n", cfg.Server.Address())
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
