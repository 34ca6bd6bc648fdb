// Package cmd implements the CLI commands for voxcut.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/observability"
	"github.com/voxcut/voxcut/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "voxcut",
	Short:   "Turn long-form videos into subtitled highlight clips",
	Version: version.Short(),
	Long: `voxcut fetches a video, transcribes it, finds the highlights with an
LLM, translates the transcript, renders subtitles, and cuts a clip, all
behind a checkpoint so an interrupted run resumes where it stopped.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Flags are not bound to viper: Changed() is checked instead so the
	// precedence stays CLI flag > env var > config file > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.voxcut.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("state-root", "", "override the run state directory")
	rootCmd.PersistentFlags().String("listen", "", "serve the status API on host:port while a run is active")
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/voxcut")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".voxcut")
	}

	viper.SetEnvPrefix("VOXCUT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func initLogging() error {
	level := viper.GetString("logging.level")
	format := viper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}
	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "text"
	}

	logCfg := config.LoggingConfig{
		Level:  strings.ToLower(level),
		Format: strings.ToLower(format),
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	observability.SetDefault(logger)
	return nil
}

// loadConfig loads and validates the effective configuration, applying
// root-flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if rootCmd.PersistentFlags().Changed("state-root") {
		root, _ := rootCmd.PersistentFlags().GetString("state-root")
		cfg.StateRoot = root
	}
	if rootCmd.PersistentFlags().Changed("listen") {
		listen, _ := rootCmd.PersistentFlags().GetString("listen")
		if err := applyListen(cfg, listen); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyListen enables the status API from a host:port flag value.
func applyListen(cfg *config.Config, listen string) error {
	if listen == "" {
		return nil
	}
	host, portStr, ok := strings.Cut(listen, ":")
	if !ok {
		portStr = listen
	} else if host != "" {
		cfg.Server.Host = host
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil || port <= 0 {
		return fmt.Errorf("invalid --listen value %q: expected [host]:port", listen)
	}
	cfg.Server.Port = port
	cfg.Server.Enabled = true
	return nil
}
