// Package config provides configuration management for voxcut using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Task kinds the LLM routing table recognizes.
const (
	TaskHighlightDetection = "highlight_detection"
	TaskChapterDetection   = "chapter_detection"
	TaskTranslation        = "translation"
	TaskTitleGeneration    = "title_generation"
	TaskSummary            = "summary"
)

// KnownTasks lists every routable task kind.
var KnownTasks = []string{
	TaskHighlightDetection,
	TaskChapterDetection,
	TaskTranslation,
	TaskTitleGeneration,
	TaskSummary,
}

// Default configuration values.
const (
	defaultRPM                 = 60
	defaultTemperature         = 0.3
	defaultMaxOutputTokens     = 4096
	defaultLocalTimeout        = 120 * time.Second
	defaultRemoteTimeout       = 60 * time.Second
	defaultSampleInterval      = 1 * time.Second
	defaultMaxCPUPercent       = 80.0
	defaultMaxMemoryPercent    = 70.0
	defaultMaxGPUPercent       = 90.0
	defaultMaxParallelExports  = 2
	defaultMaxParallelEncodes  = 1
	defaultMaxTokensPerRequest = 4000
	defaultOverlapSegments     = 2
	defaultMinSuccessRate      = 0.90
	defaultConfidenceThreshold = 0.70
	defaultMaxHighlights       = 10
	defaultMinHighlightScore   = 50.0
	defaultTitleCount          = 5
	defaultRetryBudget         = 3
	defaultExportMaxRetries    = 2
	defaultSubtitleLineLength  = 60
	defaultSubtitleLineCJK     = 40
	defaultSubtitleMaxLines    = 2
	defaultSubtitleMinDuration = 1 * time.Second
	defaultSubtitleMaxDuration = 5 * time.Second
	defaultSubtitleGap         = 100 * time.Millisecond
	defaultServerPort          = 8650
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultMaxOpenConns        = 6
	defaultMaxIdleConns        = 3
	defaultJanitorSchedule     = "@hourly"
)

// Config holds all configuration for the application.
type Config struct {
	StateRoot   string            `mapstructure:"state_root"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Resource    ResourceConfig    `mapstructure:"resource"`
	Translation TranslationConfig `mapstructure:"translation"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Stage       StageConfig       `mapstructure:"stage"`
	Selection   SelectionConfig   `mapstructure:"selection"`
	Checkpoint  CheckpointConfig  `mapstructure:"checkpoint"`
	Export      ExportConfig      `mapstructure:"export"`
	Media       MediaConfig       `mapstructure:"media"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Server      ServerConfig      `mapstructure:"server"`
	Janitor     JanitorConfig     `mapstructure:"janitor"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// LLMConfig holds provider endpoints and the task routing table.
type LLMConfig struct {
	// Routing maps a task kind to "local" or "remote".
	Routing         map[string]string    `mapstructure:"routing"`
	FallbackEnabled bool                 `mapstructure:"fallback_enabled"`
	RPM             int                  `mapstructure:"rpm"`
	Temperature     float64              `mapstructure:"temperature"`
	MaxOutputTokens int                  `mapstructure:"max_output_tokens"`
	Local           LocalProviderConfig  `mapstructure:"local"`
	Remote          RemoteProviderConfig `mapstructure:"remote"`
}

// LocalProviderConfig describes the local inference endpoint.
type LocalProviderConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RemoteProviderConfig describes the hosted inference endpoint. The API key
// is redacted from logs and excluded from checkpoint config snapshots.
type RemoteProviderConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key" masq:"secret" json:"-"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ResourceConfig holds admission thresholds and sampling cadence.
type ResourceConfig struct {
	SampleInterval     time.Duration `mapstructure:"sample_interval"`
	MaxCPUPercent      float64       `mapstructure:"max_cpu_percent"`
	MaxMemoryPercent   float64       `mapstructure:"max_memory_percent"`
	MaxGPUPercent      float64       `mapstructure:"max_gpu_percent"`
	MaxParallelExports int           `mapstructure:"max_parallel_exports"`
	MaxParallelEncodes int           `mapstructure:"max_parallel_encodes"`
}

// TranslationConfig holds batching and quality thresholds.
type TranslationConfig struct {
	MaxTokensPerRequest int      `mapstructure:"max_tokens_per_request"`
	OverlapSegments     int      `mapstructure:"overlap_segments"`
	MinSuccessRate      float64  `mapstructure:"min_success_rate"`
	ConfidenceThreshold float64  `mapstructure:"confidence_threshold"`
	TargetLanguages     []string `mapstructure:"target_languages"`
}

// AnalysisConfig bounds what the analyzer keeps from model output.
type AnalysisConfig struct {
	MaxHighlights     int     `mapstructure:"max_highlights"`
	MinHighlightScore float64 `mapstructure:"min_highlight_score"`
	TitleCount        int     `mapstructure:"title_count"`
}

// StageConfig holds per-stage retry and timeout policy.
type StageConfig struct {
	RetryBudget int           `mapstructure:"retry_budget"`
	Timeout     time.Duration `mapstructure:"timeout"`      // 0 = none
	ItemTimeout time.Duration `mapstructure:"item_timeout"` // 0 = none
}

// SelectionConfig controls the await-user-selection stage.
type SelectionConfig struct {
	// Timeout bounds the wait for a submitted selection; 0 waits forever.
	Timeout time.Duration `mapstructure:"timeout"`
	// AutoSelectTop skips the wait and keeps the N best-scored highlights.
	AutoSelectTop int `mapstructure:"auto_select_top"`
}

// CheckpointConfig controls durable run state retention.
type CheckpointConfig struct {
	CleanupOnSuccess  bool          `mapstructure:"cleanup_on_success"`
	ExpireAfter       time.Duration `mapstructure:"expire_after"` // 0 = never
	KeepTempOnFailure bool          `mapstructure:"keep_temp_on_failure"`
}

// ExportConfig controls batch export behavior.
type ExportConfig struct {
	ContinueOnError bool `mapstructure:"continue_on_error"`
	RetryFailed     bool `mapstructure:"retry_failed"`
	MaxRetries      int  `mapstructure:"max_retries"`
}

// MediaConfig holds tool paths, download options, and subtitle layout.
type MediaConfig struct {
	Quality      string         `mapstructure:"quality"`
	DownloadDir  string         `mapstructure:"download_dir"`
	OutputDir    string         `mapstructure:"output_dir"`
	FFmpegPath   string         `mapstructure:"ffmpeg_path"`  // empty = $PATH lookup
	FFprobePath  string         `mapstructure:"ffprobe_path"` // empty = $PATH lookup
	YTDLPPath    string         `mapstructure:"ytdlp_path"`   // empty = $PATH lookup
	WhisperPath  string         `mapstructure:"whisper_path"` // empty = $PATH lookup
	WhisperModel string         `mapstructure:"whisper_model"`
	Subtitle     SubtitleConfig `mapstructure:"subtitle"`
}

// SubtitleConfig holds timing and line-layout constraints.
type SubtitleConfig struct {
	MaxLineLength    int           `mapstructure:"max_line_length"`
	MaxLineLengthCJK int           `mapstructure:"max_line_length_cjk"`
	MaxLines         int           `mapstructure:"max_lines"`
	MinDuration      time.Duration `mapstructure:"min_duration"`
	MaxDuration      time.Duration `mapstructure:"max_duration"`
	Gap              time.Duration `mapstructure:"gap"`
}

// DatabaseConfig holds the run library connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// ServerConfig holds the optional status API configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// JanitorConfig holds the maintenance sweep schedule.
type JanitorConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"` // cron expression or @every/@hourly
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VOXCUT_ and use underscores for
// nesting. Example: VOXCUT_LLM_RPM=120. Unknown file keys are rejected.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("voxcut")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/voxcut")
		v.AddConfigPath("/etc/voxcut")
	}

	v.SetEnvPrefix("VOXCUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine - defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This must run before reading the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("state_root", "./data/state")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// LLM defaults: analyses stay local, translation and titles go remote.
	v.SetDefault("llm.routing", map[string]string{
		TaskHighlightDetection: "local",
		TaskChapterDetection:   "local",
		TaskSummary:            "local",
		TaskTranslation:        "remote",
		TaskTitleGeneration:    "remote",
	})
	v.SetDefault("llm.fallback_enabled", true)
	v.SetDefault("llm.rpm", defaultRPM)
	v.SetDefault("llm.temperature", defaultTemperature)
	v.SetDefault("llm.max_output_tokens", defaultMaxOutputTokens)
	v.SetDefault("llm.local.enabled", true)
	v.SetDefault("llm.local.endpoint", "http://localhost:11434")
	v.SetDefault("llm.local.model", "qwen2.5:14b")
	v.SetDefault("llm.local.timeout", defaultLocalTimeout)
	v.SetDefault("llm.remote.enabled", true)
	v.SetDefault("llm.remote.endpoint", "https://generativelanguage.googleapis.com")
	v.SetDefault("llm.remote.model", "gemini-2.0-flash")
	v.SetDefault("llm.remote.api_key", "")
	v.SetDefault("llm.remote.timeout", defaultRemoteTimeout)

	// Resource defaults
	v.SetDefault("resource.sample_interval", defaultSampleInterval)
	v.SetDefault("resource.max_cpu_percent", defaultMaxCPUPercent)
	v.SetDefault("resource.max_memory_percent", defaultMaxMemoryPercent)
	v.SetDefault("resource.max_gpu_percent", defaultMaxGPUPercent)
	v.SetDefault("resource.max_parallel_exports", defaultMaxParallelExports)
	v.SetDefault("resource.max_parallel_encodes", defaultMaxParallelEncodes)

	// Translation defaults
	v.SetDefault("translation.max_tokens_per_request", defaultMaxTokensPerRequest)
	v.SetDefault("translation.overlap_segments", defaultOverlapSegments)
	v.SetDefault("translation.min_success_rate", defaultMinSuccessRate)
	v.SetDefault("translation.confidence_threshold", defaultConfidenceThreshold)
	v.SetDefault("translation.target_languages", []string{"ja"})

	// Analysis defaults
	v.SetDefault("analysis.max_highlights", defaultMaxHighlights)
	v.SetDefault("analysis.min_highlight_score", defaultMinHighlightScore)
	v.SetDefault("analysis.title_count", defaultTitleCount)

	// Stage defaults
	v.SetDefault("stage.retry_budget", defaultRetryBudget)
	v.SetDefault("stage.timeout", time.Duration(0))
	v.SetDefault("stage.item_timeout", time.Duration(0))

	// Selection defaults
	v.SetDefault("selection.timeout", time.Duration(0))
	v.SetDefault("selection.auto_select_top", 0)

	// Checkpoint defaults
	v.SetDefault("checkpoint.cleanup_on_success", true)
	v.SetDefault("checkpoint.expire_after", time.Duration(0))
	v.SetDefault("checkpoint.keep_temp_on_failure", true)

	// Export defaults
	v.SetDefault("export.continue_on_error", true)
	v.SetDefault("export.retry_failed", true)
	v.SetDefault("export.max_retries", defaultExportMaxRetries)

	// Media defaults
	v.SetDefault("media.quality", "1080p")
	v.SetDefault("media.download_dir", "./data/downloads")
	v.SetDefault("media.output_dir", "./data/output")
	v.SetDefault("media.ffmpeg_path", "")
	v.SetDefault("media.ffprobe_path", "")
	v.SetDefault("media.ytdlp_path", "")
	v.SetDefault("media.whisper_path", "")
	v.SetDefault("media.whisper_model", "large-v3")
	v.SetDefault("media.subtitle.max_line_length", defaultSubtitleLineLength)
	v.SetDefault("media.subtitle.max_line_length_cjk", defaultSubtitleLineCJK)
	v.SetDefault("media.subtitle.max_lines", defaultSubtitleMaxLines)
	v.SetDefault("media.subtitle.min_duration", defaultSubtitleMinDuration)
	v.SetDefault("media.subtitle.max_duration", defaultSubtitleMaxDuration)
	v.SetDefault("media.subtitle.gap", defaultSubtitleGap)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/voxcut.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)
	v.SetDefault("database.log_level", "warn")

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Janitor defaults
	v.SetDefault("janitor.enabled", false)
	v.SetDefault("janitor.schedule", defaultJanitorSchedule)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.StateRoot == "" {
		return fmt.Errorf("state_root is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	known := make(map[string]bool, len(KnownTasks))
	for _, t := range KnownTasks {
		known[t] = true
	}
	for task, provider := range c.LLM.Routing {
		if !known[task] {
			return fmt.Errorf("llm.routing: unknown task kind %q", task)
		}
		if provider != "local" && provider != "remote" {
			return fmt.Errorf("llm.routing.%s must be local or remote", task)
		}
	}
	if c.LLM.RPM < 1 {
		return fmt.Errorf("llm.rpm must be at least 1")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0,2]")
	}
	if !c.LLM.Local.Enabled && !c.LLM.Remote.Enabled {
		return fmt.Errorf("llm: at least one provider must be enabled")
	}

	for name, pct := range map[string]float64{
		"resource.max_cpu_percent":    c.Resource.MaxCPUPercent,
		"resource.max_memory_percent": c.Resource.MaxMemoryPercent,
		"resource.max_gpu_percent":    c.Resource.MaxGPUPercent,
	} {
		if pct <= 0 || pct > 100 {
			return fmt.Errorf("%s must be within (0,100]", name)
		}
	}
	if c.Resource.MaxParallelExports < 1 {
		return fmt.Errorf("resource.max_parallel_exports must be at least 1")
	}
	if c.Resource.MaxParallelEncodes < 1 {
		return fmt.Errorf("resource.max_parallel_encodes must be at least 1")
	}
	if c.Resource.SampleInterval < 100*time.Millisecond {
		return fmt.Errorf("resource.sample_interval must be at least 100ms")
	}

	if c.Translation.MaxTokensPerRequest < 100 {
		return fmt.Errorf("translation.max_tokens_per_request must be at least 100")
	}
	if c.Translation.OverlapSegments < 0 {
		return fmt.Errorf("translation.overlap_segments must not be negative")
	}
	if c.Translation.MinSuccessRate < 0 || c.Translation.MinSuccessRate > 1 {
		return fmt.Errorf("translation.min_success_rate must be within [0,1]")
	}
	if c.Translation.ConfidenceThreshold < 0 || c.Translation.ConfidenceThreshold > 1 {
		return fmt.Errorf("translation.confidence_threshold must be within [0,1]")
	}

	if c.Analysis.MaxHighlights < 1 {
		return fmt.Errorf("analysis.max_highlights must be at least 1")
	}
	if c.Analysis.MinHighlightScore < 0 || c.Analysis.MinHighlightScore > 100 {
		return fmt.Errorf("analysis.min_highlight_score must be within [0,100]")
	}
	if c.Analysis.TitleCount < 1 {
		return fmt.Errorf("analysis.title_count must be at least 1")
	}

	if c.Stage.RetryBudget < 0 {
		return fmt.Errorf("stage.retry_budget must not be negative")
	}
	if c.Export.MaxRetries < 0 {
		return fmt.Errorf("export.max_retries must not be negative")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Media.Subtitle.MaxLines < 1 {
		return fmt.Errorf("media.subtitle.max_lines must be at least 1")
	}
	if c.Media.Subtitle.MinDuration > c.Media.Subtitle.MaxDuration {
		return fmt.Errorf("media.subtitle.min_duration must not exceed max_duration")
	}

	return nil
}

// RunDir returns the state directory for one run.
func (c *Config) RunDir(runID string) string {
	return filepath.Join(c.StateRoot, runID)
}

// Address returns the status server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RouteFor returns the configured provider for a task kind, defaulting to
// local when the table has no entry.
func (c *LLMConfig) RouteFor(task string) string {
	if p, ok := c.Routing[task]; ok {
		return p
	}
	return "local"
}
