package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return &cfg
}

func TestDefaultsProduceValidConfig(t *testing.T) {
	cfg := defaultConfig(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "./data/state", cfg.StateRoot)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 60, cfg.LLM.RPM)
	assert.True(t, cfg.LLM.FallbackEnabled)
	assert.Equal(t, "local", cfg.LLM.Routing[TaskHighlightDetection])
	assert.Equal(t, "remote", cfg.LLM.Routing[TaskTranslation])
	assert.Equal(t, 2, cfg.Resource.MaxParallelExports)
	assert.Equal(t, []string{"ja"}, cfg.Translation.TargetLanguages)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, 8650, cfg.Server.Port)
	assert.Equal(t, "@hourly", cfg.Janitor.Schedule)
	assert.Equal(t, time.Duration(0), cfg.Checkpoint.ExpireAfter)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxcut.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
state_root: /var/lib/voxcut
logging:
  level: debug
  format: text
llm:
  rpm: 120
  remote:
    model: gemini-2.5-pro
translation:
  target_languages: [de, es]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/voxcut", cfg.StateRoot)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 120, cfg.LLM.RPM)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Remote.Model)
	assert.Equal(t, []string{"de", "es"}, cfg.Translation.TargetLanguages)
	// Untouched keys keep their defaults.
	assert.Equal(t, "qwen2.5:14b", cfg.LLM.Local.Model)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxcut.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lllm:\n  rpm: 10\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshaling config")
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("VOXCUT_LLM_RPM", "7")
	t.Setenv("VOXCUT_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.LLM.RPM)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"empty state root", func(c *Config) { c.StateRoot = "" }, "state_root"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"unknown routing task", func(c *Config) { c.LLM.Routing["poetry"] = "local" }, "unknown task kind"},
		{"bad routing provider", func(c *Config) { c.LLM.Routing[TaskSummary] = "cloud" }, "local or remote"},
		{"zero rpm", func(c *Config) { c.LLM.RPM = 0 }, "llm.rpm"},
		{"wild temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"no providers", func(c *Config) {
			c.LLM.Local.Enabled = false
			c.LLM.Remote.Enabled = false
		}, "at least one provider"},
		{"cpu percent over 100", func(c *Config) { c.Resource.MaxCPUPercent = 150 }, "max_cpu_percent"},
		{"zero parallel exports", func(c *Config) { c.Resource.MaxParallelExports = 0 }, "max_parallel_exports"},
		{"tiny sample interval", func(c *Config) { c.Resource.SampleInterval = time.Millisecond }, "sample_interval"},
		{"tiny token limit", func(c *Config) { c.Translation.MaxTokensPerRequest = 50 }, "max_tokens_per_request"},
		{"success rate over 1", func(c *Config) { c.Translation.MinSuccessRate = 1.5 }, "min_success_rate"},
		{"negative retry budget", func(c *Config) { c.Stage.RetryBudget = -1 }, "retry_budget"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"inverted subtitle durations", func(c *Config) {
			c.Media.Subtitle.MinDuration = 10 * time.Second
			c.Media.Subtitle.MaxDuration = time.Second
		}, "min_duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunDir(t *testing.T) {
	cfg := &Config{StateRoot: "/data/state"}
	assert.Equal(t, filepath.Join("/data/state", "01ABC"), cfg.RunDir("01ABC"))
}

func TestRouteForFallsBackToLocal(t *testing.T) {
	cfg := LLMConfig{Routing: map[string]string{TaskTranslation: "remote"}}
	assert.Equal(t, "remote", cfg.RouteFor(TaskTranslation))
	assert.Equal(t, "local", cfg.RouteFor(TaskSummary))
}

func TestServerAddress(t *testing.T) {
	cfg := ServerConfig{Host: "0.0.0.0", Port: 8650}
	assert.Equal(t, "0.0.0.0:8650", cfg.Address())
}
