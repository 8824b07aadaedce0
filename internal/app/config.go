package app

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/sshwarden/sshwarden/internal/engine"
)

// Config is the full runtime configuration, populated from viper after
// defaults, config file, and environment variables are merged.
type Config struct {
	Detection struct {
		Threshold        int
		Window           time.Duration
		BlockDuration    time.Duration
		MaxBlockLifetime time.Duration
	}
	Correlation struct {
		Enabled    bool
		MinSources int
		Window     time.Duration
	}
	Sweep struct {
		Interval time.Duration
	}
	Whitelist []string
	Input     struct {
		LogPath       string
		FromBeginning bool
	}
	Enforce struct {
		Mode           string // "dryrun" or "exec"
		BlockCommand   string
		UnblockCommand string
		MaxAttempts    int
		Timeout        time.Duration
	}
	State struct {
		Path string
	}
	Audit struct {
		Enabled    bool
		Path       string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}
	Output struct {
		JSONPath string
		Stdout   bool
		Pretty   bool
	}
	Metrics struct {
		Enabled bool
		Port    string
		Path    string
	}
	Dispatch struct {
		Workers       int
		BufferSize    int
		SubmitTimeout time.Duration
		SpillPath     string
	}
	Logging struct {
		Level string
	}
}

// SetDefaults registers every configuration key with its default value.
// Called before the config file is read so partial files work.
func SetDefaults() {
	viper.SetDefault("detection.threshold", 5)
	viper.SetDefault("detection.window", "5m")
	viper.SetDefault("detection.block_duration", "24h")
	viper.SetDefault("detection.max_block_lifetime", "168h")

	viper.SetDefault("correlation.enabled", true)
	viper.SetDefault("correlation.min_sources", 5)
	viper.SetDefault("correlation.window", "60m")

	viper.SetDefault("sweep.interval", "30s")

	viper.SetDefault("whitelist", []string{"127.0.0.1", "::1"})

	viper.SetDefault("input.log_path", "/var/log/auth.log")
	viper.SetDefault("input.from_beginning", false)

	viper.SetDefault("enforce.mode", "dryrun")
	viper.SetDefault("enforce.block_command", "iptables -I INPUT -s %IP% -j DROP")
	viper.SetDefault("enforce.unblock_command", "iptables -D INPUT -s %IP% -j DROP")
	viper.SetDefault("enforce.max_attempts", 3)
	viper.SetDefault("enforce.timeout", "10s")

	viper.SetDefault("state.path", "/var/lib/sshwarden/state.json")

	viper.SetDefault("audit.enabled", true)
	viper.SetDefault("audit.path", "/var/log/sshwarden/audit.log")
	viper.SetDefault("audit.max_size_mb", 10)
	viper.SetDefault("audit.max_backups", 5)
	viper.SetDefault("audit.max_age_days", 30)

	viper.SetDefault("output.json.path", "")
	viper.SetDefault("output.json.stdout", false)
	viper.SetDefault("output.json.pretty", false)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.port", ":9090")
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("dispatch.workers", 4)
	viper.SetDefault("dispatch.buffer_size", 1024)
	viper.SetDefault("dispatch.submit_timeout", "100ms")
	viper.SetDefault("dispatch.spill_path", "")

	viper.SetDefault("logging.level", "info")
}

// LoadFromViper builds and validates a Config from the current viper state.
func LoadFromViper() (*Config, error) {
	cfg := &Config{}

	cfg.Detection.Threshold = viper.GetInt("detection.threshold")
	cfg.Detection.Window = viper.GetDuration("detection.window")
	cfg.Detection.BlockDuration = viper.GetDuration("detection.block_duration")
	cfg.Detection.MaxBlockLifetime = viper.GetDuration("detection.max_block_lifetime")

	cfg.Correlation.Enabled = viper.GetBool("correlation.enabled")
	cfg.Correlation.MinSources = viper.GetInt("correlation.min_sources")
	cfg.Correlation.Window = viper.GetDuration("correlation.window")

	cfg.Sweep.Interval = viper.GetDuration("sweep.interval")

	cfg.Whitelist = viper.GetStringSlice("whitelist")

	cfg.Input.LogPath = viper.GetString("input.log_path")
	cfg.Input.FromBeginning = viper.GetBool("input.from_beginning")

	cfg.Enforce.Mode = viper.GetString("enforce.mode")
	cfg.Enforce.BlockCommand = viper.GetString("enforce.block_command")
	cfg.Enforce.UnblockCommand = viper.GetString("enforce.unblock_command")
	cfg.Enforce.MaxAttempts = viper.GetInt("enforce.max_attempts")
	cfg.Enforce.Timeout = viper.GetDuration("enforce.timeout")

	cfg.State.Path = viper.GetString("state.path")

	cfg.Audit.Enabled = viper.GetBool("audit.enabled")
	cfg.Audit.Path = viper.GetString("audit.path")
	cfg.Audit.MaxSizeMB = viper.GetInt("audit.max_size_mb")
	cfg.Audit.MaxBackups = viper.GetInt("audit.max_backups")
	cfg.Audit.MaxAgeDays = viper.GetInt("audit.max_age_days")

	cfg.Output.JSONPath = viper.GetString("output.json.path")
	cfg.Output.Stdout = viper.GetBool("output.json.stdout")
	cfg.Output.Pretty = viper.GetBool("output.json.pretty")

	cfg.Metrics.Enabled = viper.GetBool("metrics.enabled")
	cfg.Metrics.Port = viper.GetString("metrics.port")
	cfg.Metrics.Path = viper.GetString("metrics.path")

	cfg.Dispatch.Workers = viper.GetInt("dispatch.workers")
	cfg.Dispatch.BufferSize = viper.GetInt("dispatch.buffer_size")
	cfg.Dispatch.SubmitTimeout = viper.GetDuration("dispatch.submit_timeout")
	cfg.Dispatch.SpillPath = viper.GetString("dispatch.spill_path")

	cfg.Logging.Level = viper.GetString("logging.level")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Detection.Threshold < 1 {
		return &ConfigValidationError{Field: "detection.threshold", Value: c.Detection.Threshold, Reason: "must be positive"}
	}
	if c.Detection.Window <= 0 {
		return &ConfigValidationError{Field: "detection.window", Value: c.Detection.Window, Reason: "must be positive"}
	}
	if c.Detection.BlockDuration <= 0 {
		return &ConfigValidationError{Field: "detection.block_duration", Value: c.Detection.BlockDuration, Reason: "must be positive"}
	}
	if c.Detection.MaxBlockLifetime < c.Detection.BlockDuration {
		return &ConfigValidationError{Field: "detection.max_block_lifetime", Value: c.Detection.MaxBlockLifetime, Reason: "must be >= detection.block_duration"}
	}
	if c.Correlation.Enabled && c.Correlation.MinSources < 2 {
		return &ConfigValidationError{Field: "correlation.min_sources", Value: c.Correlation.MinSources, Reason: "must be at least 2"}
	}
	if c.Correlation.Enabled && c.Correlation.Window <= 0 {
		return &ConfigValidationError{Field: "correlation.window", Value: c.Correlation.Window, Reason: "must be positive"}
	}
	if c.Sweep.Interval <= 0 {
		return &ConfigValidationError{Field: "sweep.interval", Value: c.Sweep.Interval, Reason: "must be positive"}
	}
	if c.Enforce.Mode != "dryrun" && c.Enforce.Mode != "exec" {
		return &ConfigValidationError{Field: "enforce.mode", Value: c.Enforce.Mode, Reason: "must be dryrun or exec"}
	}
	if c.Enforce.Mode == "exec" && c.Enforce.BlockCommand == "" {
		return &ConfigValidationError{Field: "enforce.block_command", Value: "", Reason: "required in exec mode"}
	}
	if c.Enforce.MaxAttempts < 1 || c.Enforce.MaxAttempts > 10 {
		return &ConfigValidationError{Field: "enforce.max_attempts", Value: c.Enforce.MaxAttempts, Reason: "must be between 1 and 10"}
	}
	if c.Input.LogPath == "" {
		return &ConfigValidationError{Field: "input.log_path", Value: "", Reason: "required"}
	}
	if c.Dispatch.Workers < 1 || c.Dispatch.Workers > 256 {
		return &ConfigValidationError{Field: "dispatch.workers", Value: c.Dispatch.Workers, Reason: "must be between 1 and 256"}
	}
	if c.Dispatch.BufferSize < 16 {
		return &ConfigValidationError{Field: "dispatch.buffer_size", Value: c.Dispatch.BufferSize, Reason: "must be at least 16"}
	}
	return nil
}

// EngineConfig maps the detection section onto the engine's own config.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Threshold:          c.Detection.Threshold,
		Window:             c.Detection.Window,
		BlockDuration:      c.Detection.BlockDuration,
		MaxBlockLifetime:   c.Detection.MaxBlockLifetime,
		CorrelationEnabled: c.Correlation.Enabled,
		MinClusterSources:  c.Correlation.MinSources,
		CorrelationWindow:  c.Correlation.Window,
	}
}

// ConfigValidationError reports a configuration value the process refuses
// to start with.
type ConfigValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s = %v - %s", e.Field, e.Value, e.Reason)
}

// WatchWhitelist re-reads the config file on change and swaps the rebuilt
// whitelist into the index. An invalid file keeps the current whitelist.
func WatchWhitelist(whitelist *engine.WhitelistIndex) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().
			Str("file", e.Name).
			Str("op", e.Op.String()).
			Msg("Config file changed, reloading whitelist")

		if err := viper.ReadInConfig(); err != nil {
			log.Error().Err(err).Msg("Failed to re-read config, keeping current whitelist")
			return
		}

		entries := viper.GetStringSlice("whitelist")
		loaded := whitelist.Load(entries)
		log.Info().Int("entries", loaded).Msg("Whitelist hot-reloaded")
	})

	viper.WatchConfig()
}
