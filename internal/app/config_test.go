package app

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	cfg, err := LoadFromViper()
	require.NoError(t, err)
	return cfg
}

func TestConfig_DefaultsAreValid(t *testing.T) {
	cfg := loadDefaults(t)

	assert.Equal(t, 5, cfg.Detection.Threshold)
	assert.Equal(t, 5*time.Minute, cfg.Detection.Window)
	assert.Equal(t, 24*time.Hour, cfg.Detection.BlockDuration)
	assert.Equal(t, 168*time.Hour, cfg.Detection.MaxBlockLifetime)
	assert.True(t, cfg.Correlation.Enabled)
	assert.Equal(t, 5, cfg.Correlation.MinSources)
	assert.Equal(t, "dryrun", cfg.Enforce.Mode)
	assert.Contains(t, cfg.Whitelist, "127.0.0.1")
}

func TestConfig_ValidationFailures(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value interface{}
		field string
	}{
		{"zero threshold", "detection.threshold", 0, "detection.threshold"},
		{"negative window", "detection.window", "-1m", "detection.window"},
		{"lifetime below duration", "detection.max_block_lifetime", "1h", "detection.max_block_lifetime"},
		{"cluster of one", "correlation.min_sources", 1, "correlation.min_sources"},
		{"bad enforce mode", "enforce.mode", "yolo", "enforce.mode"},
		{"too many attempts", "enforce.max_attempts", 50, "enforce.max_attempts"},
		{"no log path", "input.log_path", "", "input.log_path"},
		{"zero workers", "dispatch.workers", 0, "dispatch.workers"},
		{"tiny buffer", "dispatch.buffer_size", 1, "dispatch.buffer_size"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			SetDefaults()
			viper.Set(tc.key, tc.value)

			_, err := LoadFromViper()
			require.Error(t, err)

			var vErr *ConfigValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.field, vErr.Field)
		})
	}
}

func TestConfig_ExecModeRequiresBlockCommand(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("enforce.mode", "exec")
	viper.Set("enforce.block_command", "")

	_, err := LoadFromViper()
	var vErr *ConfigValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "enforce.block_command", vErr.Field)
}

func TestConfig_EngineConfigMapping(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("detection.threshold", 3)
	viper.Set("correlation.window", "30m")

	cfg, err := LoadFromViper()
	require.NoError(t, err)

	ec := cfg.EngineConfig()
	assert.Equal(t, 3, ec.Threshold)
	assert.Equal(t, 30*time.Minute, ec.CorrelationWindow)
	assert.Equal(t, cfg.Detection.BlockDuration, ec.BlockDuration)
}

func TestConfigValidationError_Message(t *testing.T) {
	err := &ConfigValidationError{Field: "detection.threshold", Value: 0, Reason: "must be positive"}
	assert.Contains(t, err.Error(), "detection.threshold")
	assert.Contains(t, err.Error(), "must be positive")
}
