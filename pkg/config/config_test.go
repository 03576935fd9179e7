package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, validate.Struct(cfg))
	require.Equal(t, "INFO", cfg.Logging.Level)
	require.Equal(t, "text", cfg.Logging.Format)
	require.NotEmpty(t, cfg.Dispatch.BundlePaths)
}

func TestApplyDefaultsNormalizesLogLevelCase(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug", Format: "json"}}
	ApplyDefaults(cfg)
	require.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true, Port: 1234}}
	ApplyDefaults(cfg)
	require.Equal(t, 1234, cfg.Metrics.Port)
}
