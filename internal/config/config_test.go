package config

import (
	"log/slog"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envVars = []string{
	"XTSUNIT_TIMEOUT", "XTSUNIT_DB", "XTSUNIT_FORMAT",
	"XTSUNIT_WORKERS", "XTSUNIT_LOG_LEVEL",
}

func clearAll(t *testing.T) {
	t.Helper()
	for _, v := range envVars {
		t.Setenv(v, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearAll(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Run.Timeout)
	assert.Equal(t, "", cfg.Run.DBPath)
	assert.Equal(t, "text", cfg.Run.Format)
	assert.Equal(t, runtime.GOMAXPROCS(0), cfg.Run.Workers)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestDefault_MatchesEmptyEnvironment(t *testing.T) {
	clearAll(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearAll(t)
	t.Setenv("XTSUNIT_TIMEOUT", "250ms")
	t.Setenv("XTSUNIT_DB", "/tmp/results.db")
	t.Setenv("XTSUNIT_FORMAT", "json")
	t.Setenv("XTSUNIT_WORKERS", "3")
	t.Setenv("XTSUNIT_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Run.Timeout)
	assert.Equal(t, "/tmp/results.db", cfg.Run.DBPath)
	assert.Equal(t, "json", cfg.Run.Format)
	assert.Equal(t, 3, cfg.Run.Workers)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		wantErr string
	}{
		{"XTSUNIT_TIMEOUT", "soon", "invalid XTSUNIT_TIMEOUT"},
		{"XTSUNIT_TIMEOUT", "-1s", "must be positive"},
		{"XTSUNIT_FORMAT", "xml", "invalid XTSUNIT_FORMAT"},
		{"XTSUNIT_WORKERS", "many", "invalid XTSUNIT_WORKERS"},
		{"XTSUNIT_WORKERS", "0", "must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearAll(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLogConfig_SlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "WARNING"}.SlogLevel())
	assert.Equal(t, slog.LevelError, LogConfig{Level: "error"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: "chatty"}.SlogLevel())
}
