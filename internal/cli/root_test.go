package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xtsunit/internal/config"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand(nil)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

// writeScenario writes a scenario file below dir.
func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(nil)
	require.NotNil(t, cmd)
	assert.Equal(t, "xtsunit", cmd.Use)
	assert.Contains(t, cmd.Long, "describe/it")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(nil)
	commands := []string{"run", "validate", "report", "inventory"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand(nil)

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	levelFlag := cmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, levelFlag)
	assert.Equal(t, "warn", levelFlag.DefValue)
}

func TestFlagDefaultsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Run.Format = "json"
	cfg.Run.Timeout = 2 * time.Second
	cfg.Run.DBPath = "/tmp/results.db"
	cfg.Run.Workers = 3

	cmd := NewRootCommand(cfg)
	assert.Equal(t, "json", cmd.PersistentFlags().Lookup("format").DefValue)

	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	assert.Equal(t, "2s", runCmd.Flags().Lookup("timeout").DefValue)
	assert.Equal(t, "/tmp/results.db", runCmd.Flags().Lookup("db").DefValue)
	assert.Equal(t, "3", runCmd.Flags().Lookup("workers").DefValue)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand(nil)
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	for _, name := range []string{"filter", "timeout", "workers", "db", "junit", "metrics", "golden", "update", "run-id"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "flag --%s", name)
	}
	assert.Equal(t, "false", runCmd.Flags().Lookup("update").DefValue)
}

func TestReportCommandFlags(t *testing.T) {
	cmd := NewRootCommand(nil)
	reportCmd, _, err := cmd.Find([]string{"report"})
	require.NoError(t, err)

	assert.Equal(t, "20", reportCmd.Flags().Lookup("limit").DefValue)
	assert.NotNil(t, reportCmd.Flags().Lookup("list"))
	assert.NotNil(t, reportCmd.Flags().Lookup("failed-only"))
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, err := execute(t, "--format", "invalid", "validate", ".")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
