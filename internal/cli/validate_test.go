package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Valid(t *testing.T) {
	dir := passingDir(t)
	writeScenario(t, dir, "strings.cue", stringsScenario)

	out, err := execute(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All scenarios valid (2 files, 2 suites, 3 cases)")
}

func TestValidate_ValidJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", passingDir(t))
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Cases)
}

func invalidDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeScenario(t, dir, "a_invalid.yaml", "suite: nameless\ncases:\n  - steps: []\n")
	writeScenario(t, dir, "b_camera.yaml", `suite: camera
cases:
  - name: shoots
    steps:
      - call: camera.shoot
      - call: camera.zoom
`)
	return dir
}

func TestValidate_ReportsEveryIssue(t *testing.T) {
	dir := invalidDir(t)

	out, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 2 error(s)")

	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, filepath.Join(dir, "a_invalid.yaml"))
	assert.Contains(t, out, "E006: invalid scenario")
	assert.Contains(t, out, `E009: suite "camera" calls unknown system apis: camera.shoot, camera.zoom`)
}

func TestValidate_InvalidJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", invalidDir(t))
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 2)
	assert.Equal(t, ErrCodeInvalidScenario, resp.Data.Errors[0].Code)
	assert.Equal(t, ErrCodeUnknownAPI, resp.Data.Errors[1].Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidScenario, resp.Error.Code)
}

func TestValidate_CUELine(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "conflict.cue", "suite: \"x\"\ncases: []\nsuite: \"y\"\n")

	out, err := execute(t, "--format", "json", "validate", dir)
	require.Error(t, err)

	var resp struct {
		Data ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, ErrCodeLoadFailed, resp.Data.Errors[0].Code)
	assert.Positive(t, resp.Data.Errors[0].Line)
}

func TestValidate_MissingDirectory(t *testing.T) {
	out, err := execute(t, "validate", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]: scenario directory not found")
}
