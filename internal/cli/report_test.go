package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storedRuns runs the math and broken scenarios into a fresh database and
// returns its path. The second run ("second") starts last.
func storedRuns(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "results.db")

	_, err := execute(t, "run", "--db", dbPath, "--run-id", "first", passingDir(t))
	require.NoError(t, err)

	dir := passingDir(t)
	writeScenario(t, dir, "broken.yaml", brokenScenario)
	_, err = execute(t, "run", "--db", dbPath, "--run-id", "second", dir)
	require.Error(t, err, "broken scenario fails the run")

	return dbPath
}

func TestReport_LatestRun(t *testing.T) {
	dbPath := storedRuns(t)

	out, err := execute(t, "report", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Run second started")
	assert.Contains(t, out, "✓ math/adds [function]")
	assert.Contains(t, out, "✗ broken/wrong [0]")
	assert.Contains(t, out, "#0 equal: actual 1, expected 2")
	assert.Contains(t, out, "4 cases: 2 passed, 1 failed, 1 timed out, 0 skipped")
}

func TestReport_ByIDAndFailedOnly(t *testing.T) {
	dbPath := storedRuns(t)

	out, err := execute(t, "--format", "json", "report", "--failed-only", dbPath, "second")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "second", resp.Data.Run.ID)
	require.Len(t, resp.Data.Cases, 2)
	assert.Equal(t, "broken/wrong", resp.Data.Cases[0].FullName())
	assert.Equal(t, "broken/stuck", resp.Data.Cases[1].FullName())

	out, err = execute(t, "report", dbPath, "first")
	require.NoError(t, err)
	assert.Contains(t, out, "Run first started")
	assert.Contains(t, out, "2 cases: 2 passed")
}

func TestReport_List(t *testing.T) {
	dbPath := storedRuns(t)

	out, err := execute(t, "--format", "json", "report", "--list", dbPath)
	require.NoError(t, err)

	var resp struct {
		Data []struct {
			ID       string `json:"id"`
			Finished bool   `json:"finished"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	ids := []string{resp.Data[0].ID, resp.Data[1].ID}
	assert.ElementsMatch(t, []string{"first", "second"}, ids)
	assert.True(t, resp.Data[0].Finished)

	out, err = execute(t, "report", "--list", "--limit", "1", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "(finished)")
}

func TestReport_Errors(t *testing.T) {
	dbPath := storedRuns(t)

	_, err := execute(t, "report", dbPath, "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "run not found")

	out, err := execute(t, "report", filepath.Join(t.TempDir(), "none.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "database not found")
}

func TestReport_EmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	// A run with an invalid filter opens the store before failing.
	_, _ = execute(t, "run", "--db", dbPath, "--filter", "[bad", passingDir(t))

	out, err := execute(t, "report", "--list", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs stored")

	_, err = execute(t, "report", dbPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database holds no runs")
}
