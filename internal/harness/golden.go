package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/xtsunit/internal/ir"
)

// GoldenSuffix is the extension of golden snapshot files.
const GoldenSuffix = ".golden"

// ErrGoldenMismatch is returned by CompareGolden when a snapshot differs
// from its golden file.
var ErrGoldenMismatch = errors.New("snapshot does not match golden file")

// SnapshotJSON renders the deterministic part of a run as canonical JSON:
// the trace, case statuses and assertion results. Durations, timestamps,
// case IDs and error text are left out so the snapshot is stable across
// machines.
func SnapshotJSON(result *RunResult) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		m := map[string]any{
			"seq":   ev.Seq,
			"type":  string(ev.Type),
			"suite": ev.Suite,
		}
		if ev.Case != "" {
			m["case"] = ev.Case
		}
		trace[i] = m
	}

	var cases []any
	for _, c := range result.Cases() {
		outcomes := make([]any, len(c.Outcomes))
		for i, o := range c.Outcomes {
			outcomes[i] = map[string]any{
				"kind": string(o.Kind),
				"pass": o.Pass,
			}
		}
		cases = append(cases, map[string]any{
			"name":     c.FullName(),
			"status":   string(c.Status),
			"outcomes": outcomes,
		})
	}
	if cases == nil {
		cases = []any{}
	}

	snapshot := map[string]any{
		"run_id": result.RunID,
		"cases":  cases,
		"trace":  trace,
		"summary": map[string]any{
			"total":     result.Summary.Total,
			"passed":    result.Summary.Passed,
			"failed":    result.Summary.Failed,
			"timed_out": result.Summary.TimedOut,
			"skipped":   result.Summary.Skipped,
		},
	}
	return ir.MarshalCanonical(snapshot)
}

// AssertGolden compares the snapshot of result against
// testdata/golden/<name>.golden. Run the test with -update to regenerate.
func AssertGolden(t *testing.T, name string, result *RunResult) {
	t.Helper()

	data, err := SnapshotJSON(result)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(GoldenSuffix),
	)
	g.Assert(t, name, data)
}

// CompareGolden compares the snapshot of result against <dir>/<name>.golden
// outside of tests. With update set, the file is (re)written instead.
func CompareGolden(dir, name string, result *RunResult, update bool) error {
	data, err := SnapshotJSON(result)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	path := filepath.Join(dir, name+GoldenSuffix)
	if update {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create golden dir: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write golden file: %w", err)
		}
		return nil
	}

	want, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read golden file: %w", err)
	}
	if !bytes.Equal(want, data) {
		return fmt.Errorf("%s: %w", path, ErrGoldenMismatch)
	}
	return nil
}
