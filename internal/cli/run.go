package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/xtsunit/internal/harness"
	"github.com/roach88/xtsunit/internal/metrics"
	"github.com/roach88/xtsunit/internal/report"
	"github.com/roach88/xtsunit/internal/store"
	"github.com/roach88/xtsunit/internal/sysapi"
)

// goldenRunID is the run ID used when comparing against a golden file
// without an explicit --run-id, since snapshots include the run ID.
const goldenRunID = "golden"

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Filter   string
	Timeout  time.Duration
	Workers  int
	Database string
	JUnit    string
	Metrics  string
	Golden   string
	Update   bool
	RunID    string

	// Clock overrides the harness clock (for testing).
	Clock harness.Clock
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cfg := rootOpts.config()
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-dir>",
		Short: "Run scenarios and report results",
		Long: `Run every YAML and CUE scenario below a directory.

Suites run in file order, cases one after another. The command exits 1 when
any case fails or times out, or when a golden snapshot differs.

Example:
  xtsunit run ./scenarios
  xtsunit run --filter 'storage/**' --db results.db --junit result.xml ./scenarios
  xtsunit run --golden testdata/run.golden --update ./scenarios`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run cases whose full name matches this glob")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", cfg.Run.Timeout, "default timeout per case and hook")
	cmd.Flags().IntVar(&opts.Workers, "workers", cfg.Run.Workers, "concurrent scenario file loads")
	cmd.Flags().StringVar(&opts.Database, "db", cfg.Run.DBPath, "persist results to this SQLite database")
	cmd.Flags().StringVar(&opts.JUnit, "junit", "", "write a JUnit XML report to this path")
	cmd.Flags().StringVar(&opts.Metrics, "metrics", "", "write Prometheus metrics in text format to this path")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "compare the run snapshot with this golden file")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite the golden file instead of comparing")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run ID (default: generated UUIDv7)")

	return cmd
}

func runScenarios(opts *RunOptions, dir string, cmd *cobra.Command) error {
	logger := opts.logger()
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if opts.Update && opts.Golden == "" {
		return NewExitError(ExitCommandError, "--update requires --golden")
	}

	loadResult, loadErrors := LoadScenarios(runContext(cmd), dir, opts.Workers, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return WrapExitError(ExitCommandError, "failed to load scenarios", loadErrors[0])
	}
	logger.Info("scenarios loaded", "dir", dir, "files", loadResult.FileCount, "cases", loadResult.CaseCount())

	apis, err := sysapi.NewDefault()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create system APIs", err)
	}
	defer func() {
		if closeErr := apis.Close(); closeErr != nil {
			logger.Error("error closing system APIs", "error", closeErr)
		}
	}()

	reg := harness.NewRegistry()
	for _, sc := range loadResult.Scenarios {
		if err := sc.Register(reg, apis); err != nil {
			return WrapExitError(ExitCommandError, "failed to register scenarios", err)
		}
	}

	runOpts := []harness.Option{
		harness.WithTimeout(opts.Timeout),
		harness.WithLogger(logger),
		harness.WithFilter(opts.Filter),
		harness.WithClock(opts.Clock),
	}
	switch {
	case opts.RunID != "":
		runOpts = append(runOpts, harness.WithRunID(opts.RunID))
	case opts.Golden != "":
		runOpts = append(runOpts, harness.WithRunID(goldenRunID))
	}

	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		runOpts = append(runOpts, harness.WithRecorder(st))
	}

	var collector *metrics.Collector
	if opts.Metrics != "" {
		collector = metrics.NewCollector()
		runOpts = append(runOpts, harness.WithRecorder(collector))
	}

	ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := harness.NewRunner(runOpts...).Run(ctx, reg)
	if result == nil {
		return WrapExitError(ExitCommandError, "run failed", runErr)
	}
	logger.Info("run finished", "run_id", result.RunID, "total", result.Summary.Total,
		"passed", result.Summary.Passed, "failed", result.Summary.Failed)

	if opts.JUnit != "" {
		if err := report.WriteFile(opts.JUnit, result); err != nil {
			return WrapExitError(ExitCommandError, "failed to write JUnit report", err)
		}
	}
	if collector != nil {
		if err := collector.WriteTextfile(opts.Metrics); err != nil {
			return WrapExitError(ExitCommandError, "failed to write metrics", err)
		}
	}

	var goldenErr error
	if opts.Golden != "" {
		goldenDir := filepath.Dir(opts.Golden)
		goldenName := strings.TrimSuffix(filepath.Base(opts.Golden), harness.GoldenSuffix)
		goldenErr = harness.CompareGolden(goldenDir, goldenName, result, opts.Update)
		if goldenErr != nil && !errors.Is(goldenErr, harness.ErrGoldenMismatch) {
			return WrapExitError(ExitCommandError, "golden comparison failed", goldenErr)
		}
	}

	summary := newRunSummary(result, goldenErr)
	if err := outputRunSummary(formatter, summary); err != nil {
		return err
	}

	// Recorder errors leave the store or metrics incomplete.
	if runErr != nil {
		return WrapExitError(ExitCommandError, "run incomplete", runErr)
	}
	if goldenErr != nil {
		return WrapExitError(ExitFailure, "golden snapshot differs", goldenErr)
	}
	if !summary.Passed {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d cases did not pass",
			result.Summary.Failed+result.Summary.TimedOut, result.Summary.Total))
	}
	return nil
}

// RunSummary is the output of the run command.
type RunSummary struct {
	RunID    string          `json:"run_id"`
	Passed   bool            `json:"passed"`
	Summary  harness.Summary `json:"summary"`
	Duration string          `json:"duration"`
	Failures []CaseFailure   `json:"failures,omitempty"`
	Hooks    []string        `json:"hook_failures,omitempty"`
	Golden   string          `json:"golden,omitempty"`
}

// CaseFailure names a failed or timed-out case.
type CaseFailure struct {
	Case   string `json:"case"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

func newRunSummary(result *harness.RunResult, goldenErr error) RunSummary {
	s := RunSummary{
		RunID:    result.RunID,
		Summary:  result.Summary,
		Duration: result.Duration.String(),
		Passed:   result.Summary.Failed == 0 && result.Summary.TimedOut == 0,
	}
	for _, c := range result.Cases() {
		if c.Status == harness.StatusFailed || c.Status == harness.StatusTimedOut {
			s.Failures = append(s.Failures, CaseFailure{Case: c.FullName(), Status: string(c.Status), Error: c.Error})
		}
	}
	var visit func(sr *harness.SuiteResult)
	visit = func(sr *harness.SuiteResult) {
		for _, hf := range sr.HookFailures {
			s.Hooks = append(s.Hooks, fmt.Sprintf("%s %s: %s", strings.Join(sr.Path, "/"), hf.Hook, hf.Error))
		}
		for _, child := range sr.Suites {
			visit(child)
		}
	}
	for _, sr := range result.Suites {
		visit(sr)
	}
	if goldenErr != nil {
		s.Golden = "mismatch"
	}
	return s
}

func outputRunSummary(formatter *OutputFormatter, s RunSummary) error {
	if formatter.Format == "json" {
		if s.Passed && s.Golden == "" {
			return formatter.Success(s)
		}
		return formatter.Fail(s)
	}
	writeRunSummaryText(formatter.Writer, s)
	return nil
}

func writeRunSummaryText(w io.Writer, s RunSummary) {
	for _, f := range s.Failures {
		fmt.Fprintf(w, "✗ %s [%s]\n    %s\n", f.Case, f.Status, f.Error)
	}
	for _, h := range s.Hooks {
		fmt.Fprintf(w, "! %s\n", h)
	}
	if len(s.Failures) > 0 || len(s.Hooks) > 0 {
		fmt.Fprintln(w)
	}

	mark := "✓"
	if !s.Passed {
		mark = "✗"
	}
	sum := s.Summary
	fmt.Fprintf(w, "%s %d cases: %d passed, %d failed, %d timed out, %d skipped (%s)\n",
		mark, sum.Total, sum.Passed, sum.Failed, sum.TimedOut, sum.Skipped, s.Duration)
	fmt.Fprintf(w, "  assertions: %d (%d failed), hook failures: %d\n",
		sum.Assertions, sum.AssertionsFailed, sum.HookFailures)
	if s.Golden != "" {
		fmt.Fprintln(w, "✗ golden snapshot differs")
	}
	fmt.Fprintf(w, "  run: %s\n", s.RunID)
}

// runContext returns the command context, or Background when the command is
// executed outside cobra.
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
