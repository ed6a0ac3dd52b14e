package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/xtsunit/internal/harness"
	"github.com/roach88/xtsunit/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	List       bool
	Limit      int
	FailedOnly bool
}

// RunReport is a stored run with its cases.
type RunReport struct {
	Run          store.RunRecord       `json:"run"`
	Cases        []store.CaseRecord    `json:"cases"`
	HookFailures []harness.HookFailure `json:"hook_failures,omitempty"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report <db> [run-id]",
		Short: "Show results stored by run --db",
		Long: `Show a run stored in a result database.

Without a run ID the most recent run is shown. With --list, the stored runs
are listed newest first instead.

Example:
  xtsunit report results.db
  xtsunit report results.db 0190a5c4-... --failed-only
  xtsunit report results.db --list --limit 10`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 2 {
				runID = args[1]
			}
			return runReport(opts, args[0], runID, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.List, "list", false, "list stored runs")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum runs to list (0 for all)")
	cmd.Flags().BoolVar(&opts.FailedOnly, "failed-only", false, "only show cases that did not pass")

	return cmd
}

func runReport(opts *ReportOptions, dbPath, runID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	ctx := runContext(cmd)

	// store.Open creates missing files; a report must not.
	if _, err := os.Stat(dbPath); err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("database not found: %s", dbPath), nil)
		return WrapExitError(ExitCommandError, "database not found", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			opts.logger().Error("error closing database", "error", closeErr)
		}
	}()

	if opts.List {
		runs, err := st.ListRuns(ctx, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		if formatter.Format == "json" {
			if runs == nil {
				runs = []store.RunRecord{}
			}
			return formatter.Success(runs)
		}
		writeRunList(formatter.Writer, runs)
		return nil
	}

	if runID == "" {
		runID, err = st.LatestRunID(ctx)
		if errors.Is(err, store.ErrRunNotFound) {
			_ = formatter.Error(ErrCodeStore, "database holds no runs", nil)
			return NewExitError(ExitCommandError, "database holds no runs")
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find latest run", err)
		}
	}

	rep, err := readRunReport(cmd, st, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		_ = formatter.Error(ErrCodeStore, fmt.Sprintf("run not found: %s", runID), nil)
		return WrapExitError(ExitCommandError, "run not found", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	if opts.FailedOnly {
		kept := rep.Cases[:0]
		for _, c := range rep.Cases {
			if c.Status != harness.StatusPassed && c.Status != harness.StatusSkipped {
				kept = append(kept, c)
			}
		}
		rep.Cases = kept
	}

	if formatter.Format == "json" {
		return formatter.Success(rep)
	}
	writeRunReport(formatter.Writer, rep)
	return nil
}

func readRunReport(cmd *cobra.Command, st *store.Store, runID string) (*RunReport, error) {
	ctx := runContext(cmd)
	run, err := st.ReadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	cases, err := st.ReadCases(ctx, runID)
	if err != nil {
		return nil, err
	}
	hooks, err := st.ReadHookFailures(ctx, runID)
	if err != nil {
		return nil, err
	}
	if cases == nil {
		cases = []store.CaseRecord{}
	}
	return &RunReport{Run: *run, Cases: cases, HookFailures: hooks}, nil
}

func writeRunList(w io.Writer, runs []store.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs stored")
		return
	}
	for _, r := range runs {
		state := "finished"
		if !r.Finished {
			state = "incomplete"
		}
		fmt.Fprintf(w, "%s  %s  %d cases, %d passed, %d failed, %d timed out  (%s)\n",
			r.ID, r.StartedAt.UTC().Format("2006-01-02 15:04:05"),
			r.Summary.Total, r.Summary.Passed, r.Summary.Failed, r.Summary.TimedOut, state)
	}
}

func writeRunReport(w io.Writer, rep *RunReport) {
	fmt.Fprintf(w, "Run %s started %s\n", rep.Run.ID, rep.Run.StartedAt.UTC().Format("2006-01-02 15:04:05"))
	if !rep.Run.Finished {
		fmt.Fprintln(w, "  (run did not finish)")
	}
	fmt.Fprintln(w)

	for _, c := range rep.Cases {
		fmt.Fprintf(w, "%s %s [%s] %s\n", statusMark(c.Status), c.FullName(), c.Flags, c.Duration)
		if c.Error != "" {
			fmt.Fprintf(w, "    %s\n", c.Error)
		}
		for _, o := range c.Outcomes {
			if !o.Pass {
				fmt.Fprintf(w, "    #%d %s: actual %s", o.Index, o.Kind, o.Actual)
				if len(o.Expected) > 0 {
					fmt.Fprintf(w, ", expected %s", o.Expected)
				}
				fmt.Fprintln(w)
			}
		}
	}
	for _, hf := range rep.HookFailures {
		fmt.Fprintf(w, "! %s failed: %s\n", hf.Hook, hf.Error)
	}

	s := rep.Run.Summary
	fmt.Fprintf(w, "\n%d cases: %d passed, %d failed, %d timed out, %d skipped\n",
		s.Total, s.Passed, s.Failed, s.TimedOut, s.Skipped)
}

func statusMark(status harness.Status) string {
	switch status {
	case harness.StatusPassed:
		return "✓"
	case harness.StatusSkipped:
		return "-"
	default:
		return "✗"
	}
}
