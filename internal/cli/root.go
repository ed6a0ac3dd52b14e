// Package cli implements the xtsunit command line.
package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/xtsunit/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	LogLevel string

	// Config supplies flag defaults. Flags override it.
	Config *config.Config

	// Logger is built in PersistentPreRunE from LogLevel and Verbose.
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. A nil cfg uses config.Default.
func NewRootCommand(cfg *config.Config) *cobra.Command {
	if cfg == nil {
		cfg = config.Default()
	}
	opts := &RootOptions{Config: cfg}

	cmd := &cobra.Command{
		Use:   "xtsunit",
		Short: "xtsunit - XTS unit test harness",
		Long: `Run describe/it test scenarios against stubbed system APIs.

Scenarios are YAML or CUE files declaring suites, lifecycle hooks and cases.
Results can be persisted to SQLite, exported as JUnit XML or Prometheus
metrics, and compared against golden snapshots.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			opts.Logger = newLogger(cmd, opts)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", cfg.Run.Format, "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", cfg.Log.Level, "log level (debug|info|warn|error)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewInventoryCommand(opts))

	return cmd
}

// newLogger writes text logs to the command's stderr so JSON output on
// stdout stays parseable.
func newLogger(cmd *cobra.Command, opts *RootOptions) *slog.Logger {
	level := config.LogConfig{Level: opts.LogLevel}.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// logger returns opts.Logger, or a discarding logger when a subcommand runs
// without the root (as in tests).
func (o *RootOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (o *RootOptions) config() *config.Config {
	if o.Config != nil {
		return o.Config
	}
	return config.Default()
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
