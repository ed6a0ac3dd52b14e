package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/xtsunit/internal/inventory"
)

// InventoryOptions holds flags for the inventory command.
type InventoryOptions struct {
	*RootOptions
	Patterns []string
	Workers  int
}

// NewInventoryCommand creates the inventory command.
func NewInventoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InventoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inventory <source-dir>",
		Short: "List suites and cases declared in XTS test sources",
		Long: `Parse JavaScript and TypeScript XTS test sources and list their suites,
hooks and cases without running anything.

Flags passed to it() are decoded when they are literals or hypium constants
such as TestType.FUNCTION | Size.MEDIUMTEST | Level.LEVEL0.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInventory(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Patterns, "pattern", inventory.DefaultPatterns, "doublestar patterns of files to parse")
	cmd.Flags().IntVar(&opts.Workers, "workers", rootOpts.config().Run.Workers, "concurrent file parses")

	return cmd
}

func runInventory(opts *InventoryOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	inv, err := inventory.Scan(runContext(cmd), dir,
		inventory.WithPatterns(opts.Patterns...),
		inventory.WithWorkers(opts.Workers),
	)
	if err != nil {
		_ = formatter.Error(ErrCodeScanError, err.Error(), nil)
		return WrapExitError(ExitCommandError, "inventory failed", err)
	}
	for _, scanErr := range inv.Errors {
		opts.logger().Warn("skipped unreadable source", "path", scanErr.Path, "error", scanErr.Err)
	}

	if formatter.Format == "json" {
		return formatter.Success(inv)
	}
	writeInventoryText(formatter.Writer, inv)
	return nil
}

func writeInventoryText(w io.Writer, inv *inventory.Inventory) {
	for _, f := range inv.Files {
		note := ""
		if f.Partial {
			note = " (syntax errors)"
		}
		fmt.Fprintf(w, "%s%s\n", f.Path, note)
		for _, c := range f.Cases {
			writeInventoryCase(w, c, 1)
		}
		for _, s := range f.Suites {
			writeInventorySuite(w, s, 1)
		}
	}

	counts := inv.AssertionCounts()
	total := 0
	names := make([]string, 0, len(counts))
	for name, n := range counts {
		names = append(names, name)
		total += n
	}
	sort.Strings(names)

	fmt.Fprintf(w, "\n%d files, %d cases, %d assertions\n", len(inv.Files), inv.CaseCount(), total)
	for _, name := range names {
		fmt.Fprintf(w, "  %-20s %d\n", name, counts[name])
	}
	if len(inv.Errors) > 0 {
		fmt.Fprintf(w, "%d files could not be read\n", len(inv.Errors))
	}
}

func writeInventorySuite(w io.Writer, s inventory.Suite, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(w, "%sdescribe %s (line %d)", indent, s.Name, s.Line)
	if len(s.Hooks) > 0 {
		hooks := make([]string, len(s.Hooks))
		for i, h := range s.Hooks {
			hooks[i] = string(h)
		}
		fmt.Fprintf(w, " hooks: %s", strings.Join(hooks, ", "))
	}
	fmt.Fprintln(w)
	for _, c := range s.Cases {
		writeInventoryCase(w, c, depth+1)
	}
	for _, child := range s.Suites {
		writeInventorySuite(w, child, depth+1)
	}
}

func writeInventoryCase(w io.Writer, c inventory.Case, depth int) {
	flags := "?"
	if c.FlagsKnown {
		flags = c.Flags.String()
	}
	fmt.Fprintf(w, "%sit %s [%s] %s (line %d)\n", strings.Repeat("  ", depth), c.Name, flags, c.Mode, c.Line)
}
