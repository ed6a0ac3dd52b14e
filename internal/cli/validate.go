package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/xtsunit/internal/sysapi"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Files  int               `json:"files"`
	Suites int               `json:"suites"`
	Cases  int               `json:"cases"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// ValidationIssue is one problem found in a scenario directory.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario-dir>",
		Short: "Validate scenarios without running them",
		Long: `Validate YAML and CUE scenarios without running them.

Every file is decoded and checked: step shapes, durations, duplicate suite
names and calls to system APIs that are not registered. All problems are
reported, not only the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	logger := opts.logger()

	loadResult, loadErrors := LoadScenarios(runContext(cmd), dir, opts.config().Run.Workers, LoadModeCollectAll)
	if loadResult == nil {
		code, message := ErrCodeGeneric, loadErrors[0].Error()
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			code, message = loadErr.Code, loadErr.Message
		}
		_ = formatter.Error(code, message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
	}
	logger.Debug("scenarios loaded", "dir", dir, "files", loadResult.FileCount, "suites", len(loadResult.Scenarios))

	issues := make([]ValidationIssue, 0, len(loadErrors))
	for _, err := range loadErrors {
		issues = append(issues, issueFromError(err))
	}

	apis, err := sysapi.NewDefault()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create system APIs", err)
	}
	defer func() {
		if closeErr := apis.Close(); closeErr != nil {
			logger.Warn("closing system APIs", "error", closeErr)
		}
	}()

	for _, sc := range loadResult.Scenarios {
		var missing []string
		for _, name := range sc.Calls() {
			if !apis.Has(name) {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			issues = append(issues, ValidationIssue{
				Code:    ErrCodeUnknownAPI,
				Message: fmt.Sprintf("suite %q calls unknown system apis: %s", sc.Suite, strings.Join(missing, ", ")),
				Path:    sc.Path,
			})
		}
	}

	result := ValidationResult{
		Valid:  len(issues) == 0,
		Files:  loadResult.FileCount,
		Suites: len(loadResult.Scenarios),
		Cases:  loadResult.CaseCount(),
		Errors: issues,
	}
	if result.Valid {
		return outputValidateSuccess(formatter, result)
	}
	return outputValidationErrors(formatter, result)
}

func issueFromError(err error) ValidationIssue {
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		return ValidationIssue{Code: ErrCodeGeneric, Message: err.Error()}
	}
	issue := ValidationIssue{Code: loadErr.Code, Message: loadErr.Message, Path: loadErr.Path}
	if loadErr.Pos.IsValid() {
		issue.Line = loadErr.Pos.Line()
	}
	return issue
}

func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ All scenarios valid (%d files, %d suites, %d cases)\n",
		result.Files, result.Suites, result.Cases)
	return nil
}

// outputValidationErrors reports every issue. Invalid scenarios are a
// validation failure (exit 1), not a command error.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    result.Errors[0].Code,
				Message: result.Errors[0].Message,
			},
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range result.Errors {
		switch {
		case issue.Path != "" && issue.Line > 0:
			fmt.Fprintf(formatter.Writer, "%s:%d\n", issue.Path, issue.Line)
		case issue.Path != "":
			fmt.Fprintln(formatter.Writer, issue.Path)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}
	return exitErr
}
