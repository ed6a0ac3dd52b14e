package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/xtsunit/internal/harness"
)

// ScenarioPattern selects scenario files below a directory.
const ScenarioPattern = "**/*.{yaml,yml,cue}"

// LoadMode controls how errors are handled during scenario loading.
type LoadMode int

const (
	// LoadModeFailFast reports only the first error, in path order.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll reports every error.
	LoadModeCollectAll
)

// LoadResult contains the scenarios loaded from a directory, sorted by path.
type LoadResult struct {
	Scenarios []*harness.Scenario
	FileCount int
}

// CaseCount returns the number of cases across all scenarios.
func (r *LoadResult) CaseCount() int {
	n := 0
	for _, sc := range r.Scenarios {
		n += sc.CaseCount()
	}
	return n
}

// LoadError is a scenario loading error with a stable code.
type LoadError struct {
	Code    string
	Message string
	Path    string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants, shared by all commands.
const (
	ErrCodeGeneric         = "E001" // Generic/unknown error
	ErrCodeScanError       = "E002" // Directory scan error
	ErrCodeNoFiles         = "E003" // No scenario files found
	ErrCodeLoadFailed      = "E004" // Scenario file could not be read or decoded
	ErrCodeNotFound        = "E005" // Path not found
	ErrCodeInvalidScenario = "E006" // Scenario failed validation
	ErrCodeWriteFailed     = "E007" // File write error
	ErrCodeDuplicateSuite  = "E008" // Two files declare the same suite
	ErrCodeUnknownAPI      = "E009" // Scenario calls an unregistered system API
	ErrCodeStore           = "E010" // Result store error
)

// LoadScenarios loads every scenario file below dir, parsing up to workers
// files at once.
func LoadScenarios(ctx context.Context, dir string, workers int, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("scenario directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing scenario directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindScenarioFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no scenario files found in %s", dir)}}
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// Each worker owns one slot, so no locking is needed.
	scenarios := make([]*harness.Scenario, len(files))
	fileErrs := make([]error, len(files))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			sc, err := harness.LoadScenario(path)
			if err != nil {
				fileErrs[i] = convertScenarioError(path, err)
				return nil
			}
			scenarios[i] = sc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("loading scenarios: %v", err)}}
	}

	result := &LoadResult{FileCount: len(files)}
	var errs []error
	seen := make(map[string]string)
	for i, path := range files {
		if fileErrs[i] != nil {
			errs = append(errs, fileErrs[i])
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		sc := scenarios[i]
		if first, dup := seen[sc.Suite]; dup {
			errs = append(errs, &LoadError{
				Code:    ErrCodeDuplicateSuite,
				Message: fmt.Sprintf("suite %q is already declared in %s", sc.Suite, first),
				Path:    path,
			})
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		seen[sc.Suite] = path
		result.Scenarios = append(result.Scenarios, sc)
	}
	return result, errs
}

// FindScenarioFiles returns the scenario files below dir in lexical order.
func FindScenarioFiles(dir string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), ScenarioPattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	files := make([]string, len(matches))
	for i, m := range matches {
		files[i] = filepath.Join(dir, filepath.FromSlash(m))
	}
	sort.Strings(files)
	return files, nil
}

// convertScenarioError maps a LoadScenario error to a LoadError, keeping the
// CUE position when there is one.
func convertScenarioError(path string, err error) *LoadError {
	loadErr := &LoadError{
		Code:    ErrCodeLoadFailed,
		Message: strings.TrimPrefix(err.Error(), path+": "),
		Path:    path,
	}
	if errors.Is(err, harness.ErrInvalidScenario) {
		loadErr.Code = ErrCodeInvalidScenario
	}
	if positions := cueerrors.Positions(err); len(positions) > 0 {
		loadErr.Pos = positions[0]
	}
	return loadErr
}
