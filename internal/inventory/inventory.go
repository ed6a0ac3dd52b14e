// Package inventory statically lists the suites and cases of XTS test
// sources written in JavaScript or TypeScript.
//
// Sources are parsed with tree-sitter; nothing is executed. The inventory
// is what the CLI prints for `xtsunit inventory` and what reviewers use to
// compare a scenario directory against the test files it replaces.
package inventory

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/roach88/xtsunit/internal/harness"
)

// DefaultPatterns selects the files Scan parses when no pattern is given.
var DefaultPatterns = []string{"**/*.{js,ts,ets}"}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"oh_modules":   true,
}

// Inventory is the result of scanning a directory tree.
type Inventory struct {
	Root   string      `json:"root"`
	Files  []File      `json:"files"`
	Errors []ScanError `json:"errors,omitempty"`
}

// File lists the suites declared in one source file. Cases declared
// outside any describe are kept in Cases.
type File struct {
	Path     string  `json:"path"`
	Language string  `json:"language"`
	Partial  bool    `json:"partial,omitempty"`
	Suites   []Suite `json:"suites,omitempty"`
	Cases    []Case  `json:"cases,omitempty"`
}

// Suite is one describe call.
type Suite struct {
	Name   string             `json:"name"`
	Line   int                `json:"line"`
	Hooks  []harness.HookKind `json:"hooks,omitempty"`
	Cases  []Case             `json:"cases,omitempty"`
	Suites []Suite            `json:"suites,omitempty"`
}

// Case is one it call.
type Case struct {
	Name string `json:"name"`
	Line int    `json:"line"`
	// Flags is valid only when FlagsKnown; flags computed at runtime
	// cannot be folded statically.
	Flags      harness.Flags  `json:"flags"`
	FlagsKnown bool           `json:"flags_known"`
	Mode       harness.Mode   `json:"mode"`
	Assertions map[string]int `json:"assertions,omitempty"`
}

// ScanError records a file that could not be read or parsed.
type ScanError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

func (e ScanError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Err)
}

// CaseCount returns the number of cases in the inventory.
func (inv *Inventory) CaseCount() int {
	n := 0
	for _, f := range inv.Files {
		n += f.CaseCount()
	}
	return n
}

// AssertionCounts totals assertion calls by method across all files.
func (inv *Inventory) AssertionCounts() map[string]int {
	counts := map[string]int{}
	var add func(cases []Case)
	var walk func(suites []Suite)
	add = func(cases []Case) {
		for _, c := range cases {
			for name, n := range c.Assertions {
				counts[name] += n
			}
		}
	}
	walk = func(suites []Suite) {
		for _, s := range suites {
			add(s.Cases)
			walk(s.Suites)
		}
	}
	for _, f := range inv.Files {
		add(f.Cases)
		walk(f.Suites)
	}
	return counts
}

// CaseCount returns the number of cases in the file.
func (f File) CaseCount() int {
	n := len(f.Cases)
	for _, s := range f.Suites {
		n += s.CaseCount()
	}
	return n
}

// CaseCount returns the number of cases in the suite and its children.
func (s Suite) CaseCount() int {
	n := len(s.Cases)
	for _, child := range s.Suites {
		n += child.CaseCount()
	}
	return n
}

// Option configures Scan.
type Option func(*options)

type options struct {
	patterns []string
	workers  int
}

// WithPatterns replaces the doublestar patterns files must match,
// relative to the scan root.
func WithPatterns(patterns ...string) Option {
	return func(o *options) {
		o.patterns = patterns
	}
}

// WithWorkers bounds concurrent parsing. Non-positive values use GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// Scan walks root and parses every matching file. Per-file failures are
// collected in Inventory.Errors; the returned error is reserved for an
// unusable root, a bad pattern, or a cancelled context.
func Scan(ctx context.Context, root string, opts ...Option) (*Inventory, error) {
	o := options{patterns: DefaultPatterns}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	for _, p := range o.patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root: %s is not a directory", root)
	}

	paths, err := discover(root, o.patterns)
	if err != nil {
		return nil, err
	}

	inv := &Inventory{Root: root, Files: []File{}}

	sem := semaphore.NewWeighted(int64(o.workers))
	g, gCtx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for _, rel := range paths {
		g.Go(func() error {
			if err := sem.Acquire(gCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			file, scanErr := parseFile(gCtx, root, rel)

			mu.Lock()
			defer mu.Unlock()
			if scanErr != nil {
				inv.Errors = append(inv.Errors, *scanErr)
				return nil
			}
			inv.Files = append(inv.Files, *file)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Workers finish in arbitrary order.
	sort.Slice(inv.Files, func(i, j int) bool { return inv.Files[i].Path < inv.Files[j].Path })
	sort.Slice(inv.Errors, func(i, j int) bool { return inv.Errors[i].Path < inv.Errors[j].Path })
	return inv, nil
}

// discover returns slash-separated paths relative to root, sorted.
func discover(root string, patterns []string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if matchesAnyPattern(rel, patterns) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func matchesAnyPattern(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func parseFile(ctx context.Context, root, rel string) (*File, *ScanError) {
	source, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, &ScanError{Path: rel, Err: err.Error()}
	}
	file, err := ParseSource(ctx, rel, source)
	if err != nil {
		return nil, &ScanError{Path: rel, Err: err.Error()}
	}
	return file, nil
}
