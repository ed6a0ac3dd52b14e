package inventory

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/roach88/xtsunit/internal/harness"
)

// maxDepth bounds recursion on pathological inputs.
const maxDepth = 1000

var (
	jsLang *sitter.Language
	tsLang *sitter.Language

	langOnce sync.Once
)

func initLanguages() {
	langOnce.Do(func() {
		jsLang = javascript.GetLanguage()
		tsLang = typescript.GetLanguage()
	})
}

// languageFor returns the grammar name and language for a file extension.
func languageFor(path string) (string, *sitter.Language) {
	initLanguages()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".ets":
		return "typescript", tsLang
	default:
		return "javascript", jsLang
	}
}

// ParseSource parses one XTS test file.
//
// Parsers are created per call; tree-sitter parsers are not safe for
// concurrent use.
func ParseSource(ctx context.Context, path string, source []byte) (*File, error) {
	langName, lang := languageFor(path)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	file := &File{
		Path:     path,
		Language: langName,
		Partial:  root.HasError(),
	}
	w := &walker{source: source, file: file}
	w.visit(root, nil, 0)
	return file, nil
}

type walker struct {
	source []byte
	file   *File
}

// visit finds describe, it and hook calls below node. current is the
// innermost enclosing suite, nil at file level.
func (w *walker) visit(node *sitter.Node, current *Suite, depth int) {
	if node == nil || depth > maxDepth {
		return
	}

	if node.Type() == "call_expression" && w.handleCall(node, current, depth) {
		return
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		w.visit(node.NamedChild(i), current, depth+1)
	}
}

// handleCall processes a describe/it/hook call and reports whether it
// consumed the subtree.
func (w *walker) handleCall(node *sitter.Node, current *Suite, depth int) bool {
	fn := node.ChildByFieldName("function")
	args := node.ChildByFieldName("arguments")
	if fn == nil || args == nil || fn.Type() != "identifier" {
		return false
	}

	switch name := fn.Content(w.source); name {
	case "describe":
		suite := Suite{
			Name: w.stringArg(args),
			Line: line(node),
		}
		if cb := findCallback(args); cb != nil {
			w.visit(cb.ChildByFieldName("body"), &suite, depth+1)
		}
		if current != nil {
			current.Suites = append(current.Suites, suite)
		} else {
			w.file.Suites = append(w.file.Suites, suite)
		}
		return true

	case "it":
		c := Case{
			Name:       w.stringArg(args),
			Line:       line(node),
			Mode:       harness.ModeSync,
			Assertions: map[string]int{},
		}
		if args.NamedChildCount() >= 3 {
			c.Flags, c.FlagsKnown = w.evalFlags(args.NamedChild(1))
		}
		if cb := findCallback(args); cb != nil {
			c.Mode = callbackMode(cb)
			w.countAssertions(cb, c.Assertions, depth+1)
		}
		if current != nil {
			current.Cases = append(current.Cases, c)
		} else {
			w.file.Cases = append(w.file.Cases, c)
		}
		return true

	case "beforeAll", "beforeEach", "afterEach", "afterAll":
		if current != nil {
			current.Hooks = append(current.Hooks, hookKind(name))
		}
		return true
	}
	return false
}

func hookKind(name string) harness.HookKind {
	switch name {
	case "beforeAll":
		return harness.HookBeforeAll
	case "beforeEach":
		return harness.HookBeforeEach
	case "afterEach":
		return harness.HookAfterEach
	default:
		return harness.HookAfterAll
	}
}

// stringArg returns the first argument when it is a string literal.
func (w *walker) stringArg(args *sitter.Node) string {
	if args.NamedChildCount() == 0 {
		return ""
	}
	first := args.NamedChild(0)
	switch first.Type() {
	case "string", "template_string":
		return unquote(first.Content(w.source))
	}
	return first.Content(w.source)
}

// symbolicFlags maps the hypium constant names to their bits.
var symbolicFlags = map[string]harness.Flags{
	"TestType.FUNCTION":      harness.TypeFunction,
	"TestType.PERFORMANCE":   harness.TypePerformance,
	"TestType.POWER":         harness.TypePower,
	"TestType.RELIABILITY":   harness.TypeReliability,
	"TestType.SECURITY":      harness.TypeSecurity,
	"TestType.GLOBAL":        harness.TypeGlobal,
	"TestType.COMPATIBILITY": harness.TypeCompatibility,
	"TestType.USER":          harness.TypeUser,
	"TestType.STANDARD":      harness.TypeStandard,
	"TestType.SAFETY":        harness.TypeSafety,
	"TestType.RESILIENCE":    harness.TypeResilience,
	"Size.SMALLTEST":         harness.SizeSmall,
	"Size.MEDIUMTEST":        harness.SizeMedium,
	"Size.LARGETEST":         harness.SizeLarge,
	"Level.LEVEL0":           harness.Level0,
	"Level.LEVEL1":           harness.Level1,
	"Level.LEVEL2":           harness.Level2,
	"Level.LEVEL3":           harness.Level3,
	"Level.LEVEL4":           harness.Level4,
}

// evalFlags folds numeric literals and hypium constants combined with | or
// +. Any other expression leaves the flags unknown.
func (w *walker) evalFlags(node *sitter.Node) (harness.Flags, bool) {
	switch node.Type() {
	case "member_expression":
		f, ok := symbolicFlags[node.Content(w.source)]
		return f, ok
	case "number":
		text := strings.ReplaceAll(node.Content(w.source), "_", "")
		if v, err := strconv.ParseUint(text, 0, 64); err == nil {
			return harness.Flags(v), true
		}
		if f, err := strconv.ParseFloat(text, 64); err == nil && f >= 0 && f == float64(uint64(f)) {
			return harness.Flags(uint64(f)), true
		}
	case "parenthesized_expression":
		if node.NamedChildCount() == 1 {
			return w.evalFlags(node.NamedChild(0))
		}
	case "binary_expression":
		left, lok := w.evalFlags(node.ChildByFieldName("left"))
		right, rok := w.evalFlags(node.ChildByFieldName("right"))
		if !lok || !rok {
			break
		}
		switch node.ChildByFieldName("operator").Type() {
		case "|":
			return left | right, true
		case "+":
			return left + right, true
		}
	}
	return 0, false
}

// countAssertions counts expect(...).assertX(...) style calls by method.
func (w *walker) countAssertions(node *sitter.Node, counts map[string]int, depth int) {
	if node == nil || depth > maxDepth {
		return
	}
	if node.Type() == "call_expression" {
		if fn := node.ChildByFieldName("function"); fn != nil && fn.Type() == "member_expression" {
			if prop := fn.ChildByFieldName("property"); prop != nil {
				if name := prop.Content(w.source); strings.HasPrefix(name, "assert") {
					counts[name]++
				}
			}
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		w.countAssertions(node.NamedChild(i), counts, depth+1)
	}
}

// findCallback returns the last function argument.
func findCallback(args *sitter.Node) *sitter.Node {
	for i := int(args.NamedChildCount()) - 1; i >= 0; i-- {
		arg := args.NamedChild(i)
		switch arg.Type() {
		case "arrow_function", "function_expression", "function":
			return arg
		}
	}
	return nil
}

// callbackMode classifies a test function: async functions return a
// promise, functions taking a parameter complete through done.
func callbackMode(fn *sitter.Node) harness.Mode {
	if fn.ChildCount() > 0 && fn.Child(0).Type() == "async" {
		return harness.ModeAsync
	}
	if fn.ChildByFieldName("parameter") != nil {
		return harness.ModeCallback
	}
	if params := fn.ChildByFieldName("parameters"); params != nil && params.NamedChildCount() > 0 {
		return harness.ModeCallback
	}
	return harness.ModeSync
}

func line(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

// unquote strips JS string quotes. Template literals are returned without
// their backticks, substitutions untouched.
func unquote(text string) string {
	if len(text) < 2 {
		return text
	}
	switch text[0] {
	case '`':
		return text[1 : len(text)-1]
	case '\'':
		inner := strings.ReplaceAll(text[1:len(text)-1], `\'`, `'`)
		if s, err := strconv.Unquote(`"` + strings.ReplaceAll(inner, `"`, `\"`) + `"`); err == nil {
			return s
		}
		return inner
	}
	if s, err := strconv.Unquote(text); err == nil {
		return s
	}
	return text
}
