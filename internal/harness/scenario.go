package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Mode selects how a scenario body completes.
type Mode string

const (
	// ModeSync bodies complete when their last step has run.
	ModeSync Mode = "sync"
	// ModeAsync bodies behave like an async function: an uncaught error is a
	// rejection.
	ModeAsync Mode = "async"
	// ModeCallback bodies complete only when a done step runs.
	ModeCallback Mode = "callback"
)

// Scenario is a declarative suite. It is registered with Register and run
// like any suite written in Go.
type Scenario struct {
	// Suite is the suite name passed to describe.
	Suite string `yaml:"suite"`

	// Description says what the suite checks. Informational only.
	Description string `yaml:"description,omitempty"`

	// Timeout overrides the runner timeout for every body in the suite,
	// e.g. "200ms".
	Timeout string `yaml:"timeout,omitempty"`

	// Hook bodies. Each list becomes one hook; a list containing a done step
	// runs in callback mode.
	BeforeAll  []Step `yaml:"before_all,omitempty"`
	BeforeEach []Step `yaml:"before_each,omitempty"`
	AfterEach  []Step `yaml:"after_each,omitempty"`
	AfterAll   []Step `yaml:"after_all,omitempty"`

	Cases []CaseSpec `yaml:"cases,omitempty"`

	// Suites are nested describe blocks. They inherit variables.
	Suites []Scenario `yaml:"suites,omitempty"`

	// Path is the file the scenario was loaded from.
	Path string `yaml:"-"`
}

// CaseSpec is one it block.
type CaseSpec struct {
	Name  string `yaml:"name"`
	Flags uint64 `yaml:"flags,omitempty"`

	// Mode defaults to callback when the steps contain a done step and to
	// sync otherwise.
	Mode Mode `yaml:"mode,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is one statement of a body. Exactly one kind field is set.
type Step struct {
	// Call invokes a system API. Args values may reference variables.
	Call string         `yaml:"call,omitempty"`
	Args map[string]any `yaml:"args,omitempty"`
	// Save stores the resolved value in a variable.
	Save string `yaml:"save,omitempty"`
	// Catch swallows a rejection. SaveError and OnError imply it.
	Catch     bool   `yaml:"catch,omitempty"`
	SaveError string `yaml:"save_error,omitempty"`
	OnSuccess []Step `yaml:"on_success,omitempty"`
	OnError   []Step `yaml:"on_error,omitempty"`

	Assert *AssertStep `yaml:"assert,omitempty"`
	Fail   *string     `yaml:"fail,omitempty"`
	Log    *string     `yaml:"log,omitempty"`
	Sleep  string      `yaml:"sleep,omitempty"`
	Throw  *string     `yaml:"throw,omitempty"`
	Done   bool        `yaml:"done,omitempty"`
}

// AssertStep is expect(actual) followed by exactly one assertion.
type AssertStep struct {
	Actual *yaml.Node `yaml:"actual"`
	Not    bool       `yaml:"not,omitempty"`

	Equal      *yaml.Node `yaml:"equal,omitempty"`
	NotEqual   *yaml.Node `yaml:"not_equal,omitempty"`
	DeepEqual  *yaml.Node `yaml:"deep_equal,omitempty"`
	Larger     *yaml.Node `yaml:"larger,omitempty"`
	Less       *yaml.Node `yaml:"less,omitempty"`
	Close      *yaml.Node `yaml:"close,omitempty"`
	Tolerance  float64    `yaml:"tolerance,omitempty"`
	Contain    *yaml.Node `yaml:"contain,omitempty"`
	InstanceOf string     `yaml:"instance_of,omitempty"`

	IsTrue      bool `yaml:"is_true,omitempty"`
	IsFalse     bool `yaml:"is_false,omitempty"`
	IsUndefined bool `yaml:"is_undefined,omitempty"`
	IsNull      bool `yaml:"is_null,omitempty"`
}

// ErrInvalidScenario wraps every validation failure of a decoded scenario.
var ErrInvalidScenario = errors.New("invalid scenario")

// LoadScenario reads a scenario file. ".yaml" and ".yml" files are decoded
// with strict field checking; ".cue" files are evaluated with CUE first.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var sc *Scenario
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		sc, err = ParseScenarioYAML(data)
	case ".cue":
		sc, err = ParseScenarioCUE(data, path)
	default:
		return nil, fmt.Errorf("unsupported scenario file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sc.Path = path
	return sc, nil
}

// ParseScenarioYAML decodes and validates a YAML scenario.
func ParseScenarioYAML(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // reject typos like "case:" for "cases:"
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	return &sc, nil
}

// ParseScenarioCUE evaluates a CUE scenario, requires it to be concrete and
// then decodes it like YAML.
func ParseScenarioCUE(data []byte, filename string) (*Scenario, error) {
	v := cuecontext.New().CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile CUE: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("CUE value is not concrete: %w", err)
	}
	jsonData, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export CUE: %w", err)
	}
	// JSON is a subset of YAML, so the strict decoder applies unchanged.
	return ParseScenarioYAML(jsonData)
}

// Validate checks names, step shapes and durations.
func (sc *Scenario) Validate() error {
	var errs []error
	sc.validate("", &errs)
	return errors.Join(errs...)
}

func (sc *Scenario) validate(prefix string, errs *[]error) {
	add := func(format string, args ...any) {
		*errs = append(*errs, fmt.Errorf(prefix+format, args...))
	}

	if sc.Suite == "" {
		add("suite is required")
	}
	if sc.Timeout != "" {
		if d, err := time.ParseDuration(sc.Timeout); err != nil || d <= 0 {
			add("timeout %q is not a positive duration", sc.Timeout)
		}
	}
	if len(sc.Cases) == 0 && len(sc.Suites) == 0 {
		add("cases list is required and must be non-empty")
	}

	hooks := []struct {
		name  string
		steps []Step
	}{
		{"before_all", sc.BeforeAll},
		{"before_each", sc.BeforeEach},
		{"after_each", sc.AfterEach},
		{"after_all", sc.AfterAll},
	}
	for _, h := range hooks {
		validateSteps(prefix+h.name, h.steps, modeFor("", h.steps), errs)
	}

	seen := make(map[string]bool)
	for i, c := range sc.Cases {
		where := fmt.Sprintf("%scases[%d]", prefix, i)
		if c.Name == "" {
			*errs = append(*errs, fmt.Errorf("%s: name is required", where))
		} else if seen[c.Name] {
			*errs = append(*errs, fmt.Errorf("%s: duplicate case name %q", where, c.Name))
		}
		seen[c.Name] = true

		switch c.Mode {
		case "", ModeSync, ModeAsync, ModeCallback:
		default:
			*errs = append(*errs, fmt.Errorf("%s: unknown mode %q", where, c.Mode))
		}
		if len(c.Steps) == 0 {
			*errs = append(*errs, fmt.Errorf("%s: steps list is required and must be non-empty", where))
		}
		validateSteps(where+".steps", c.Steps, modeFor(c.Mode, c.Steps), errs)
	}

	for i := range sc.Suites {
		sc.Suites[i].validate(fmt.Sprintf("%ssuites[%d].", prefix, i), errs)
	}
}

func validateSteps(where string, steps []Step, mode Mode, errs *[]error) {
	for i, st := range steps {
		at := fmt.Sprintf("%s[%d]", where, i)
		if err := st.validate(mode); err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", at, err))
		}
		validateSteps(at+".on_success", st.OnSuccess, mode, errs)
		validateSteps(at+".on_error", st.OnError, mode, errs)
	}
}

// Kind returns the name of the step's kind, or "" if none or several are set.
func (st *Step) Kind() string {
	var kinds []string
	if st.Call != "" {
		kinds = append(kinds, "call")
	}
	if st.Assert != nil {
		kinds = append(kinds, "assert")
	}
	if st.Fail != nil {
		kinds = append(kinds, "fail")
	}
	if st.Log != nil {
		kinds = append(kinds, "log")
	}
	if st.Sleep != "" {
		kinds = append(kinds, "sleep")
	}
	if st.Throw != nil {
		kinds = append(kinds, "throw")
	}
	if st.Done {
		kinds = append(kinds, "done")
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (st *Step) validate(mode Mode) error {
	kind := st.Kind()
	if kind == "" {
		return errors.New("step must set exactly one of call, assert, fail, log, sleep, throw, done")
	}
	if kind != "call" && (st.Args != nil || st.Save != "" || st.Catch || st.SaveError != "" ||
		st.OnSuccess != nil || st.OnError != nil) {
		return fmt.Errorf("%s step cannot have call fields", kind)
	}
	switch kind {
	case "assert":
		return st.Assert.validate()
	case "sleep":
		if d, err := time.ParseDuration(st.Sleep); err != nil || d < 0 {
			return fmt.Errorf("sleep %q is not a duration", st.Sleep)
		}
	case "done":
		if mode != ModeCallback {
			return fmt.Errorf("done step requires callback mode, body is %s", mode)
		}
	}
	return nil
}

func (a *AssertStep) validate() error {
	if a.Actual == nil {
		return errors.New("assert: actual is required")
	}
	if n := len(a.ops()); n != 1 {
		return fmt.Errorf("assert: exactly one assertion is required, got %d", n)
	}
	if a.Tolerance != 0 && a.Close == nil {
		return errors.New("assert: tolerance is only valid with close")
	}
	if a.Tolerance < 0 {
		return errors.New("assert: tolerance must not be negative")
	}
	return nil
}

func (a *AssertStep) ops() []string {
	var ops []string
	nodes := []struct {
		name string
		set  bool
	}{
		{"equal", a.Equal != nil},
		{"not_equal", a.NotEqual != nil},
		{"deep_equal", a.DeepEqual != nil},
		{"larger", a.Larger != nil},
		{"less", a.Less != nil},
		{"close", a.Close != nil},
		{"contain", a.Contain != nil},
		{"instance_of", a.InstanceOf != ""},
		{"is_true", a.IsTrue},
		{"is_false", a.IsFalse},
		{"is_undefined", a.IsUndefined},
		{"is_null", a.IsNull},
	}
	for _, n := range nodes {
		if n.set {
			ops = append(ops, n.name)
		}
	}
	return ops
}

// modeFor returns the explicit mode, or infers callback mode from a done
// step anywhere in steps.
func modeFor(explicit Mode, steps []Step) Mode {
	if explicit != "" {
		return explicit
	}
	if hasDone(steps) {
		return ModeCallback
	}
	return ModeSync
}

func hasDone(steps []Step) bool {
	for _, st := range steps {
		if st.Done || hasDone(st.OnSuccess) || hasDone(st.OnError) {
			return true
		}
	}
	return false
}

// Calls returns every API name the scenario calls, including nested suites.
func (sc *Scenario) Calls() []string {
	seen := make(map[string]bool)
	var names []string
	var visitSteps func(steps []Step)
	visitSteps = func(steps []Step) {
		for _, st := range steps {
			if st.Call != "" && !seen[st.Call] {
				seen[st.Call] = true
				names = append(names, st.Call)
			}
			visitSteps(st.OnSuccess)
			visitSteps(st.OnError)
		}
	}
	var visit func(s *Scenario)
	visit = func(s *Scenario) {
		visitSteps(s.BeforeAll)
		visitSteps(s.BeforeEach)
		visitSteps(s.AfterEach)
		visitSteps(s.AfterAll)
		for _, c := range s.Cases {
			visitSteps(c.Steps)
		}
		for i := range s.Suites {
			visit(&s.Suites[i])
		}
	}
	visit(sc)
	return names
}

// CaseCount returns the number of cases including nested suites.
func (sc *Scenario) CaseCount() int {
	n := len(sc.Cases)
	for i := range sc.Suites {
		n += sc.Suites[i].CaseCount()
	}
	return n
}
