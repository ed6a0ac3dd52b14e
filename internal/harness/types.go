package harness

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/roach88/xtsunit/internal/ir"
)

// Status is the lifecycle state of a case.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
	StatusSkipped  Status = "skipped"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusTimedOut || s == StatusSkipped
}

// OutcomeKind names the assertion that produced an outcome.
type OutcomeKind string

const (
	KindEqual      OutcomeKind = "equal"
	KindTrue       OutcomeKind = "true"
	KindFalse      OutcomeKind = "false"
	KindFail       OutcomeKind = "fail"
	KindLarger     OutcomeKind = "larger"
	KindLess       OutcomeKind = "less"
	KindClose      OutcomeKind = "close"
	KindInstanceOf OutcomeKind = "instance_of"
	KindUndefined  OutcomeKind = "undefined"
	KindNull       OutcomeKind = "null"
	KindContain    OutcomeKind = "contain"
	KindThrowError OutcomeKind = "throw_error"
	KindDeepEquals OutcomeKind = "deep_equals"
)

// Outcome is the recorded result of one assertion. It is never mutated after
// being appended to its case.
type Outcome struct {
	Kind     OutcomeKind
	Negated  bool
	Actual   ir.Value
	Expected ir.Value // nil when the assertion takes no expected value
	Pass     bool
	Message  string
}

// MarshalJSON renders actual and expected values in canonical form.
func (o Outcome) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"kind": o.Kind,
		"pass": o.Pass,
	}
	if o.Negated {
		out["negated"] = true
	}
	if o.Message != "" {
		out["message"] = o.Message
	}
	actual, err := ir.MarshalCanonical(o.Actual)
	if err != nil {
		return nil, err
	}
	out["actual"] = json.RawMessage(actual)
	if o.Expected != nil {
		expected, err := ir.MarshalCanonical(o.Expected)
		if err != nil {
			return nil, err
		}
		out["expected"] = json.RawMessage(expected)
	}
	return json.Marshal(out)
}

// CaseResult is the terminal record of one case.
type CaseResult struct {
	ID       string        `json:"id"`
	Suite    []string      `json:"suite"`
	Name     string        `json:"name"`
	Flags    Flags         `json:"flags"`
	Status   Status        `json:"status"`
	Outcomes []Outcome     `json:"outcomes"`
	Error    string        `json:"error,omitempty"`
	Seq      int64         `json:"seq"`
	Duration time.Duration `json:"duration_ns"`
}

// FullName joins the suite path and case name with "/".
func (c *CaseResult) FullName() string {
	return strings.Join(append(append([]string{}, c.Suite...), c.Name), "/")
}

// FailedOutcomes returns the number of failed assertions.
func (c *CaseResult) FailedOutcomes() int {
	n := 0
	for _, o := range c.Outcomes {
		if !o.Pass {
			n++
		}
	}
	return n
}

// HookKind names a lifecycle hook.
type HookKind string

const (
	HookBeforeAll  HookKind = "before_all"
	HookBeforeEach HookKind = "before_each"
	HookAfterEach  HookKind = "after_each"
	HookAfterAll   HookKind = "after_all"
)

// HookFailure records a hook that panicked, returned an error, failed an
// assertion or timed out.
type HookFailure struct {
	Suite []string `json:"suite"`
	Hook  HookKind `json:"hook"`
	Case  string   `json:"case,omitempty"` // set for before_each and after_each
	Error string   `json:"error"`
	Seq   int64    `json:"seq"`
}

// SuiteResult aggregates the cases and child suites of one suite.
type SuiteResult struct {
	Name         string         `json:"name"`
	Path         []string       `json:"path"`
	Cases        []*CaseResult  `json:"cases"`
	Suites       []*SuiteResult `json:"suites,omitempty"`
	HookFailures []HookFailure  `json:"hook_failures,omitempty"`
}

// Summary returns totals for the suite and all its descendants.
func (s *SuiteResult) Summary() Summary {
	var sum Summary
	s.accumulate(&sum)
	return sum
}

func (s *SuiteResult) accumulate(sum *Summary) {
	for _, c := range s.Cases {
		sum.add(c)
	}
	sum.HookFailures += len(s.HookFailures)
	for _, child := range s.Suites {
		child.accumulate(sum)
	}
}

// Walk visits every case in registration order, depth first.
func (s *SuiteResult) Walk(fn func(c *CaseResult)) {
	for _, c := range s.Cases {
		fn(c)
	}
	for _, child := range s.Suites {
		child.Walk(fn)
	}
}

// Summary counts cases by status and assertions by result.
type Summary struct {
	Total            int `json:"total"`
	Passed           int `json:"passed"`
	Failed           int `json:"failed"`
	TimedOut         int `json:"timed_out"`
	Skipped          int `json:"skipped"`
	Assertions       int `json:"assertions"`
	AssertionsFailed int `json:"assertions_failed"`
	HookFailures     int `json:"hook_failures"`
}

func (s *Summary) add(c *CaseResult) {
	s.Total++
	switch c.Status {
	case StatusPassed:
		s.Passed++
	case StatusFailed:
		s.Failed++
	case StatusTimedOut:
		s.TimedOut++
	case StatusSkipped:
		s.Skipped++
	}
	s.Assertions += len(c.Outcomes)
	s.AssertionsFailed += c.FailedOutcomes()
}

// OK reports whether no case failed or timed out.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.TimedOut == 0
}

// TraceEvent is one step of the lifecycle sequence, in execution order.
type TraceEvent struct {
	Seq   int64    `json:"seq"`
	Type  HookKind `json:"type"` // a hook kind, or "case" for a case body
	Suite string   `json:"suite"`
	Case  string   `json:"case,omitempty"`
}

// TraceCase marks the execution of a case body in the trace.
const TraceCase HookKind = "case"

// RunResult is the outcome of one run over a registry.
type RunResult struct {
	RunID     string         `json:"run_id"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration_ns"`
	Suites    []*SuiteResult `json:"suites"`
	Trace     []TraceEvent   `json:"trace"`
	Summary   Summary        `json:"summary"`
}

// Cases returns every case result in execution order.
func (r *RunResult) Cases() []*CaseResult {
	var cases []*CaseResult
	for _, s := range r.Suites {
		s.Walk(func(c *CaseResult) { cases = append(cases, c) })
	}
	return cases
}

// Case finds a case by its full name ("suite/inner/case").
func (r *RunResult) Case(fullName string) *CaseResult {
	for _, c := range r.Cases() {
		if c.FullName() == fullName {
			return c
		}
	}
	return nil
}

// HookFailures returns every hook failure in the run.
func (r *RunResult) HookFailures() []HookFailure {
	var out []HookFailure
	var visit func(s *SuiteResult)
	visit = func(s *SuiteResult) {
		out = append(out, s.HookFailures...)
		for _, child := range s.Suites {
			visit(child)
		}
	}
	for _, s := range r.Suites {
		visit(s)
	}
	return out
}
