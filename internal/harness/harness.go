package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/roach88/xtsunit/internal/ir"
)

// DefaultTimeout bounds every case and hook body unless overridden.
const DefaultTimeout = 5 * time.Second

// Runner executes registered suites. Cases run one after another; each body
// runs on its own goroutine only so that the runner can enforce the timeout
// and recover panics. The runner waits for every body and hook it starts,
// with one exception: a body abandoned at its timeout keeps running beside
// the following cases until it observes the cancellation of its context.
//
// A Runner holds configuration only and may be reused for several runs.
type Runner struct {
	timeout   time.Duration
	logger    *slog.Logger
	recorders []Recorder
	clock     Clock
	ids       IDGenerator
	filter    string
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout sets the default per-body timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRecorder adds a recorder. Recorders are called in the order added.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorders = append(r.recorders, rec)
		}
	}
}

// WithClock sets the clock used for durations and timestamps.
func WithClock(c Clock) Option {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithIDGenerator sets the run ID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Runner) {
		if g != nil {
			r.ids = g
		}
	}
}

// WithRunID fixes the run ID.
func WithRunID(id string) Option {
	return func(r *Runner) {
		if id != "" {
			r.ids = fixedID(id)
		}
	}
}

// WithFilter restricts the run to cases whose full name ("suite/inner/case")
// matches the doublestar glob. Other cases are recorded as skipped.
func WithFilter(pattern string) Option {
	return func(r *Runner) {
		r.filter = pattern
	}
}

// NewRunner creates a runner with the given options.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		timeout: DefaultTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:   systemClock{},
		ids:     UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every suite of reg with a new runner.
func Run(ctx context.Context, reg *Registry, opts ...Option) (*RunResult, error) {
	return NewRunner(opts...).Run(ctx, reg)
}

// RunDefault executes the default registry.
func RunDefault(ctx context.Context, opts ...Option) (*RunResult, error) {
	return Run(ctx, defaultRegistry, opts...)
}

// run is the state of one execution.
type run struct {
	*Runner
	id    string
	seq   Sequence
	trace []TraceEvent
	errs  []error
}

// Run executes every suite of reg in registration order.
//
// The returned result is always complete when the filter is valid. The error
// joins recorder failures and, if ctx was cancelled, the context error; cases
// not started before cancellation are recorded as skipped.
func (r *Runner) Run(ctx context.Context, reg *Registry) (*RunResult, error) {
	if r.filter != "" && !doublestar.ValidatePattern(r.filter) {
		return nil, fmt.Errorf("invalid filter pattern %q", r.filter)
	}

	st := &run{Runner: r, id: r.ids.Generate()}
	result := &RunResult{
		RunID:     st.id,
		StartedAt: r.clock.Now(),
	}

	r.logger.Info("run started", "run_id", st.id, "suites", len(reg.Suites()))
	for _, rec := range r.recorders {
		if err := rec.BeginRun(ctx, st.id, result.StartedAt); err != nil {
			st.errs = append(st.errs, fmt.Errorf("begin run: %w", err))
		}
	}

	for _, s := range reg.Suites() {
		result.Suites = append(result.Suites, st.runSuite(ctx, s, nil))
	}

	result.Trace = st.trace
	for _, s := range result.Suites {
		sum := s.Summary()
		result.Summary.Total += sum.Total
		result.Summary.Passed += sum.Passed
		result.Summary.Failed += sum.Failed
		result.Summary.TimedOut += sum.TimedOut
		result.Summary.Skipped += sum.Skipped
		result.Summary.Assertions += sum.Assertions
		result.Summary.AssertionsFailed += sum.AssertionsFailed
		result.Summary.HookFailures += sum.HookFailures
	}
	result.Duration = r.clock.Now().Sub(result.StartedAt)

	for _, rec := range r.recorders {
		if err := rec.EndRun(context.WithoutCancel(ctx), result); err != nil {
			st.errs = append(st.errs, fmt.Errorf("end run: %w", err))
		}
	}

	r.logger.Info("run finished",
		"run_id", st.id,
		"total", result.Summary.Total,
		"passed", result.Summary.Passed,
		"failed", result.Summary.Failed,
		"timed_out", result.Summary.TimedOut,
		"skipped", result.Summary.Skipped,
		"duration", result.Duration,
	)

	if err := ctx.Err(); err != nil {
		st.errs = append(st.errs, err)
	}
	return result, errors.Join(st.errs...)
}

// runSuite runs the hooks, cases and nested suites of s. chain holds the
// enclosing suites from the outermost down.
func (st *run) runSuite(ctx context.Context, s *Suite, chain []*Suite) *SuiteResult {
	sr := &SuiteResult{Name: s.name, Path: s.Path()}
	chain = append(append([]*Suite{}, chain...), s)

	if !st.suiteSelected(s) || ctx.Err() != nil {
		st.skipSuite(ctx, s, sr)
		return sr
	}

	st.logger.Debug("suite started", "suite", s.fullName())

	for _, h := range s.beforeAll {
		if err := st.runHook(ctx, s, HookBeforeAll, "", h); err != nil {
			sr.HookFailures = append(sr.HookFailures, st.hookFailure(s, HookBeforeAll, "", err))
		}
	}

	for _, c := range s.cases {
		sr.Cases = append(sr.Cases, st.runCase(ctx, c, chain, sr))
	}
	for _, child := range s.suites {
		sr.Suites = append(sr.Suites, st.runSuite(ctx, child, chain))
	}

	// A suite whose BeforeAll ran always gets its AfterAll, cancelled or not.
	for _, h := range s.afterAll {
		if err := st.runHook(context.WithoutCancel(ctx), s, HookAfterAll, "", h); err != nil {
			sr.HookFailures = append(sr.HookFailures, st.hookFailure(s, HookAfterAll, "", err))
		}
	}

	st.logger.Debug("suite finished", "suite", s.fullName())
	return sr
}

// skipSuite records every case of s and its nested suites as skipped
// without running any hook.
func (st *run) skipSuite(ctx context.Context, s *Suite, sr *SuiteResult) {
	for _, c := range s.cases {
		sr.Cases = append(sr.Cases, st.skipCase(ctx, c, s, "not selected"))
	}
	for _, child := range s.suites {
		childResult := &SuiteResult{Name: child.name, Path: child.Path()}
		st.skipSuite(ctx, child, childResult)
		sr.Suites = append(sr.Suites, childResult)
	}
}

func (st *run) skipCase(ctx context.Context, c *Case, s *Suite, reason string) *CaseResult {
	cr := st.newCaseResult(c, s)
	cr.Status = StatusSkipped
	if ctx.Err() != nil {
		reason = "run cancelled"
	}
	cr.Error = reason
	st.recordCase(ctx, cr)
	return cr
}

func (st *run) newCaseResult(c *Case, s *Suite) *CaseResult {
	seq := st.seq.Next()
	cr := &CaseResult{
		Suite:  s.Path(),
		Name:   c.Name,
		Flags:  c.Flags,
		Status: StatusPending,
		Seq:    seq,
	}
	id, err := ir.CaseID(st.id, cr.Suite, c.Name, seq)
	if err != nil {
		// CaseID only fails on values that cannot be encoded, which strings
		// and integers never are.
		panic(fmt.Sprintf("case id: %v", err))
	}
	cr.ID = id
	return cr
}

func (st *run) runCase(ctx context.Context, c *Case, chain []*Suite, sr *SuiteResult) *CaseResult {
	s := chain[len(chain)-1]
	if !st.caseSelected(s, c) {
		return st.skipCase(ctx, c, s, "not selected")
	}
	if ctx.Err() != nil {
		return st.skipCase(ctx, c, s, "run cancelled")
	}

	start := st.clock.Now()

	// Outer BeforeEach hooks run first. The first failure stops the rest and
	// the body, but every AfterEach still runs.
	var setupErr error
	for _, owner := range chain {
		for _, h := range owner.beforeEach {
			if err := st.runHook(ctx, owner, HookBeforeEach, c.Name, h); err != nil {
				sr.HookFailures = append(sr.HookFailures, st.hookFailure(owner, HookBeforeEach, c.Name, err))
				setupErr = fmt.Errorf("before_each: %w", err)
				break
			}
		}
		if setupErr != nil {
			break
		}
	}

	cr := st.newCaseResult(c, s)
	var bodyErr error
	if setupErr == nil {
		st.emit(TraceEvent{Type: TraceCase, Suite: s.fullName(), Case: c.Name}, cr.Seq)
		t := newT(ctx, cr.Suite, c.Name, "", st.logger)
		bodyErr = st.invoke(ctx, c.body, t, s.effectiveTimeout(st.timeout))
		cr.Outcomes = t.finalize()
	}

	// Cleanup runs even when the run was cancelled during the case.
	cleanupCtx := context.WithoutCancel(ctx)
	for i := len(chain) - 1; i >= 0; i-- {
		owner := chain[i]
		for _, h := range owner.afterEach {
			if err := st.runHook(cleanupCtx, owner, HookAfterEach, c.Name, h); err != nil {
				sr.HookFailures = append(sr.HookFailures, st.hookFailure(owner, HookAfterEach, c.Name, err))
			}
		}
	}

	cr.Duration = st.clock.Now().Sub(start)

	var timeout *TimeoutError
	switch {
	case setupErr != nil:
		cr.Status = StatusFailed
		cr.Error = setupErr.Error()
	case errors.As(bodyErr, &timeout):
		cr.Status = StatusTimedOut
		cr.Error = bodyErr.Error()
	case bodyErr != nil:
		cr.Status = StatusFailed
		cr.Error = bodyErr.Error()
	case cr.FailedOutcomes() > 0:
		cr.Status = StatusFailed
		cr.Error = firstFailure(cr.Outcomes).Error()
	default:
		cr.Status = StatusPassed
	}

	level := slog.LevelInfo
	if cr.Status != StatusPassed {
		level = slog.LevelWarn
	}
	st.logger.Log(ctx, level, "case finished",
		"suite", s.fullName(),
		"case", c.Name,
		"status", string(cr.Status),
		"assertions", len(cr.Outcomes),
		"duration", cr.Duration,
	)

	st.recordCase(ctx, cr)
	return cr
}

func (st *run) hookFailure(s *Suite, hook HookKind, caseName string, err error) HookFailure {
	st.logger.Warn("hook failed",
		"suite", s.fullName(),
		"hook", string(hook),
		"case", caseName,
		"error", err.Error(),
	)
	return HookFailure{
		Suite: s.Path(),
		Hook:  hook,
		Case:  caseName,
		Error: err.Error(),
		Seq:   st.seq.Current(),
	}
}

// runHook runs one hook body. A failed assertion inside the hook counts as a
// hook failure.
func (st *run) runHook(ctx context.Context, s *Suite, hook HookKind, caseName string, body Body) error {
	seq := st.seq.Next()
	st.emit(TraceEvent{Type: hook, Suite: s.fullName(), Case: caseName}, seq)

	t := newT(ctx, s.Path(), caseName, hook, st.logger)
	if err := st.invoke(ctx, body, t, s.effectiveTimeout(st.timeout)); err != nil {
		return err
	}
	return firstFailure(t.finalize())
}

func (st *run) emit(ev TraceEvent, seq int64) {
	ev.Seq = seq
	st.trace = append(st.trace, ev)
}

func (st *run) recordCase(ctx context.Context, cr *CaseResult) {
	for _, rec := range st.recorders {
		if err := rec.RecordCase(context.WithoutCancel(ctx), st.id, cr); err != nil {
			st.errs = append(st.errs, fmt.Errorf("record case %s: %w", cr.FullName(), err))
		}
	}
}

// invoke runs body to completion or timeout.
//
// For callback bodies the first of done() or a panic wins; a callback body
// that returns without calling done keeps the case pending until the
// timeout. When the run is cancelled the body's context is cancelled too,
// but invoke still waits for the body to return, bounded by the same
// deadline, so a body that completes normally keeps its outcome and no body
// outlives the call. A body that is still running at the deadline is
// abandoned and keeps running until it observes ctx.Done().
func (st *run) invoke(ctx context.Context, body Body, t *T, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	t.ctx = ctx
	deadline, _ := ctx.Deadline()

	completed := make(chan struct{})
	var once sync.Once
	done := Done(func() { once.Do(func() { close(completed) }) })

	finished := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			if rec := recover(); rec != nil {
				err = &PanicError{Value: rec, Stack: debug.Stack()}
			}
			finished <- err
		}()
		switch body.kind {
		case bodySync:
			body.sync(t)
		case bodyAsync:
			if rerr := body.async(ctx, t); rerr != nil {
				err = &RejectionError{Err: rerr}
			}
		case bodyCallback:
			body.callback(t, done)
		}
	}()

	var (
		cancelled = ctx.Done()
		expired   <-chan time.Time
		cancelErr error
		grace     *time.Timer
	)
	defer func() {
		if grace != nil {
			grace.Stop()
		}
	}()
	for {
		select {
		case err := <-finished:
			if err != nil || body.kind != bodyCallback {
				return err
			}
			finished = nil
		case <-completed:
			return nil
		case <-cancelled:
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &TimeoutError{Timeout: timeout}
			}
			// Run cancelled: give the body until its deadline to return.
			cancelErr = ctx.Err()
			cancelled = nil
			grace = time.NewTimer(time.Until(deadline))
			expired = grace.C
		case <-expired:
			return cancelErr
		}
	}
}

func (st *run) suiteSelected(s *Suite) bool {
	if st.filter == "" {
		return true
	}
	for _, c := range s.cases {
		if st.caseSelected(s, c) {
			return true
		}
	}
	for _, child := range s.suites {
		if st.suiteSelected(child) {
			return true
		}
	}
	return false
}

func (st *run) caseSelected(s *Suite, c *Case) bool {
	if st.filter == "" {
		return true
	}
	ok, err := doublestar.Match(st.filter, strings.Join(append(s.Path(), c.Name), "/"))
	return err == nil && ok
}
