package harness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Done signals completion of a callback-style body. Only the first call has
// an effect.
type Done func()

// T is the handle a body uses to make assertions and log. Assertions made
// after the body has completed are dropped and counted as late.
type T struct {
	ctx    context.Context
	suite  []string
	name   string
	hook   HookKind // empty for case bodies
	logger *slog.Logger

	mu        sync.Mutex
	outcomes  []Outcome
	finalized bool
	late      int
}

func newT(ctx context.Context, suite []string, name string, hook HookKind, logger *slog.Logger) *T {
	return &T{
		ctx:    ctx,
		suite:  suite,
		name:   name,
		hook:   hook,
		logger: logger,
	}
}

// Context returns the body's context. It is cancelled when the body times
// out or the run is cancelled.
func (t *T) Context() context.Context { return t.ctx }

// Name returns the case name, or the hook kind for hook bodies.
func (t *T) Name() string {
	if t.hook != "" {
		return string(t.hook)
	}
	return t.name
}

// Suite returns the path of the owning suite.
func (t *T) Suite() []string { return append([]string{}, t.suite...) }

// Expect wraps actual for assertion.
func (t *T) Expect(actual any) *Expectation {
	return &Expectation{t: t, raw: actual}
}

// Log writes an info record tagged with the case.
func (t *T) Log(msg string, args ...any) {
	t.logger.Info(msg, append(t.logAttrs(), args...)...)
}

// Logf formats and logs a message tagged with the case.
func (t *T) Logf(format string, args ...any) {
	t.logger.Info(fmt.Sprintf(format, args...), t.logAttrs()...)
}

func (t *T) logAttrs() []any {
	attrs := []any{"suite", strings.Join(t.suite, "/"), "case", t.name}
	if t.hook != "" {
		attrs = append(attrs, "hook", string(t.hook))
	}
	return attrs
}

// Failed reports whether any recorded assertion failed.
func (t *T) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range t.outcomes {
		if !o.Pass {
			return true
		}
	}
	return false
}

// Late returns the number of assertions dropped because they were made after
// completion.
func (t *T) Late() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.late
}

func (t *T) record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		t.late++
		t.logger.Warn("assertion after completion dropped",
			append(t.logAttrs(), "kind", string(o.Kind), "pass", o.Pass)...)
		return
	}
	t.outcomes = append(t.outcomes, o)
}

// finalize closes the outcome list and returns it.
func (t *T) finalize() []Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finalized = true
	return append([]Outcome{}, t.outcomes...)
}

// firstFailure returns the first failed outcome as an error.
func firstFailure(outcomes []Outcome) error {
	for _, o := range outcomes {
		if !o.Pass {
			return &AssertionError{Outcome: o}
		}
	}
	return nil
}
