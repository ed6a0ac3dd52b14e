package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrSuiteFrozen is the cause of a registration made on a suite whose
// registration function has already returned.
var ErrSuiteFrozen = errors.New("suite is frozen")

// RegistrationError reports a panic raised while a suite's registration
// function ran. The suite is not added to its registry.
type RegistrationError struct {
	Suite string // full suite path joined with "/"
	Cause any
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register suite %q: %v", e.Suite, e.Cause)
}

// Unwrap returns the cause when it is an error.
func (e *RegistrationError) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}

type bodyKind int

const (
	bodySync bodyKind = iota + 1
	bodyAsync
	bodyCallback
)

// Body is the function of a case or hook. Build one with Sync, Async or
// Callback.
type Body struct {
	kind     bodyKind
	sync     func(t *T)
	async    func(ctx context.Context, t *T) error
	callback func(t *T, done Done)
}

// Sync wraps a body that is complete when it returns.
func Sync(fn func(t *T)) Body {
	return Body{kind: bodySync, sync: fn}
}

// Async wraps a body that is complete when it returns. A non-nil error is
// treated as a rejection and fails the case.
func Async(fn func(ctx context.Context, t *T) error) Body {
	return Body{kind: bodyAsync, async: fn}
}

// Callback wraps a body that is complete only once done is called. Calls to
// done after the first are ignored.
func Callback(fn func(t *T, done Done)) Body {
	return Body{kind: bodyCallback, callback: fn}
}

func (b Body) valid() bool {
	switch b.kind {
	case bodySync:
		return b.sync != nil
	case bodyAsync:
		return b.async != nil
	case bodyCallback:
		return b.callback != nil
	}
	return false
}

// Case is a registered test case.
type Case struct {
	Name  string
	Flags Flags
	body  Body
}

// Suite groups cases, child suites and lifecycle hooks. It is mutable only
// while its registration function runs.
type Suite struct {
	name   string
	path   []string
	parent *Suite

	cases  []*Case
	suites []*Suite

	beforeAll  []Body
	beforeEach []Body
	afterEach  []Body
	afterAll   []Body

	timeout time.Duration
	frozen  bool
}

func newSuite(name string, parent *Suite) *Suite {
	s := &Suite{name: name, parent: parent}
	if parent != nil {
		s.path = append(append([]string{}, parent.path...), name)
	} else {
		s.path = []string{name}
	}
	return s
}

// Name returns the suite name.
func (s *Suite) Name() string { return s.name }

// Path returns the names from the top-level suite down to s.
func (s *Suite) Path() []string { return append([]string{}, s.path...) }

// Cases returns the registered cases in registration order.
func (s *Suite) Cases() []*Case { return append([]*Case{}, s.cases...) }

// Suites returns the nested suites in registration order.
func (s *Suite) Suites() []*Suite { return append([]*Suite{}, s.suites...) }

// CaseCount returns the number of cases in s and all nested suites.
func (s *Suite) CaseCount() int {
	n := len(s.cases)
	for _, child := range s.suites {
		n += child.CaseCount()
	}
	return n
}

func (s *Suite) fullName() string {
	return strings.Join(s.path, "/")
}

func (s *Suite) mustBeOpen(what string) {
	if s.frozen {
		panic(&RegistrationError{Suite: s.fullName(), Cause: fmt.Errorf("%s: %w", what, ErrSuiteFrozen)})
	}
}

func (s *Suite) mustBeValid(what string, body Body) {
	if !body.valid() {
		panic(&RegistrationError{Suite: s.fullName(), Cause: fmt.Sprintf("%s: body is not set", what)})
	}
}

// It registers a case.
func (s *Suite) It(name string, flags Flags, body Body) {
	s.mustBeOpen("it")
	if name == "" {
		panic(&RegistrationError{Suite: s.fullName(), Cause: "it: case name is empty"})
	}
	s.mustBeValid("it "+name, body)
	s.cases = append(s.cases, &Case{Name: name, Flags: flags, body: body})
}

// Describe registers a nested suite. fn runs immediately.
func (s *Suite) Describe(name string, fn func(s *Suite)) {
	s.mustBeOpen("describe")
	if name == "" {
		panic(&RegistrationError{Suite: s.fullName(), Cause: "describe: suite name is empty"})
	}
	child := newSuite(name, s)
	fn(child)
	child.freeze()
	s.suites = append(s.suites, child)
}

// BeforeAll registers a hook that runs once before any case of the suite.
func (s *Suite) BeforeAll(body Body) {
	s.mustBeOpen("beforeAll")
	s.mustBeValid("beforeAll", body)
	s.beforeAll = append(s.beforeAll, body)
}

// BeforeEach registers a hook that runs before every case of the suite,
// including cases of nested suites.
func (s *Suite) BeforeEach(body Body) {
	s.mustBeOpen("beforeEach")
	s.mustBeValid("beforeEach", body)
	s.beforeEach = append(s.beforeEach, body)
}

// AfterEach registers a hook that runs after every case of the suite,
// including cases of nested suites.
func (s *Suite) AfterEach(body Body) {
	s.mustBeOpen("afterEach")
	s.mustBeValid("afterEach", body)
	s.afterEach = append(s.afterEach, body)
}

// AfterAll registers a hook that runs once after the last case of the suite.
func (s *Suite) AfterAll(body Body) {
	s.mustBeOpen("afterAll")
	s.mustBeValid("afterAll", body)
	s.afterAll = append(s.afterAll, body)
}

// Timeout overrides the runner timeout for the cases and hooks of this suite
// and the suites nested in it.
func (s *Suite) Timeout(d time.Duration) {
	s.mustBeOpen("timeout")
	s.timeout = d
}

func (s *Suite) effectiveTimeout(fallback time.Duration) time.Duration {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.timeout > 0 {
			return cur.timeout
		}
	}
	return fallback
}

func (s *Suite) freeze() {
	s.frozen = true
}

// Registry holds top-level suites in registration order.
// It is safe for concurrent registration.
type Registry struct {
	mu     sync.Mutex
	suites []*Suite
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Describe runs fn synchronously against a new suite and appends the suite to
// the registry. A panic inside fn is returned as a *RegistrationError and the
// suite is discarded.
func (r *Registry) Describe(name string, fn func(s *Suite)) (err error) {
	if name == "" {
		return &RegistrationError{Suite: name, Cause: "describe: suite name is empty"}
	}
	if fn == nil {
		return &RegistrationError{Suite: name, Cause: "describe: function is nil"}
	}

	s := newSuite(name, nil)
	defer func() {
		if rec := recover(); rec != nil {
			var regErr *RegistrationError
			if e, ok := rec.(*RegistrationError); ok {
				regErr = e
			} else {
				regErr = &RegistrationError{Suite: name, Cause: rec}
			}
			err = regErr
		}
	}()

	fn(s)
	s.freeze()

	r.mu.Lock()
	r.suites = append(r.suites, s)
	r.mu.Unlock()
	return nil
}

// Suites returns the registered top-level suites.
func (r *Registry) Suites() []*Suite {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Suite{}, r.suites...)
}

// CaseCount returns the number of cases across all suites.
func (r *Registry) CaseCount() int {
	n := 0
	for _, s := range r.Suites() {
		n += s.CaseCount()
	}
	return n
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by Describe.
func Default() *Registry {
	return defaultRegistry
}

// Describe registers a top-level suite on the default registry.
func Describe(name string, fn func(s *Suite)) error {
	return defaultRegistry.Describe(name, fn)
}
