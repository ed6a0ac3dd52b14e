package harness

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/roach88/xtsunit/internal/ir"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Outcome Outcome
}

func (e *AssertionError) Error() string {
	return e.Outcome.Message
}

// Expectation is returned by T.Expect. Every Assert method appends exactly
// one outcome to the owning body and reports whether it passed.
type Expectation struct {
	t       *T
	raw     any
	negated bool
}

// Not returns an expectation whose assertions pass when the positive form
// would fail. It has no effect on AssertFail.
func (e *Expectation) Not() *Expectation {
	return &Expectation{t: e.t, raw: e.raw, negated: !e.negated}
}

func (e *Expectation) actual() ir.Value {
	return ir.From(e.raw)
}

// AssertEqual passes when actual === expected. Arrays and typed arrays are
// compared by their string form.
func (e *Expectation) AssertEqual(expected any) bool {
	exp := ir.From(expected)
	return e.check(KindEqual, exp, ir.StrictEqual(e.actual(), exp), "equals")
}

// AssertDeepEquals passes when actual and expected are structurally equal.
func (e *Expectation) AssertDeepEquals(expected any) bool {
	exp := ir.From(expected)
	return e.check(KindDeepEquals, exp, ir.DeepEqual(e.actual(), exp), "deep equals")
}

// AssertTrue passes only for the boolean true.
func (e *Expectation) AssertTrue() bool {
	b, ok := e.actual().(ir.Bool)
	return e.check(KindTrue, nil, ok && bool(b), "is true")
}

// AssertFalse passes only for the boolean false.
func (e *Expectation) AssertFalse() bool {
	b, ok := e.actual().(ir.Bool)
	return e.check(KindFalse, nil, ok && !bool(b), "is false")
}

// AssertFail always records a failure. It marks a path that should not have
// been reached.
func (e *Expectation) AssertFail(msg ...string) bool {
	message := "expect fail"
	if len(msg) > 0 && msg[0] != "" {
		message = strings.Join(msg, " ")
	}
	e.t.record(Outcome{
		Kind:    KindFail,
		Actual:  e.actual(),
		Pass:    false,
		Message: message,
	})
	return false
}

// AssertLarger passes when actual > expected numerically.
func (e *Expectation) AssertLarger(expected any) bool {
	exp := ir.From(expected)
	a, b, ok := numbers(e.actual(), exp)
	return e.check(KindLarger, exp, ok && a > b, "is larger than")
}

// AssertLess passes when actual < expected numerically.
func (e *Expectation) AssertLess(expected any) bool {
	exp := ir.From(expected)
	a, b, ok := numbers(e.actual(), exp)
	return e.check(KindLess, exp, ok && a < b, "is less than")
}

// AssertClose passes when |actual - expected| <= tolerance.
func (e *Expectation) AssertClose(expected any, tolerance float64) bool {
	exp := ir.From(expected)
	a, b, ok := numbers(e.actual(), exp)
	pass := ok && tolerance >= 0 && math.Abs(a-b) <= tolerance
	return e.check(KindClose, exp, pass, fmt.Sprintf("is close (tolerance %s) to", ir.FormatNumber(tolerance)))
}

// AssertInstanceOf passes when the actual value's type name is typeName,
// e.g. "String", "Number", "Array" or "Float32Array".
func (e *Expectation) AssertInstanceOf(typeName string) bool {
	exp := ir.String(typeName)
	return e.check(KindInstanceOf, exp, ir.TypeName(e.actual()) == typeName, "is an instance of")
}

// AssertUndefined passes for undefined (a nil interface).
func (e *Expectation) AssertUndefined() bool {
	_, ok := e.actual().(ir.Undefined)
	return e.check(KindUndefined, nil, ok, "is undefined")
}

// AssertNull passes for null (a nil pointer, slice or map, or ir.Null).
func (e *Expectation) AssertNull() bool {
	_, ok := e.actual().(ir.Null)
	return e.check(KindNull, nil, ok, "is null")
}

// AssertContain passes when a string actual contains the string form of
// item, or when an array actual holds an element strictly equal to item.
func (e *Expectation) AssertContain(item any) bool {
	exp := ir.From(item)
	return e.check(KindContain, exp, contains(e.actual(), exp), "contains")
}

// AssertThrowError passes when actual is a function that panics, or returns
// a non-nil error, with a message containing msg. An empty msg matches any
// message.
func (e *Expectation) AssertThrowError(msg string) bool {
	exp := ir.String(msg)
	thrown, ok := invokeThrowing(e.raw)
	pass := ok && thrown != nil && strings.Contains(thrown.Error(), msg)
	detail := "throws an error containing"
	if !ok {
		detail = "is a function that throws"
	}
	return e.check(KindThrowError, exp, pass, detail)
}

func (e *Expectation) check(kind OutcomeKind, expected ir.Value, pass bool, verb string) bool {
	if e.negated {
		pass = !pass
	}
	actual := e.actual()
	o := Outcome{
		Kind:     kind,
		Negated:  e.negated,
		Actual:   actual,
		Expected: expected,
		Pass:     pass,
	}
	if !pass {
		o.Message = failureMessage(actual, expected, e.negated, verb)
	}
	e.t.record(o)
	return pass
}

func failureMessage(actual, expected ir.Value, negated bool, verb string) string {
	var b strings.Builder
	b.WriteString("expect ")
	b.WriteString(display(actual))
	b.WriteByte(' ')
	if negated {
		b.WriteString("not ")
	}
	b.WriteString(verb)
	if expected != nil {
		b.WriteByte(' ')
		b.WriteString(display(expected))
	}
	return b.String()
}

// display renders a value for failure messages.
func display(v ir.Value) string {
	switch val := v.(type) {
	case ir.String:
		return fmt.Sprintf("%q", string(val))
	case ir.Array, ir.Object, ir.TypedArray:
		data, err := ir.MarshalCanonical(val)
		if err != nil {
			return ir.ToString(val)
		}
		return string(data)
	default:
		return ir.ToString(val)
	}
}

func numbers(a, b ir.Value) (float64, float64, bool) {
	x, ok := ir.ToNumber(a)
	if !ok {
		return 0, 0, false
	}
	y, ok := ir.ToNumber(b)
	if !ok {
		return 0, 0, false
	}
	return x, y, true
}

func contains(haystack, needle ir.Value) bool {
	switch h := haystack.(type) {
	case ir.String:
		return strings.Contains(string(h), ir.ToString(needle))
	case ir.Array:
		for _, elem := range h {
			if ir.StrictEqual(elem, needle) {
				return true
			}
		}
	case ir.TypedArray:
		n, ok := needle.(ir.Number)
		if !ok {
			return false
		}
		for _, elem := range h.Elems {
			if elem == float64(n) {
				return true
			}
		}
	}
	return false
}

// invokeThrowing calls fn and returns what it threw. ok is false when fn is
// not a supported function shape.
func invokeThrowing(fn any) (thrown error, ok bool) {
	switch f := fn.(type) {
	case func():
		return catchPanic(func() error { f(); return nil }), true
	case func() error:
		return catchPanic(f), true
	}
	return nil, false
}

func catchPanic(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if e, ok := rec.(error); ok {
				err = e
				return
			}
			err = errors.New(fmt.Sprint(rec))
		}
	}()
	return fn()
}
