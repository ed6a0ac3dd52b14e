package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"gopkg.in/yaml.v3"

	"github.com/roach88/xtsunit/internal/ir"
	"github.com/roach88/xtsunit/internal/sysapi"
)

// ThrownError is raised by a throw step.
type ThrownError struct {
	Message string
}

func (e *ThrownError) Error() string {
	return "Error: " + e.Message
}

// Register adds the scenario to reg as a top-level suite. Every API the
// scenario calls must exist in apis.
func (sc *Scenario) Register(reg *Registry, apis *sysapi.Registry) error {
	var missing []string
	for _, name := range sc.Calls() {
		if !apis.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("suite %q calls unknown system apis: %s", sc.Suite, strings.Join(missing, ", "))
	}
	return reg.Describe(sc.Suite, func(s *Suite) {
		sc.build(s, apis, nil)
	})
}

func (sc *Scenario) build(s *Suite, apis *sysapi.Registry, parent *scope) {
	in := &interpreter{apis: apis, vars: newScope(parent)}

	if sc.Timeout != "" {
		if d, err := time.ParseDuration(sc.Timeout); err == nil {
			s.Timeout(d)
		}
	}
	if len(sc.BeforeAll) > 0 {
		s.BeforeAll(in.body(sc.BeforeAll, modeFor("", sc.BeforeAll)))
	}
	if len(sc.BeforeEach) > 0 {
		s.BeforeEach(in.body(sc.BeforeEach, modeFor("", sc.BeforeEach)))
	}
	if len(sc.AfterEach) > 0 {
		s.AfterEach(in.body(sc.AfterEach, modeFor("", sc.AfterEach)))
	}
	if len(sc.AfterAll) > 0 {
		s.AfterAll(in.body(sc.AfterAll, modeFor("", sc.AfterAll)))
	}
	for _, c := range sc.Cases {
		s.It(c.Name, Flags(c.Flags), in.body(c.Steps, modeFor(c.Mode, c.Steps)))
	}
	for i := range sc.Suites {
		child := &sc.Suites[i]
		s.Describe(child.Suite, func(cs *Suite) {
			child.build(cs, apis, in.vars)
		})
	}
}

// scope holds the variables of one suite. Lookups fall back to the enclosing
// suites, the way closures over describe-level variables behave.
type scope struct {
	mu     sync.Mutex
	vars   map[string]ir.Value
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: make(map[string]ir.Value), parent: parent}
}

func (s *scope) get(name string) (ir.Value, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		v, ok := cur.vars[name]
		cur.mu.Unlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// set assigns to the nearest scope that already defines name, or defines it
// in s.
func (s *scope) set(name string, v ir.Value) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		if _, ok := cur.vars[name]; ok {
			cur.vars[name] = v
			cur.mu.Unlock()
			return
		}
		cur.mu.Unlock()
	}
	s.mu.Lock()
	s.vars[name] = v
	s.mu.Unlock()
}

type interpreter struct {
	apis *sysapi.Registry
	vars *scope
}

func (in *interpreter) body(steps []Step, mode Mode) Body {
	switch mode {
	case ModeAsync:
		return Async(func(ctx context.Context, t *T) error {
			return in.exec(ctx, t, steps, nil)
		})
	case ModeCallback:
		return Callback(func(t *T, done Done) {
			if err := in.exec(t.Context(), t, steps, done); err != nil {
				panic(err)
			}
		})
	default:
		return Sync(func(t *T) {
			if err := in.exec(t.Context(), t, steps, nil); err != nil {
				panic(err)
			}
		})
	}
}

// exec runs steps in order. A returned error is uncaught and aborts the
// remaining steps.
func (in *interpreter) exec(ctx context.Context, t *T, steps []Step, done Done) error {
	for i := range steps {
		st := &steps[i]
		var err error
		switch st.Kind() {
		case "call":
			err = in.call(ctx, t, st, done)
		case "assert":
			err = in.assert(t, st.Assert)
		case "fail":
			t.Expect(ir.Null{}).AssertFail(*st.Fail)
		case "log":
			t.Log(*st.Log)
		case "sleep":
			err = sleep(ctx, st.Sleep)
		case "throw":
			err = &ThrownError{Message: *st.Throw}
		case "done":
			if done == nil {
				err = errors.New("done called outside a callback body")
			} else {
				done()
			}
		default:
			err = fmt.Errorf("invalid step %d", i)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (in *interpreter) call(ctx context.Context, t *T, st *Step, done Done) error {
	args := ir.Object{}
	for k, raw := range st.Args {
		v, err := in.resolve(raw)
		if err != nil {
			return fmt.Errorf("call %s: arg %q: %w", st.Call, k, err)
		}
		args[k] = v
	}

	result, err := in.apis.Call(ctx, st.Call, args)
	if err != nil {
		caught := st.Catch || st.SaveError != "" || st.OnError != nil
		if !caught {
			return fmt.Errorf("call %s: %w", st.Call, err)
		}
		t.Log("call rejected", "api", st.Call, "error", err.Error())
		if st.SaveError != "" {
			in.vars.set(st.SaveError, errorValue(err))
		}
		return in.exec(ctx, t, st.OnError, done)
	}

	if st.Save != "" {
		in.vars.set(st.Save, result)
	}
	return in.exec(ctx, t, st.OnSuccess, done)
}

func errorValue(err error) ir.Value {
	var apiErr *sysapi.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Value()
	}
	return ir.Object{"message": ir.String(err.Error())}
}

func (in *interpreter) assert(t *T, a *AssertStep) error {
	actual, err := in.resolveNode(a.Actual)
	if err != nil {
		return fmt.Errorf("assert actual: %w", err)
	}
	e := t.Expect(actual)
	if a.Not {
		e = e.Not()
	}

	expected := func(n *yaml.Node) (ir.Value, error) {
		v, err := in.resolveNode(n)
		if err != nil {
			return nil, fmt.Errorf("assert expected: %w", err)
		}
		return v, nil
	}

	var v ir.Value
	switch {
	case a.Equal != nil:
		if v, err = expected(a.Equal); err == nil {
			e.AssertEqual(v)
		}
	case a.NotEqual != nil:
		if v, err = expected(a.NotEqual); err == nil {
			e.Not().AssertEqual(v)
		}
	case a.DeepEqual != nil:
		if v, err = expected(a.DeepEqual); err == nil {
			e.AssertDeepEquals(v)
		}
	case a.Larger != nil:
		if v, err = expected(a.Larger); err == nil {
			e.AssertLarger(v)
		}
	case a.Less != nil:
		if v, err = expected(a.Less); err == nil {
			e.AssertLess(v)
		}
	case a.Close != nil:
		if v, err = expected(a.Close); err == nil {
			e.AssertClose(v, a.Tolerance)
		}
	case a.Contain != nil:
		if v, err = expected(a.Contain); err == nil {
			e.AssertContain(v)
		}
	case a.InstanceOf != "":
		e.AssertInstanceOf(a.InstanceOf)
	case a.IsTrue:
		e.AssertTrue()
	case a.IsFalse:
		e.AssertFalse()
	case a.IsUndefined:
		e.AssertUndefined()
	case a.IsNull:
		e.AssertNull()
	}
	return err
}

func sleep(ctx context.Context, spec string) error {
	d, err := time.ParseDuration(spec)
	if err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (in *interpreter) resolveNode(n *yaml.Node) (ir.Value, error) {
	var raw any
	if err := n.Decode(&raw); err != nil {
		return nil, err
	}
	return in.resolve(raw)
}

// resolve converts a decoded YAML value to an ir.Value.
//
//	null                     -> null
//	"$name" / "$name.a.0"    -> variable, with property and index access
//	"$$text"                 -> the literal string "$text"
//	{float32: [..]}          -> Float32Array
//	{undefined: true}        -> undefined
func (in *interpreter) resolve(raw any) (ir.Value, error) {
	switch v := raw.(type) {
	case nil:
		return ir.Null{}, nil
	case string:
		if strings.HasPrefix(v, "$$") {
			return ir.String(v[1:]), nil
		}
		if strings.HasPrefix(v, "$") {
			return in.lookup(v[1:])
		}
		return ir.String(v), nil
	case []any:
		arr := make(ir.Array, len(v))
		for i, elem := range v {
			r, err := in.resolve(elem)
			if err != nil {
				return nil, err
			}
			arr[i] = r
		}
		return arr, nil
	case map[string]any:
		if len(v) == 1 {
			if vals, ok := v["float32"]; ok {
				return typedFromYAML(ir.Float32Array, vals)
			}
			if u, ok := v["undefined"]; ok && u == true {
				return ir.Undefined{}, nil
			}
		}
		obj := make(ir.Object, len(v))
		for k, elem := range v {
			r, err := in.resolve(elem)
			if err != nil {
				return nil, err
			}
			obj[k] = r
		}
		return obj, nil
	}
	return ir.From(raw), nil
}

func typedFromYAML(kind ir.TypedKind, raw any) (ir.Value, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s values must be a list", kind)
	}
	elems := make([]float64, len(list))
	for i, elem := range list {
		n, ok := ir.From(elem).(ir.Number)
		if !ok {
			return nil, fmt.Errorf("%s element %d is not a number", kind, i)
		}
		elems[i] = float64(n)
	}
	return ir.NewTypedArray(kind, elems), nil
}

// lookup resolves "name.prop.0" against the scope chain.
func (in *interpreter) lookup(ref string) (ir.Value, error) {
	parts := strings.Split(ref, ".")
	v, ok := in.vars.get(parts[0])
	if !ok {
		return nil, fmt.Errorf("variable $%s is not defined", parts[0])
	}
	for _, prop := range parts[1:] {
		next, err := property(v, prop)
		if err != nil {
			return nil, fmt.Errorf("$%s: %w", ref, err)
		}
		v = next
	}
	return v, nil
}

func property(v ir.Value, prop string) (ir.Value, error) {
	switch val := v.(type) {
	case ir.Undefined, ir.Null:
		return nil, fmt.Errorf("cannot read property %q of %s", prop, ir.ToString(v))
	case ir.Object:
		if elem, ok := val[prop]; ok {
			return elem, nil
		}
	case ir.Array:
		if prop == "length" {
			return ir.Number(len(val)), nil
		}
		if i, err := strconv.Atoi(prop); err == nil && i >= 0 && i < len(val) {
			return val[i], nil
		}
	case ir.TypedArray:
		if prop == "length" {
			return ir.Number(len(val.Elems)), nil
		}
		if i, err := strconv.Atoi(prop); err == nil && i >= 0 && i < len(val.Elems) {
			return ir.Number(val.Elems[i]), nil
		}
	case ir.String:
		if prop == "length" {
			return ir.Number(len(utf16.Encode([]rune(string(val))))), nil
		}
	}
	return ir.Undefined{}, nil
}
