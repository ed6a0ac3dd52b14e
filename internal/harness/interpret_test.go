package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xtsunit/internal/ir"
	"github.com/roach88/xtsunit/internal/sysapi"
)

func runScenarioYAML(t *testing.T, src string) *RunResult {
	t.Helper()

	sc, err := ParseScenarioYAML([]byte(src))
	require.NoError(t, err)

	apis, err := sysapi.NewDefault()
	require.NoError(t, err)
	t.Cleanup(func() { _ = apis.Close() })

	reg := NewRegistry()
	require.NoError(t, sc.Register(reg, apis))
	return runTest(t, reg)
}

func statuses(result *RunResult) map[string]Status {
	out := make(map[string]Status)
	for _, c := range result.Cases() {
		out[c.FullName()] = c.Status
	}
	return out
}

func TestScenario_Demo(t *testing.T) {
	result := runScenarioFile(t, "testdata/scenarios/demo.yaml", WithRunID("demo"))

	assert.Equal(t, map[string]Status{
		"demo/equal_passes":     StatusPassed,
		"demo/equal_fails":      StatusFailed,
		"demo/caught_rejection": StatusPassed,
		"demo/missing_done":     StatusTimedOut,
	}, statuses(result))
	assert.Equal(t, "expect 1 equals 2", result.Case("demo/equal_fails").Error)
	assert.Equal(t, "timed out after 100ms", result.Case("demo/missing_done").Error)
}

func TestScenario_RDBHooksAndQueries(t *testing.T) {
	result := runScenarioFile(t, "testdata/scenarios/rdb.yaml")

	for name, status := range statuses(result) {
		assert.Equal(t, StatusPassed, status, "%s: %s", name, result.Case(name).Error)
	}
	assert.Empty(t, result.HookFailures())
	assert.Equal(t, 3, result.Summary.Passed)

	c := result.Case("rdb_result_set/testGetString0001")
	require.NotNil(t, c)
	assert.Len(t, c.Outcomes, 4)
	assert.Equal(t, "function|medium|level0", c.Flags.String())
}

func TestScenario_CUENestedSuiteSharesVariables(t *testing.T) {
	result := runScenarioFile(t, "testdata/scenarios/nested.cue")

	assert.Equal(t, map[string]Status{
		"cue_demo/answer":                    StatusPassed,
		"cue_demo/nested/inherits_variables": StatusPassed,
	}, statuses(result))
}

func TestScenario_UnknownAPI(t *testing.T) {
	sc, err := ParseScenarioYAML([]byte(`
suite: s
cases:
  - name: a
    steps:
      - call: storage.open
      - call: echo
      - call: camera.shoot
`))
	require.NoError(t, err)

	apis, err := sysapi.NewDefault()
	require.NoError(t, err)
	defer apis.Close()

	reg := NewRegistry()
	err = sc.Register(reg, apis)
	assert.EqualError(t, err, `suite "s" calls unknown system apis: camera.shoot, storage.open`)
	assert.Empty(t, reg.Suites())
}

func TestScenario_ThrowStep(t *testing.T) {
	result := runScenarioYAML(t, `
suite: s
cases:
  - name: sync_throw
    steps:
      - throw: boom
      - fail: not reached
  - name: async_throw
    mode: async
    steps:
      - throw: boom
`)

	thrown := result.Case("s/sync_throw")
	assert.Equal(t, StatusFailed, thrown.Status)
	assert.Equal(t, "panic: Error: boom", thrown.Error)
	assert.Empty(t, thrown.Outcomes, "steps after a throw do not run")

	async := result.Case("s/async_throw")
	assert.Equal(t, StatusFailed, async.Status)
	assert.Equal(t, "rejected: Error: boom", async.Error)
}

func TestScenario_UncaughtRejection(t *testing.T) {
	result := runScenarioYAML(t, `
suite: s
cases:
  - name: uncaught
    mode: async
    steps:
      - call: reject
        args: {code: 801, message: not supported}
  - name: on_error_branch
    steps:
      - call: reject
        on_error:
          - log: handled
          - done: true
`)

	uncaught := result.Case("s/uncaught")
	assert.Equal(t, StatusFailed, uncaught.Status)
	assert.Equal(t, "rejected: call reject: BusinessError 801: not supported", uncaught.Error)
	assert.Equal(t, StatusPassed, result.Case("s/on_error_branch").Status)
}

func TestScenario_UndefinedVariableFailsCase(t *testing.T) {
	result := runScenarioYAML(t, `
suite: s
cases:
  - name: a
    steps:
      - assert: {actual: $nope, is_undefined: true}
`)

	c := result.Case("s/a")
	assert.Equal(t, StatusFailed, c.Status)
	assert.Contains(t, c.Error, "variable $nope is not defined")
}

func TestScenario_VariablesAcrossHooks(t *testing.T) {
	result := runScenarioYAML(t, `
suite: s
before_each:
  - call: counter.next
    args: {name: cases}
    save: n
cases:
  - name: first
    steps:
      - assert: {actual: $n, equal: 1}
  - name: second
    steps:
      - assert: {actual: $n, equal: 2}
      - assert: {actual: $$n, equal: "$$n"}
      - assert: {actual: {undefined: true}, is_undefined: true}
      - assert: {actual: $n, not: true, less: 1}
`)

	for name, status := range statuses(result) {
		assert.Equal(t, StatusPassed, status, "%s: %s", name, result.Case(name).Error)
	}
}

func TestScenario_SleepHonoursTimeout(t *testing.T) {
	result := runScenarioYAML(t, `
suite: s
timeout: 20ms
cases:
  - name: slow
    steps:
      - sleep: 1s
`)

	assert.Equal(t, StatusTimedOut, result.Case("s/slow").Status)
}

func TestProperty(t *testing.T) {
	obj := ir.Object{
		"rows": ir.Array{ir.Object{"name": ir.String("a")}},
		"f":    ir.NewFloat32Array(1.5, 2),
	}

	tests := []struct {
		name  string
		value ir.Value
		prop  string
		want  ir.Value
	}{
		{"object key", obj, "rows", obj["rows"]},
		{"missing key", obj, "nope", ir.Undefined{}},
		{"array index", obj["rows"], "0", obj["rows"].(ir.Array)[0]},
		{"array out of range", obj["rows"], "3", ir.Undefined{}},
		{"array length", obj["rows"], "length", ir.Number(1)},
		{"typed index", obj["f"], "1", ir.Number(2)},
		{"typed length", obj["f"], "length", ir.Number(2)},
		{"string length counts utf16 units", ir.String("a\U0001F600"), "length", ir.Number(3)},
		{"number has no properties", ir.Number(1), "x", ir.Undefined{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := property(tt.value, tt.prop)
			require.NoError(t, err)
			assert.True(t, ir.DeepEqual(tt.want, got), "got %s", ir.ToString(got))
		})
	}

	_, err := property(ir.Undefined{}, "x")
	assert.EqualError(t, err, `cannot read property "x" of undefined`)
	_, err = property(ir.Null{}, "x")
	assert.EqualError(t, err, `cannot read property "x" of null`)
}

func TestResolve_TypedArrayErrors(t *testing.T) {
	in := &interpreter{vars: newScope(nil)}

	_, err := in.resolve(map[string]any{"float32": "nope"})
	assert.ErrorContains(t, err, "must be a list")

	_, err = in.resolve(map[string]any{"float32": []any{1, "x"}})
	assert.ErrorContains(t, err, "element 1 is not a number")

	v, err := in.resolve(map[string]any{"float32": []any{0.1}})
	require.NoError(t, err)
	assert.Equal(t, "Float32Array", ir.TypeName(v))
}

func TestScope_SetUpdatesEnclosingDefinition(t *testing.T) {
	outer := newScope(nil)
	inner := newScope(outer)

	outer.set("x", ir.Number(1))
	inner.set("x", ir.Number(2))
	inner.set("y", ir.Number(3))

	v, ok := outer.get("x")
	require.True(t, ok)
	assert.Equal(t, ir.Number(2), v)
	_, ok = outer.get("y")
	assert.False(t, ok)
}
