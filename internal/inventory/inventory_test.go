package inventory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xtsunit/internal/harness"
)

const abilityTest = `import { describe, beforeAll, it, expect, TestType, Size, Level } from '@ohos/hypium';

export default function abilityTest() {
  describe('ActsAbilityTest', function () {
    beforeAll(function () {});
    afterEach(() => {});
    it('case_001', 0, function () {
      expect(1).assertEqual(1);
      expect(true).assertTrue();
    });
    it("case_002", TestType.FUNCTION | Size.MEDIUMTEST | Level.LEVEL0, async function (done) {
      expect(1).assertEqual(1);
      done();
    });
    it('case_003', 0x1 | 0x20000, (done) => {
      setTimeout(() => { expect('a').assertContain('a'); done(); }, 10);
    });
    it('case_004', flagsFromConfig(), function () {});
    describe('Inner', () => {
      beforeEach(function () {});
      it('inner_001', 1, done => { done(); });
    });
  });
}
`

func parse(t *testing.T, path, src string) *File {
	t.Helper()
	f, err := ParseSource(context.Background(), path, []byte(src))
	require.NoError(t, err)
	return f
}

func TestParseSource_Structure(t *testing.T) {
	f := parse(t, "ability.test.js", abilityTest)

	assert.Equal(t, "javascript", f.Language)
	assert.False(t, f.Partial)
	assert.Empty(t, f.Cases)
	require.Len(t, f.Suites, 1)

	suite := f.Suites[0]
	assert.Equal(t, "ActsAbilityTest", suite.Name)
	assert.Equal(t, 4, suite.Line)
	assert.Equal(t, []harness.HookKind{harness.HookBeforeAll, harness.HookAfterEach}, suite.Hooks)
	require.Len(t, suite.Cases, 4)
	require.Len(t, suite.Suites, 1)

	inner := suite.Suites[0]
	assert.Equal(t, "Inner", inner.Name)
	assert.Equal(t, []harness.HookKind{harness.HookBeforeEach}, inner.Hooks)
	require.Len(t, inner.Cases, 1)
	assert.Equal(t, "inner_001", inner.Cases[0].Name)
	assert.Equal(t, 21, inner.Cases[0].Line)

	assert.Equal(t, 5, f.CaseCount())
}

func TestParseSource_Cases(t *testing.T) {
	cases := parse(t, "ability.test.js", abilityTest).Suites[0].Cases

	c1 := cases[0]
	assert.Equal(t, "case_001", c1.Name)
	assert.Equal(t, 7, c1.Line)
	assert.True(t, c1.FlagsKnown)
	assert.Equal(t, harness.Flags(0), c1.Flags)
	assert.Equal(t, harness.ModeSync, c1.Mode)
	assert.Equal(t, map[string]int{"assertEqual": 1, "assertTrue": 1}, c1.Assertions)

	c2 := cases[1]
	assert.Equal(t, "case_002", c2.Name)
	assert.True(t, c2.FlagsKnown)
	assert.Equal(t, harness.TypeFunction|harness.SizeMedium|harness.Level0, c2.Flags)
	assert.Equal(t, harness.ModeAsync, c2.Mode)

	c3 := cases[2]
	assert.True(t, c3.FlagsKnown)
	assert.Equal(t, harness.TypeFunction|harness.SizeMedium, c3.Flags)
	assert.Equal(t, harness.ModeCallback, c3.Mode)
	assert.Equal(t, map[string]int{"assertContain": 1}, c3.Assertions)

	c4 := cases[3]
	assert.False(t, c4.FlagsKnown)
	assert.Equal(t, harness.ModeSync, c4.Mode)
	assert.Empty(t, c4.Assertions)
}

func TestParseSource_InnerArrowWithBareParameter(t *testing.T) {
	inner := parse(t, "ability.test.js", abilityTest).Suites[0].Suites[0].Cases[0]
	assert.Equal(t, harness.ModeCallback, inner.Mode)
	assert.Equal(t, harness.TypeFunction, inner.Flags)
}

func TestParseSource_TypeScript(t *testing.T) {
	src := "describe(`Typed`, (): void => {\n" +
		"  it('ts_case', 0, async (): Promise<void> => {\n" +
		"    const n: number = 1;\n" +
		"    expect(n).assertEqual(1);\n" +
		"    expect(n).not().assertEqual(2);\n" +
		"  });\n" +
		"});\n"

	f := parse(t, "Typed.test.ets", src)
	assert.Equal(t, "typescript", f.Language)
	require.Len(t, f.Suites, 1)
	assert.Equal(t, "Typed", f.Suites[0].Name)
	require.Len(t, f.Suites[0].Cases, 1)

	c := f.Suites[0].Cases[0]
	assert.Equal(t, harness.ModeAsync, c.Mode)
	assert.Equal(t, map[string]int{"assertEqual": 2}, c.Assertions)
}

func TestParseSource_TopLevelCasesAndSyntaxErrors(t *testing.T) {
	f := parse(t, "loose.js", "it('alone', 0, function () {});\ndescribe('broken', function () { it('x', 0, function () { ")

	assert.True(t, f.Partial)
	require.NotEmpty(t, f.Cases)
	assert.Equal(t, "alone", f.Cases[0].Name)
}

func TestParseSource_NestingIsBounded(t *testing.T) {
	const levels = 600
	var b strings.Builder
	for i := 0; i < levels; i++ {
		b.WriteString("describe('s', function () {\n")
	}
	b.WriteString("it('leaf', function () {});\n")
	for i := 0; i < levels; i++ {
		b.WriteString("});\n")
	}

	f, err := ParseSource(context.Background(), "deep.test.js", []byte(b.String()))
	require.NoError(t, err)
	require.Len(t, f.Suites, 1)

	depth := 0
	for s := &f.Suites[0]; ; s = &s.Suites[0] {
		depth++
		if len(s.Suites) == 0 {
			break
		}
	}
	assert.Less(t, depth, levels, "walking stops at the depth limit")
	assert.Zero(t, f.CaseCount(), "the leaf lies beyond the limit")
}

func TestUnquote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`'single'`, "single"},
		{`"double"`, "double"},
		{"`tmpl`", "tmpl"},
		{`'it\'s'`, "it's"},
		{`'say "hi"'`, `say "hi"`},
		{`"tab\tsep"`, "tab\tsep"},
		{`x`, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, unquote(tt.in))
		})
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "entry/ability.test.js", abilityTest)
	writeFile(t, root, "entry/sub/Typed.test.ts", "describe('Typed', () => { it('t', 0, () => { expect(1).assertEqual(1); }); });\n")
	writeFile(t, root, "node_modules/dep/index.js", "describe('dep', () => { it('hidden', 0, () => {}); });\n")
	writeFile(t, root, "README.md", "# not a test\n")

	inv, err := Scan(context.Background(), root, WithWorkers(2))
	require.NoError(t, err)

	assert.Equal(t, root, inv.Root)
	assert.Empty(t, inv.Errors)
	require.Len(t, inv.Files, 2)
	assert.Equal(t, "entry/ability.test.js", inv.Files[0].Path)
	assert.Equal(t, "entry/sub/Typed.test.ts", inv.Files[1].Path)
	assert.Equal(t, 6, inv.CaseCount())
	assert.Equal(t, map[string]int{"assertEqual": 3, "assertTrue": 1, "assertContain": 1}, inv.AssertionCounts())
}

func TestScan_Patterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a/one.test.js", "describe('one', () => {});\n")
	writeFile(t, root, "b/two.test.js", "describe('two', () => {});\n")

	inv, err := Scan(context.Background(), root, WithPatterns("b/**/*.js"))
	require.NoError(t, err)
	require.Len(t, inv.Files, 1)
	assert.Equal(t, "b/two.test.js", inv.Files[0].Path)

	_, err = Scan(context.Background(), root, WithPatterns("[unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pattern")
}

func TestScan_BadRoot(t *testing.T) {
	_, err := Scan(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	root := t.TempDir()
	writeFile(t, root, "file.js", "")
	_, err = Scan(context.Background(), filepath.Join(root, "file.js"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestScan_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "one.test.js", abilityTest)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Scan(ctx, root)
	require.ErrorIs(t, err, context.Canceled)
}
