package harness

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe_RegistersSynchronously(t *testing.T) {
	reg := NewRegistry()
	ran := false
	err := reg.Describe("demo", func(s *Suite) {
		ran = true
		s.It("a", 0, Sync(func(*T) {}))
		s.It("b", TypeFunction, Sync(func(*T) {}))
	})

	require.NoError(t, err)
	assert.True(t, ran, "registration function runs before Describe returns")
	suites := reg.Suites()
	require.Len(t, suites, 1)
	assert.Equal(t, "demo", suites[0].Name())
	require.Len(t, suites[0].Cases(), 2)
	assert.Equal(t, "b", suites[0].Cases()[1].Name)
	assert.Equal(t, TypeFunction, suites[0].Cases()[1].Flags)
	assert.Equal(t, 2, reg.CaseCount())
}

func TestDescribe_PanicIsRegistrationError(t *testing.T) {
	reg := NewRegistry()
	err := reg.Describe("broken", func(s *Suite) {
		s.It("a", 0, Sync(func(*T) {}))
		panic(errors.New("setup exploded"))
	})

	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "broken", regErr.Suite)
	assert.EqualError(t, errors.Unwrap(err), "setup exploded")
	assert.Empty(t, reg.Suites(), "failed suite is not added")
}

func TestDescribe_Validation(t *testing.T) {
	reg := NewRegistry()

	assert.Error(t, reg.Describe("", func(*Suite) {}))
	assert.Error(t, reg.Describe("nil", nil))

	err := reg.Describe("empty-case", func(s *Suite) {
		s.It("", 0, Sync(func(*T) {}))
	})
	assert.ErrorContains(t, err, "case name is empty")

	err = reg.Describe("no-body", func(s *Suite) {
		s.It("a", 0, Body{})
	})
	assert.ErrorContains(t, err, "body is not set")

	err = reg.Describe("nil-hook", func(s *Suite) {
		s.BeforeAll(Sync(nil))
	})
	assert.ErrorContains(t, err, "beforeAll")
}

func TestSuite_FrozenAfterRegistration(t *testing.T) {
	reg := NewRegistry()
	var leaked *Suite
	require.NoError(t, reg.Describe("demo", func(s *Suite) {
		leaked = s
	}))

	defer func() {
		rec := recover()
		require.NotNil(t, rec)
		err, ok := rec.(*RegistrationError)
		require.True(t, ok)
		assert.ErrorIs(t, err, ErrSuiteFrozen)
	}()
	leaked.It("late", 0, Sync(func(*T) {}))
}

func TestSuite_NestedPaths(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Describe("outer", func(s *Suite) {
		s.Timeout(time.Second)
		s.Describe("inner", func(s *Suite) {
			s.Describe("deepest", func(s *Suite) {
				s.It("case", 0, Sync(func(*T) {}))
			})
		})
	}))

	outer := reg.Suites()[0]
	inner := outer.Suites()[0]
	deepest := inner.Suites()[0]
	assert.Equal(t, []string{"outer", "inner", "deepest"}, deepest.Path())
	assert.Equal(t, 1, outer.CaseCount())
	assert.Equal(t, time.Second, deepest.effectiveTimeout(DefaultTimeout))
	assert.Equal(t, DefaultTimeout, newSuite("tmp", nil).effectiveTimeout(DefaultTimeout))
}

func TestSuite_NestedPanicDiscardsTopLevel(t *testing.T) {
	reg := NewRegistry()
	err := reg.Describe("outer", func(s *Suite) {
		s.Describe("inner", func(s *Suite) {
			panic("inner broke")
		})
	})
	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "inner broke", regErr.Cause)
	assert.Empty(t, reg.Suites())
}
