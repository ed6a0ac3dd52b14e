package harness

import (
	"strconv"
	"strings"
)

// Flags is the opaque metadata passed to It. The harness never interprets it
// while running; the accessors below decode the XTS layout where the low bits
// carry the test type, bits 16-18 the size and bits 24-28 the level.
type Flags uint64

const (
	TypeFunction      Flags = 1 << 0
	TypePerformance   Flags = 1 << 1
	TypePower         Flags = 1 << 2
	TypeReliability   Flags = 1 << 3
	TypeSecurity      Flags = 1 << 4
	TypeGlobal        Flags = 1 << 5
	TypeCompatibility Flags = 1 << 6
	TypeUser          Flags = 1 << 7
	TypeStandard      Flags = 1 << 8
	TypeSafety        Flags = 1 << 9
	TypeResilience    Flags = 1 << 10

	SizeSmall  Flags = 1 << 16
	SizeMedium Flags = 1 << 17
	SizeLarge  Flags = 1 << 18

	Level0 Flags = 1 << 24
	Level1 Flags = 1 << 25
	Level2 Flags = 1 << 26
	Level3 Flags = 1 << 27
	Level4 Flags = 1 << 28
)

var typeNames = []struct {
	flag Flags
	name string
}{
	{TypeFunction, "function"},
	{TypePerformance, "performance"},
	{TypePower, "power"},
	{TypeReliability, "reliability"},
	{TypeSecurity, "security"},
	{TypeGlobal, "global"},
	{TypeCompatibility, "compatibility"},
	{TypeUser, "user"},
	{TypeStandard, "standard"},
	{TypeSafety, "safety"},
	{TypeResilience, "resilience"},
}

// Types returns the names of the type bits that are set.
func (f Flags) Types() []string {
	var names []string
	for _, t := range typeNames {
		if f&t.flag != 0 {
			names = append(names, t.name)
		}
	}
	return names
}

// Type returns the name of the lowest set type bit, or "" when none is set.
func (f Flags) Type() string {
	if types := f.Types(); len(types) > 0 {
		return types[0]
	}
	return ""
}

// Size returns "small", "medium" or "large", or "" when no size bit is set.
// The smallest set size wins.
func (f Flags) Size() string {
	switch {
	case f&SizeSmall != 0:
		return "small"
	case f&SizeMedium != 0:
		return "medium"
	case f&SizeLarge != 0:
		return "large"
	}
	return ""
}

// Level returns the lowest set level (0-4), or -1 when none is set.
func (f Flags) Level() int {
	for i := 0; i <= 4; i++ {
		if f&(Level0<<i) != 0 {
			return i
		}
	}
	return -1
}

// String renders the decoded flags, e.g. "function|medium|level0".
// Flags with no known bits render as their decimal value.
func (f Flags) String() string {
	parts := f.Types()
	if size := f.Size(); size != "" {
		parts = append(parts, size)
	}
	if level := f.Level(); level >= 0 {
		parts = append(parts, "level"+strconv.Itoa(level))
	}
	if len(parts) == 0 {
		return strconv.FormatUint(uint64(f), 10)
	}
	return strings.Join(parts, "|")
}
