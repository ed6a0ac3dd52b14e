package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlags_Decode(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		typ   string
		size  string
		level int
		str   string
	}{
		{"zero", 0, "", "", -1, "0"},
		{"function medium level0", TypeFunction | SizeMedium | Level0, "function", "medium", 0, "function|medium|level0"},
		{"performance large level3", TypePerformance | SizeLarge | Level3, "performance", "large", 3, "performance|large|level3"},
		{"reliability only", TypeReliability, "reliability", "", -1, "reliability"},
		{"unknown bits", 1 << 40, "", "", -1, "1099511627776"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.flags.Type())
			assert.Equal(t, tt.size, tt.flags.Size())
			assert.Equal(t, tt.level, tt.flags.Level())
			assert.Equal(t, tt.str, tt.flags.String())
		})
	}
}

func TestFlags_MultipleTypes(t *testing.T) {
	f := TypeFunction | TypeSecurity
	assert.Equal(t, []string{"function", "security"}, f.Types())
	assert.Equal(t, "function", f.Type())
}
