package tape

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonberrylabs/calculator/pkg/types"
)

func TestParseTape(t *testing.T) {
	src := []byte(`
name: chaining
steps:
  - expr: "2+3*4"
    want: 20
  - name: keypad
    keys: "12+3="
    display: "15"
  - expr: "5/0"
    error: ZeroDivisionError
  - expr: "1e400*1"
    error: FormatError
  - expr: "-1*5"
    want: -Infinity
`)

	tp, err := Parse(src)
	require.NoError(t, err)
	assert.Equal(t, "chaining", tp.Name)
	require.Len(t, tp.Steps, 5)

	first := tp.Steps[0]
	assert.Equal(t, "2+3*4", first.Expr)
	assert.False(t, first.IsKeys())
	require.NotNil(t, first.Want)
	assert.Equal(t, 20.0, *first.Want)
	assert.Equal(t, "step 1", first.Label())
	assert.Equal(t, 4, first.Line)

	second := tp.Steps[1]
	assert.True(t, second.IsKeys())
	assert.Equal(t, "12+3=", second.Input())
	require.NotNil(t, second.Display)
	assert.Equal(t, "15", *second.Display)
	assert.Equal(t, "keypad", second.Label())

	assert.Equal(t, types.TagZeroDivisionError, tp.Steps[2].Error)
	assert.True(t, math.IsInf(*tp.Steps[4].Want, -1))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"empty", "", "empty tape"},
		{"not a mapping", "- 1\n- 2", "must be a mapping"},
		{"no steps", "name: x", "no steps"},
		{"unknown top key", "name: x\nsteps: []\nextra: 1", "unknown tape key 'extra'"},
		{"steps not a sequence", "steps: 5", "steps must be a sequence"},
		{"step not a mapping", "steps:\n  - 5", "step must be a mapping"},
		{"both inputs", "steps:\n  - expr: 1\n    keys: 1", "only one of"},
		{"no input", "steps:\n  - want: 1", "'expr' or 'keys'"},
		{"empty keys", "steps:\n  - keys: ''", "must not be empty"},
		{"bad key", "steps:\n  - keys: '1+x'", "invalid key"},
		{"bad want", "steps:\n  - expr: 1\n    want: ten", "want must be a number"},
		{"unknown error kind", "steps:\n  - expr: 1\n    error: TypeError", "unknown error kind 'TypeError'"},
		{"want and error", "steps:\n  - expr: 5/0\n    want: 1\n    error: ZeroDivisionError", "both a result and an error"},
		{"unknown step key", "steps:\n  - expr: 1\n    got: 1", "unknown step key 'got'"},
		{"nested value", "steps:\n  - expr: [1]", "must be a scalar"},
		{"invalid yaml", "steps: [", "invalid YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			require.Error(t, err)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "expected *ParseError, got %T", err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestParseErrorLocation(t *testing.T) {
	_, err := Parse([]byte("steps:\n  - expr: 1\n  - keys: '1?'\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 2 (line 3)")
}

func TestParseLimits(t *testing.T) {
	var b strings.Builder
	b.WriteString("steps:\n")
	for i := 0; i <= MaxSteps; i++ {
		b.WriteString("  - expr: '1'\n")
	}
	_, err := Parse([]byte(b.String()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum is 1000")

	_, err = Parse([]byte(strings.Repeat("#", MaxSourceSize+1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}
