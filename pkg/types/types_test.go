package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{math.Copysign(0, -1), "0"},
		{8, "8"},
		{-2, "-2"},
		{6.25, "6.25"},
		{123456789012345, "123456789012345"},
		{1e15, "1e+15"},
		{0.000001, "0.000001"},
		{0.0000001, "1e-07"},
		{math.Inf(1), "Infinity"},
		{math.Inf(-1), "-Infinity"},
		{math.NaN(), "NaN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatNumber(tt.in))
		})
	}
}

func TestFormatNumberShortestRoundTrip(t *testing.T) {
	a, b := 0.1, 0.2
	assert.Equal(t, "0.30000000000000004", FormatNumber(a+b))
	assert.Equal(t, "0.30000000000000004", Number(a+b).String())
}

func TestFormatOperandNeverUsesExponent(t *testing.T) {
	assert.Equal(t, "1000000000000000000000", FormatOperand(1e21))
	assert.Equal(t, "0.0000001", FormatOperand(1e-7))
	assert.Equal(t, "-3.5", FormatOperand(-3.5))
	assert.Equal(t, "0", FormatOperand(math.Copysign(0, -1)))
}

func TestNumberJSON(t *testing.T) {
	b, err := json.Marshal(map[string]Number{"a": 1.5, "b": Number(math.Inf(1)), "c": Number(math.Inf(-1))})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1.5,"b":"Infinity","c":"-Infinity"}`, string(b))

	var got struct {
		A Number `json:"a"`
		B Number `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":2.5,"b":"-Infinity"}`), &got))
	assert.Equal(t, Number(2.5), got.A)
	assert.True(t, math.IsInf(float64(got.B), -1))

	var n Number
	assert.Error(t, json.Unmarshal([]byte(`"ten"`), &n))
	assert.Error(t, json.Unmarshal([]byte(`true`), &n))
}

func TestCalcErrorKinds(t *testing.T) {
	format := NewFormatError("expression ends with an operator", 3)
	zero := NewZeroDivisionError(1)

	assert.True(t, errors.Is(format, ErrFormat))
	assert.False(t, errors.Is(format, ErrDivisionByZero))
	assert.True(t, errors.Is(zero, ErrDivisionByZero))
	assert.False(t, errors.Is(zero, ErrFormat))

	wrapped := fmt.Errorf("evaluating: %w", zero)
	assert.True(t, errors.Is(wrapped, ErrDivisionByZero))
	assert.Equal(t, TagZeroDivisionError, Kind(wrapped))

	assert.Equal(t, TagFormatError, Kind(format))
	assert.Equal(t, TagInternalError, Kind(errors.New("boom")))
	assert.Equal(t, "", Kind(nil))

	assert.Contains(t, format.Error(), "position 3")
	assert.Equal(t, "division by zero (tags=[ZeroDivisionError])", (&CalcError{Message: "division by zero", Tags: []string{TagZeroDivisionError}, Pos: -1}).Error())
}

func TestIsKnownTag(t *testing.T) {
	assert.True(t, IsKnownTag(TagFormatError))
	assert.True(t, IsKnownTag(TagZeroDivisionError))
	assert.False(t, IsKnownTag(TagInternalError))
	assert.False(t, IsKnownTag("TypeError"))
}
