// Package types defines the error taxonomy and number representation shared
// by the evaluation engine, the keypad controller and the service layers.
package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Display thresholds: numbers outside [minPlain, maxPlain) use exponent form.
const (
	maxPlain = 1e15
	minPlain = 1e-6
)

// Number is a calculator result. It formats the way the display shows it and
// survives JSON encoding even when it is not finite.
type Number float64

// String returns the display form of the number.
func (n Number) String() string {
	return FormatNumber(float64(n))
}

// MarshalJSON encodes finite numbers as JSON numbers and non-finite ones as
// the strings "Infinity", "-Infinity" and "NaN".
func (n Number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return json.Marshal(FormatNumber(f))
	}
	return json.Marshal(f)
}

// UnmarshalJSON accepts either a JSON number or one of the non-finite strings.
func (n *Number) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = Number(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("number must be a JSON number or string: %w", err)
	}
	switch s {
	case "Infinity":
		*n = Number(math.Inf(1))
	case "-Infinity":
		*n = Number(math.Inf(-1))
	case "NaN":
		*n = Number(math.NaN())
	default:
		return fmt.Errorf("invalid number %q", s)
	}
	return nil
}

// FormatNumber renders f for display. Values in the plain range are shown
// without exponent, negative zero is shown as "0".
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	abs := math.Abs(f)
	if abs >= maxPlain || abs < minPlain {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FormatOperand renders f as an operand for a composed expression. The
// result never uses exponent notation so it always re-tokenizes; non-finite
// values are rendered as-is and will be rejected by the tokenizer.
func FormatOperand(f float64) string {
	if f == 0 {
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
