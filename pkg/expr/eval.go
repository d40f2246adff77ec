package expr

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/lemonberrylabs/calculator/pkg/types"
)

// Evaluate evaluates a flat arithmetic expression strictly left to right.
// Whitespace is ignored and an empty expression evaluates to 0. Failures are
// *types.CalcError values tagged FormatError or ZeroDivisionError.
func Evaluate(expression string) (float64, error) {
	stripped := StripSpace(expression)
	if stripped == "" {
		return 0, nil
	}

	tokens, err := NewLexer(stripped).Tokenize()
	if err != nil {
		return 0, err
	}
	return EvaluateTokens(tokens)
}

// EvaluateTokens reduces a token sequence of the form N (op N)* left to right.
// An empty sequence evaluates to 0.
func EvaluateTokens(tokens []Token) (float64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}

	result, ok := parseNumber(tokens[0])
	if !ok {
		return 0, types.NewFormatError("expression must start with a number", tokens[0].Pos)
	}

	for i := 1; i < len(tokens); i += 2 {
		op := tokens[i]
		if !op.IsOperator() {
			return 0, types.NewFormatError(fmt.Sprintf("unknown operator %q", op.Value), op.Pos)
		}
		if i+1 >= len(tokens) {
			return 0, types.NewFormatError("expression ends with an operator", op.Pos)
		}
		next, ok := parseNumber(tokens[i+1])
		if !ok {
			return 0, types.NewFormatError("expected a number after operator", tokens[i+1].Pos)
		}

		var err error
		result, err = apply(op, result, next)
		if err != nil {
			return 0, err
		}
	}

	return result, nil
}

// apply performs a single reduction step.
func apply(op Token, left, right float64) (float64, error) {
	switch op.Type {
	case TokenPlus:
		return left + right, nil
	case TokenMinus:
		return left - right, nil
	case TokenStar:
		return left * right, nil
	case TokenSlash:
		if right == 0 {
			return 0, types.NewZeroDivisionError(op.Pos)
		}
		return left / right, nil
	default:
		return 0, types.NewFormatError(fmt.Sprintf("unknown operator %q", op.Value), op.Pos)
	}
}

// parseNumber parses a number token. Magnitudes beyond float64 range parse to
// ±Inf rather than failing.
func parseNumber(tok Token) (float64, bool) {
	if tok.Type != TokenNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(tok.Value, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return f, true
}
