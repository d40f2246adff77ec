// Package expr implements the calculator's expression engine: a tokenizer for
// flat arithmetic strings and a strictly left-to-right evaluator. There is no
// operator precedence and no parentheses; "2+3*4" evaluates as (2+3)*4.
package expr

import "strings"

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenNumber TokenType = iota // signed decimal number

	// Operators
	TokenPlus  // +
	TokenMinus // -
	TokenStar  // *
	TokenSlash // /
)

// Token represents a single lexical token.
type Token struct {
	Type  TokenType
	Value string // raw text; for numbers the sign is folded in
	Pos   int    // position in the whitespace-stripped source
}

// IsOperator reports whether the token is one of the four arithmetic operators.
func (t Token) IsOperator() bool {
	return t.Type != TokenNumber
}

// String returns a debug-friendly representation of the token type.
func (t TokenType) String() string {
	switch t {
	case TokenNumber:
		return "NUMBER"
	case TokenPlus:
		return "PLUS"
	case TokenMinus:
		return "MINUS"
	case TokenStar:
		return "STAR"
	case TokenSlash:
		return "SLASH"
	default:
		return "UNKNOWN"
	}
}

// ParseTokenType is the inverse of TokenType.String.
func ParseTokenType(s string) (TokenType, bool) {
	for t := TokenNumber; t <= TokenSlash; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

// operatorType maps an operator character to its token type.
func operatorType(ch byte) (TokenType, bool) {
	switch ch {
	case '+':
		return TokenPlus, true
	case '-':
		return TokenMinus, true
	case '*':
		return TokenStar, true
	case '/':
		return TokenSlash, true
	}
	return 0, false
}

// Join concatenates the text of tokens. For any input that tokenizes without
// error it reproduces the whitespace-stripped input.
func Join(tokens []Token) string {
	var sb strings.Builder
	for _, tok := range tokens {
		sb.WriteString(tok.Value)
	}
	return sb.String()
}
