package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lemonberrylabs/calculator/pkg/types"
)

// lexState is what the scanner expects at the current position.
type lexState int

const (
	// expectOperand: start of input or right after an operator. A '-' here is
	// a sign, not an operator.
	expectOperand lexState = iota
	// expectOperator: right after a number. A '-' here is subtraction.
	expectOperator
)

// Lexer tokenizes a calculator expression.
type Lexer struct {
	input  string
	pos    int
	state  lexState
	tokens []Token
}

// NewLexer creates a new lexer for the given input. Whitespace is removed
// before scanning, so token positions refer to the stripped input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: StripSpace(input)}
}

// Tokenize is shorthand for NewLexer(expression).Tokenize().
func Tokenize(expression string) ([]Token, error) {
	return NewLexer(expression).Tokenize()
}

// Tokenize scans the entire input and returns all tokens. It only fails on
// malformed numbers and invalid characters; structural problems such as a
// leading or dangling operator are reported by the evaluator.
func (l *Lexer) Tokenize() ([]Token, error) {
	for l.pos < len(l.input) {
		var err error
		switch l.state {
		case expectOperand:
			err = l.scanOperand()
		case expectOperator:
			err = l.scanOperator()
		}
		if err != nil {
			return nil, err
		}
	}
	return l.tokens, nil
}

// scanOperand reads an optionally signed number. When neither a sign nor a
// number body is present the character is handed to scanOperator, which
// yields an operator token (for "+5" or "5*/2") or an invalid-character error.
func (l *Lexer) scanOperand() error {
	start := l.pos
	if l.input[l.pos] == '-' {
		l.pos++
	}

	if err := l.readBody(); err != nil {
		return err
	}

	if l.pos == start {
		return l.scanOperator()
	}

	// A sign with no body ("5*-") still becomes a number token so the text
	// round-trips; it fails to parse during evaluation.
	l.emit(TokenNumber, start)
	l.state = expectOperator
	return nil
}

// scanOperator reads a single operator character.
func (l *Lexer) scanOperator() error {
	ch := l.input[l.pos]
	typ, ok := operatorType(ch)
	if !ok {
		r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
		return types.NewFormatError(fmt.Sprintf("invalid character %q in expression", r), l.pos)
	}
	l.pos++
	l.emit(typ, l.pos-1)
	l.state = expectOperand
	return nil
}

// readBody consumes a maximal run of digits containing at most one '.'.
func (l *Lexer) readBody() error {
	seenDecimal := false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch >= '0' && ch <= '9':
		case ch == '.':
			if seenDecimal {
				return types.NewFormatError("invalid number format: multiple decimal points", l.pos)
			}
			seenDecimal = true
		default:
			return nil
		}
		l.pos++
	}
	return nil
}

func (l *Lexer) emit(typ TokenType, start int) {
	l.tokens = append(l.tokens, Token{Type: typ, Value: l.input[start:l.pos], Pos: start})
}

// StripSpace removes every whitespace character from s.
func StripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
