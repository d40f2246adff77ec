// Package keypad implements the calculator's display and input controller: the
// running-total state machine that sits between key presses and the
// expression engine. Every front end (TUI, web UI, HTTP and gRPC sessions,
// tapes) drives a Calculator; the engine itself stays stateless.
package keypad

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/lemonberrylabs/calculator/pkg/expr"
	"github.com/lemonberrylabs/calculator/pkg/types"
)

// Key is a single calculator button.
type Key rune

// Non-digit keys.
const (
	KeyDecimal  Key = '.'
	KeyPlus     Key = '+'
	KeyMinus    Key = '-'
	KeyMultiply Key = '*'
	KeyDivide   Key = '/'
	KeyPercent  Key = '%'
	KeyEquals   Key = '='
	KeyClear    Key = 'C'
)

// DefaultMaxDigits is the number of digits a single number entry may hold.
const DefaultMaxDigits = 15

// Display texts shown after a failed operation.
const (
	DisplayInvalid   = "NaN"
	DisplayDivByZero = "NaN: Div By Zero"
)

// Recorder receives every evaluation the calculator performs.
type Recorder interface {
	Record(expression string, result float64, err error)
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithMaxDigits limits how many digits one number entry may hold.
func WithMaxDigits(n int) Option {
	return func(c *Calculator) {
		if n > 0 {
			c.maxDigits = n
		}
	}
}

// WithRecorder reports evaluations to r.
func WithRecorder(r Recorder) Option {
	return func(c *Calculator) {
		c.recorder = r
	}
}

// Calculator is a single calculator instance. It is not safe for concurrent
// use; callers that share one across goroutines must serialize access.
type Calculator struct {
	display   string
	newNumber bool    // next digit starts a fresh number
	total     float64 // running total
	pending   string  // operator waiting for its right operand

	maxDigits int
	recorder  Recorder
}

// State is a copyable snapshot of a Calculator.
type State struct {
	Display   string       `json:"display"`
	Total     types.Number `json:"total"`
	Operator  string       `json:"operator,omitempty"`
	NewNumber bool         `json:"newNumber"`
	Error     bool         `json:"error,omitempty"`
}

// New creates a cleared calculator showing "0".
func New(opts ...Option) *Calculator {
	c := &Calculator{maxDigits: DefaultMaxDigits}
	for _, opt := range opts {
		opt(c)
	}
	c.clear()
	return c
}

// Restore rebuilds a calculator from a snapshot. A pending operator other
// than + - * / is dropped.
func Restore(s State, opts ...Option) *Calculator {
	c := New(opts...)
	c.display = s.Display
	c.total = float64(s.Total)
	if len(s.Operator) == 1 && isOperator(Key(s.Operator[0])) {
		c.pending = s.Operator
	}
	c.newNumber = s.NewNumber
	return c
}

// Snapshot returns the current state.
func (c *Calculator) Snapshot() State {
	return State{
		Display:   c.display,
		Total:     types.Number(c.total),
		Operator:  c.pending,
		NewNumber: c.newNumber,
		Error:     c.IsError(),
	}
}

// Display returns the text currently shown.
func (c *Calculator) Display() string {
	return c.display
}

// IsError reports whether the display shows an error message.
func (c *Calculator) IsError() bool {
	return c.display == DisplayInvalid || c.display == DisplayDivByZero
}

// Press handles a single key.
func (c *Calculator) Press(k Key) error {
	switch {
	case k >= '0' && k <= '9', k == KeyDecimal:
		c.enter(k)
	case isOperator(k):
		c.newNumber = false
		c.applyOperator(string(k))
	case k == KeyPercent:
		c.newNumber = false
		c.percent()
	case k == KeyEquals:
		c.equals()
	case k == KeyClear || k == 'c':
		c.clear()
	default:
		return fmt.Errorf("unknown key %q", rune(k))
	}
	return nil
}

// PressAll presses each key in keys in order, ignoring whitespace. It stops
// at the first unknown key.
func (c *Calculator) PressAll(keys string) error {
	for _, r := range keys {
		if unicode.IsSpace(r) {
			continue
		}
		if err := c.Press(Key(r)); err != nil {
			return err
		}
	}
	return nil
}

// enter appends a digit or decimal point to the number being typed.
func (c *Calculator) enter(k Key) {
	if c.newNumber {
		c.display = ""
		c.newNumber = false
	}

	current := currentNumber(c.display)
	if k != KeyDecimal && countDigits(current) >= c.maxDigits {
		return
	}
	if k == KeyDecimal && strings.ContainsRune(current, '.') {
		return
	}
	c.display += string(k)
}

func (c *Calculator) applyOperator(op string) {
	current, ok := c.parseDisplay()
	if !ok {
		c.display = DisplayInvalid
		c.newNumber = true
		return
	}

	if c.pending != "" {
		if !c.evaluate(current) {
			c.pending = ""
			c.newNumber = true
			return
		}
	} else {
		c.total = current
	}

	c.pending = op
	c.newNumber = true
}

// percent divides the displayed number by 100 without involving the engine.
func (c *Calculator) percent() {
	current, ok := c.parseDisplay()
	if !ok {
		c.display = DisplayInvalid
		c.newNumber = true
		return
	}
	c.display = types.FormatNumber(current / 100)
	c.newNumber = true
}

func (c *Calculator) equals() {
	current, ok := c.parseDisplay()
	if !ok {
		c.display = DisplayInvalid
		c.newNumber = true
		return
	}
	if c.pending == "" {
		return
	}
	c.evaluate(current)
	c.pending = ""
	c.newNumber = true
}

func (c *Calculator) clear() {
	c.display = "0"
	c.total = 0
	c.pending = ""
	c.newNumber = true
}

// evaluate applies the pending operator to the running total and current,
// updating the total and display. It reports whether evaluation succeeded.
func (c *Calculator) evaluate(current float64) bool {
	expression := types.FormatOperand(c.total) + c.pending + types.FormatOperand(current)
	result, err := expr.Evaluate(expression)
	if c.recorder != nil {
		c.recorder.Record(expression, result, err)
	}

	if err != nil {
		if errors.Is(err, types.ErrDivisionByZero) {
			c.display = DisplayDivByZero
		} else {
			c.display = DisplayInvalid
		}
		return false
	}

	c.total = result
	c.display = types.FormatNumber(result)
	return true
}

// parseDisplay parses the display text as a number. Error messages and NaN
// do not count as numbers.
func (c *Calculator) parseDisplay() (float64, bool) {
	if c.IsError() {
		return 0, false
	}
	f, err := strconv.ParseFloat(c.display, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// currentNumber returns the trailing part of text after the last operator
// character.
func currentNumber(text string) string {
	i := strings.LastIndexAny(text, "+-*/")
	return text[i+1:]
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func isOperator(k Key) bool {
	return k == KeyPlus || k == KeyMinus || k == KeyMultiply || k == KeyDivide
}
