// Package tape parses and replays calculator tapes: YAML files listing
// expressions or key sequences together with the results they must produce.
//
//	name: chaining
//	steps:
//	  - expr: "2+3*4"
//	    want: 20
//	  - keys: "12+3="
//	    display: "15"
//	  - expr: "5/0"
//	    error: ZeroDivisionError
package tape

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lemonberrylabs/calculator/pkg/types"
)

// MaxSteps is the maximum number of steps in one tape.
const MaxSteps = 1000

// MaxSourceSize is the maximum tape source size in bytes (128 KB).
const MaxSourceSize = 128 * 1024

// validKeys lists the characters a keys step may contain, besides whitespace.
const validKeys = "0123456789.+-*/%=Cc"

// Tape is a parsed tape.
type Tape struct {
	Name  string
	Path  string // source file, empty when parsed from memory
	Steps []*Step
}

// Step is one line of a tape. Exactly one of Expr and Keys is set.
type Step struct {
	Index int // zero-based position in the tape
	Line  int // line in the YAML source
	Name  string

	Expr string
	Keys string

	Want    *float64
	Display *string
	Error   string // expected error tag
}

// IsKeys reports whether the step drives the keypad.
func (s *Step) IsKeys() bool {
	return s.Keys != ""
}

// Input returns the step's expression or key sequence.
func (s *Step) Input() string {
	if s.IsKeys() {
		return s.Keys
	}
	return s.Expr
}

// Label names the step for reports.
func (s *Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("step %d", s.Index+1)
}

// ParseError represents an error encountered while parsing a tape.
type ParseError struct {
	Message  string
	Location string // e.g. "step 3 (line 12)"
}

func (e *ParseError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("parse error at %s: %s", e.Location, e.Message)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

// Parse parses a YAML tape.
func Parse(source []byte) (*Tape, error) {
	if len(source) > MaxSourceSize {
		return nil, &ParseError{Message: fmt.Sprintf("tape source size %d exceeds maximum %d bytes", len(source), MaxSourceSize)}
	}

	var raw yaml.Node
	if err := yaml.Unmarshal(source, &raw); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if raw.Kind != yaml.DocumentNode || len(raw.Content) == 0 {
		return nil, &ParseError{Message: "empty tape"}
	}

	root := raw.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &ParseError{Message: "tape must be a mapping"}
	}

	t := &Tape{}
	seenSteps := false
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		val := root.Content[i+1]

		switch key {
		case "name":
			if val.Kind != yaml.ScalarNode {
				return nil, &ParseError{Message: "name must be a string", Location: lineLoc(val)}
			}
			t.Name = val.Value
		case "steps":
			steps, err := parseSteps(val)
			if err != nil {
				return nil, err
			}
			t.Steps = steps
			seenSteps = true
		default:
			return nil, &ParseError{Message: fmt.Sprintf("unknown tape key '%s'", key), Location: lineLoc(root.Content[i])}
		}
	}

	if !seenSteps {
		return nil, &ParseError{Message: "tape has no steps"}
	}
	return t, nil
}

func parseSteps(node *yaml.Node) ([]*Step, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, &ParseError{Message: "steps must be a sequence", Location: lineLoc(node)}
	}
	if len(node.Content) > MaxSteps {
		return nil, &ParseError{Message: fmt.Sprintf("tape has %d steps, maximum is %d", len(node.Content), MaxSteps)}
	}

	steps := make([]*Step, 0, len(node.Content))
	for i, item := range node.Content {
		step, err := parseStep(i, item)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseStep(index int, node *yaml.Node) (*Step, error) {
	step := &Step{Index: index, Line: node.Line}
	loc := fmt.Sprintf("step %d (line %d)", index+1, node.Line)

	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{Message: "step must be a mapping", Location: loc}
	}

	hasExpr, hasKeys := false, false
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]

		if val.Kind != yaml.ScalarNode {
			return nil, &ParseError{Message: fmt.Sprintf("'%s' must be a scalar", key), Location: loc}
		}

		switch key {
		case "name":
			step.Name = val.Value
		case "expr":
			step.Expr = val.Value
			hasExpr = true
		case "keys":
			if err := checkKeys(val.Value); err != nil {
				return nil, &ParseError{Message: err.Error(), Location: loc}
			}
			step.Keys = val.Value
			hasKeys = true
		case "want":
			f, err := parseWant(val.Value)
			if err != nil {
				return nil, &ParseError{Message: err.Error(), Location: loc}
			}
			step.Want = &f
		case "display":
			d := val.Value
			step.Display = &d
		case "error":
			if !types.IsKnownTag(val.Value) {
				return nil, &ParseError{Message: fmt.Sprintf("unknown error kind '%s'", val.Value), Location: loc}
			}
			step.Error = val.Value
		default:
			return nil, &ParseError{Message: fmt.Sprintf("unknown step key '%s'", key), Location: loc}
		}
	}

	switch {
	case hasExpr && hasKeys:
		return nil, &ParseError{Message: "step must have only one of 'expr' and 'keys'", Location: loc}
	case !hasExpr && !hasKeys:
		return nil, &ParseError{Message: "step must have 'expr' or 'keys'", Location: loc}
	case hasKeys && step.Keys == "":
		return nil, &ParseError{Message: "'keys' must not be empty", Location: loc}
	}
	if step.Error != "" && step.Want != nil {
		return nil, &ParseError{Message: "step cannot expect both a result and an error", Location: loc}
	}
	return step, nil
}

func checkKeys(keys string) error {
	for _, r := range keys {
		if r == ' ' || r == '\t' {
			continue
		}
		if !strings.ContainsRune(validKeys, r) {
			return fmt.Errorf("invalid key %q", r)
		}
	}
	return nil
}

// parseWant accepts plain numbers and the display forms of infinity.
func parseWant(s string) (float64, error) {
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, fmt.Errorf("want must be a number, got '%s'", s)
	}
	return f, nil
}

func lineLoc(node *yaml.Node) string {
	return fmt.Sprintf("line %d", node.Line)
}
