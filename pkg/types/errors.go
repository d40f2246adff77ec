package types

import (
	"errors"
	"fmt"
	"strings"
)

// Error tag constants. Callers branch on these rather than on messages.
const (
	TagFormatError       = "FormatError"
	TagZeroDivisionError = "ZeroDivisionError"
	TagInternalError     = "InternalError"
)

// Sentinel errors for use with errors.Is.
var (
	ErrFormat         = errors.New("format error")
	ErrDivisionByZero = errors.New("division by zero")
)

// CalcError is an evaluation failure carrying a message, tags and, when known,
// the position in the whitespace-stripped expression where it was detected.
type CalcError struct {
	Message string
	Tags    []string
	Pos     int // -1 when the error is not tied to a position
}

// Error implements the error interface.
func (e *CalcError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("%s at position %d (tags=[%s])", e.Message, e.Pos, strings.Join(e.Tags, ", "))
	}
	return fmt.Sprintf("%s (tags=[%s])", e.Message, strings.Join(e.Tags, ", "))
}

// Is lets errors.Is match CalcError values against ErrFormat and ErrDivisionByZero.
func (e *CalcError) Is(target error) bool {
	switch target {
	case ErrFormat:
		return e.HasTag(TagFormatError)
	case ErrDivisionByZero:
		return e.HasTag(TagZeroDivisionError)
	}
	return false
}

// HasTag returns true if the error has the specified tag.
func (e *CalcError) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Kind returns the primary tag of err: TagFormatError, TagZeroDivisionError,
// TagInternalError for errors not produced by the engine, or "" for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var ce *CalcError
	if errors.As(err, &ce) && len(ce.Tags) > 0 {
		return ce.Tags[0]
	}
	return TagInternalError
}

// IsKnownTag reports whether tag names one of the engine's error kinds.
func IsKnownTag(tag string) bool {
	return tag == TagFormatError || tag == TagZeroDivisionError
}

// NewFormatError creates a FormatError. pos is -1 when not applicable.
func NewFormatError(msg string, pos int) *CalcError {
	return &CalcError{Message: msg, Tags: []string{TagFormatError}, Pos: pos}
}

// NewZeroDivisionError creates a ZeroDivisionError.
func NewZeroDivisionError(pos int) *CalcError {
	return &CalcError{Message: "division by zero", Tags: []string{TagZeroDivisionError}, Pos: pos}
}
