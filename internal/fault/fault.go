// Package fault defines the three error kinds a deployment can end with. A
// ValidationError is raised while building facts, before the database is
// touched. A SchemaError is raised while applying a fact: the live schema lacks
// an object, holds an incompatible one, or (in locked mode) merely differs
// from the declaration. A ConnectionError wraps driver and network failures.
package fault

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

// Location pins a declaration to a line range of a fact document.
type Location struct {
	File      string `json:"file,omitempty"`
	FirstLine int    `json:"firstLine,omitempty"`
	LastLine  int    `json:"lastLine,omitempty"`
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.File == "" && l.FirstLine == 0
}

// String renders "file:first-last", collapsing single-line ranges.
func (l Location) String() string {
	if l.IsZero() {
		return ""
	}
	file := l.File
	if file == "" {
		file = "<input>"
	}
	switch {
	case l.FirstLine == 0:
		return file
	case l.LastLine <= l.FirstLine:
		return fmt.Sprintf("%s:%d", file, l.FirstLine)
	default:
		return fmt.Sprintf("%s:%d-%d", file, l.FirstLine, l.LastLine)
	}
}

// ValidationError reports a malformed fact document.
type ValidationError struct {
	Location Location
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Location.IsZero() {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Location, e.Message)
}

// Validationf returns a ValidationError at loc.
func Validationf(loc Location, format string, args ...any) error {
	return &ValidationError{Location: loc, Message: fmt.Sprintf(format, args...)}
}

// SchemaError reports a live schema that does not match, or cannot be made to
// match, a fact.
type SchemaError struct {
	Fact     string
	Message  string
	Expected string
	Actual   string
	Location Location
	Err      error
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	if !e.Location.IsZero() {
		b.WriteString(e.Location.String())
		b.WriteString(": ")
	}
	if e.Fact != "" {
		b.WriteString(e.Fact)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Expected != "" || e.Actual != "" {
		fmt.Fprintf(&b, " (expected %s, actual %s)", orNone(e.Expected), orNone(e.Actual))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Schemaf returns a SchemaError with a formatted message.
func Schemaf(format string, args ...any) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf(format, args...)}
}

// Drift returns the SchemaError raised in locked mode when the live schema
// differs from the declaration.
func Drift(what, expected, actual string) *SchemaError {
	return &SchemaError{Message: what, Expected: expected, Actual: actual}
}

// ConnectionError wraps a failure of the connection itself.
type ConnectionError struct {
	Err      error
	Location Location
}

func (e *ConnectionError) Error() string {
	if e.Location.IsZero() {
		return fmt.Sprintf("connection: %v", e.Err)
	}
	return fmt.Sprintf("%s: connection: %v", e.Location, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Attach fills the fact description and location of the typed error found in
// err's chain when they are still unset. It returns err unchanged.
func Attach(err error, fact string, loc Location) error {
	if se, ok := AsSchema(err); ok {
		if se.Fact == "" {
			se.Fact = fact
		}
		if se.Location.IsZero() {
			se.Location = loc
		}
		return err
	}
	if ce, ok := AsConnection(err); ok && ce.Location.IsZero() {
		ce.Location = loc
	}
	return err
}

// AsValidation returns the ValidationError in err's chain.
func AsValidation(err error) (*ValidationError, bool) {
	var target *ValidationError
	ok := errors.As(err, &target)
	return target, ok
}

// AsSchema returns the SchemaError in err's chain.
func AsSchema(err error) (*SchemaError, bool) {
	var target *SchemaError
	ok := errors.As(err, &target)
	return target, ok
}

// AsConnection returns the ConnectionError in err's chain.
func AsConnection(err error) (*ConnectionError, bool) {
	var target *ConnectionError
	ok := errors.As(err, &target)
	return target, ok
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
