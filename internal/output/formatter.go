// Package output provides a set of formatters for deployment reports: the
// audit log of a run, its mode and the error it ended with. It is extendable
// and for now provides three formats: SQL, JSON and a summary.
package output

import (
	"strings"

	"github.com/juju/errors"

	"factum/internal/driver"
	"factum/internal/fault"
)

// Format is an enum type representing the available output formats.
type Format string

const (
	FormatSQL     Format = "sql"
	FormatJSON    Format = "json"
	FormatSummary Format = "summary"
)

// Mode names how a run treated its transaction.
type Mode string

const (
	ModeDeploy Mode = "deploy"
	ModeDryRun Mode = "dry-run"
	ModeCheck  Mode = "check"
)

// Report describes one deployment run.
type Report struct {
	Mode    Mode
	Entries []driver.Entry
	// Err is the error the run ended with, if any.
	Err error
}

// Formatter is an interface for formatting deployment reports.
type Formatter interface {
	FormatReport(*Report) (string, error)
}

// NewFormatter creates a new Formatter instance based on the given name.
// If no format is specified, defaults to SQL format.
func NewFormatter(name string) (Formatter, error) {
	format := Format(strings.ToLower(strings.TrimSpace(name)))
	switch format {
	case "", FormatSQL:
		return sqlFormatter{}, nil
	case FormatJSON:
		return jsonFormatter{}, nil
	case FormatSummary:
		return summaryFormatter{}, nil
	default:
		return nil, errors.NotSupportedf("format %q; use 'sql', 'json', or 'summary'", name)
	}
}

// Failure is the structured form of a run's error.
type Failure struct {
	Kind     string         `json:"kind"`
	Message  string         `json:"message"`
	Fact     string         `json:"fact,omitempty"`
	Expected string         `json:"expected,omitempty"`
	Actual   string         `json:"actual,omitempty"`
	Location fault.Location `json:"location,omitzero"`
}

// Describe classifies err. It returns nil for a nil error.
func Describe(err error) *Failure {
	if err == nil {
		return nil
	}
	f := &Failure{Kind: "error", Message: err.Error()}
	if v, ok := fault.AsValidation(err); ok {
		f.Kind = "validation"
		f.Location = v.Location
		return f
	}
	if se, ok := fault.AsSchema(err); ok {
		f.Kind = "schema"
		f.Fact = se.Fact
		f.Expected = se.Expected
		f.Actual = se.Actual
		f.Location = se.Location
		return f
	}
	if ce, ok := fault.AsConnection(err); ok {
		f.Kind = "connection"
		f.Location = ce.Location
	}
	return f
}

func normalizeStatement(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if stmt != "" && !strings.HasSuffix(stmt, ";") {
		stmt += ";"
	}
	return stmt
}

func countDestructive(entries []driver.Entry) int {
	n := 0
	for _, e := range entries {
		if e.Destructive() {
			n++
		}
	}
	return n
}

// factCounts returns the declarations that caused statements, in order of
// first appearance, and the number of statements each caused.
func factCounts(entries []driver.Entry) ([]string, map[string]int) {
	var order []string
	counts := make(map[string]int)
	for _, e := range entries {
		name := e.Fact
		if name == "" {
			name = "(none)"
		}
		if _, ok := counts[name]; !ok {
			order = append(order, name)
		}
		counts[name]++
	}
	return order, counts
}
