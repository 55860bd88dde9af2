package fact

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/schema"

	"factum/internal/document"
	"factum/internal/fault"
	"factum/internal/introspect"
	"factum/internal/model"
)

// Raw runs a statement unless its guard query already holds.
type Raw struct {
	base
	SQL    string
	Unless string
}

func (f *Raw) Kind() Kind { return KindRaw }

func (f *Raw) Describe() string {
	line, _, _ := strings.Cut(strings.TrimSpace(f.SQL), "\n")
	if len(line) > 40 {
		line = line[:40] + "..."
	}
	return "sql " + line
}

var rawFields = schema.Fields{
	"sql":    schema.String(),
	"unless": schema.String(),
}

func (b *Builder) buildRaw(rec document.Record, dir string) (Fact, error) {
	m, err := coerce(rec, KindRaw, rawFields)
	if err != nil {
		return nil, err
	}
	f := &Raw{base: base{rec.Location}}
	if f.SQL, err = b.statement(str(m, "sql"), dir); err != nil {
		return nil, fault.Validationf(rec.Location, "sql: %v", err)
	}
	if _, ok := m["unless"]; !ok {
		return nil, fault.Validationf(rec.Location, "%s: unless is required", f.Describe())
	}
	if f.Unless, err = b.statement(str(m, "unless"), dir); err != nil {
		return nil, fault.Validationf(rec.Location, "unless: %v", err)
	}
	return f, nil
}

// statement returns the clause text, reading it from a file relative to dir
// when it names a .sql file.
func (b *Builder) statement(v, dir string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errors.NotValidf("empty statement")
	}
	if !strings.HasSuffix(v, ".sql") || strings.ContainsAny(v, " \n") {
		return v, nil
	}
	path := v
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	data, err := b.loader.ReadFile(path)
	if err != nil {
		return "", errors.Trace(err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Apply implements Fact.
func (f *Raw) Apply(ctx context.Context, reg *model.Registry) error {
	drv := reg.Driver()
	holds, err := f.guard(ctx, reg)
	if err != nil || holds {
		return err
	}
	if drv.Locked() {
		return fault.Drift("guarded statement has not run", "guard holds", "guard fails")
	}
	if err := drv.Submit(ctx, f.SQL); err != nil {
		return errors.Trace(err)
	}
	drv.Invalidate()
	if holds, err = f.guard(ctx, reg); err != nil {
		return err
	}
	if !holds {
		return &fault.SchemaError{Message: "guard still fails after the statement ran", Expected: "guard holds", Actual: "guard fails"}
	}
	return nil
}

// guard reports whether the first column of the guard's first row is
// truthy.
func (f *Raw) guard(ctx context.Context, reg *model.Registry) (bool, error) {
	rows, err := reg.Driver().Query(ctx, f.Unless)
	if err != nil {
		return false, errors.Annotate(err, "running guard")
	}
	defer rows.Close()
	if !rows.Next() {
		return false, errors.Trace(rows.Err())
	}
	values := make([]any, columnCount(rows))
	dest := make([]any, len(values))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return false, errors.Annotate(err, "reading guard")
	}
	return truthy(values[0]), nil
}

func columnCount(rows introspect.Rows) int {
	if c, ok := rows.(interface{ Columns() ([]string, error) }); ok {
		if names, err := c.Columns(); err == nil && len(names) > 0 {
			return len(names)
		}
	}
	return 1
}

var falsy = map[string]bool{"": true, "0": true, "f": true, "false": true, "no": true, "off": true}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case []byte:
		return !falsy[strings.ToLower(strings.TrimSpace(string(v)))]
	case string:
		return !falsy[strings.ToLower(strings.TrimSpace(v))]
	}
	return !falsy[strings.ToLower(fmt.Sprint(v))]
}
