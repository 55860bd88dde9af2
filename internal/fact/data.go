package fact

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/schema"

	"factum/internal/document"
	"factum/internal/fault"
	"factum/internal/model"
)

// Data declares rows of a table, matched by identity.
type Data struct {
	base
	Table     string
	Rows      []model.Row
	Exclusive bool
}

func (f *Data) Kind() Kind       { return KindData }
func (f *Data) Describe() string { return "data " + f.Table }

var dataFields = schema.Fields{
	"data":      schema.String(),
	"rows":      schema.List(schema.StringMap(schema.Any())),
	"exclusive": schema.Bool(),
}

func (b *Builder) buildData(rec document.Record) (Fact, error) {
	m, err := coerce(rec, KindData, dataFields)
	if err != nil {
		return nil, err
	}
	f := &Data{base: base{rec.Location}, Table: str(m, "data"), Exclusive: flag(m, "exclusive")}
	if f.Table == "" {
		return nil, fault.Validationf(rec.Location, "data: empty table label")
	}
	items, _ := m["rows"].([]any)
	for i, item := range items {
		row := make(model.Row)
		for label, v := range item.(map[string]any) {
			value, err := rowValue(v)
			if err != nil {
				return nil, fault.Validationf(rec.Location, "%s: row %d: %s: %v", f.Describe(), i+1, label, err)
			}
			row[label] = value
		}
		if len(row) == 0 {
			return nil, fault.Validationf(rec.Location, "%s: row %d is empty", f.Describe(), i+1)
		}
		f.Rows = append(f.Rows, row)
	}
	return f, nil
}

// rowValue reads a scalar, or a list of scalars for a link spanning several
// columns.
func rowValue(v any) (model.Value, error) {
	items, ok := v.([]any)
	if !ok {
		items = []any{v}
	}
	out := make(model.Value, len(items))
	for i, item := range items {
		text, err := scalarText(item)
		if err != nil {
			return nil, err
		}
		out[i] = text
	}
	return out, nil
}

// Apply implements Fact.
func (f *Data) Apply(ctx context.Context, reg *model.Registry) error {
	t, err := findTable(ctx, reg, f.Table, true)
	if err != nil {
		return err
	}
	return errors.Trace(t.SyncRows(ctx, f.Rows, f.Exclusive))
}
