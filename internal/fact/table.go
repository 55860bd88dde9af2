package fact

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/schema"

	"factum/internal/document"
	"factum/internal/fault"
	"factum/internal/model"
)

// Table declares a table. Children are column, link and alias facts nested
// under its columns clause, applied right after the table.
type Table struct {
	base
	common
	Label    string
	Children []Fact
}

func (f *Table) Kind() Kind       { return KindTable }
func (f *Table) Describe() string { return "table " + f.Label }

var tableFields = withPresence(schema.Fields{
	"table":   schema.String(),
	"columns": schema.List(schema.StringMap(schema.Any())),
})

// childKinds may be nested under a table's columns clause.
var childKinds = []Kind{KindColumn, KindLink, KindAlias}

func (b *Builder) buildTable(rec document.Record, dir string) (Fact, error) {
	m, err := coerce(rec, KindTable, tableFields)
	if err != nil {
		return nil, err
	}
	f := &Table{base: base{rec.Location}, Label: str(m, "table")}
	if f.Label == "" {
		return nil, fault.Validationf(rec.Location, "table: empty label")
	}
	if f.common, err = b.readCommon(m, rec.Location, f.Describe(), "columns"); err != nil {
		return nil, err
	}

	items, _ := m["columns"].([]any)
	for i, item := range items {
		loc := rec.Location
		if locs := rec.Entries["columns"]; i < len(locs) {
			loc = locs[i]
		}
		fields := item.(map[string]any)
		child := make(map[string]any, len(fields))
		var kind Kind
		for k, v := range fields {
			child[k] = v
			for _, ck := range childKinds {
				if k == string(ck) {
					kind = ck
				}
			}
		}
		if kind == "" {
			return nil, fault.Validationf(loc, "table %s: entry %d of columns is not a column, link or alias", f.Label, i+1)
		}
		label, ok := child[string(kind)].(string)
		if !ok {
			return nil, fault.Validationf(loc, "table %s: entry %d of columns has no label", f.Label, i+1)
		}
		child[string(kind)] = f.Label + "." + label
		c, err := b.Build(document.Record{Fields: child, Location: loc}, dir)
		if err != nil {
			return nil, err
		}
		f.Children = append(f.Children, c)
	}
	return f, nil
}

// Apply implements Fact.
func (f *Table) Apply(ctx context.Context, reg *model.Registry) error {
	t, err := reg.FindTable(ctx, f.Label, f.Was...)
	if err != nil {
		return errors.Trace(err)
	}
	if !f.Present {
		if t == nil {
			return nil
		}
		return errors.Trace(t.Erase(ctx))
	}
	spec := model.TableSpec{Label: f.Label, Title: f.Title, Name: f.Name}
	if t == nil {
		if _, err := reg.CreateTable(ctx, spec); err != nil {
			return errors.Trace(err)
		}
	} else if err := t.Reconcile(ctx, spec); err != nil {
		return errors.Trace(err)
	}
	return ApplyAll(ctx, reg, f.Children, nil)
}
