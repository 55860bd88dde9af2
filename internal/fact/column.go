package fact

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/schema"

	"factum/internal/dialect/postgres"
	"factum/internal/document"
	"factum/internal/fault"
	"factum/internal/model"
)

// Column declares a plain column.
type Column struct {
	base
	common
	Table    string
	Label    string
	Type     model.TypeSpec
	Required bool
	Default  *string
	Unique   bool
}

func (f *Column) Kind() Kind       { return KindColumn }
func (f *Column) Describe() string { return "column " + f.Table + "." + f.Label }

var columnFields = withPresence(schema.Fields{
	"column":   schema.String(),
	"type":     stringOrList,
	"required": schema.Bool(),
	"default":  schema.Any(),
	"unique":   schema.Bool(),
})

func (b *Builder) buildColumn(rec document.Record) (Fact, error) {
	m, err := coerce(rec, KindColumn, columnFields)
	if err != nil {
		return nil, err
	}
	table, label, err := splitRef(rec.Location, KindColumn, str(m, "column"))
	if err != nil {
		return nil, err
	}
	f := &Column{
		base:     base{rec.Location},
		Table:    table,
		Label:    label,
		Required: flag(m, "required"),
		Unique:   flag(m, "unique"),
	}
	if f.common, err = b.readCommon(m, rec.Location, f.Describe(), "type", "required", "default", "unique"); err != nil {
		return nil, err
	}
	if f.Type, err = typeSpec(m["type"]); err != nil {
		return nil, fault.Validationf(rec.Location, "%s: %v", f.Describe(), err)
	}
	if f.Default, err = scalarText(m["default"]); err != nil {
		return nil, fault.Validationf(rec.Location, "%s: default: %v", f.Describe(), err)
	}
	return f, nil
}

// typeSpec reads a type clause: a scalar type name, or a list of labels
// backed by an enumeration. A missing clause means text.
func typeSpec(v any) (model.TypeSpec, error) {
	switch v := v.(type) {
	case nil:
		return model.Scalar("text"), nil
	case string:
		if v == "" {
			return model.TypeSpec{}, errors.NotValidf("empty type")
		}
		if base, ok := postgres.SerialBase(v); ok {
			return model.TypeSpec{}, errors.Errorf("type %q is expanded by the server; declare %s with an offset key generator", v, base)
		}
		return model.Scalar(v), nil
	case []any:
		if len(v) == 0 {
			return model.TypeSpec{}, errors.NotValidf("empty label list")
		}
		labels := make([]string, len(v))
		seen := make(map[string]bool)
		for i, l := range v {
			labels[i] = l.(string)
			if seen[labels[i]] {
				return model.TypeSpec{}, errors.NotValidf("repeated label %q", labels[i])
			}
			seen[labels[i]] = true
		}
		return model.Enum(labels...), nil
	}
	return model.TypeSpec{}, errors.NotValidf("type %T", v)
}

// Apply implements Fact.
func (f *Column) Apply(ctx context.Context, reg *model.Registry) error {
	t, err := findTable(ctx, reg, f.Table, f.Present)
	if t == nil {
		return err
	}
	c := t.FindColumn(f.Label, f.Was...)
	if !f.Present {
		if c == nil {
			return nil
		}
		return errors.Trace(c.Erase(ctx))
	}
	spec := model.ColumnSpec{
		Label:    f.Label,
		Title:    f.Title,
		Name:     f.Name,
		Type:     f.Type,
		Required: f.Required,
		Default:  f.Default,
		Unique:   f.Unique,
	}
	if c == nil {
		if t.FindLink(f.Label) != nil || t.FindAlias(f.Label) != nil {
			return fault.Schemaf("%q of table %q is not a plain column", f.Label, f.Table)
		}
		_, err := t.CreateColumn(ctx, spec)
		return errors.Trace(err)
	}
	return errors.Trace(c.Reconcile(ctx, spec))
}

// Alias declares a stored generated column.
type Alias struct {
	base
	common
	Table   string
	Label   string
	Type    string
	Formula string
}

func (f *Alias) Kind() Kind       { return KindAlias }
func (f *Alias) Describe() string { return "alias " + f.Table + "." + f.Label }

var aliasFields = withPresence(schema.Fields{
	"alias":   schema.String(),
	"formula": schema.String(),
	"type":    schema.String(),
})

func (b *Builder) buildAlias(rec document.Record) (Fact, error) {
	m, err := coerce(rec, KindAlias, aliasFields)
	if err != nil {
		return nil, err
	}
	table, label, err := splitRef(rec.Location, KindAlias, str(m, "alias"))
	if err != nil {
		return nil, err
	}
	f := &Alias{base: base{rec.Location}, Table: table, Label: label, Formula: str(m, "formula")}
	if f.common, err = b.readCommon(m, rec.Location, f.Describe(), "formula", "type"); err != nil {
		return nil, err
	}
	if f.Present && f.Formula == "" {
		return nil, fault.Validationf(rec.Location, "%s: formula is required", f.Describe())
	}
	typ, err := typeSpec(m["type"])
	if err != nil || typ.IsEnum() {
		return nil, fault.Validationf(rec.Location, "%s: type must be a scalar type", f.Describe())
	}
	f.Type = typ.Scalar
	return f, nil
}

// Apply implements Fact.
func (f *Alias) Apply(ctx context.Context, reg *model.Registry) error {
	t, err := findTable(ctx, reg, f.Table, f.Present)
	if t == nil {
		return err
	}
	c := t.FindAlias(f.Label, f.Was...)
	if !f.Present {
		if c == nil {
			return nil
		}
		return errors.Trace(c.Erase(ctx))
	}
	spec := model.AliasSpec{Label: f.Label, Title: f.Title, Name: f.Name, Type: f.Type, Formula: f.Formula}
	if c == nil {
		if t.FindColumn(f.Label) != nil || t.FindLink(f.Label) != nil {
			return fault.Schemaf("%q of table %q is not an alias", f.Label, f.Table)
		}
		_, err := t.CreateAlias(ctx, spec)
		return errors.Trace(err)
	}
	return errors.Trace(c.ReconcileAlias(ctx, spec))
}
