package fact

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/schema"

	"factum/internal/document"
	"factum/internal/fault"
	"factum/internal/model"
)

// Link declares a foreign key from Table to the identity of Target.
type Link struct {
	base
	common
	Table    string
	Label    string
	Target   string
	Required bool
	Cascade  bool
}

func (f *Link) Kind() Kind       { return KindLink }
func (f *Link) Describe() string { return "link " + f.Table + "." + f.Label }

var linkFields = withPresence(schema.Fields{
	"link":     schema.String(),
	"to":       schema.String(),
	"required": schema.Bool(),
	"cascade":  schema.Bool(),
})

func (b *Builder) buildLink(rec document.Record) (Fact, error) {
	m, err := coerce(rec, KindLink, linkFields)
	if err != nil {
		return nil, err
	}
	table, label, err := splitRef(rec.Location, KindLink, str(m, "link"))
	if err != nil {
		return nil, err
	}
	f := &Link{
		base:     base{rec.Location},
		Table:    table,
		Label:    label,
		Target:   str(m, "to"),
		Required: flag(m, "required"),
		Cascade:  flag(m, "cascade"),
	}
	if f.common, err = b.readCommon(m, rec.Location, f.Describe(), "to", "required", "cascade"); err != nil {
		return nil, err
	}
	if !f.Present {
		return f, nil
	}
	if f.Target == "" {
		return nil, fault.Validationf(rec.Location, "%s: to is required", f.Describe())
	}
	if f.Required && f.Target == f.Table {
		return nil, fault.Validationf(rec.Location, "%s: a required link cannot refer to its own table", f.Describe())
	}
	return f, nil
}

// Apply implements Fact.
func (f *Link) Apply(ctx context.Context, reg *model.Registry) error {
	t, err := findTable(ctx, reg, f.Table, f.Present)
	if t == nil {
		return err
	}
	l := t.FindLink(f.Label, f.Was...)
	if !f.Present {
		if l == nil {
			return nil
		}
		return errors.Trace(l.Erase(ctx))
	}
	target, err := findTable(ctx, reg, f.Target, true)
	if err != nil {
		return err
	}
	spec := model.LinkSpec{
		Label:    f.Label,
		Title:    f.Title,
		Name:     f.Name,
		Target:   target,
		Required: f.Required,
		Cascade:  f.Cascade,
	}
	if l == nil {
		if t.FindColumn(f.Label) != nil || t.FindAlias(f.Label) != nil {
			return fault.Schemaf("%q of table %q is not a link", f.Label, f.Table)
		}
		_, err := t.CreateLink(ctx, spec)
		return errors.Trace(err)
	}
	return errors.Trace(l.Reconcile(ctx, spec))
}
