package model

import (
	"context"
	"fmt"

	"github.com/juju/errors"

	"factum/internal/core"
	"factum/internal/dialect/postgres"
	"factum/internal/fault"
)

// LinkSpec is the declared state of a link.
type LinkSpec struct {
	Label    string
	Title    string
	Name     string
	Target   *Table
	Required bool
	// Cascade deletes rows whose target row is deleted.
	Cascade bool
}

// onDelete maps a link declaration to the foreign key action: cascading
// links cascade, optional links fall back to their default, required links
// block the delete.
func onDelete(required, cascade bool) core.Action {
	switch {
	case cascade:
		return core.ActionCascade
	case required:
		return core.ActionNoAction
	default:
		return core.ActionSetDefault
	}
}

// Link is the model of a foreign key and the columns it covers.
type Link struct {
	reg   *Registry
	image *core.Constraint
}

// Image returns the backing foreign key.
func (l *Link) Image() *core.Constraint { return l.image }

// Name returns the constraint name.
func (l *Link) Name() string { return l.image.Name }

// Table returns the owning table.
func (l *Link) Table() *Table { return l.reg.table(l.image.Table()) }

// Target returns the referenced table.
func (l *Link) Target() *Table { return l.reg.table(l.image.Target) }

// Columns returns the origin columns.
func (l *Link) Columns() []*core.Column { return l.image.Columns }

// Meta returns the metadata stored in the constraint comment. A link of
// unknown origin is labelled after its single column.
func (l *Link) Meta() Meta {
	name := l.image.Name
	if len(l.image.Columns) == 1 {
		name = l.image.Columns[0].Name
	}
	return DecodeMeta(l.image.Comment, name)
}

// Label returns the declared label.
func (l *Link) Label() string { return l.Meta().Label }

// Required reports whether every origin column is not null.
func (l *Link) Required() bool {
	for _, c := range l.image.Columns {
		if !c.NotNull {
			return false
		}
	}
	return len(l.image.Columns) > 0
}

// Cascade reports whether deletes cascade along the link.
func (l *Link) Cascade() bool { return l.image.OnDelete == core.ActionCascade }

// IdentityMember reports whether the link is part of its table's identity.
func (l *Link) IdentityMember() bool {
	t := l.image.Table()
	if t == nil {
		return false
	}
	pk := t.PrimaryKey()
	if pk == nil {
		return false
	}
	for _, c := range l.image.Columns {
		if !pk.Covers(c) {
			return false
		}
	}
	return len(l.image.Columns) > 0
}

func (l *Link) describe() string {
	return describeLink(l.Target().Label(), l.Required(), l.Cascade())
}

func describeLink(target string, required, cascade bool) string {
	s := "link to " + target
	if required {
		s += " required"
	}
	if cascade {
		s += " cascade"
	}
	return s
}

// linkColumns returns the origin column names a link to target needs and
// the target identity columns they reference. A single-column identity gives
// a column named after the link; wider identities give one column per
// member.
func (t *Table) linkColumns(label, explicit string, target *Table) ([]string, []*core.Column, error) {
	id := target.Identity()
	if id == nil {
		return nil, nil, fault.Schemaf("table %q has no identity to link to", target.Label())
	}
	r := t.reg
	members := id.image.Columns
	if len(members) == 1 {
		return []string{r.physicalName(label, explicit)}, members, nil
	}
	base := label
	if explicit != "" {
		base = explicit
	}
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = r.mangler().Name(base, m.Name)
	}
	return names, members, nil
}

// CreateLink adds the link's columns and foreign key.
func (t *Table) CreateLink(ctx context.Context, spec LinkSpec) (*Link, error) {
	p, err := t.createLinkPlan(spec, nil)
	if err != nil {
		return nil, err
	}
	if err := t.reg.Execute(ctx, p); err != nil {
		return nil, errors.Trace(err)
	}
	return t.FindLink(spec.Label), nil
}

// createLinkPlan plans a new link. Columns of replacing are about to be
// dropped and do not count as taken names.
func (t *Table) createLinkPlan(spec LinkSpec, replacing *core.Constraint) (*Plan, error) {
	r := t.reg
	if spec.Target == nil {
		return nil, fault.Schemaf("link %q of table %q has no target", spec.Label, t.Label())
	}
	if spec.Required && spec.Target.image == t.image {
		return nil, fault.Schemaf("required link %q of table %q refers to its own table", spec.Label, t.Label())
	}
	names, targetCols, err := t.linkColumns(spec.Label, spec.Name, spec.Target)
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		if c := t.image.Column(n); c != nil && (replacing == nil || !replacing.Covers(c)) {
			return nil, fault.Schemaf("column name %q is taken in table %q", n, t.Label())
		}
	}

	p := newPlan(fmt.Sprintf("link %q of table %q is missing", spec.Label, t.Label()),
		describeLink(spec.Target.Label(), spec.Required, spec.Cascade), "")
	p.main("add link "+spec.Label, func(ctx context.Context) error {
		g := r.gen()
		cols := make([]*core.Column, len(names))
		for i, n := range names {
			ref := targetCols[i].Type
			colDef := postgres.ColumnDef{Name: n, Type: ref, NotNull: spec.Required}
			if err := r.exec(ctx, g.AddColumn(t.Name(), colDef), func() (err error) {
				cols[i], err = t.image.AddColumn(n, ref, spec.Required, nil)
				return err
			}); err != nil {
				return err
			}
		}
		key := savedKey{
			table:         t.image,
			name:          r.linkName(t.Name(), spec.Label, spec.Target.Name()),
			columns:       names,
			target:        spec.Target.image,
			targetColumns: core.Names(targetCols),
			onDelete:      onDelete(spec.Required, spec.Cascade),
			comment:       Meta{Label: spec.Label, Title: spec.Title}.Encode(),
		}
		return key.add(ctx, r)
	})
	return p, nil
}

// Reconcile brings the link to spec. A link that changes target is
// re-created; identity members cannot change target.
func (l *Link) Reconcile(ctx context.Context, spec LinkSpec) error {
	r := l.reg
	t := l.Table()
	p := newPlan(fmt.Sprintf("link %q of table %q differs", spec.Label, t.Label()),
		describeLink(spec.Target.Label(), spec.Required, spec.Cascade), l.describe())

	if spec.Target.image != l.image.Target {
		if l.IdentityMember() {
			return fault.Schemaf("link %q of table %q is an identity member and cannot change target", spec.Label, t.Label())
		}
		erase, err := l.erasePlan()
		if err != nil {
			return err
		}
		create, err := t.createLinkPlan(spec, l.image)
		if err != nil {
			return err
		}
		p.nest(erase)
		p.Main = append(p.Main, create.Steps()...)
		return errors.Trace(r.Execute(ctx, p))
	}
	if spec.Required && spec.Target.image == t.image {
		return fault.Schemaf("required link %q of table %q refers to its own table", spec.Label, t.Label())
	}

	names, _, err := t.linkColumns(spec.Label, spec.Name, spec.Target)
	if err != nil {
		return err
	}
	if len(names) != len(l.image.Columns) {
		return &fault.SchemaError{
			Message:  fmt.Sprintf("link %q of table %q does not match the identity of table %q", spec.Label, t.Label(), spec.Target.Label()),
			Expected: fmt.Sprintf("%d columns", len(names)),
			Actual:   fmt.Sprintf("%d columns", len(l.image.Columns)),
		}
	}
	renamed := false
	for i, col := range l.image.Columns {
		if col.Name == names[i] {
			continue
		}
		if t.nameTaken(names[i]) {
			return fault.Schemaf("column name %q is taken in table %q", names[i], t.Label())
		}
		name := names[i]
		renamed = true
		p.main("rename link column to "+name, func(ctx context.Context) error {
			return r.exec(ctx, r.gen().RenameColumn(t.Name(), col.Name, name), func() error {
				return col.Rename(name)
			})
		})
	}

	if spec.Required != l.Required() {
		if !spec.Required && l.IdentityMember() {
			dep, err := t.Identity().erasePlan()
			if err != nil {
				return err
			}
			p.nest(dep)
		}
		for _, col := range l.image.Columns {
			p.main("change nullability of "+col.Name, func(ctx context.Context) error {
				return r.exec(ctx, r.gen().SetNotNull(t.Name(), col.Name, spec.Required), func() error {
					col.NotNull = spec.Required
					return nil
				})
			})
		}
	}

	comment := Meta{Label: spec.Label, Title: spec.Title}.Encode()
	if action := onDelete(spec.Required, spec.Cascade); action != l.image.OnDelete {
		p.main("change delete action", func(ctx context.Context) error {
			key := saveKey(l.image)
			key.onDelete = action
			key.comment = comment
			if err := key.drop(r)(ctx); err != nil {
				return err
			}
			if err := key.add(ctx, r); err != nil {
				return err
			}
			l.image = t.image.Constraint(key.name)
			return nil
		})
	} else if comment != l.image.Comment {
		p.main("comment on link", func(ctx context.Context) error {
			return r.exec(ctx, r.gen().CommentOnConstraint(t.Name(), l.Name(), comment), func() error {
				l.image.Comment = comment
				return nil
			})
		})
	}
	if renamed || l.Label() != spec.Label {
		p.after("refresh link name", func(ctx context.Context) error {
			return r.renameConstraint(ctx, l.image, r.linkName(t.Name(), spec.Label, spec.Target.Name()))
		})
	}
	return errors.Trace(r.Execute(ctx, p))
}

// refreshName renames the foreign key after its table, label or target.
func (l *Link) refreshName(ctx context.Context) error {
	return l.reg.renameConstraint(ctx, l.image, l.reg.linkName(l.Table().Name(), l.Label(), l.Target().Name()))
}

// Erase drops the foreign key and its columns.
func (l *Link) Erase(ctx context.Context) error {
	p, err := l.erasePlan()
	if err != nil {
		return err
	}
	return errors.Trace(l.reg.Execute(ctx, p))
}

func (l *Link) erasePlan() (*Plan, error) {
	r := l.reg
	t := l.Table()
	if l.IdentityMember() {
		return nil, fault.Schemaf("link %q of table %q is an identity member", l.Label(), t.Label())
	}
	p := newPlan(fmt.Sprintf("link %q of table %q is declared absent", l.Label(), t.Label()), "none", l.describe())
	p.main("drop link "+l.Label(), func(ctx context.Context) error {
		cols := append([]*core.Column(nil), l.image.Columns...)
		if err := saveKey(l.image).drop(r)(ctx); err != nil {
			return err
		}
		for _, col := range cols {
			if err := r.exec(ctx, r.gen().DropColumn(t.Name(), col.Name), func() error {
				col.Remove()
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return p, nil
}

// savedKey is a foreign key detached from the image, so it can be dropped
// and added back around a change of the columns it references.
type savedKey struct {
	table         *core.Table
	name          string
	columns       []string
	target        *core.Table
	targetColumns []string
	onDelete      core.Action
	comment       string
}

func saveKey(fk *core.Constraint) savedKey {
	return savedKey{
		table:         fk.Table(),
		name:          fk.Name,
		columns:       fk.ColumnNames(),
		target:        fk.Target,
		targetColumns: fk.TargetColumnNames(),
		onDelete:      fk.OnDelete,
		comment:       fk.Comment,
	}
}

func (k savedKey) drop(r *Registry) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		fk := k.table.Constraint(k.name)
		return r.exec(ctx, r.gen().DropConstraint(k.table.Name, k.name), func() error {
			if fk != nil {
				fk.Remove()
			}
			return nil
		})
	}
}

// restore re-types the origin columns after their targets and adds the key
// back.
func (k savedKey) restore(r *Registry) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		g := r.gen()
		for i, name := range k.columns {
			col := k.table.Column(name)
			target := k.target.Column(k.targetColumns[i])
			if col == nil || target == nil {
				return fault.Schemaf("key %q lost its columns", k.name)
			}
			from, to := typeOf(col.Type), typeOf(target.Type)
			if from.Equal(to) && col.Type.Enum == target.Type.Enum {
				continue
			}
			conv := postgres.Convert(from.family(), to.family(), from.Scalar, to.Scalar)
			if !conv.Allowed {
				return &fault.SchemaError{
					Message:  fmt.Sprintf("column %q of table %q cannot follow its target type", name, k.table.Name),
					Expected: to.String(),
					Actual:   from.String(),
				}
			}
			old := col.Type.Enum
			ref := target.Type
			stmt := g.AlterColumnType(k.table.Name, name, ref, g.CastUsing(name, ref, conv))
			if err := r.exec(ctx, stmt, func() error {
				col.Type = ref
				return nil
			}); err != nil {
				return err
			}
			if err := r.dropUnusedType(ctx, old); err != nil {
				return err
			}
		}
		return k.add(ctx, r)
	}
}

// add creates the key and its comment.
func (k savedKey) add(ctx context.Context, r *Registry) error {
	g := r.gen()
	cols := make([]*core.Column, len(k.columns))
	for i, n := range k.columns {
		cols[i] = k.table.Column(n)
	}
	targetCols := make([]*core.Column, len(k.targetColumns))
	for i, n := range k.targetColumns {
		targetCols[i] = k.target.Column(n)
	}
	var fk *core.Constraint
	stmt := g.AddForeignKey(k.table.Name, k.name, k.columns, k.target.Name, k.targetColumns, k.onDelete)
	if err := r.exec(ctx, stmt, func() (err error) {
		fk, err = k.table.AddForeignKey(k.name, cols, k.target, targetCols, k.onDelete)
		return err
	}); err != nil {
		return err
	}
	if k.comment == "" {
		return nil
	}
	return r.exec(ctx, g.CommentOnConstraint(k.table.Name, k.name, k.comment), func() error {
		fk.Comment = k.comment
		return nil
	})
}
