package model

import (
	"context"
	"fmt"

	"github.com/juju/errors"

	"factum/internal/core"
	"factum/internal/dialect/postgres"
	"factum/internal/fault"
	"factum/internal/keygen"
)

// defaultIdentityColumn carries the identity a table is created with.
const defaultIdentityColumn = "id"

// TableSpec is the declared state of a table.
type TableSpec struct {
	Label string
	Title string
	// Name overrides the physical name derived from Label.
	Name string
}

// Table is the model of a table.
type Table struct {
	reg   *Registry
	image *core.Table
	// former holds the names the table was renamed from in this run.
	former []string
}

// Image returns the backing image object.
func (t *Table) Image() *core.Table { return t.image }

// Name returns the physical name.
func (t *Table) Name() string { return t.image.Name }

// Meta returns the metadata stored in the table comment.
func (t *Table) Meta() Meta { return DecodeMeta(t.image.Comment, t.image.Name) }

// Label returns the declared label.
func (t *Table) Label() string { return t.Meta().Label }

// Title returns the declared title.
func (t *Table) Title() string { return t.Meta().Title }

// Columns returns the columns not covered by a foreign key, aliases
// included, in ordinal order.
func (t *Table) Columns() []*Column {
	var out []*Column
	for _, c := range t.image.Columns() {
		if c.ForeignKey() == nil {
			out = append(out, t.reg.column(c))
		}
	}
	return out
}

// Links returns the table's links.
func (t *Table) Links() []*Link {
	var out []*Link
	for _, fk := range t.image.ForeignKeys() {
		out = append(out, t.reg.link(fk))
	}
	return out
}

// Identity returns the identity or nil.
func (t *Table) Identity() *Identity {
	pk := t.image.PrimaryKey()
	if pk == nil {
		return nil
	}
	return t.reg.identity(pk)
}

// FindColumn returns the plain column labelled label or one of was.
func (t *Table) FindColumn(label string, was ...string) *Column {
	return t.findColumn(false, label, was)
}

// FindAlias returns the alias labelled label or one of was.
func (t *Table) FindAlias(label string, was ...string) *Column {
	return t.findColumn(true, label, was)
}

func (t *Table) findColumn(alias bool, label string, was []string) *Column {
	for _, want := range append([]string{label}, was...) {
		for _, c := range t.Columns() {
			if c.IsAlias() == alias && c.Label() == want {
				return c
			}
		}
	}
	return nil
}

// FindLink returns the link labelled label or one of was.
func (t *Table) FindLink(label string, was ...string) *Link {
	for _, want := range append([]string{label}, was...) {
		for _, l := range t.Links() {
			if l.Label() == want {
				return l
			}
		}
	}
	return nil
}

// ReferringLinks returns the links of other tables that target t.
func (t *Table) ReferringLinks() []*Link {
	var out []*Link
	for _, fk := range t.referencingKeys() {
		if fk.Table() != t.image {
			out = append(out, t.reg.link(fk))
		}
	}
	return out
}

// referencingKeys returns every foreign key targeting t, its own included.
func (t *Table) referencingKeys() []*core.Constraint {
	s := t.image.Schema()
	if s == nil {
		return nil
	}
	return s.ReferencingKeys(t.image)
}

func (t *Table) nameTaken(name string) bool {
	return t.image.Column(name) != nil
}

// CreateTable creates a table with the default identity: an integer column
// id numbered by an offset key generator.
func (r *Registry) CreateTable(ctx context.Context, spec TableSpec) (*Table, error) {
	s, err := r.Schema(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	name := r.physicalName(spec.Label, spec.Name)
	if s.Table(name) != nil {
		return nil, fault.Schemaf("table name %q is taken by another table", name)
	}

	p := newPlan(fmt.Sprintf("table %q is missing", spec.Label), "table "+name, "")
	var img *core.Table
	p.main("create table "+name, func(ctx context.Context) error {
		g := r.gen()
		idType := core.Scalar("integer")
		stmt := g.CreateTable(name, []postgres.ColumnDef{{Name: defaultIdentityColumn, Type: idType, NotNull: true}})
		if err := r.exec(ctx, stmt, func() (err error) {
			if img, err = s.AddTable(name); err != nil {
				return err
			}
			_, err = img.AddColumn(defaultIdentityColumn, idType, true, nil)
			return err
		}); err != nil {
			return err
		}
		comment := Meta{Label: spec.Label, Title: spec.Title}.Encode()
		if err := r.exec(ctx, g.CommentOnTable(name, comment), func() error {
			img.Comment = comment
			return nil
		}); err != nil {
			return err
		}
		return r.table(img).installDefaultIdentity(ctx)
	})
	if err := r.Execute(ctx, p); err != nil {
		return nil, errors.Trace(err)
	}
	return r.table(img), nil
}

// Reconcile renames the table and rewrites its metadata to match spec.
func (t *Table) Reconcile(ctx context.Context, spec TableSpec) error {
	r := t.reg
	name := r.physicalName(spec.Label, spec.Name)
	want := t.Meta()
	want.Label, want.Title = spec.Label, spec.Title
	comment := want.Encode()

	p := newPlan(fmt.Sprintf("table %q differs", spec.Label),
		fmt.Sprintf("table %s %s", name, comment),
		fmt.Sprintf("table %s %s", t.Name(), t.image.Comment))
	if name != t.Name() {
		if s := t.image.Schema(); s != nil && s.Table(name) != nil {
			return fault.Schemaf("table name %q is taken by another table", name)
		}
		p.main("rename table to "+name, func(ctx context.Context) error {
			old := t.Name()
			return r.exec(ctx, r.gen().RenameTable(old, name), func() error {
				t.former = append(t.former, old)
				return t.image.Rename(name)
			})
		})
		p.after("refresh names derived from table "+name, t.refreshNames)
	}
	if comment != t.image.Comment {
		p.main("comment on table", func(ctx context.Context) error {
			return r.exec(ctx, r.gen().CommentOnTable(t.Name(), comment), func() error {
				t.image.Comment = comment
				return nil
			})
		})
	}
	return errors.Trace(r.Execute(ctx, p))
}

// Erase drops the table. Links of other tables targeting it are erased
// first; the drop fails when such a link is part of its table's identity.
func (t *Table) Erase(ctx context.Context) error {
	r := t.reg
	p := newPlan(fmt.Sprintf("table %q is declared absent", t.Label()), "none", "table "+t.Name())
	for _, l := range t.ReferringLinks() {
		dep, err := l.erasePlan()
		if err != nil {
			return fault.Schemaf("table %q is part of the identity of table %q", t.Label(), l.Table().Label())
		}
		p.nest(dep)
	}
	p.main("drop table "+t.Name(), func(ctx context.Context) error {
		var types []*core.Type
		for _, c := range t.image.Columns() {
			if c.Type.Enum != nil && c.Type.Enum.Schema() == t.image.Schema() {
				types = append(types, c.Type.Enum)
			}
		}
		var functions []string
		for _, tr := range t.image.Triggers() {
			functions = append(functions, tr.Function)
		}
		if err := r.exec(ctx, r.gen().DropTable(t.Name()), func() error {
			t.image.Remove()
			return nil
		}); err != nil {
			return err
		}
		for _, fn := range functions {
			if err := r.exec(ctx, r.gen().DropFunction(fn), nil); err != nil {
				return err
			}
		}
		for _, typ := range types {
			if err := r.dropUnusedType(ctx, typ); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Trace(r.Execute(ctx, p))
}

// installDefaultIdentity makes column id the identity, adding and numbering
// the column when it does not exist.
func (t *Table) installDefaultIdentity(ctx context.Context) error {
	r := t.reg
	g := r.gen()
	idType := core.Scalar("integer")
	col := t.image.Column(defaultIdentityColumn)
	switch {
	case col == nil:
		if err := r.exec(ctx, g.AddColumn(t.Name(), postgres.ColumnDef{Name: defaultIdentityColumn, Type: idType}), func() (err error) {
			col, err = t.image.AddColumn(defaultIdentityColumn, idType, false, nil)
			return err
		}); err != nil {
			return err
		}
		if err := r.exec(ctx, g.FillRowNumbers(t.Name(), defaultIdentityColumn), nil); err != nil {
			return err
		}
	case col.ForeignKey() != nil || !postgres.IsInteger(col.Type.Name):
		return fault.Schemaf("column %q of table %q cannot carry the default identity", defaultIdentityColumn, t.Label())
	}
	if !col.NotNull {
		if err := r.exec(ctx, g.SetNotNull(t.Name(), col.Name, true), func() error {
			col.NotNull = true
			return nil
		}); err != nil {
			return err
		}
	}

	meta := Meta{Synthesized: true, Generators: map[string]string{defaultIdentityColumn: string(keygen.Offset)}}
	if err := t.addIdentity(ctx, []*core.Column{col}, meta); err != nil {
		return err
	}
	return t.syncKeygen(ctx)
}

func (t *Table) addIdentity(ctx context.Context, cols []*core.Column, meta Meta) error {
	r := t.reg
	name := r.identityName(t.Name())
	var pk *core.Constraint
	if err := r.exec(ctx, r.gen().AddPrimaryKey(t.Name(), name, core.Names(cols)), func() (err error) {
		pk, err = t.image.AddPrimaryKey(name, cols)
		return err
	}); err != nil {
		return err
	}
	comment := meta.Encode()
	return r.exec(ctx, r.gen().CommentOnConstraint(t.Name(), name, comment), func() error {
		pk.Comment = comment
		return nil
	})
}

// refreshNames renames every object whose synthesized name derives from the
// table name: the identity, links from and to the table, unique keys,
// enumeration types and the key generator.
func (t *Table) refreshNames(ctx context.Context) error {
	r := t.reg
	if pk := t.image.PrimaryKey(); pk != nil {
		if err := r.renameConstraint(ctx, pk, r.identityName(t.Name())); err != nil {
			return err
		}
	}
	for _, l := range append(t.Links(), t.ReferringLinks()...) {
		if err := l.refreshName(ctx); err != nil {
			return err
		}
	}
	for _, c := range t.Columns() {
		if err := c.refreshNames(ctx); err != nil {
			return err
		}
	}
	return t.syncKeygen(ctx)
}

func (r *Registry) renameConstraint(ctx context.Context, k *core.Constraint, name string) error {
	if k.Name == name {
		return nil
	}
	return r.exec(ctx, r.gen().RenameConstraint(k.Table().Name, k.Name, name), func() error {
		return k.Rename(name)
	})
}

func (t *Table) keygenBody() (string, error) {
	id := t.Identity()
	if id == nil {
		return "", nil
	}
	body, err := keygen.Body(t.reg.gen(), id.keygenSpec())
	if err != nil {
		return "", fault.Schemaf("key generator of table %q: %v", t.Label(), err)
	}
	return body, nil
}

// ownsKeygen reports whether tr is a key generator trigger of the table: it
// runs the function of its own name, which is derived from the current table
// name or one the table had earlier in the run.
func (t *Table) ownsKeygen(tr *core.Trigger) bool {
	if tr.Function != tr.Name {
		return false
	}
	r := t.reg
	if tr.Name == r.keygenName(t.Name()) {
		return true
	}
	for _, name := range t.former {
		if tr.Name == r.keygenName(name) {
			return true
		}
	}
	return false
}

// keygenCurrent reports whether the key generator trigger matches the
// identity's generator configuration.
func (t *Table) keygenCurrent() (bool, error) {
	body, err := t.keygenBody()
	if err != nil {
		return false, err
	}
	want := t.reg.keygenName(t.Name())
	found := false
	for _, tr := range t.image.Triggers() {
		if !t.ownsKeygen(tr) {
			continue
		}
		if tr.Name != want || tr.Body != body {
			return false, nil
		}
		found = true
	}
	return found == (body != ""), nil
}

// syncKeygen replaces stale key generator triggers and installs the one the
// identity needs. An up-to-date trigger is left alone.
func (t *Table) syncKeygen(ctx context.Context) error {
	r := t.reg
	g := r.gen()
	body, err := t.keygenBody()
	if err != nil {
		return err
	}
	want := r.keygenName(t.Name())

	var current *core.Trigger
	for _, tr := range t.image.Triggers() {
		if !t.ownsKeygen(tr) {
			continue
		}
		if tr.Name == want && body != "" {
			current = tr
			continue
		}
		function := tr.Function
		if err := r.exec(ctx, g.DropTrigger(t.Name(), tr.Name), func() error {
			tr.Remove()
			return nil
		}); err != nil {
			return err
		}
		if err := r.exec(ctx, g.DropFunction(function), nil); err != nil {
			return err
		}
	}
	if body == "" || (current != nil && current.Body == body) {
		return nil
	}

	if err := r.exec(ctx, g.CreateTriggerFunction(want, body), func() error {
		if current != nil {
			current.Body = body
		}
		return nil
	}); err != nil {
		return err
	}
	if current != nil {
		return nil
	}
	return r.exec(ctx, g.CreateTrigger(t.Name(), want, want), func() error {
		_, err := t.image.AddTrigger(want, want, body)
		return err
	})
}
