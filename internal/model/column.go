package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/errors"

	"factum/internal/core"
	"factum/internal/dialect/postgres"
	"factum/internal/fault"
	"factum/internal/keygen"
)

// TypeSpec is a declared column type: a scalar type or a set of labels
// backed by an enumeration type.
type TypeSpec struct {
	Scalar string
	Labels []string
}

// Scalar returns the spec of a built-in type in normalized spelling.
func Scalar(name string) TypeSpec {
	return TypeSpec{Scalar: postgres.NormalizeType(name)}
}

// Enum returns the spec of an enumeration.
func Enum(labels ...string) TypeSpec {
	return TypeSpec{Labels: labels}
}

// IsEnum reports whether the spec is an enumeration.
func (s TypeSpec) IsEnum() bool { return len(s.Labels) > 0 }

// Equal reports whether two specs describe the same type.
func (s TypeSpec) Equal(o TypeSpec) bool {
	if s.IsEnum() || o.IsEnum() {
		return sameLabels(s.Labels, o.Labels)
	}
	return s.Scalar == o.Scalar
}

func (s TypeSpec) String() string {
	if s.IsEnum() {
		return "enum(" + strings.Join(s.Labels, ", ") + ")"
	}
	return s.Scalar
}

func (s TypeSpec) family() postgres.Family {
	if s.IsEnum() {
		return postgres.FamilyEnum
	}
	return postgres.FamilyOf(s.Scalar)
}

func typeOf(ref core.TypeRef) TypeSpec {
	if ref.Enum != nil {
		return TypeSpec{Labels: append([]string(nil), ref.Enum.Labels...)}
	}
	return TypeSpec{Scalar: ref.Name}
}

// ColumnSpec is the declared state of a plain column.
type ColumnSpec struct {
	Label    string
	Title    string
	Name     string
	Type     TypeSpec
	Required bool
	// Default is a literal value, cast to the column type.
	Default *string
	Unique  bool
}

func (s ColumnSpec) describe(name string) string {
	return describeColumn(name, s.Type, s.Required, s.Default, s.Unique)
}

func describeColumn(name string, typ TypeSpec, required bool, def *string, unique bool) string {
	parts := []string{name, typ.String()}
	if required {
		parts = append(parts, "required")
	}
	if def != nil {
		parts = append(parts, "default "+*def)
	}
	if unique {
		parts = append(parts, "unique")
	}
	return strings.Join(parts, " ")
}

// AliasSpec is the declared state of an alias: a stored generated column.
type AliasSpec struct {
	Label   string
	Title   string
	Name    string
	Type    string
	Formula string
}

// Column is the model of a plain column or alias.
type Column struct {
	reg   *Registry
	image *core.Column
}

// Image returns the backing image object.
func (c *Column) Image() *core.Column { return c.image }

// Table returns the owning table.
func (c *Column) Table() *Table { return c.reg.table(c.image.Table()) }

// Name returns the physical name.
func (c *Column) Name() string { return c.image.Name }

// Meta returns the metadata stored in the column comment.
func (c *Column) Meta() Meta { return DecodeMeta(c.image.Comment, c.image.Name) }

// Label returns the declared label.
func (c *Column) Label() string { return c.Meta().Label }

// Type returns the column type.
func (c *Column) Type() TypeSpec { return typeOf(c.image.Type) }

// Required reports whether the column is not null.
func (c *Column) Required() bool { return c.image.NotNull }

// IsAlias reports whether the column is generated.
func (c *Column) IsAlias() bool { return c.image.Generated != "" }

// Formula returns the declared expression of an alias.
func (c *Column) Formula() string {
	if f := c.Meta().Formula; f != "" {
		return f
	}
	return c.image.Generated
}

// Default returns the declared default value, or the raw default expression
// of a column whose metadata does not record one.
func (c *Column) Default() *string {
	if c.image.Default == nil {
		return nil
	}
	if d := c.Meta().Default; d != nil {
		return d
	}
	return c.image.Default
}

// Unique returns the unique constraint covering only c, or nil.
func (c *Column) Unique() *core.Constraint {
	for _, k := range c.image.Constraints() {
		if k.Kind == core.Unique && len(k.Columns) == 1 {
			return k
		}
	}
	return nil
}

// IdentityMember reports whether c is part of its table's identity.
func (c *Column) IdentityMember() bool {
	t := c.image.Table()
	if t == nil {
		return false
	}
	pk := t.PrimaryKey()
	return pk != nil && pk.Covers(c.image)
}

func (c *Column) describe() string {
	return describeColumn(c.Name(), c.Type(), c.Required(), c.Default(), c.Unique() != nil)
}

// typeRef resolves spec for column name of t, creating the enumeration
// type when needed.
func (t *Table) typeRef(ctx context.Context, column string, spec TypeSpec) (core.TypeRef, error) {
	if !spec.IsEnum() {
		return core.Scalar(spec.Scalar), nil
	}
	typ, err := t.reg.createType(ctx, t.image.Schema(), t.reg.enumName(t.Name(), column), spec.Labels)
	if err != nil {
		return core.TypeRef{}, err
	}
	return core.EnumRef(typ), nil
}

func (r *Registry) defaultLiteral(def *string, ref core.TypeRef) *string {
	if def == nil {
		return nil
	}
	lit := r.gen().Literal(postgres.Value{Text: def, Type: ref})
	return &lit
}

// CreateColumn adds a plain column.
func (t *Table) CreateColumn(ctx context.Context, spec ColumnSpec) (*Column, error) {
	r := t.reg
	name := r.physicalName(spec.Label, spec.Name)
	if t.nameTaken(name) {
		return nil, fault.Schemaf("column name %q is taken in table %q", name, t.Label())
	}

	p := newPlan(fmt.Sprintf("column %q of table %q is missing", spec.Label, t.Label()), spec.describe(name), "")
	var img *core.Column
	p.main("add column "+name, func(ctx context.Context) error {
		ref, err := t.typeRef(ctx, name, spec.Type)
		if err != nil {
			return err
		}
		def := r.defaultLiteral(spec.Default, ref)
		colDef := postgres.ColumnDef{Name: name, Type: ref, NotNull: spec.Required, Default: def}
		if err := r.exec(ctx, r.gen().AddColumn(t.Name(), colDef), func() (err error) {
			img, err = t.image.AddColumn(name, ref, spec.Required, def)
			return err
		}); err != nil {
			return err
		}
		c := r.column(img)
		if err := c.comment(ctx, Meta{Label: spec.Label, Title: spec.Title, Default: spec.Default}.Encode()); err != nil {
			return err
		}
		if spec.Unique {
			return c.addUnique(ctx)
		}
		return nil
	})
	if err := r.Execute(ctx, p); err != nil {
		return nil, errors.Trace(err)
	}
	return r.column(img), nil
}

// Reconcile brings an existing column to spec: renaming it, converting its
// type along the cast matrix, and adjusting nullability, default, uniqueness
// and metadata.
func (c *Column) Reconcile(ctx context.Context, spec ColumnSpec) error {
	r := c.reg
	t := c.Table()
	name := r.physicalName(spec.Label, spec.Name)
	p := newPlan(fmt.Sprintf("column %q of table %q differs", spec.Label, t.Label()), spec.describe(name), c.describe())

	if name != c.Name() {
		if t.nameTaken(name) {
			return fault.Schemaf("column name %q is taken in table %q", name, t.Label())
		}
		p.main("rename column to "+name, func(ctx context.Context) error {
			return r.exec(ctx, r.gen().RenameColumn(t.Name(), c.Name(), name), func() error {
				return c.image.Rename(name)
			})
		})
		p.after("refresh names derived from column "+name, c.refreshNames)
		if c.IdentityMember() {
			p.after("refresh key generator", t.syncKeygen)
		}
	}

	typeChanged := !c.Type().Equal(spec.Type)
	if typeChanged {
		if err := c.planType(p, spec); err != nil {
			return err
		}
	}

	if spec.Required != c.image.NotNull {
		if !spec.Required && c.IdentityMember() {
			dep, err := t.Identity().erasePlan()
			if err != nil {
				return err
			}
			p.nest(dep)
		}
		p.main("change nullability", func(ctx context.Context) error {
			return r.exec(ctx, r.gen().SetNotNull(t.Name(), c.Name(), spec.Required), func() error {
				c.image.NotNull = spec.Required
				return nil
			})
		})
	}

	if !typeChanged && !sameDefault(c.Default(), spec.Default) {
		p.main("change default", func(ctx context.Context) error {
			return c.setDefault(ctx, spec.Default)
		})
	}

	if hasUnique := c.Unique() != nil; hasUnique != spec.Unique {
		if spec.Unique {
			p.main("add unique key", c.addUnique)
		} else {
			p.main("drop unique key", c.dropUnique)
		}
	}

	if comment := (Meta{Label: spec.Label, Title: spec.Title, Default: spec.Default}).Encode(); comment != c.image.Comment {
		p.main("comment on column", func(ctx context.Context) error {
			return c.comment(ctx, comment)
		})
	}
	return errors.Trace(r.Execute(ctx, p))
}

// planType adds a type change to p. Keys of other tables referencing the
// column are dropped before the change and restored after it, their origin
// columns following the new type.
func (c *Column) planType(p *Plan, spec ColumnSpec) error {
	r := c.reg
	t := c.Table()
	from, to := c.Type(), spec.Type
	conv := postgres.Convert(from.family(), to.family(), from.Scalar, to.Scalar)
	if !conv.Allowed {
		return &fault.SchemaError{
			Message:  fmt.Sprintf("column %q of table %q cannot change type", spec.Label, t.Label()),
			Expected: to.String(),
			Actual:   from.String(),
		}
	}

	if id := t.Identity(); id != nil && c.IdentityMember() {
		ks := id.keygenSpec()
		for i := range ks.Members {
			if ks.Members[i].Column == c.Name() {
				ks.Members[i].Type = to.Scalar
			}
		}
		if err := ks.Validate(); err != nil {
			if !id.Synthesized() {
				return fault.Schemaf("key generator of table %q: %v", t.Label(), err)
			}
			// A declared column takes over the identity the table was created
			// with, leaving its generator behind.
			p.Before = append(p.Before, Step{
				What: "release default key generator",
				Run:  id.release(c.Label()),
			})
		}
	}

	for _, fk := range t.referencingKeys() {
		if !targets(fk, c.image) {
			continue
		}
		key := saveKey(fk)
		p.Before = append(p.Before, Step{
			What: "drop key " + key.name,
			Run:  key.drop(r),
		})
		p.after("restore key "+key.name, key.restore(r))
	}
	if c.image.Default != nil {
		p.main("drop default", func(ctx context.Context) error {
			return c.setDefault(ctx, nil)
		})
	}
	p.main("change type to "+to.String(), func(ctx context.Context) error {
		return c.changeType(ctx, to, conv)
	})
	if spec.Default != nil {
		p.main("set default", func(ctx context.Context) error {
			return c.setDefault(ctx, spec.Default)
		})
	}
	if c.IdentityMember() {
		p.after("refresh key generator", t.syncKeygen)
	}
	return nil
}

func targets(fk *core.Constraint, col *core.Column) bool {
	for _, tc := range fk.TargetColumns {
		if tc == col {
			return true
		}
	}
	return false
}

// changeType alters the column type. A change between enumerations passes
// through text, so the old type can be dropped before the new one takes its
// name.
func (c *Column) changeType(ctx context.Context, to TypeSpec, conv postgres.Conversion) error {
	r := c.reg
	g := r.gen()
	t := c.Table()
	old := c.image.Type.Enum

	alter := func(ref core.TypeRef, conv postgres.Conversion) error {
		stmt := g.AlterColumnType(t.Name(), c.Name(), ref, g.CastUsing(c.Name(), ref, conv))
		return r.exec(ctx, stmt, func() error {
			c.image.Type = ref
			return nil
		})
	}

	if !to.IsEnum() {
		if err := alter(core.Scalar(to.Scalar), conv); err != nil {
			return err
		}
		return r.dropUnusedType(ctx, old)
	}
	if old != nil {
		if err := alter(core.Scalar("text"), postgres.Conversion{Allowed: true}); err != nil {
			return err
		}
		if err := r.dropUnusedType(ctx, old); err != nil {
			return err
		}
	}
	ref, err := t.typeRef(ctx, c.Name(), to)
	if err != nil {
		return err
	}
	return alter(ref, conv)
}

func (c *Column) setDefault(ctx context.Context, def *string) error {
	lit := c.reg.defaultLiteral(def, c.image.Type)
	t := c.image.Table()
	return c.reg.exec(ctx, c.reg.gen().SetDefault(t.Name, c.Name(), lit), func() error {
		c.image.Default = lit
		return nil
	})
}

func (c *Column) comment(ctx context.Context, text string) error {
	t := c.image.Table()
	return c.reg.exec(ctx, c.reg.gen().CommentOnColumn(t.Name, c.Name(), text), func() error {
		c.image.Comment = text
		return nil
	})
}

func (c *Column) addUnique(ctx context.Context) error {
	t := c.image.Table()
	name := c.reg.uniqueName(t.Name, c.Name())
	return c.reg.exec(ctx, c.reg.gen().AddUnique(t.Name, name, []string{c.Name()}), func() error {
		_, err := t.AddUnique(name, []*core.Column{c.image})
		return err
	})
}

func (c *Column) dropUnique(ctx context.Context) error {
	k := c.Unique()
	if k == nil {
		return nil
	}
	return c.reg.exec(ctx, c.reg.gen().DropConstraint(k.Table().Name, k.Name), func() error {
		k.Remove()
		return nil
	})
}

// refreshNames renames the unique key and enumeration type derived from the
// column and table names.
func (c *Column) refreshNames(ctx context.Context) error {
	r := c.reg
	t := c.image.Table()
	if k := c.Unique(); k != nil {
		if err := r.renameConstraint(ctx, k, r.uniqueName(t.Name, c.Name())); err != nil {
			return err
		}
	}
	typ := c.image.Type.Enum
	if typ == nil || len(typ.Users()) != 1 {
		return nil
	}
	want := r.enumName(t.Name, c.Name())
	if typ.Name == want {
		return nil
	}
	if s := typ.Schema(); s != nil && s.Type(want) != nil {
		return fault.Schemaf("type name %q is taken", want)
	}
	return r.exec(ctx, r.gen().RenameType(typ.Name, want), func() error {
		return typ.Rename(want)
	})
}

// Erase drops the column and its enumeration type. Identity members cannot
// be dropped.
func (c *Column) Erase(ctx context.Context) error {
	t := c.Table()
	if c.IdentityMember() {
		return fault.Schemaf("column %q of table %q is an identity member", c.Label(), t.Label())
	}
	p := newPlan(fmt.Sprintf("column %q of table %q is declared absent", c.Label(), t.Label()), "none", c.describe())
	p.main("drop column "+c.Name(), c.drop)
	return errors.Trace(c.reg.Execute(ctx, p))
}

func (c *Column) drop(ctx context.Context) error {
	typ := c.image.Type.Enum
	t := c.image.Table()
	if err := c.reg.exec(ctx, c.reg.gen().DropColumn(t.Name, c.Name()), func() error {
		c.image.Remove()
		return nil
	}); err != nil {
		return err
	}
	return c.reg.dropUnusedType(ctx, typ)
}

// CreateAlias adds a stored generated column.
func (t *Table) CreateAlias(ctx context.Context, spec AliasSpec) (*Column, error) {
	r := t.reg
	name := r.physicalName(spec.Label, spec.Name)
	if t.nameTaken(name) {
		return nil, fault.Schemaf("column name %q is taken in table %q", name, t.Label())
	}
	p := newPlan(fmt.Sprintf("alias %q of table %q is missing", spec.Label, t.Label()),
		fmt.Sprintf("%s %s = %s", name, spec.Type, spec.Formula), "")
	var img *core.Column
	p.main("add alias "+name, func(ctx context.Context) (err error) {
		img, err = t.addAlias(ctx, name, spec)
		return err
	})
	if err := r.Execute(ctx, p); err != nil {
		return nil, errors.Trace(err)
	}
	return r.column(img), nil
}

func (t *Table) addAlias(ctx context.Context, name string, spec AliasSpec) (*core.Column, error) {
	r := t.reg
	ref := core.Scalar(spec.Type)
	var img *core.Column
	colDef := postgres.ColumnDef{Name: name, Type: ref, Generated: spec.Formula}
	if err := r.exec(ctx, r.gen().AddColumn(t.Name(), colDef), func() (err error) {
		if img, err = t.image.AddColumn(name, ref, false, nil); err != nil {
			return err
		}
		img.Generated = spec.Formula
		return nil
	}); err != nil {
		return nil, err
	}
	comment := Meta{Label: spec.Label, Title: spec.Title, Formula: spec.Formula}.Encode()
	return img, r.column(img).comment(ctx, comment)
}

// ReconcileAlias brings an alias to spec. A changed formula or type
// re-creates the column.
func (c *Column) ReconcileAlias(ctx context.Context, spec AliasSpec) error {
	r := c.reg
	t := c.Table()
	name := r.physicalName(spec.Label, spec.Name)
	meta := c.Meta()
	p := newPlan(fmt.Sprintf("alias %q of table %q differs", spec.Label, t.Label()),
		fmt.Sprintf("%s %s = %s", name, spec.Type, spec.Formula),
		fmt.Sprintf("%s %s = %s", c.Name(), c.image.Type.Name, c.Formula()))

	if name != c.Name() {
		if t.nameTaken(name) {
			return fault.Schemaf("column name %q is taken in table %q", name, t.Label())
		}
		p.main("rename alias to "+name, func(ctx context.Context) error {
			return r.exec(ctx, r.gen().RenameColumn(t.Name(), c.Name(), name), func() error {
				return c.image.Rename(name)
			})
		})
	}
	comment := Meta{Label: spec.Label, Title: spec.Title, Formula: spec.Formula}.Encode()
	switch {
	case meta.Formula != spec.Formula || c.image.Type.Name != spec.Type:
		p.main("re-create alias", func(ctx context.Context) error {
			if err := c.drop(ctx); err != nil {
				return err
			}
			_, err := t.addAlias(ctx, name, spec)
			return err
		})
	case comment != c.image.Comment:
		p.main("comment on alias", func(ctx context.Context) error {
			return c.comment(ctx, comment)
		})
	}
	return errors.Trace(r.Execute(ctx, p))
}

// keygenMember describes c as a key generator member.
func (c *Column) keygenMember(meta Meta) keygen.Member {
	return keygen.Member{
		Column:   c.Name(),
		Type:     c.image.Type.Name,
		Strategy: keygen.Strategy(meta.Generators[c.Label()]),
		Length:   meta.Length,
	}
}
