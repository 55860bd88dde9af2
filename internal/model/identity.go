package model

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/juju/errors"

	"factum/internal/core"
	"factum/internal/fault"
	"factum/internal/keygen"
)

// Member is one identity member: a plain column or a link.
type Member struct {
	Label  string
	Column *Column
	Link   *Link
}

func (m Member) columns() []*core.Column {
	if m.Link != nil {
		return m.Link.Columns()
	}
	return []*core.Column{m.Column.image}
}

// IdentitySpec is the declared identity of a table.
type IdentitySpec struct {
	// Members are labels of columns or links, in identity order.
	Members    []string
	Generators map[string]keygen.Strategy
	// Length of random text keys.
	Length int
}

// Identity is the model of a table's primary key.
type Identity struct {
	reg   *Registry
	image *core.Constraint
}

// Image returns the backing primary key.
func (id *Identity) Image() *core.Constraint { return id.image }

// Table returns the owning table.
func (id *Identity) Table() *Table { return id.reg.table(id.image.Table()) }

// Meta returns the generator configuration stored in the key comment.
func (id *Identity) Meta() Meta { return DecodeMeta(id.image.Comment, "") }

// Synthesized reports whether this is the identity the table was created
// with.
func (id *Identity) Synthesized() bool { return id.Meta().Synthesized }

// Columns returns the key columns.
func (id *Identity) Columns() []*core.Column { return id.image.Columns }

// Generators returns the key generator of each member that has one.
func (id *Identity) Generators() map[string]keygen.Strategy {
	out := make(map[string]keygen.Strategy)
	for label, s := range id.Meta().Generators {
		out[label] = keygen.Strategy(s)
	}
	return out
}

// Members groups the key columns into columns and links.
func (id *Identity) Members() []Member {
	var out []Member
	seen := make(map[*core.Constraint]bool)
	for _, col := range id.image.Columns {
		if fk := col.ForeignKey(); fk != nil {
			if !seen[fk] {
				seen[fk] = true
				l := id.reg.link(fk)
				out = append(out, Member{Label: l.Label(), Link: l})
			}
			continue
		}
		c := id.reg.column(col)
		out = append(out, Member{Label: c.Label(), Column: c})
	}
	return out
}

func (id *Identity) describe() string {
	return describeIdentity(id.image.Columns, id.Meta())
}

func describeIdentity(cols []*core.Column, meta Meta) string {
	parts := core.Names(cols)
	labels := make([]string, 0, len(meta.Generators))
	for label := range meta.Generators {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		parts = append(parts, fmt.Sprintf("%s:%s", label, meta.Generators[label]))
	}
	return strings.Join(parts, " ")
}

// keygenSpec describes the generators of the identity in key order.
func (id *Identity) keygenSpec() keygen.Spec {
	meta := id.Meta()
	spec := keygen.Spec{Table: id.image.Table().Name}
	for _, m := range id.Members() {
		if m.Column != nil {
			spec.Members = append(spec.Members, m.Column.keygenMember(meta))
			continue
		}
		for _, col := range m.Link.Columns() {
			spec.Members = append(spec.Members, keygen.Member{Column: col.Name, Type: col.Type.Name})
		}
	}
	return spec
}

// SetIdentity makes the declared members the table's identity. Replacing the
// members drops the synthesized id column and fails while links refer to the
// table; a change of generators only rewrites the key generator.
func (t *Table) SetIdentity(ctx context.Context, spec IdentitySpec) error {
	r := t.reg
	if len(spec.Members) == 0 {
		return fault.Schemaf("identity of table %q has no members", t.Label())
	}

	var members []Member
	var cols []*core.Column
	for _, label := range spec.Members {
		var m Member
		switch c, l := t.FindColumn(label), t.FindLink(label); {
		case c != nil:
			m = Member{Label: label, Column: c}
		case l != nil:
			m = Member{Label: label, Link: l}
		default:
			if a := t.FindAlias(label); a != nil {
				m = Member{Label: label, Column: a}
				break
			}
			return fault.Schemaf("identity member %q of table %q does not exist", label, t.Label())
		}
		for _, col := range m.columns() {
			if !col.NotNull {
				return &fault.SchemaError{
					Message:  fmt.Sprintf("identity member %q of table %q must be required", label, t.Label()),
					Expected: "required",
					Actual:   "optional",
				}
			}
		}
		members = append(members, m)
		cols = append(cols, m.columns()...)
	}

	meta := Meta{Length: spec.Length}
	ks := keygen.Spec{Table: t.Name()}
	for _, m := range members {
		s, ok := spec.Generators[m.Label]
		if ok && m.Link != nil {
			return fault.Schemaf("identity member %q of table %q is a link and cannot have a key generator", m.Label, t.Label())
		}
		if ok && s != keygen.None {
			if meta.Generators == nil {
				meta.Generators = make(map[string]string)
			}
			meta.Generators[m.Label] = string(s)
		}
		for _, col := range m.columns() {
			ks.Members = append(ks.Members, keygen.Member{Column: col.Name, Type: col.Type.Name, Strategy: s, Length: spec.Length})
		}
	}
	for label := range spec.Generators {
		if !hasMember(members, label) {
			return fault.Schemaf("key generator for %q which is not an identity member of table %q", label, t.Label())
		}
	}
	if err := ks.Validate(); err != nil {
		return fault.Schemaf("key generator of table %q: %v", t.Label(), err)
	}
	if loop := t.identityLoop(members); loop != nil {
		return fault.Schemaf("identity loop: %s", strings.Join(loop, " -> "))
	}

	id := t.Identity()
	actual := ""
	if id != nil {
		actual = id.describe()
	}
	p := newPlan(fmt.Sprintf("identity of table %q differs", t.Label()), describeIdentity(cols, meta), actual)
	comment := meta.Encode()
	switch {
	case id == nil || !sameColumns(id.image.Columns, cols):
		if id != nil {
			if keys := t.referencingKeys(); len(keys) > 0 {
				return fault.Schemaf("identity of table %q is referenced by %d links", t.Label(), len(keys))
			}
		}
		p.main("replace identity", func(ctx context.Context) error {
			return t.replaceIdentity(ctx, cols, meta)
		})
	default:
		if comment != id.image.Comment {
			p.main("comment on identity", func(ctx context.Context) error {
				return r.exec(ctx, r.gen().CommentOnConstraint(t.Name(), id.image.Name, comment), func() error {
					id.image.Comment = comment
					return nil
				})
			})
		}
		if want := r.identityName(t.Name()); id.image.Name != want {
			p.main("rename identity", func(ctx context.Context) error {
				return r.renameConstraint(ctx, id.image, want)
			})
		}
	}

	if p.Empty() {
		current, err := t.keygenCurrent()
		if err != nil {
			return err
		}
		if !current {
			p.main("rewrite key generator", t.syncKeygen)
		}
	} else {
		p.after("rewrite key generator", t.syncKeygen)
	}
	return errors.Trace(r.Execute(ctx, p))
}

func hasMember(members []Member, label string) bool {
	for _, m := range members {
		if m.Label == label {
			return true
		}
	}
	return false
}

func sameColumns(a, b []*core.Column) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *Table) replaceIdentity(ctx context.Context, cols []*core.Column, meta Meta) error {
	r := t.reg
	if pk := t.image.PrimaryKey(); pk != nil {
		synthesized := r.identity(pk).Synthesized()
		if err := r.exec(ctx, r.gen().DropConstraint(t.Name(), pk.Name), func() error {
			pk.Remove()
			return nil
		}); err != nil {
			return err
		}
		idc := t.image.Column(defaultIdentityColumn)
		if synthesized && idc != nil && idc.ForeignKey() == nil && !contains(cols, idc) {
			if err := r.exec(ctx, r.gen().DropColumn(t.Name(), idc.Name), func() error {
				idc.Remove()
				return nil
			}); err != nil {
				return err
			}
		}
	}
	return t.addIdentity(ctx, cols, meta)
}

func contains(cols []*core.Column, c *core.Column) bool {
	for _, x := range cols {
		if x == c {
			return true
		}
	}
	return false
}

// release returns a step that drops the generator of member label and makes
// the identity a declared one.
func (id *Identity) release(label string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		meta := id.Meta()
		delete(meta.Generators, label)
		meta.Synthesized = false
		comment := meta.Encode()
		r := id.reg
		t := id.image.Table()
		return r.exec(ctx, r.gen().CommentOnConstraint(t.Name, id.image.Name, comment), func() error {
			id.image.Comment = comment
			return nil
		})
	}
}

// erasePlan drops the identity and restores the default one. It is the
// reaction of an identity whose member stops being required.
func (id *Identity) erasePlan() (*Plan, error) {
	t := id.Table()
	if id.Synthesized() {
		return nil, fault.Schemaf("column %q of table %q carries the default identity", defaultIdentityColumn, t.Label())
	}
	if keys := t.referencingKeys(); len(keys) > 0 {
		return nil, fault.Schemaf("identity of table %q is referenced by %d links", t.Label(), len(keys))
	}
	p := newPlan(fmt.Sprintf("identity of table %q loses a required member", t.Label()), "default identity", id.describe())
	p.main("drop identity", func(ctx context.Context) error {
		r := id.reg
		if err := r.exec(ctx, r.gen().DropConstraint(t.Name(), id.image.Name), func() error {
			id.image.Remove()
			return nil
		}); err != nil {
			return err
		}
		return t.installDefaultIdentity(ctx)
	})
	return p, nil
}

// identityLoop follows identity member links from t, using members in
// place of t's current identity, and returns the labels of a cycle back to
// t or nil.
func (t *Table) identityLoop(members []Member) []string {
	s := t.image.Schema()
	if s == nil {
		return nil
	}
	byLabel := make(map[string]*Table)
	for _, img := range s.Tables() {
		other := t.reg.table(img)
		byLabel[other.Label()] = other
	}
	origin := t.Label()
	return FindLoop(origin, func(label string) []string {
		if label == origin {
			return linkTargets(members)
		}
		other := byLabel[label]
		if other == nil || other.Identity() == nil {
			return nil
		}
		return linkTargets(other.Identity().Members())
	})
}

func linkTargets(members []Member) []string {
	var out []string
	for _, m := range members {
		if m.Link != nil {
			out = append(out, m.Link.Target().Label())
		}
	}
	return out
}
