package core

import (
	"github.com/juju/errors"
)

// TypeRef names a column type: either a scalar type in its canonical
// PostgreSQL spelling or a schema-local enumeration.
type TypeRef struct {
	Name string
	Enum *Type
}

// Scalar returns a reference to a built-in type.
func Scalar(name string) TypeRef { return TypeRef{Name: name} }

// EnumRef returns a reference to an enumeration type.
func EnumRef(t *Type) TypeRef { return TypeRef{Name: t.Name, Enum: t} }

// IsEnum reports whether the reference points at an enumeration type.
func (r TypeRef) IsEnum() bool { return r.Enum != nil }

// String returns the type name.
func (r TypeRef) String() string {
	if r.Enum != nil {
		return r.Enum.Name
	}
	return r.Name
}

// Column represents a single column inside a table.
type Column struct {
	table   *Table
	Name    string
	Type    TypeRef
	NotNull bool
	Default *string
	// Generated holds the expression of a stored generated column.
	Generated string
	Comment   string
	removed   bool
}

// Table returns the owning table, nil once removed.
func (c *Column) Table() *Table { return c.table }

// Removed reports whether the column was detached.
func (c *Column) Removed() bool { return c.removed }

// DefaultValue returns the default expression or "".
func (c *Column) DefaultValue() string {
	if c.Default == nil {
		return ""
	}
	return *c.Default
}

// Constraints returns the constraints on the owning table covering c.
func (c *Column) Constraints() []*Constraint {
	if c.table == nil {
		return nil
	}
	var out []*Constraint
	for _, k := range c.table.constraints.Values() {
		if k.Covers(c) {
			out = append(out, k)
		}
	}
	return out
}

// ForeignKey returns the foreign key c is an origin column of, or nil.
func (c *Column) ForeignKey() *Constraint {
	for _, k := range c.Constraints() {
		if k.Kind == ForeignKey {
			return k
		}
	}
	return nil
}

// Rename changes the column name inside its table.
func (c *Column) Rename(name string) error {
	if c.table == nil {
		return errors.NotValidf("rename of removed column %q", c.Name)
	}
	if err := c.table.columns.rename("column", c.Name, name); err != nil {
		return errors.Trace(err)
	}
	c.Name = name
	c.table.rows = nil
	return nil
}

// Remove detaches the column together with every constraint covering it or
// referencing it, and the sequences it owns.
func (c *Column) Remove() {
	if c.removed {
		return
	}
	if t := c.table; t != nil {
		for _, k := range c.Constraints() {
			k.Remove()
		}
		if t.schema != nil {
			for _, fk := range t.schema.ReferencingKeys(t) {
				for _, target := range fk.TargetColumns {
					if target == c {
						fk.Remove()
						break
					}
				}
			}
		}
		for _, s := range t.sequences.Values() {
			if s.OwnedBy == c {
				s.Remove()
			}
		}
		t.columns.remove(c.Name)
		t.rows = nil
	}
	c.table = nil
	c.Default = nil
	c.removed = true
}
