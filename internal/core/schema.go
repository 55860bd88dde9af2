// Package core holds the catalog image: an in-memory mirror of the live
// database's structural metadata. It is built by introspection and then
// mutated in step with every DDL statement the engine submits, so later facts
// in a run see the schema as it will be after commit.
package core

import (
	"github.com/juju/errors"
)

// Catalog is the root of the image.
type Catalog struct {
	// Version is the server version string reported during introspection.
	Version string
	schemas Collection[*Schema]
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// AddSchema registers a new schema.
func (c *Catalog) AddSchema(name string) (*Schema, error) {
	s := &Schema{catalog: c, Name: name}
	if err := c.schemas.add("schema", name, s); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

// Schema returns the named schema or nil.
func (c *Catalog) Schema(name string) *Schema {
	s, _ := c.schemas.Get(name)
	return s
}

// Schemas returns all schemas in registration order.
func (c *Catalog) Schemas() []*Schema {
	return c.schemas.Values()
}

// Schema is a namespace owning tables and enumeration types.
type Schema struct {
	catalog *Catalog
	Name    string
	tables  Collection[*Table]
	types   Collection[*Type]
	removed bool
}

// Catalog returns the owning catalog.
func (s *Schema) Catalog() *Catalog { return s.catalog }

// Removed reports whether the schema was detached from its catalog.
func (s *Schema) Removed() bool { return s.removed }

// AddTable registers a new, empty table.
func (s *Schema) AddTable(name string) (*Table, error) {
	t := &Table{schema: s, Name: name}
	if err := s.tables.add("table", name, t); err != nil {
		return nil, errors.Annotatef(err, "schema %q", s.Name)
	}
	return t, nil
}

// Table returns the named table or nil.
func (s *Schema) Table(name string) *Table {
	t, _ := s.tables.Get(name)
	return t
}

// Tables returns the tables in registration order.
func (s *Schema) Tables() []*Table {
	return s.tables.Values()
}

// AddType registers an enumeration type with the given labels.
func (s *Schema) AddType(name string, labels []string) (*Type, error) {
	typ := &Type{schema: s, Name: name, Labels: append([]string(nil), labels...)}
	if err := s.types.add("type", name, typ); err != nil {
		return nil, errors.Annotatef(err, "schema %q", s.Name)
	}
	return typ, nil
}

// Type returns the named enumeration type or nil.
func (s *Schema) Type(name string) *Type {
	typ, _ := s.types.Get(name)
	return typ
}

// Types returns the enumeration types in registration order.
func (s *Schema) Types() []*Type {
	return s.types.Values()
}

// ReferencingKeys returns every foreign key in the schema whose target is t,
// including keys declared on t itself.
func (s *Schema) ReferencingKeys(t *Table) []*Constraint {
	var out []*Constraint
	for _, other := range s.tables.Values() {
		for _, c := range other.constraints.Values() {
			if c.Kind == ForeignKey && c.Target == t {
				out = append(out, c)
			}
		}
	}
	return out
}

// Remove detaches the schema and everything it owns.
func (s *Schema) Remove() {
	if s.removed {
		return
	}
	for _, t := range s.tables.Values() {
		t.Remove()
	}
	for _, typ := range s.types.Values() {
		typ.Remove()
	}
	if s.catalog != nil {
		s.catalog.schemas.remove(s.Name)
	}
	s.catalog = nil
	s.removed = true
}

// Type is a schema-local enumeration type.
type Type struct {
	schema  *Schema
	Name    string
	Labels  []string
	Comment string
	removed bool
}

// Schema returns the owning schema.
func (t *Type) Schema() *Schema { return t.schema }

// Removed reports whether the type was detached.
func (t *Type) Removed() bool { return t.removed }

// Users returns the columns typed with t.
func (t *Type) Users() []*Column {
	if t.schema == nil {
		return nil
	}
	var out []*Column
	for _, tbl := range t.schema.tables.Values() {
		for _, c := range tbl.columns.Values() {
			if c.Type.Enum == t {
				out = append(out, c)
			}
		}
	}
	return out
}

// Rename changes the type name inside its schema.
func (t *Type) Rename(name string) error {
	if t.schema == nil {
		return errors.NotValidf("rename of removed type %q", t.Name)
	}
	if err := t.schema.types.rename("type", t.Name, name); err != nil {
		return errors.Trace(err)
	}
	t.Name = name
	return nil
}

// Remove detaches the type from its schema.
func (t *Type) Remove() {
	if t.removed {
		return
	}
	if t.schema != nil {
		t.schema.types.remove(t.Name)
	}
	t.schema = nil
	t.Labels = nil
	t.removed = true
}
