package core

import (
	"fmt"

	"github.com/juju/errors"
)

// Table represents a table in the catalog image.
type Table struct {
	schema      *Schema
	Name        string
	Comment     string
	columns     Collection[*Column]
	constraints Collection[*Constraint]
	sequences   Collection[*Sequence]
	triggers    Collection[*Trigger]
	rows        *Rows
	removed     bool
}

// Schema returns the owning schema, nil once removed.
func (t *Table) Schema() *Schema { return t.schema }

// Removed reports whether the table was detached.
func (t *Table) Removed() bool { return t.removed }

// String returns a short description of the table.
func (t *Table) String() string {
	return fmt.Sprintf("Table: %s (%d cols, %d constraints)", t.Name, t.columns.Len(), t.constraints.Len())
}

// AddColumn appends a column.
func (t *Table) AddColumn(name string, typ TypeRef, notNull bool, def *string) (*Column, error) {
	c := &Column{table: t, Name: name, Type: typ, NotNull: notNull, Default: def}
	if err := t.columns.add("column", name, c); err != nil {
		return nil, errors.Annotatef(err, "table %q", t.Name)
	}
	t.rows = nil
	return c, nil
}

// Column returns the named column or nil.
func (t *Table) Column(name string) *Column {
	c, _ := t.columns.Get(name)
	return c
}

// Columns returns the columns in ordinal order.
func (t *Table) Columns() []*Column {
	return t.columns.Values()
}

// ColumnNames returns the column names in ordinal order.
func (t *Table) ColumnNames() []string {
	return t.columns.Names()
}

// AddPrimaryKey registers the identity constraint. A table holds at most one.
func (t *Table) AddPrimaryKey(name string, cols []*Column) (*Constraint, error) {
	if pk := t.PrimaryKey(); pk != nil {
		return nil, errors.AlreadyExistsf("primary key %q on table %q", pk.Name, t.Name)
	}
	return t.addConstraint(&Constraint{Name: name, Kind: PrimaryKey, Columns: cols})
}

// AddUnique registers a unique constraint.
func (t *Table) AddUnique(name string, cols []*Column) (*Constraint, error) {
	return t.addConstraint(&Constraint{Name: name, Kind: Unique, Columns: cols})
}

// AddForeignKey registers a foreign key from cols to targetCols of target.
func (t *Table) AddForeignKey(name string, cols []*Column, target *Table, targetCols []*Column, onDelete Action) (*Constraint, error) {
	if len(cols) != len(targetCols) {
		return nil, errors.NotValidf("foreign key %q with %d columns referencing %d", name, len(cols), len(targetCols))
	}
	return t.addConstraint(&Constraint{
		Name:          name,
		Kind:          ForeignKey,
		Columns:       cols,
		Target:        target,
		TargetColumns: targetCols,
		OnDelete:      onDelete,
	})
}

func (t *Table) addConstraint(c *Constraint) (*Constraint, error) {
	for _, col := range c.Columns {
		if col == nil || col.table != t {
			return nil, errors.NotValidf("constraint %q on table %q referencing a foreign column", c.Name, t.Name)
		}
	}
	c.table = t
	if err := t.constraints.add("constraint", c.Name, c); err != nil {
		return nil, errors.Annotatef(err, "table %q", t.Name)
	}
	return c, nil
}

// Constraint returns the named constraint or nil.
func (t *Table) Constraint(name string) *Constraint {
	c, _ := t.constraints.Get(name)
	return c
}

// Constraints returns all constraints in registration order.
func (t *Table) Constraints() []*Constraint {
	return t.constraints.Values()
}

// PrimaryKey returns the identity constraint or nil.
func (t *Table) PrimaryKey() *Constraint {
	for _, c := range t.constraints.Values() {
		if c.Kind == PrimaryKey {
			return c
		}
	}
	return nil
}

// ForeignKeys returns the foreign keys declared on the table.
func (t *Table) ForeignKeys() []*Constraint {
	var out []*Constraint
	for _, c := range t.constraints.Values() {
		if c.Kind == ForeignKey {
			out = append(out, c)
		}
	}
	return out
}

// AddSequence registers a sequence, optionally owned by a column.
func (t *Table) AddSequence(name string, ownedBy *Column) (*Sequence, error) {
	s := &Sequence{table: t, Name: name, OwnedBy: ownedBy}
	if err := t.sequences.add("sequence", name, s); err != nil {
		return nil, errors.Annotatef(err, "table %q", t.Name)
	}
	return s, nil
}

// Sequences returns the sequences owned by the table.
func (t *Table) Sequences() []*Sequence {
	return t.sequences.Values()
}

// AddTrigger registers a row trigger executing function.
func (t *Table) AddTrigger(name, function, body string) (*Trigger, error) {
	tr := &Trigger{table: t, Name: name, Function: function, Body: body}
	if err := t.triggers.add("trigger", name, tr); err != nil {
		return nil, errors.Annotatef(err, "table %q", t.Name)
	}
	return tr, nil
}

// Trigger returns the named trigger or nil.
func (t *Table) Trigger(name string) *Trigger {
	tr, _ := t.triggers.Get(name)
	return tr
}

// Triggers returns the table's triggers.
func (t *Table) Triggers() []*Trigger {
	return t.triggers.Values()
}

// Rename changes the table name inside its schema.
func (t *Table) Rename(name string) error {
	if t.schema == nil {
		return errors.NotValidf("rename of removed table %q", t.Name)
	}
	if err := t.schema.tables.rename("table", t.Name, name); err != nil {
		return errors.Trace(err)
	}
	t.Name = name
	return nil
}

// Rows returns the cached row snapshot, nil when none is loaded.
func (t *Table) Rows() *Rows { return t.rows }

// SetRows caches a row snapshot.
func (t *Table) SetRows(r *Rows) { t.rows = r }

// InvalidateRows drops the cached row snapshot.
func (t *Table) InvalidateRows() { t.rows = nil }

// Remove detaches the table, its columns and constraints, and every foreign
// key elsewhere in the schema that targets it.
func (t *Table) Remove() {
	if t.removed {
		return
	}
	if t.schema != nil {
		for _, fk := range t.schema.ReferencingKeys(t) {
			fk.Remove()
		}
	}
	for _, c := range t.constraints.Values() {
		c.Remove()
	}
	for _, tr := range t.triggers.Values() {
		tr.Remove()
	}
	for _, s := range t.sequences.Values() {
		s.Remove()
	}
	for _, c := range t.columns.Values() {
		c.Remove()
	}
	if t.schema != nil {
		t.schema.tables.remove(t.Name)
	}
	t.schema = nil
	t.rows = nil
	t.removed = true
}

// Sequence is a sequence owned by a table.
type Sequence struct {
	table   *Table
	Name    string
	OwnedBy *Column
	removed bool
}

// Table returns the owning table.
func (s *Sequence) Table() *Table { return s.table }

// Remove detaches the sequence.
func (s *Sequence) Remove() {
	if s.removed {
		return
	}
	if s.table != nil {
		s.table.sequences.remove(s.Name)
	}
	s.table = nil
	s.OwnedBy = nil
	s.removed = true
}

// Trigger is a row trigger; Body is the source of the function it executes.
type Trigger struct {
	table    *Table
	Name     string
	Function string
	Body     string
	removed  bool
}

// Table returns the owning table.
func (tr *Trigger) Table() *Table { return tr.table }

// Removed reports whether the trigger was detached.
func (tr *Trigger) Removed() bool { return tr.removed }

// Remove detaches the trigger.
func (tr *Trigger) Remove() {
	if tr.removed {
		return
	}
	if tr.table != nil {
		tr.table.triggers.remove(tr.Name)
	}
	tr.table = nil
	tr.Body = ""
	tr.removed = true
}
