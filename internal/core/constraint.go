package core

// ConstraintKind identifies the constraint types the catalog tracks.
type ConstraintKind string

const (
	PrimaryKey ConstraintKind = "PRIMARY KEY"
	ForeignKey ConstraintKind = "FOREIGN KEY"
	Unique     ConstraintKind = "UNIQUE"
)

// Action is the ON DELETE behaviour of a foreign key.
type Action string

const (
	ActionNoAction   Action = "NO ACTION"
	ActionCascade    Action = "CASCADE"
	ActionSetDefault Action = "SET DEFAULT"
	ActionSetNull    Action = "SET NULL"
	ActionRestrict   Action = "RESTRICT"
)

// ActionFromCode maps pg_constraint.confdeltype to an Action.
func ActionFromCode(code string) Action {
	switch code {
	case "c":
		return ActionCascade
	case "d":
		return ActionSetDefault
	case "n":
		return ActionSetNull
	case "r":
		return ActionRestrict
	default:
		return ActionNoAction
	}
}

// Constraint is a primary key, unique constraint or foreign key. Target is a
// non-owning reference: the target table's lifetime is independent.
type Constraint struct {
	table         *Table
	Name          string
	Kind          ConstraintKind
	Columns       []*Column
	Target        *Table
	TargetColumns []*Column
	OnDelete      Action
	Comment       string
	removed       bool
}

// Table returns the owning table.
func (c *Constraint) Table() *Table { return c.table }

// Removed reports whether the constraint was detached.
func (c *Constraint) Removed() bool { return c.removed }

// Covers reports whether col is one of the constraint's origin columns.
func (c *Constraint) Covers(col *Column) bool {
	for _, x := range c.Columns {
		if x == col {
			return true
		}
	}
	return false
}

// ColumnNames returns the origin column names in order.
func (c *Constraint) ColumnNames() []string {
	return Names(c.Columns)
}

// TargetColumnNames returns the referenced column names in order.
func (c *Constraint) TargetColumnNames() []string {
	return Names(c.TargetColumns)
}

// SelfReferencing reports whether a foreign key targets its own table.
func (c *Constraint) SelfReferencing() bool {
	return c.Kind == ForeignKey && c.Target == c.table
}

// Remove detaches the constraint.
func (c *Constraint) Remove() {
	if c.removed {
		return
	}
	if c.table != nil {
		c.table.constraints.remove(c.Name)
	}
	c.table = nil
	c.Columns = nil
	c.Target = nil
	c.TargetColumns = nil
	c.removed = true
}

// Rename changes the constraint name inside its table.
func (c *Constraint) Rename(name string) error {
	if c.table == nil {
		return nil
	}
	if err := c.table.constraints.rename("constraint", c.Name, name); err != nil {
		return err
	}
	c.Name = name
	return nil
}

// Names returns the names of cols in order.
func Names(cols []*Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}
