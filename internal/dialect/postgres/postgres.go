// Package postgres renders the PostgreSQL statements the engine submits. Every
// statement is qualified with the generator's schema, so the emitted text is
// independent of the session search_path.
package postgres

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"factum/internal/core"
)

// Generator is a stateless statement builder bound to one schema.
type Generator struct {
	Schema string
}

// NewGenerator returns a generator for schema.
func NewGenerator(schema string) *Generator {
	return &Generator{Schema: schema}
}

// QuoteIdentifier quotes name as a PostgreSQL identifier.
func (g *Generator) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

// QuoteString quotes value as a string literal.
func (g *Generator) QuoteString(value string) string {
	return pq.QuoteLiteral(value)
}

// Qualified returns the schema-qualified, quoted name.
func (g *Generator) Qualified(name string) string {
	return pq.QuoteIdentifier(g.Schema) + "." + pq.QuoteIdentifier(name)
}

// TypeName renders a column type.
func (g *Generator) TypeName(ref core.TypeRef) string {
	if ref.Enum != nil {
		return g.Qualified(ref.Enum.Name)
	}
	return ref.Name
}

// ColumnDef is a column as it appears in CREATE TABLE or ADD COLUMN.
type ColumnDef struct {
	Name      string
	Type      core.TypeRef
	NotNull   bool
	Default   *string
	Generated string
}

func (g *Generator) columnDefinition(c ColumnDef) string {
	parts := []string{g.QuoteIdentifier(c.Name), g.TypeName(c.Type)}
	if c.Generated != "" {
		parts = append(parts, fmt.Sprintf("GENERATED ALWAYS AS (%s) STORED", c.Generated))
	}
	if c.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != nil && c.Generated == "" {
		parts = append(parts, "DEFAULT "+*c.Default)
	}
	return strings.Join(parts, " ")
}

// CreateTable returns CREATE TABLE with the given columns.
func (g *Generator) CreateTable(table string, cols []ColumnDef) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = "  " + g.columnDefinition(c)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", g.Qualified(table), strings.Join(defs, ",\n"))
}

// DropTable returns DROP TABLE.
func (g *Generator) DropTable(table string) string {
	return "DROP TABLE " + g.Qualified(table)
}

// RenameTable returns ALTER TABLE ... RENAME TO.
func (g *Generator) RenameTable(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", g.Qualified(from), g.QuoteIdentifier(to))
}

func (g *Generator) alter(table, action string) string {
	return fmt.Sprintf("ALTER TABLE %s %s", g.Qualified(table), action)
}

// AddColumn returns ALTER TABLE ... ADD COLUMN.
func (g *Generator) AddColumn(table string, c ColumnDef) string {
	return g.alter(table, "ADD COLUMN "+g.columnDefinition(c))
}

// DropColumn returns ALTER TABLE ... DROP COLUMN.
func (g *Generator) DropColumn(table, column string) string {
	return g.alter(table, "DROP COLUMN "+g.QuoteIdentifier(column))
}

// RenameColumn returns ALTER TABLE ... RENAME COLUMN.
func (g *Generator) RenameColumn(table, from, to string) string {
	return g.alter(table, fmt.Sprintf("RENAME COLUMN %s TO %s", g.QuoteIdentifier(from), g.QuoteIdentifier(to)))
}

// AlterColumnType returns ALTER COLUMN ... TYPE, converting existing values
// with using when it is not empty.
func (g *Generator) AlterColumnType(table, column string, typ core.TypeRef, using string) string {
	action := fmt.Sprintf("ALTER COLUMN %s TYPE %s", g.QuoteIdentifier(column), g.TypeName(typ))
	if using != "" {
		action += " USING " + using
	}
	return g.alter(table, action)
}

// CastUsing renders the USING expression for a conversion to typ.
func (g *Generator) CastUsing(column string, typ core.TypeRef, conv Conversion) string {
	col := g.QuoteIdentifier(column)
	switch {
	case conv.Expr != "":
		return fmt.Sprintf("(%s)::%s", fmt.Sprintf(conv.Expr, col), g.TypeName(typ))
	case conv.ViaText:
		return fmt.Sprintf("%s::text::%s", col, g.TypeName(typ))
	default:
		return fmt.Sprintf("%s::%s", col, g.TypeName(typ))
	}
}

// SetNotNull returns ALTER COLUMN ... SET/DROP NOT NULL.
func (g *Generator) SetNotNull(table, column string, notNull bool) string {
	verb := "DROP"
	if notNull {
		verb = "SET"
	}
	return g.alter(table, fmt.Sprintf("ALTER COLUMN %s %s NOT NULL", g.QuoteIdentifier(column), verb))
}

// SetDefault returns ALTER COLUMN ... SET DEFAULT, or DROP DEFAULT for nil.
func (g *Generator) SetDefault(table, column string, def *string) string {
	if def == nil {
		return g.alter(table, fmt.Sprintf("ALTER COLUMN %s DROP DEFAULT", g.QuoteIdentifier(column)))
	}
	return g.alter(table, fmt.Sprintf("ALTER COLUMN %s SET DEFAULT %s", g.QuoteIdentifier(column), *def))
}

func (g *Generator) columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = g.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

// AddPrimaryKey returns ADD CONSTRAINT ... PRIMARY KEY.
func (g *Generator) AddPrimaryKey(table, name string, cols []string) string {
	return g.alter(table, fmt.Sprintf("ADD CONSTRAINT %s PRIMARY KEY (%s)", g.QuoteIdentifier(name), g.columnList(cols)))
}

// AddUnique returns ADD CONSTRAINT ... UNIQUE.
func (g *Generator) AddUnique(table, name string, cols []string) string {
	return g.alter(table, fmt.Sprintf("ADD CONSTRAINT %s UNIQUE (%s)", g.QuoteIdentifier(name), g.columnList(cols)))
}

// AddForeignKey returns ADD CONSTRAINT ... FOREIGN KEY.
func (g *Generator) AddForeignKey(table, name string, cols []string, target string, targetCols []string, onDelete core.Action) string {
	action := fmt.Sprintf("ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		g.QuoteIdentifier(name), g.columnList(cols), g.Qualified(target), g.columnList(targetCols))
	if onDelete != "" && onDelete != core.ActionNoAction {
		action += " ON DELETE " + string(onDelete)
	}
	return g.alter(table, action)
}

// DropConstraint returns ALTER TABLE ... DROP CONSTRAINT.
func (g *Generator) DropConstraint(table, name string) string {
	return g.alter(table, "DROP CONSTRAINT "+g.QuoteIdentifier(name))
}

// RenameConstraint returns ALTER TABLE ... RENAME CONSTRAINT.
func (g *Generator) RenameConstraint(table, from, to string) string {
	return g.alter(table, fmt.Sprintf("RENAME CONSTRAINT %s TO %s", g.QuoteIdentifier(from), g.QuoteIdentifier(to)))
}

// CreateEnum returns CREATE TYPE ... AS ENUM.
func (g *Generator) CreateEnum(name string, labels []string) string {
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = g.QuoteString(l)
	}
	return fmt.Sprintf("CREATE TYPE %s AS ENUM (%s)", g.Qualified(name), strings.Join(quoted, ", "))
}

// DropType returns DROP TYPE.
func (g *Generator) DropType(name string) string {
	return "DROP TYPE " + g.Qualified(name)
}

// RenameType returns ALTER TYPE ... RENAME TO.
func (g *Generator) RenameType(from, to string) string {
	return fmt.Sprintf("ALTER TYPE %s RENAME TO %s", g.Qualified(from), g.QuoteIdentifier(to))
}

func (g *Generator) commentText(text string) string {
	if text == "" {
		return "NULL"
	}
	return g.QuoteString(text)
}

// CommentOnTable returns COMMENT ON TABLE; an empty text clears it.
func (g *Generator) CommentOnTable(table, text string) string {
	return fmt.Sprintf("COMMENT ON TABLE %s IS %s", g.Qualified(table), g.commentText(text))
}

// CommentOnColumn returns COMMENT ON COLUMN.
func (g *Generator) CommentOnColumn(table, column, text string) string {
	return fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s", g.Qualified(table), g.QuoteIdentifier(column), g.commentText(text))
}

// CommentOnConstraint returns COMMENT ON CONSTRAINT.
func (g *Generator) CommentOnConstraint(table, name, text string) string {
	return fmt.Sprintf("COMMENT ON CONSTRAINT %s ON %s IS %s", g.QuoteIdentifier(name), g.Qualified(table), g.commentText(text))
}

// FunctionQuote delimits trigger function bodies.
const FunctionQuote = "$factum$"

// CreateTriggerFunction returns CREATE OR REPLACE FUNCTION for a plpgsql
// trigger function with the given body.
func (g *Generator) CreateTriggerFunction(name, body string) string {
	return fmt.Sprintf("CREATE OR REPLACE FUNCTION %s() RETURNS trigger LANGUAGE plpgsql AS %s%s%s",
		g.Qualified(name), FunctionQuote, body, FunctionQuote)
}

// DropFunction returns DROP FUNCTION for a trigger function.
func (g *Generator) DropFunction(name string) string {
	return fmt.Sprintf("DROP FUNCTION %s()", g.Qualified(name))
}

// RenameFunction returns ALTER FUNCTION ... RENAME TO.
func (g *Generator) RenameFunction(from, to string) string {
	return fmt.Sprintf("ALTER FUNCTION %s() RENAME TO %s", g.Qualified(from), g.QuoteIdentifier(to))
}

// CreateTrigger returns CREATE TRIGGER ... BEFORE INSERT.
func (g *Generator) CreateTrigger(table, name, function string) string {
	return fmt.Sprintf("CREATE TRIGGER %s BEFORE INSERT ON %s FOR EACH ROW EXECUTE FUNCTION %s()",
		g.QuoteIdentifier(name), g.Qualified(table), g.Qualified(function))
}

// DropTrigger returns DROP TRIGGER.
func (g *Generator) DropTrigger(table, name string) string {
	return fmt.Sprintf("DROP TRIGGER %s ON %s", g.QuoteIdentifier(name), g.Qualified(table))
}

// RenameTrigger returns ALTER TRIGGER ... RENAME TO.
func (g *Generator) RenameTrigger(table, from, to string) string {
	return fmt.Sprintf("ALTER TRIGGER %s ON %s RENAME TO %s", g.QuoteIdentifier(from), g.Qualified(table), g.QuoteIdentifier(to))
}

// Value is a literal cast to a column type; a nil Text is NULL.
type Value struct {
	Text *string
	Type core.TypeRef
}

// Literal renders v as a typed SQL literal.
func (g *Generator) Literal(v Value) string {
	if v.Text == nil {
		return "NULL::" + g.TypeName(v.Type)
	}
	return g.QuoteString(*v.Text) + "::" + g.TypeName(v.Type)
}

// Insert returns a single-row INSERT.
func (g *Generator) Insert(table string, cols []string, values []Value) string {
	lits := make([]string, len(values))
	for i, v := range values {
		lits[i] = g.Literal(v)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", g.Qualified(table), g.columnList(cols), strings.Join(lits, ", "))
}

func (g *Generator) match(cols []string, values []Value) string {
	conds := make([]string, len(cols))
	for i, c := range cols {
		conds[i] = fmt.Sprintf("%s = %s", g.QuoteIdentifier(c), g.Literal(values[i]))
	}
	return strings.Join(conds, " AND ")
}

// Update returns an UPDATE of set columns on the row matching keys.
func (g *Generator) Update(table string, setCols []string, setValues []Value, keyCols []string, keyValues []Value) string {
	sets := make([]string, len(setCols))
	for i, c := range setCols {
		sets[i] = fmt.Sprintf("%s = %s", g.QuoteIdentifier(c), g.Literal(setValues[i]))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s", g.Qualified(table), strings.Join(sets, ", "), g.match(keyCols, keyValues))
}

// Delete returns a DELETE of the row matching keys.
func (g *Generator) Delete(table string, keyCols []string, keyValues []Value) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", g.Qualified(table), g.match(keyCols, keyValues))
}

// FillRowNumbers numbers the rows of table into column in physical order.
func (g *Generator) FillRowNumbers(table, column string) string {
	return fmt.Sprintf("UPDATE %s AS t SET %s = n.rn FROM (SELECT ctid, row_number() OVER () AS rn FROM %s) AS n WHERE t.ctid = n.ctid",
		g.Qualified(table), g.QuoteIdentifier(column), g.Qualified(table))
}
