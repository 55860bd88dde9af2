package model

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/juju/errors"

	"factum/internal/core"
	"factum/internal/dialect/postgres"
	"factum/internal/fault"
)

// maxSelectValues bounds the target list of one normalization query.
const maxSelectValues = 1000

// Value is the declared value of a column or link, one element per column.
// A nil element is NULL.
type Value []*string

// Row maps column and link labels to declared values.
type Row map[string]Value

type cell struct {
	col   *core.Column
	value *string
}

// SyncRows makes the table hold rows. Rows are matched by their identity
// values, which every row must give. Missing rows are inserted and the listed
// columns of existing rows updated; with exclusive, rows not listed are
// deleted.
func (t *Table) SyncRows(ctx context.Context, rows []Row, exclusive bool) error {
	r := t.reg
	id := t.Identity()
	if id == nil {
		return fault.Schemaf("table %q has no identity", t.Label())
	}
	keys := id.Columns()

	declared := make([][]cell, len(rows))
	used := make(map[*core.Column]bool)
	for i, row := range rows {
		cells, err := t.resolveRow(i, row)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if !hasCell(cells, k) {
				return fault.Schemaf("row %d of table %q lacks identity column %q", i+1, t.Label(), k.Name)
			}
		}
		for _, c := range cells {
			used[c.col] = true
		}
		declared[i] = cells
	}
	if err := r.normalize(ctx, declared); err != nil {
		return errors.Trace(err)
	}

	snap, err := t.snapshot(ctx, keys, used)
	if err != nil {
		return errors.Trace(err)
	}
	pos := make(map[*core.Column]int, len(snap.Columns))
	for i, name := range snap.Columns {
		pos[t.image.Column(name)] = i
	}

	g := r.gen()
	keyNames := core.Names(keys)
	keyValues := func(values []*string) []postgres.Value {
		out := make([]postgres.Value, len(keys))
		for i, k := range keys {
			out[i] = postgres.Value{Text: values[i], Type: k.Type}
		}
		return out
	}

	var stmts []string
	wanted := core.NewRows(snap.Columns, snap.Keys)
	for i, cells := range declared {
		full := make([]*string, len(snap.Columns))
		for _, c := range cells {
			full[pos[c.col]] = c.value
		}
		if wanted.Find(full) != nil {
			return fault.Schemaf("row %d of table %q repeats an identity", i+1, t.Label())
		}
		wanted.Append(full)

		current := snap.Find(full)
		if current == nil {
			cols := make([]string, len(cells))
			values := make([]postgres.Value, len(cells))
			for j, c := range cells {
				cols[j] = c.col.Name
				values[j] = postgres.Value{Text: c.value, Type: c.col.Type}
			}
			stmts = append(stmts, g.Insert(t.Name(), cols, values))
			continue
		}
		var setCols []string
		var setValues []postgres.Value
		for _, c := range cells {
			if core.Equal(current[pos[c.col]], c.value) {
				continue
			}
			setCols = append(setCols, c.col.Name)
			setValues = append(setValues, postgres.Value{Text: c.value, Type: c.col.Type})
		}
		if len(setCols) > 0 {
			stmts = append(stmts, g.Update(t.Name(), setCols, setValues, keyNames, keyValues(full)))
		}
	}
	if exclusive {
		for _, values := range snap.Values {
			if wanted.Find(values) == nil {
				stmts = append(stmts, g.Delete(t.Name(), keyNames, keyValues(values)))
			}
		}
	}

	p := newPlan(fmt.Sprintf("rows of table %q differ", t.Label()),
		fmt.Sprintf("%d declared rows", len(rows)), fmt.Sprintf("%d rows", snap.Len()))
	for _, stmt := range stmts {
		p.main(strings.SplitN(stmt, " ", 2)[0], func(ctx context.Context) error {
			return r.exec(ctx, stmt, nil)
		})
	}
	if len(stmts) > 0 {
		p.main("forget row snapshot", func(context.Context) error {
			t.image.InvalidateRows()
			return nil
		})
	}
	return errors.Trace(r.Execute(ctx, p))
}

func hasCell(cells []cell, col *core.Column) bool {
	for _, c := range cells {
		if c.col == col {
			return true
		}
	}
	return false
}

// resolveRow maps the labels of row i to columns.
func (t *Table) resolveRow(i int, row Row) ([]cell, error) {
	var cells []cell
	for label, value := range row {
		var cols []*core.Column
		switch c, l := t.FindColumn(label), t.FindLink(label); {
		case c != nil:
			cols = []*core.Column{c.image}
		case l != nil:
			cols = l.Columns()
		case t.FindAlias(label) != nil:
			return nil, fault.Schemaf("row %d of table %q sets alias %q", i+1, t.Label(), label)
		default:
			return nil, fault.Schemaf("row %d of table %q sets unknown column %q", i+1, t.Label(), label)
		}
		if len(value) != len(cols) {
			return nil, &fault.SchemaError{
				Message:  fmt.Sprintf("row %d of table %q: value of %q does not fit its columns", i+1, t.Label(), label),
				Expected: fmt.Sprintf("%d values", len(cols)),
				Actual:   fmt.Sprintf("%d values", len(value)),
			}
		}
		for j, col := range cols {
			cells = append(cells, cell{col: col, value: value[j]})
		}
	}
	// Column order, so generated statements do not depend on map order.
	ordered := make([]cell, 0, len(cells))
	for _, col := range t.image.Columns() {
		for _, c := range cells {
			if c.col == col {
				ordered = append(ordered, c)
			}
		}
	}
	return ordered, nil
}

// normalize replaces declared values by the text the server renders for
// them once cast to their column type, so they compare with stored rows.
func (r *Registry) normalize(ctx context.Context, rows [][]cell) error {
	var refs []*cell
	for i := range rows {
		for j := range rows[i] {
			if rows[i][j].value != nil {
				refs = append(refs, &rows[i][j])
			}
		}
	}
	g := r.gen()
	for start := 0; start < len(refs); start += maxSelectValues {
		end := min(start+maxSelectValues, len(refs))
		chunk := refs[start:end]
		exprs := make([]string, len(chunk))
		for i, c := range chunk {
			exprs[i] = fmt.Sprintf("(%s)::text AS v%d", g.Literal(postgres.Value{Text: c.value, Type: c.col.Type}), i)
		}
		values, err := r.queryRow(ctx, "SELECT "+strings.Join(exprs, ", "), len(chunk))
		if err != nil {
			return errors.Annotate(err, "normalizing row values")
		}
		for i, c := range chunk {
			c.value = values[i]
		}
	}
	return nil
}

func (r *Registry) queryRow(ctx context.Context, query string, n int) ([]*string, error) {
	rows, err := r.drv.Query(ctx, query)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		return nil, errors.NotFoundf("result row")
	}
	return scanText(rows, n)
}

func scanText(rows interface{ Scan(...any) error }, n int) ([]*string, error) {
	raw := make([]sql.NullString, n)
	dest := make([]any, n)
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, errors.Trace(err)
	}
	out := make([]*string, n)
	for i, v := range raw {
		if v.Valid {
			s := v.String
			out[i] = &s
		}
	}
	return out, nil
}

// snapshot returns the table rows as text, reading them unless the cached
// snapshot covers the needed columns.
func (t *Table) snapshot(ctx context.Context, keys []*core.Column, used map[*core.Column]bool) (*core.Rows, error) {
	needed := core.Names(keys)
	for col := range used {
		needed = append(needed, col.Name)
	}
	if s := t.image.Rows(); s != nil && s.Keys == len(keys) && s.Covers(needed) &&
		sameLabels(s.Columns[:s.Keys], core.Names(keys)) {
		return s, nil
	}

	cols := append([]*core.Column(nil), keys...)
	for _, c := range t.image.Columns() {
		if c.Generated == "" && !contains(keys, c) {
			cols = append(cols, c)
		}
	}
	g := t.reg.gen()
	exprs := make([]string, len(cols))
	for i, c := range cols {
		exprs[i] = g.QuoteIdentifier(c.Name) + "::text"
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), g.Qualified(t.Name()))

	rows, err := t.reg.drv.Query(ctx, query)
	if err != nil {
		return nil, errors.Annotatef(err, "reading rows of table %q", t.Label())
	}
	defer rows.Close()
	snap := core.NewRows(core.Names(cols), len(keys))
	for rows.Next() {
		values, err := scanText(rows, len(cols))
		if err != nil {
			return nil, errors.Annotatef(err, "reading rows of table %q", t.Label())
		}
		snap.Append(values)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	t.image.SetRows(snap)
	return snap, nil
}
