// Package postgresql reads a PostgreSQL schema from pg_catalog into a
// core.Catalog: tables, columns, enumeration types, primary, unique and
// foreign keys, owned sequences and row triggers with their function source.
package postgresql

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"factum/internal/core"
	"factum/internal/dialect"
	"factum/internal/introspect"
)

var logger = loggo.GetLogger("factum.introspect.postgresql")

func init() {
	introspect.Register(dialect.PostgreSQL, New)
}

type introspecter struct{}

type introspectCtx struct {
	ctx    context.Context
	q      introspect.Querier
	schema *core.Schema
}

func New() introspect.Introspecter {
	return &introspecter{}
}

func (i *introspecter) Introspect(ctx context.Context, q introspect.Querier, schemas ...string) (*core.Catalog, error) {
	cat := core.NewCatalog()
	version, err := queryString(ctx, q, "SELECT current_setting('server_version')")
	if err != nil {
		return nil, errors.Annotate(err, "reading server version")
	}
	cat.Version = version

	for _, name := range schemas {
		found, err := queryString(ctx, q, "SELECT nspname FROM pg_namespace WHERE nspname = $1", name)
		if err != nil {
			return nil, errors.Annotatef(err, "looking up schema %q", name)
		}
		if found != name {
			return nil, errors.NotFoundf("schema %q", name)
		}
		s, err := cat.AddSchema(name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		ic := &introspectCtx{ctx: ctx, q: q, schema: s}
		for _, step := range []struct {
			what string
			fn   func(*introspectCtx) error
		}{
			{"types", introspectTypes},
			{"tables", introspectTables},
			{"columns", introspectColumns},
			{"constraints", introspectConstraints},
			{"sequences", introspectSequences},
			{"triggers", introspectTriggers},
		} {
			if err := step.fn(ic); err != nil {
				return nil, errors.Annotatef(err, "introspecting %s of schema %q", step.what, name)
			}
		}
		logger.Debugf("schema %q: %d tables, %d types", name, len(s.Tables()), len(s.Types()))
	}
	return cat, nil
}

func queryString(ctx context.Context, q introspect.Querier, query string, args ...any) (string, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var out string
	if rows.Next() {
		if err := rows.Scan(&out); err != nil {
			return "", err
		}
	}
	return out, rows.Err()
}

// each runs query with the schema name as $1 and calls fn per row.
func (ic *introspectCtx) each(query string, fn func(rows introspect.Rows) error) error {
	rows, err := ic.q.Query(ic.ctx, query, ic.schema.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
