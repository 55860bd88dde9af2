package postgresql

import (
	"database/sql"

	"github.com/juju/errors"
	"github.com/lib/pq"

	"factum/internal/core"
	"factum/internal/dialect/postgres"
	"factum/internal/introspect"
)

const typesQuery = `
	SELECT t.typname,
	       array_agg(e.enumlabel ORDER BY e.enumsortorder)::text[],
	       coalesce(obj_description(t.oid, 'pg_type'), '')
	FROM pg_type t
	JOIN pg_namespace n ON n.oid = t.typnamespace
	JOIN pg_enum e ON e.enumtypid = t.oid
	WHERE n.nspname = $1
	GROUP BY t.oid, t.typname
	ORDER BY t.oid`

const tablesQuery = `
	SELECT c.relname, coalesce(obj_description(c.oid, 'pg_class'), '')
	FROM pg_class c
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relkind IN ('r', 'p')
	ORDER BY c.oid`

const columnsQuery = `
	SELECT c.relname,
	       a.attname,
	       format_type(a.atttypid, a.atttypmod),
	       t.typname,
	       t.typtype::text,
	       tn.nspname,
	       a.attnotnull,
	       pg_get_expr(d.adbin, d.adrelid),
	       a.attgenerated::text,
	       coalesce(col_description(c.oid, a.attnum), '')
	FROM pg_attribute a
	JOIN pg_class c ON c.oid = a.attrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	JOIN pg_type t ON t.oid = a.atttypid
	JOIN pg_namespace tn ON tn.oid = t.typnamespace
	LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
	WHERE n.nspname = $1 AND c.relkind IN ('r', 'p') AND a.attnum > 0 AND NOT a.attisdropped
	ORDER BY c.oid, a.attnum`

func introspectTypes(ic *introspectCtx) error {
	return ic.each(typesQuery, func(rows introspect.Rows) error {
		var name, comment string
		var labels []string
		if err := rows.Scan(&name, pq.Array(&labels), &comment); err != nil {
			return err
		}
		typ, err := ic.schema.AddType(name, labels)
		if err != nil {
			return err
		}
		typ.Comment = comment
		return nil
	})
}

func introspectTables(ic *introspectCtx) error {
	return ic.each(tablesQuery, func(rows introspect.Rows) error {
		var name, comment string
		if err := rows.Scan(&name, &comment); err != nil {
			return err
		}
		t, err := ic.schema.AddTable(name)
		if err != nil {
			return err
		}
		t.Comment = comment
		return nil
	})
}

func introspectColumns(ic *introspectCtx) error {
	return ic.each(columnsQuery, func(rows introspect.Rows) error {
		var table, name, format, typName, typType, typSchema, generated, comment string
		var notNull bool
		var def sql.NullString
		if err := rows.Scan(&table, &name, &format, &typName, &typType, &typSchema, &notNull, &def, &generated, &comment); err != nil {
			return err
		}
		t := ic.schema.Table(table)
		if t == nil {
			return errors.NotFoundf("table %q of column %q", table, name)
		}

		ref := core.Scalar(postgres.NormalizeType(format))
		if typType == "e" {
			if enum := ic.schema.Type(typName); enum != nil && typSchema == ic.schema.Name {
				ref = core.EnumRef(enum)
			} else {
				logger.Warningf("column %s.%s uses enum %s.%s outside the schema", table, name, typSchema, typName)
				ref = core.Scalar(format)
			}
		}

		var defPtr *string
		if def.Valid && generated == "" {
			defPtr = &def.String
		}
		c, err := t.AddColumn(name, ref, notNull, defPtr)
		if err != nil {
			return err
		}
		if generated == "s" && def.Valid {
			c.Generated = def.String
		}
		c.Comment = comment
		return nil
	})
}
