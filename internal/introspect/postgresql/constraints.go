package postgresql

import (
	"github.com/juju/errors"
	"github.com/lib/pq"

	"factum/internal/core"
	"factum/internal/introspect"
)

const constraintsQuery = `
	SELECT c.relname,
	       k.conname,
	       k.contype::text,
	       ARRAY(SELECT a.attname FROM unnest(k.conkey) WITH ORDINALITY u(n, i)
	             JOIN pg_attribute a ON a.attrelid = k.conrelid AND a.attnum = u.n ORDER BY u.i)::text[],
	       coalesce(fn.nspname, ''),
	       coalesce(f.relname, ''),
	       ARRAY(SELECT a.attname FROM unnest(k.confkey) WITH ORDINALITY u(n, i)
	             JOIN pg_attribute a ON a.attrelid = k.confrelid AND a.attnum = u.n ORDER BY u.i)::text[],
	       k.confdeltype::text,
	       coalesce(obj_description(k.oid, 'pg_constraint'), '')
	FROM pg_constraint k
	JOIN pg_class c ON c.oid = k.conrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	LEFT JOIN pg_class f ON f.oid = k.confrelid
	LEFT JOIN pg_namespace fn ON fn.oid = f.relnamespace
	WHERE n.nspname = $1 AND k.contype IN ('p', 'u', 'f')
	ORDER BY CASE k.contype WHEN 'f' THEN 1 ELSE 0 END, k.oid`

const sequencesQuery = `
	SELECT t.relname, s.relname, a.attname
	FROM pg_class s
	JOIN pg_namespace n ON n.oid = s.relnamespace
	JOIN pg_depend d ON d.objid = s.oid AND d.classid = 'pg_class'::regclass AND d.deptype IN ('a', 'i')
	JOIN pg_class t ON t.oid = d.refobjid
	JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = d.refobjsubid
	WHERE n.nspname = $1 AND s.relkind = 'S'
	ORDER BY s.oid`

const triggersQuery = `
	SELECT c.relname, tg.tgname, p.proname, p.prosrc
	FROM pg_trigger tg
	JOIN pg_class c ON c.oid = tg.tgrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	JOIN pg_proc p ON p.oid = tg.tgfoid
	WHERE n.nspname = $1 AND NOT tg.tgisinternal
	ORDER BY tg.oid`

func columns(t *core.Table, names []string) ([]*core.Column, error) {
	out := make([]*core.Column, len(names))
	for i, n := range names {
		c := t.Column(n)
		if c == nil {
			return nil, errors.NotFoundf("column %q of table %q", n, t.Name)
		}
		out[i] = c
	}
	return out, nil
}

func introspectConstraints(ic *introspectCtx) error {
	return ic.each(constraintsQuery, func(rows introspect.Rows) error {
		var table, name, kind, targetSchema, target, action, comment string
		var cols, targetCols []string
		if err := rows.Scan(&table, &name, &kind, pq.Array(&cols), &targetSchema, &target, pq.Array(&targetCols), &action, &comment); err != nil {
			return err
		}
		t := ic.schema.Table(table)
		if t == nil {
			return errors.NotFoundf("table %q of constraint %q", table, name)
		}
		origin, err := columns(t, cols)
		if err != nil {
			return err
		}

		var c *core.Constraint
		switch kind {
		case "p":
			c, err = t.AddPrimaryKey(name, origin)
		case "u":
			c, err = t.AddUnique(name, origin)
		case "f":
			if targetSchema != ic.schema.Name {
				logger.Warningf("skipping foreign key %s on %s: target %s.%s is outside the schema", name, table, targetSchema, target)
				return nil
			}
			tt := ic.schema.Table(target)
			if tt == nil {
				return errors.NotFoundf("target table %q of foreign key %q", target, name)
			}
			var referenced []*core.Column
			if referenced, err = columns(tt, targetCols); err != nil {
				return err
			}
			c, err = t.AddForeignKey(name, origin, tt, referenced, core.ActionFromCode(action))
		default:
			return nil
		}
		if err != nil {
			return err
		}
		c.Comment = comment
		return nil
	})
}

func introspectSequences(ic *introspectCtx) error {
	return ic.each(sequencesQuery, func(rows introspect.Rows) error {
		var table, name, column string
		if err := rows.Scan(&table, &name, &column); err != nil {
			return err
		}
		t := ic.schema.Table(table)
		if t == nil {
			return nil
		}
		_, err := t.AddSequence(name, t.Column(column))
		return err
	})
}

func introspectTriggers(ic *introspectCtx) error {
	return ic.each(triggersQuery, func(rows introspect.Rows) error {
		var table, name, function, body string
		if err := rows.Scan(&table, &name, &function, &body); err != nil {
			return err
		}
		t := ic.schema.Table(table)
		if t == nil {
			return nil
		}
		_, err := t.AddTrigger(name, function, body)
		return err
	})
}
