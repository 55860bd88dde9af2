package fact

import (
	"context"
	"sort"
	"strings"

	"github.com/juju/errors"

	"factum/internal/fault"
	"factum/internal/model"
)

// Keys orders the keys of extracted records: kind keys first.
var Keys = []string{"table", "column", "link", "alias", "identity", "data", "sql", "include", "to", "type", "formula", "required"}

// Extract returns fact records reproducing the live schema. Tables come
// first with their columns and aliases nested, then links and identities in
// an order where every link follows the final identity of its target.
func Extract(ctx context.Context, reg *model.Registry) ([]map[string]any, error) {
	tables, err := reg.Tables(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	mangler := reg.Driver().Mangler()

	var out []map[string]any
	done := make(map[*model.Table]bool)
	for _, t := range tables {
		rec := map[string]any{"table": t.Label()}
		describe(rec, t.Title(), t.Name(), mangler.Name(t.Label()))
		id := t.Identity()
		done[t] = id == nil || id.Synthesized()

		var columns []any
		for _, c := range t.Columns() {
			if done[t] && id != nil && c.IdentityMember() {
				continue
			}
			columns = append(columns, extractColumn(c, mangler.Name(c.Label())))
		}
		if len(columns) > 0 {
			rec["columns"] = columns
		}
		out = append(out, rec)
	}

	emitted := make(map[*model.Link]bool)
	for progress := true; progress; {
		progress = false
		for _, t := range tables {
			for _, l := range t.Links() {
				if emitted[l] || !done[l.Target()] {
					continue
				}
				emitted[l] = true
				progress = true
				out = append(out, extractLink(t, l, mangler.Name(l.Label())))
			}
			if done[t] || !linksEmitted(t.Identity(), emitted) {
				continue
			}
			done[t] = true
			progress = true
			out = append(out, extractIdentity(t))
		}
	}

	var stuck []string
	for _, t := range tables {
		if !done[t] {
			stuck = append(stuck, t.Label())
		}
	}
	if len(stuck) > 0 {
		sort.Strings(stuck)
		return nil, fault.Schemaf("identity loop among tables %s", strings.Join(stuck, ", "))
	}
	return out, nil
}

func describe(rec map[string]any, title, name, derived string) {
	if title != "" {
		rec["title"] = title
	}
	if name != derived {
		rec["name"] = name
	}
}

func extractColumn(c *model.Column, derived string) map[string]any {
	if c.IsAlias() {
		rec := map[string]any{"alias": c.Label(), "formula": c.Formula(), "type": c.Type().Scalar}
		describe(rec, c.Meta().Title, c.Name(), derived)
		return rec
	}
	rec := map[string]any{"column": c.Label()}
	typ := c.Type()
	if typ.IsEnum() {
		labels := make([]any, len(typ.Labels))
		for i, l := range typ.Labels {
			labels[i] = l
		}
		rec["type"] = labels
	} else {
		rec["type"] = typ.Scalar
	}
	if c.Required() {
		rec["required"] = true
	}
	if d := c.Default(); d != nil {
		rec["default"] = *d
	}
	if c.Unique() != nil {
		rec["unique"] = true
	}
	describe(rec, c.Meta().Title, c.Name(), derived)
	return rec
}

func extractLink(t *model.Table, l *model.Link, derived string) map[string]any {
	rec := map[string]any{"link": t.Label() + "." + l.Label(), "to": l.Target().Label()}
	if l.Required() {
		rec["required"] = true
	}
	if l.Cascade() {
		rec["cascade"] = true
	}
	name := derived
	if cols := l.Columns(); len(cols) == 1 {
		name = cols[0].Name
	}
	describe(rec, l.Meta().Title, name, derived)
	return rec
}

func linksEmitted(id *model.Identity, emitted map[*model.Link]bool) bool {
	for _, m := range id.Members() {
		if m.Link != nil && !emitted[m.Link] {
			return false
		}
	}
	return true
}

func extractIdentity(t *model.Table) map[string]any {
	id := t.Identity()
	var members []any
	for _, m := range id.Members() {
		members = append(members, t.Label()+"."+m.Label)
	}
	rec := map[string]any{"identity": members}
	if gens := id.Generators(); len(gens) > 0 {
		g := make(map[string]any, len(gens))
		for label, s := range gens {
			g[label] = string(s)
		}
		rec["generate"] = g
	}
	if n := id.Meta().Length; n > 0 {
		rec["length"] = n
	}
	return rec
}
