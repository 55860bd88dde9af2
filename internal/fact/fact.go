// Package fact implements the fact language: atomic declarations of desired
// schema state. A Builder turns raw document records into immutable facts,
// rejecting malformed declarations before the database is touched; Apply
// converges the live schema to each fact in turn through the model layer.
package fact

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/schema"

	"factum/internal/document"
	"factum/internal/fault"
	"factum/internal/mangle"
	"factum/internal/model"
)

var logger = loggo.GetLogger("factum.fact")

// Kind discriminates facts by the key that declares them.
type Kind string

const (
	KindTable    Kind = "table"
	KindColumn   Kind = "column"
	KindLink     Kind = "link"
	KindIdentity Kind = "identity"
	KindAlias    Kind = "alias"
	KindData     Kind = "data"
	KindRaw      Kind = "sql"
	KindInclude  Kind = "include"
)

var kinds = []Kind{KindTable, KindColumn, KindLink, KindIdentity, KindAlias, KindData, KindRaw, KindInclude}

// Fact is one declaration.
type Fact interface {
	Kind() Kind
	Location() fault.Location
	// Describe names the fact in logs and errors, e.g. "column region.name".
	Describe() string
	// Apply converges the schema to the fact.
	Apply(ctx context.Context, reg *model.Registry) error
}

type base struct {
	loc fault.Location
}

func (b base) Location() fault.Location { return b.loc }

// ApplyAll applies facts in order and stops at the first failure. The error
// is annotated with the failing fact, so a failure inside an include or a
// table's nested columns carries every enclosing declaration.
func ApplyAll(ctx context.Context, reg *model.Registry, facts []Fact, onFact func(Fact)) error {
	for _, f := range facts {
		if onFact != nil {
			onFact(f)
		}
		reg.Driver().SetFact(f.Describe())
		logger.Debugf("applying %s", f.Describe())
		if err := f.Apply(ctx, reg); err != nil {
			err = fault.Attach(err, f.Describe(), f.Location())
			if loc := f.Location(); !loc.IsZero() {
				return errors.Annotatef(err, "%s at %s", f.Describe(), loc)
			}
			return errors.Annotate(err, f.Describe())
		}
	}
	return nil
}

// Walk calls fn for every fact, descending into includes and nested table
// children.
func Walk(facts []Fact, fn func(Fact)) {
	for _, f := range facts {
		fn(f)
		switch f := f.(type) {
		case *Table:
			Walk(f.Children, fn)
		case *Include:
			Walk(f.Facts, fn)
		}
	}
}

// Builder builds facts from document records.
type Builder struct {
	loader  document.Loader
	mangler *mangle.Mangler
	// including holds the documents being built, outermost first.
	including []string
}

// NewBuilder returns a builder resolving includes and file clauses through
// loader. Explicit names are checked against mangler's length budget.
func NewBuilder(loader document.Loader, mangler *mangle.Mangler) *Builder {
	if loader == nil {
		loader = document.FileLoader{}
	}
	if mangler == nil {
		mangler = mangle.New(mangle.DefaultMaxLength)
	}
	return &Builder{loader: loader, mangler: mangler}
}

// BuildFile loads the document at path and builds its facts, includes
// included.
func (b *Builder) BuildFile(path string) ([]Fact, error) {
	path = filepath.Clean(path)
	records, err := b.loader.Load(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	b.including = append(b.including, path)
	defer func() { b.including = b.including[:len(b.including)-1] }()
	return b.BuildAll(records, filepath.Dir(path))
}

// BuildAll builds records relative to dir and checks the declared identities
// for loops.
func (b *Builder) BuildAll(records []document.Record, dir string) ([]Fact, error) {
	out := make([]Fact, 0, len(records))
	for _, rec := range records {
		f, err := b.Build(rec, dir)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if len(b.including) <= 1 {
		if err := checkDeclaredLoops(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Build builds one record. Relative paths in the record resolve against dir.
func (b *Builder) Build(rec document.Record, dir string) (Fact, error) {
	var found []Kind
	for _, k := range kinds {
		if _, ok := rec.Fields[string(k)]; ok {
			found = append(found, k)
		}
	}
	if len(found) != 1 {
		keys := make([]string, 0, len(rec.Fields))
		for k := range rec.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, fault.Validationf(rec.Location, "a fact has exactly one kind key, found %d in {%s}", len(found), strings.Join(keys, ", "))
	}

	switch found[0] {
	case KindTable:
		return b.buildTable(rec, dir)
	case KindColumn:
		return b.buildColumn(rec)
	case KindLink:
		return b.buildLink(rec)
	case KindIdentity:
		return b.buildIdentity(rec)
	case KindAlias:
		return b.buildAlias(rec)
	case KindData:
		return b.buildData(rec)
	case KindRaw:
		return b.buildRaw(rec, dir)
	default:
		return b.buildInclude(rec, dir)
	}
}

// coerce checks rec against fields. Every field but the kind key is
// optional and absent from the result when not given.
func coerce(rec document.Record, kind Kind, fields schema.Fields) (map[string]any, error) {
	defaults := make(schema.Defaults, len(fields))
	for k := range fields {
		if k != string(kind) {
			defaults[k] = schema.Omit
		}
	}
	v, err := schema.StrictFieldMap(fields, defaults).Coerce(rec.Fields, nil)
	if err != nil {
		return nil, fault.Validationf(rec.Location, "%s: %v", kind, err)
	}
	return v.(map[string]any), nil
}

var (
	stringOrList = schema.OneOf(schema.String(), schema.List(schema.String()))
	presence     = schema.Fields{
		"present": schema.Bool(),
		"was":     stringOrList,
		"title":   schema.String(),
		"name":    schema.String(),
	}
)

func withPresence(fields schema.Fields) schema.Fields {
	out := make(schema.Fields, len(fields)+len(presence))
	for k, v := range presence {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// common holds the clauses shared by named declarations.
type common struct {
	Present bool
	Was     []string
	Title   string
	Name    string
}

// readCommon reads the shared clauses and rejects clauses that only make
// sense for a present object when present is false.
func (b *Builder) readCommon(m map[string]any, loc fault.Location, what string, presentOnly ...string) (common, error) {
	c := common{
		Present: true,
		Was:     list(m, "was"),
		Title:   str(m, "title"),
		Name:    str(m, "name"),
	}
	if v, ok := m["present"]; ok {
		c.Present = v.(bool)
	}
	if !c.Present {
		for _, k := range presentOnly {
			if _, ok := m[k]; ok {
				return c, fault.Validationf(loc, "%s: %q contradicts present: false", what, k)
			}
		}
	}
	if c.Name != "" && !b.mangler.Fits(c.Name) {
		return c, fault.Validationf(loc, "%s: name %q is longer than %d characters", what, c.Name, b.mangler.MaxLength)
	}
	return c, nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func flag(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func list(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = s.(string)
		}
		return out
	}
	return nil
}

// splitRef splits "table.label".
func splitRef(loc fault.Location, kind Kind, ref string) (string, string, error) {
	table, label, ok := strings.Cut(ref, ".")
	if !ok || table == "" || label == "" {
		return "", "", fault.Validationf(loc, "%s: %q is not of the form table.label", kind, ref)
	}
	return table, label, nil
}

// scalarText renders a document scalar as the text of a SQL literal.
func scalarText(v any) (*string, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		return &v, nil
	case bool, int, int64, uint64, float64:
		s := fmt.Sprint(v)
		return &s, nil
	case time.Time:
		s := v.Format(time.RFC3339Nano)
		if v.Equal(v.Truncate(24 * time.Hour)) {
			s = v.Format(time.DateOnly)
		}
		return &s, nil
	}
	return nil, errors.NotValidf("value %v of type %T", v, v)
}

// findTable resolves the table a fact refers to. A missing table is an
// error only when required.
func findTable(ctx context.Context, reg *model.Registry, label string, required bool) (*model.Table, error) {
	t, err := reg.FindTable(ctx, label)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if t == nil && required {
		return nil, fault.Schemaf("table %q does not exist", label)
	}
	return t, nil
}

// checkDeclaredLoops rejects identities whose member links, followed through
// the identities declared for their targets, lead back to the origin table.
func checkDeclaredLoops(facts []Fact) error {
	links := make(map[string]string)
	var identities []*Identity
	Walk(facts, func(f Fact) {
		switch f := f.(type) {
		case *Link:
			if f.Present {
				links[f.Table+"."+f.Label] = f.Target
			}
		case *Identity:
			identities = append(identities, f)
		}
	})
	byTable := make(map[string]*Identity)
	for _, id := range identities {
		byTable[id.Table] = id
	}
	edges := func(table string) []string {
		id := byTable[table]
		if id == nil {
			return nil
		}
		var out []string
		for _, m := range id.Members {
			if target, ok := links[table+"."+m]; ok {
				out = append(out, target)
			}
		}
		return out
	}
	for _, id := range identities {
		if loop := model.FindLoop(id.Table, edges); loop != nil {
			return fault.Validationf(id.Location(), "identity loop: %s", strings.Join(loop, " -> "))
		}
	}
	return nil
}
