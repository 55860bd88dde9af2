// Package model wraps catalog image objects with the metadata the engine keeps
// in their comments: labels, titles and key generator configuration. A model
// is a thin proxy over exactly one image object. Columns covered by a foreign
// key belong to a Link rather than being plain Columns.
//
// Every change is computed as a Plan first: the model works out what its
// dependents must do before and after the change, rejects the change if any
// of them cannot follow, and only then submits statements. Each statement is
// paired with the same change of the image, so later facts in a run see the
// schema as it will be after commit.
package model

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"factum/internal/core"
	"factum/internal/dialect/postgres"
	"factum/internal/driver"
	"factum/internal/mangle"
)

var logger = loggo.GetLogger("factum.model")

// Suffixes of synthesized names.
const (
	suffixIdentity = "pk"
	suffixLink     = "fk"
	suffixUnique   = "key"
	suffixEnum     = "enum"
	suffixKeygen   = "keygen"
)

// Registry resolves models over the driver's catalog image. Lookups of the
// same image object return the same model until the image is replaced.
type Registry struct {
	drv        *driver.Driver
	catalog    *core.Catalog
	tables     map[*core.Table]*Table
	columns    map[*core.Column]*Column
	links      map[*core.Constraint]*Link
	identities map[*core.Constraint]*Identity
}

// NewRegistry returns a registry over drv.
func NewRegistry(drv *driver.Driver) *Registry {
	return &Registry{drv: drv}
}

// Driver returns the underlying driver.
func (r *Registry) Driver() *driver.Driver { return r.drv }

func (r *Registry) gen() *postgres.Generator { return r.drv.Generator() }

func (r *Registry) mangler() *mangle.Mangler { return r.drv.Mangler() }

// Schema returns the target schema of the current image, dropping cached
// models when the image was replaced since the last call.
func (r *Registry) Schema(ctx context.Context) (*core.Schema, error) {
	cat, err := r.drv.Catalog(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if cat != r.catalog {
		r.catalog = cat
		r.tables = make(map[*core.Table]*Table)
		r.columns = make(map[*core.Column]*Column)
		r.links = make(map[*core.Constraint]*Link)
		r.identities = make(map[*core.Constraint]*Identity)
	}
	return r.drv.Schema(ctx)
}

// Tables returns every table of the target schema.
func (r *Registry) Tables(ctx context.Context) ([]*Table, error) {
	s, err := r.Schema(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	images := s.Tables()
	out := make([]*Table, len(images))
	for i, img := range images {
		out[i] = r.table(img)
	}
	return out, nil
}

// FindTable returns the table labelled label, falling back to the former
// labels in was. It returns nil when none exists.
func (r *Registry) FindTable(ctx context.Context, label string, was ...string) (*Table, error) {
	tables, err := r.Tables(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, want := range append([]string{label}, was...) {
		for _, t := range tables {
			if t.Label() == want {
				return t, nil
			}
		}
	}
	return nil, nil
}

func (r *Registry) table(img *core.Table) *Table {
	if img == nil {
		return nil
	}
	if t, ok := r.tables[img]; ok {
		return t
	}
	t := &Table{reg: r, image: img}
	r.tables[img] = t
	return t
}

func (r *Registry) column(img *core.Column) *Column {
	if c, ok := r.columns[img]; ok {
		return c
	}
	c := &Column{reg: r, image: img}
	r.columns[img] = c
	return c
}

func (r *Registry) link(img *core.Constraint) *Link {
	if l, ok := r.links[img]; ok {
		return l
	}
	l := &Link{reg: r, image: img}
	r.links[img] = l
	return l
}

func (r *Registry) identity(img *core.Constraint) *Identity {
	if id, ok := r.identities[img]; ok {
		return id
	}
	id := &Identity{reg: r, image: img}
	r.identities[img] = id
	return id
}

// exec submits stmt and applies the matching change to the image. A failed
// image change leaves the image untrustworthy, so it is dropped.
func (r *Registry) exec(ctx context.Context, stmt string, mutate func() error) error {
	if err := r.drv.Submit(ctx, stmt); err != nil {
		return errors.Trace(err)
	}
	if mutate == nil {
		return nil
	}
	if err := mutate(); err != nil {
		r.drv.Invalidate()
		return errors.Annotate(err, "updating catalog image")
	}
	return nil
}

// physicalName derives an object name from its label unless one is given.
func (r *Registry) physicalName(label, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return r.mangler().Name(label)
}

func (r *Registry) identityName(table string) string {
	return r.mangler().Mangle([]string{table}, suffixIdentity)
}

func (r *Registry) keygenName(table string) string {
	return r.mangler().Mangle([]string{table}, suffixKeygen)
}

func (r *Registry) linkName(table, label, target string) string {
	return r.mangler().Mangle([]string{table, label, target}, suffixLink)
}

func (r *Registry) uniqueName(table, column string) string {
	return r.mangler().Mangle([]string{table, column}, suffixUnique)
}

func (r *Registry) enumName(table, column string) string {
	return r.mangler().Mangle([]string{table, column}, suffixEnum)
}

// dropUnusedType removes an enumeration type no column uses any more.
func (r *Registry) dropUnusedType(ctx context.Context, typ *core.Type) error {
	if typ == nil || typ.Removed() || len(typ.Users()) > 0 {
		return nil
	}
	return r.exec(ctx, r.gen().DropType(typ.Name), func() error {
		typ.Remove()
		return nil
	})
}

// createType creates the enumeration type name with labels, reusing an
// existing type with the same labels.
func (r *Registry) createType(ctx context.Context, s *core.Schema, name string, labels []string) (*core.Type, error) {
	if typ := s.Type(name); typ != nil {
		if sameLabels(typ.Labels, labels) {
			return typ, nil
		}
		if len(typ.Users()) > 0 {
			return nil, errors.AlreadyExistsf("type %q with other labels", name)
		}
		if err := r.dropUnusedType(ctx, typ); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var typ *core.Type
	err := r.exec(ctx, r.gen().CreateEnum(name, labels), func() (err error) {
		typ, err = s.AddType(name, labels)
		return err
	})
	return typ, errors.Trace(err)
}

func sameLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
