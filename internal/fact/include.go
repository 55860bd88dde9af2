package fact

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/juju/schema"

	"factum/internal/document"
	"factum/internal/fault"
	"factum/internal/model"
)

// Include applies the facts of another document.
type Include struct {
	base
	Path  string
	Facts []Fact
}

func (f *Include) Kind() Kind       { return KindInclude }
func (f *Include) Describe() string { return "include " + f.Path }

var includeFields = schema.Fields{
	"include": schema.String(),
}

func (b *Builder) buildInclude(rec document.Record, dir string) (Fact, error) {
	m, err := coerce(rec, KindInclude, includeFields)
	if err != nil {
		return nil, err
	}
	path := str(m, "include")
	if path == "" {
		return nil, fault.Validationf(rec.Location, "include: empty path")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	path = filepath.Clean(path)
	for _, p := range b.including {
		if p == path {
			return nil, fault.Validationf(rec.Location, "include cycle: %s -> %s", strings.Join(b.including, " -> "), path)
		}
	}
	facts, err := b.BuildFile(path)
	if err != nil {
		if _, ok := fault.AsValidation(err); ok {
			return nil, err
		}
		return nil, fault.Validationf(rec.Location, "include %s: %v", path, err)
	}
	return &Include{base: base{rec.Location}, Path: path, Facts: facts}, nil
}

// Apply implements Fact.
func (f *Include) Apply(ctx context.Context, reg *model.Registry) error {
	return ApplyAll(ctx, reg, f.Facts, nil)
}
