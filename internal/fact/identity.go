package fact

import (
	"context"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/schema"

	"factum/internal/document"
	"factum/internal/fault"
	"factum/internal/keygen"
	"factum/internal/model"
)

// Identity declares the primary key of a table.
type Identity struct {
	base
	Table      string
	Members    []string
	Generators map[string]keygen.Strategy
	Length     int
}

func (f *Identity) Kind() Kind       { return KindIdentity }
func (f *Identity) Describe() string { return "identity " + f.Table }

var identityFields = schema.Fields{
	"identity": stringOrList,
	"generate": schema.StringMap(schema.String()),
	"length":   schema.ForceInt(),
}

func (b *Builder) buildIdentity(rec document.Record) (Fact, error) {
	m, err := coerce(rec, KindIdentity, identityFields)
	if err != nil {
		return nil, err
	}
	refs := list(m, "identity")
	if len(refs) == 0 {
		return nil, fault.Validationf(rec.Location, "identity: no members")
	}
	f := &Identity{base: base{rec.Location}}
	seen := make(map[string]bool)
	for _, ref := range refs {
		table, member, err := splitRef(rec.Location, KindIdentity, ref)
		if err != nil {
			return nil, err
		}
		if f.Table != "" && table != f.Table {
			return nil, fault.Validationf(rec.Location, "identity: members of tables %q and %q", f.Table, table)
		}
		if seen[member] {
			return nil, fault.Validationf(rec.Location, "identity: member %q repeated", member)
		}
		seen[member] = true
		f.Table = table
		f.Members = append(f.Members, member)
	}

	if gens, ok := m["generate"].(map[string]any); ok {
		f.Generators = make(map[string]keygen.Strategy, len(gens))
		for ref, v := range gens {
			member := strings.TrimPrefix(ref, f.Table+".")
			if !seen[member] {
				return nil, fault.Validationf(rec.Location, "%s: generator for %q which is not a member", f.Describe(), ref)
			}
			s, err := keygen.ParseStrategy(v.(string))
			if err != nil {
				return nil, fault.Validationf(rec.Location, "%s: %v", f.Describe(), err)
			}
			f.Generators[member] = s
		}
	}
	if n, ok := m["length"].(int); ok {
		if n <= 0 {
			return nil, fault.Validationf(rec.Location, "%s: length must be positive", f.Describe())
		}
		f.Length = n
	}
	return f, nil
}

// Apply implements Fact.
func (f *Identity) Apply(ctx context.Context, reg *model.Registry) error {
	t, err := findTable(ctx, reg, f.Table, true)
	if err != nil {
		return err
	}
	return errors.Trace(t.SetIdentity(ctx, model.IdentitySpec{
		Members:    f.Members,
		Generators: f.Generators,
		Length:     f.Length,
	}))
}
