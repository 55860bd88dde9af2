// Package introspect contains the introspecter interface used to read the
// current state of a live database into a core.Catalog. Dialect packages
// register an implementation in their init function.
package introspect

import (
	"context"
	"sync"

	"github.com/juju/errors"

	"factum/internal/core"
	"factum/internal/dialect"
)

// Rows is the cursor returned by a Querier. *sql.Rows satisfies it.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// Querier runs read-only statements, typically inside the run's transaction
// so the image reflects uncommitted DDL.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

type Introspecter interface {
	Introspect(ctx context.Context, q Querier, schemas ...string) (*core.Catalog, error)
}

var (
	registry = make(map[dialect.Type]func() Introspecter)
	mu       sync.RWMutex
)

func Register(d dialect.Type, fn func() Introspecter) {
	mu.Lock()
	defer mu.Unlock()
	registry[d] = fn
}

func NewIntrospecter(d dialect.Type) (Introspecter, error) {
	mu.RLock()
	fn, ok := registry[d]
	mu.RUnlock()

	if !ok {
		return nil, errors.NotSupportedf("introspection of dialect %q", d)
	}

	return fn(), nil
}
