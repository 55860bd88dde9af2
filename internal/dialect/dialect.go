// Package dialect names the database dialects the engine can target. Only
// dialects with transactional DDL qualify: a run must commit or roll back as a
// whole.
package dialect

import (
	"strings"

	"github.com/juju/errors"
)

type Type string

const (
	PostgreSQL Type = "postgresql"
)

var aliases = map[string]Type{
	"postgresql": PostgreSQL,
	"postgres":   PostgreSQL,
	"pgx":        PostgreSQL,
	"pg":         PostgreSQL,
}

// Parse resolves a dialect name or alias. An empty name selects PostgreSQL.
func Parse(name string) (Type, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return PostgreSQL, nil
	}
	if t, ok := aliases[name]; ok {
		return t, nil
	}
	return "", errors.NotSupportedf("dialect %q", name)
}

// FromURL infers the dialect from a connection URL scheme.
func FromURL(url string) (Type, error) {
	scheme, _, ok := strings.Cut(url, "://")
	if !ok {
		// Key/value DSNs are PostgreSQL's libpq format.
		return PostgreSQL, nil
	}
	return Parse(scheme)
}
