// Package dbtest provides an in-memory stand-in for a database connection. It
// records executed statements and answers queries from scripted results
// matched by substring.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/juju/errors"

	"factum/internal/driver"
	"factum/internal/introspect"
)

type script struct {
	match string
	rows  [][]any
	err   error
}

// DB is a fake driver.Conn.
type DB struct {
	// Statements holds every executed statement, in order, across
	// transactions.
	Statements []string
	// Queries holds every query text, in order.
	Queries    []string
	Commits    int
	Rollbacks  int
	queries    []script
	execErrors []script
	beginErr   error
	closed     bool
}

// New returns an empty fake.
func New() *DB {
	return &DB{}
}

// OnQuery answers queries containing match with rows. Later registrations
// take precedence.
func (db *DB) OnQuery(match string, rows ...[]any) *DB {
	db.queries = append(db.queries, script{match: match, rows: rows})
	return db
}

// FailQuery makes queries containing match fail with err.
func (db *DB) FailQuery(match string, err error) *DB {
	db.queries = append(db.queries, script{match: match, err: err})
	return db
}

// FailExec makes statements containing match fail with err.
func (db *DB) FailExec(match string, err error) *DB {
	db.execErrors = append(db.execErrors, script{match: match, err: err})
	return db
}

// FailBegin makes BeginTx fail with err.
func (db *DB) FailBegin(err error) *DB {
	db.beginErr = err
	return db
}

// Reset forgets recorded statements and queries, keeping the scripts.
func (db *DB) Reset() {
	db.Statements = nil
	db.Queries = nil
}

// Closed reports whether Close was called.
func (db *DB) Closed() bool { return db.closed }

func (db *DB) BeginTx(_ context.Context) (driver.Tx, error) {
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	return &Tx{db: db}, nil
}

func (db *DB) Close() error {
	db.closed = true
	return nil
}

// Tx is a fake driver.Tx.
type Tx struct {
	db   *DB
	done bool
}

func (tx *Tx) Exec(_ context.Context, query string) error {
	if tx.done {
		return errors.New("transaction already closed")
	}
	for i := len(tx.db.execErrors) - 1; i >= 0; i-- {
		if s := tx.db.execErrors[i]; strings.Contains(query, s.match) {
			return s.err
		}
	}
	tx.db.Statements = append(tx.db.Statements, query)
	return nil
}

func (tx *Tx) Query(_ context.Context, query string, args ...any) (introspect.Rows, error) {
	if tx.done {
		return nil, errors.New("transaction already closed")
	}
	tx.db.Queries = append(tx.db.Queries, query)
	for i := len(tx.db.queries) - 1; i >= 0; i-- {
		s := tx.db.queries[i]
		if !strings.Contains(query, s.match) {
			continue
		}
		if s.err != nil {
			return nil, s.err
		}
		return &Rows{rows: s.rows, pos: -1}, nil
	}
	return &Rows{pos: -1}, nil
}

func (tx *Tx) Commit() error {
	tx.done = true
	tx.db.Commits++
	return nil
}

func (tx *Tx) Rollback() error {
	tx.done = true
	tx.db.Rollbacks++
	return nil
}

// Rows iterates scripted rows.
type Rows struct {
	rows [][]any
	pos  int
}

func (r *Rows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

// Columns names as many columns as the first scripted row has.
func (r *Rows) Columns() ([]string, error) {
	if len(r.rows) == 0 {
		return nil, nil
	}
	names := make([]string, len(r.rows[0]))
	for i := range names {
		names[i] = fmt.Sprintf("column%d", i+1)
	}
	return names, nil
}

func (r *Rows) Err() error   { return nil }
func (r *Rows) Close() error { return nil }

func (r *Rows) Scan(dest ...any) error {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return io.EOF
	}
	row := r.rows[r.pos]
	if len(dest) != len(row) {
		return errors.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return errors.Annotatef(err, "column %d", i)
		}
	}
	return nil
}

func assign(dest, src any) error {
	if list, ok := src.([]string); ok {
		src = arrayLiteral(list)
	}
	if s, ok := dest.(sql.Scanner); ok {
		return s.Scan(src)
	}
	switch d := dest.(type) {
	case *string:
		if src == nil {
			return errors.New("NULL into string")
		}
		*d = fmt.Sprint(src)
		return nil
	case *any:
		*d = src
		return nil
	}
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return errors.Errorf("destination %T is not a pointer", dest)
	}
	sv := reflect.ValueOf(src)
	if !sv.IsValid() {
		dv.Elem().Set(reflect.Zero(dv.Elem().Type()))
		return nil
	}
	if sv.Type().ConvertibleTo(dv.Elem().Type()) {
		dv.Elem().Set(sv.Convert(dv.Elem().Type()))
		return nil
	}
	return errors.Errorf("cannot scan %T into %T", src, dest)
}

func arrayLiteral(list []string) string {
	quoted := make([]string, len(list))
	for i, s := range list {
		quoted[i] = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}
