package driver

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/juju/errors"

	"factum/internal/fault"
	"factum/internal/introspect"
)

// Conn is a database session able to open transactions.
type Conn interface {
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is one transaction. A run never spans more than one.
type Tx interface {
	introspect.Querier
	Exec(ctx context.Context, query string) error
	Commit() error
	Rollback() error
}

type sqlConn struct {
	db *sql.DB
}

type sqlTx struct {
	tx *sql.Tx
}

// Connect opens a PostgreSQL connection pool through pgx and pings it.
func Connect(ctx context.Context, url string) (Conn, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, &fault.ConnectionError{Err: errors.Annotate(err, "failed to open database connection")}
	}

	if pingErr := db.PingContext(ctx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, &fault.ConnectionError{Err: errors.Annotatef(pingErr, "failed to ping database (close also failed: %v)", closeErr)}
		}
		return nil, &fault.ConnectionError{Err: errors.Annotate(pingErr, "failed to ping database")}
	}
	return &sqlConn{db: db}, nil
}

func (c *sqlConn) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (c *sqlConn) Close() error {
	return c.db.Close()
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) (introspect.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *sqlTx) Exec(ctx context.Context, query string) error {
	_, err := t.tx.ExecContext(ctx, query)
	return err
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

// classify turns a database error into a SchemaError when the server rejected
// the statement, and into a ConnectionError otherwise.
func classify(err error, stmt string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		se := fault.Schemaf("statement rejected: %s", truncateSQL(stmt))
		se.Err = errors.Errorf("%s (SQLSTATE %s)", pgErr.Message, pgErr.Code)
		return se
	}
	if _, ok := fault.AsSchema(err); ok {
		return err
	}
	if _, ok := fault.AsConnection(err); ok {
		return err
	}
	return &fault.ConnectionError{Err: err}
}

func truncateSQL(stmt string) string {
	if len(stmt) > 80 {
		return stmt[:77] + "..."
	}
	return stmt
}
