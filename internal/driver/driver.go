// Package driver owns the database session of a deployment run. It holds the
// single transaction of the run, submits statements and keeps their audit log,
// lazily introspects and caches the catalog image, and implements locked
// (validate-only) mode, in which any statement submission fails.
package driver

import (
	"context"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"factum/internal/core"
	"factum/internal/dialect"
	"factum/internal/dialect/postgres"
	"factum/internal/fault"
	"factum/internal/introspect"
	"factum/internal/mangle"
)

var logger = loggo.GetLogger("factum.driver")

// DefaultSchema is used when Options.Schema is empty.
const DefaultSchema = "public"

// Options configure a Driver.
type Options struct {
	Dialect             dialect.Type
	Schema              string
	MaxIdentifierLength int
	// ForbidDestructive rejects statements that drop tables or columns or
	// delete rows.
	ForbidDestructive bool
}

// Driver is a single-threaded deployment session. It is not safe for
// concurrent use.
type Driver struct {
	conn         Conn
	tx           Tx
	opts         Options
	introspecter introspect.Introspecter
	analyzer     *StatementAnalyzer
	generator    *postgres.Generator
	mangler      *mangle.Mangler

	catalog *core.Catalog
	locked  bool
	fact    string
	log     []Entry
}

// Open connects to url and returns a Driver over the connection.
func Open(ctx context.Context, url string, opts Options) (*Driver, error) {
	if opts.Dialect == "" {
		d, err := dialect.FromURL(url)
		if err != nil {
			return nil, errors.Trace(err)
		}
		opts.Dialect = d
	}
	conn, err := Connect(ctx, url)
	if err != nil {
		return nil, errors.Trace(err)
	}
	d, err := New(conn, opts)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Trace(err)
	}
	return d, nil
}

// New returns a Driver over an existing connection.
func New(conn Conn, opts Options) (*Driver, error) {
	if opts.Dialect == "" {
		opts.Dialect = dialect.PostgreSQL
	}
	if opts.Schema == "" {
		opts.Schema = DefaultSchema
	}
	if opts.MaxIdentifierLength <= 0 {
		opts.MaxIdentifierLength = mangle.DefaultMaxLength
	}
	intro, err := introspect.NewIntrospecter(opts.Dialect)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Driver{
		conn:         conn,
		opts:         opts,
		introspecter: intro,
		analyzer:     NewStatementAnalyzer(),
		generator:    postgres.NewGenerator(opts.Schema),
		mangler:      mangle.New(opts.MaxIdentifierLength),
	}, nil
}

// Options returns the effective options.
func (d *Driver) Options() Options { return d.opts }

// Generator returns the statement builder for the target schema.
func (d *Driver) Generator() *postgres.Generator { return d.generator }

// Mangler returns the identifier mangler.
func (d *Driver) Mangler() *mangle.Mangler { return d.mangler }

// Close closes the connection, rolling back an open transaction.
func (d *Driver) Close() error {
	if d.tx != nil {
		_ = d.Rollback()
	}
	return d.conn.Close()
}

// Begin opens the run's transaction and clears the audit log.
func (d *Driver) Begin(ctx context.Context) error {
	if d.tx != nil {
		return errors.AlreadyExistsf("open transaction")
	}
	tx, err := d.conn.BeginTx(ctx)
	if err != nil {
		return classify(err, "BEGIN")
	}
	d.tx = tx
	d.log = nil
	logger.Debugf("transaction started on schema %q", d.opts.Schema)
	return nil
}

// Commit commits the run's transaction.
func (d *Driver) Commit() error {
	if d.tx == nil {
		return errors.NotValidf("commit without a transaction")
	}
	tx := d.tx
	d.tx = nil
	if err := tx.Commit(); err != nil {
		d.Invalidate()
		return classify(err, "COMMIT")
	}
	logger.Infof("committed %d statements", len(d.log))
	return nil
}

// Rollback aborts the run's transaction. The catalog image is dropped since
// it may describe objects the rollback removed.
func (d *Driver) Rollback() error {
	d.Invalidate()
	if d.tx == nil {
		return nil
	}
	tx := d.tx
	d.tx = nil
	logger.Warningf("rolling back %d statements", len(d.log))
	if err := tx.Rollback(); err != nil {
		return classify(err, "ROLLBACK")
	}
	return nil
}

// Lock switches to validate-only mode.
func (d *Driver) Lock() { d.locked = true }

// Unlock leaves validate-only mode.
func (d *Driver) Unlock() { d.locked = false }

// Locked reports whether the driver is in validate-only mode.
func (d *Driver) Locked() bool { return d.locked }

// SetFact records the declaration statements are submitted for.
func (d *Driver) SetFact(name string) { d.fact = name }

// Log returns the statements submitted in the current run.
func (d *Driver) Log() []Entry {
	return append([]Entry(nil), d.log...)
}

// Submit executes a statement immediately and appends it to the audit log.
func (d *Driver) Submit(ctx context.Context, stmt string) error {
	stmt = strings.TrimSpace(stmt)
	if d.locked {
		return fault.Drift("locked schema would change", "no statements", truncateSQL(stmt))
	}
	analysis := d.analyzer.AnalyzeStatement(stmt)
	if analysis.IsDestructive && d.opts.ForbidDestructive {
		return fault.Schemaf("destructive statement forbidden: %s: %s", analysis.DestructiveReason, truncateSQL(stmt))
	}
	if d.tx == nil {
		return errors.NotValidf("statement outside a transaction")
	}

	logger.Debugf("submit: %s", stmt)
	if err := d.tx.Exec(ctx, stmt); err != nil {
		d.Invalidate()
		return classify(err, stmt)
	}

	entry := Entry{SQL: stmt, Kind: analysis.StatementType, Risk: RiskInfo, Fact: d.fact}
	if analysis.IsDestructive {
		entry.Risk = RiskDestructive
		entry.Reason = analysis.DestructiveReason
	}
	d.log = append(d.log, entry)
	return nil
}

// Query runs a read-only statement inside the run's transaction.
func (d *Driver) Query(ctx context.Context, query string, args ...any) (introspect.Rows, error) {
	if d.tx == nil {
		return nil, errors.NotValidf("query outside a transaction")
	}
	rows, err := d.tx.Query(ctx, query, args...)
	if err != nil {
		d.Invalidate()
		return nil, classify(err, query)
	}
	return rows, nil
}

// Catalog returns the catalog image, introspecting on first use.
func (d *Driver) Catalog(ctx context.Context) (*core.Catalog, error) {
	if d.catalog != nil {
		return d.catalog, nil
	}
	cat, err := d.introspecter.Introspect(ctx, d, d.opts.Schema)
	if err != nil {
		d.Invalidate()
		if errors.Is(err, errors.NotFound) {
			return nil, fault.Schemaf("introspection: %v", err)
		}
		return nil, errors.Trace(err)
	}
	logger.Debugf("introspected %s", cat.Version)
	d.catalog = cat
	return cat, nil
}

// Schema returns the target schema of the catalog image.
func (d *Driver) Schema(ctx context.Context) (*core.Schema, error) {
	cat, err := d.Catalog(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s := cat.Schema(d.opts.Schema)
	if s == nil {
		return nil, fault.Schemaf("schema %q is not in the catalog", d.opts.Schema)
	}
	return s, nil
}

// SetCatalog installs a catalog image, replacing introspection until the
// next invalidation.
func (d *Driver) SetCatalog(cat *core.Catalog) { d.catalog = cat }

// Invalidate drops the catalog image; the next Catalog call re-introspects.
func (d *Driver) Invalidate() {
	if d.catalog != nil {
		logger.Tracef("catalog image invalidated")
	}
	d.catalog = nil
}
