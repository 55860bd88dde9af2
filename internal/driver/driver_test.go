package driver_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factum/internal/core"
	"factum/internal/dbtest"
	"factum/internal/driver"
	"factum/internal/fault"
	_ "factum/internal/introspect/postgresql"
)

func newDriver(t *testing.T, db *dbtest.DB, opts driver.Options) *driver.Driver {
	t.Helper()
	d, err := driver.New(db, opts)
	require.NoError(t, err)
	require.NoError(t, d.Begin(context.Background()))
	return d
}

func TestSubmitRecordsAuditLog(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New()
	d := newDriver(t, db, driver.Options{})

	d.SetFact("table region")
	require.NoError(t, d.Submit(ctx, `  CREATE TABLE "public"."region" ("id" integer NOT NULL)  `))
	require.NoError(t, d.Submit(ctx, `ALTER TABLE "public"."region" DROP COLUMN "x"`))

	log := d.Log()
	require.Len(t, log, 2)
	assert.Equal(t, `CREATE TABLE "public"."region" ("id" integer NOT NULL)`, log[0].SQL)
	assert.Equal(t, "CREATE TABLE", log[0].Kind)
	assert.Equal(t, "table region", log[0].Fact)
	assert.False(t, log[0].Destructive())
	assert.True(t, log[1].Destructive())
	assert.Equal(t, db.Statements, []string{log[0].SQL, log[1].SQL})

	require.NoError(t, d.Commit())
	assert.Equal(t, 1, db.Commits)
}

func TestSubmitLocked(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New()
	d := newDriver(t, db, driver.Options{})
	d.Lock()
	assert.True(t, d.Locked())

	err := d.Submit(ctx, `DROP TABLE "public"."t"`)
	se, ok := fault.AsSchema(err)
	require.True(t, ok)
	assert.Contains(t, se.Actual, "DROP TABLE")
	assert.Empty(t, db.Statements)
	assert.Empty(t, d.Log())

	d.Unlock()
	require.NoError(t, d.Submit(ctx, `DROP TABLE "public"."t"`))
}

func TestSubmitForbidDestructive(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New()
	d := newDriver(t, db, driver.Options{ForbidDestructive: true})

	require.NoError(t, d.Submit(ctx, `ALTER TABLE "public"."t" ADD COLUMN "c" text`))
	err := d.Submit(ctx, `DELETE FROM "public"."t"`)
	_, ok := fault.AsSchema(err)
	assert.True(t, ok)
	assert.Len(t, db.Statements, 1)
}

func TestSubmitOutsideTransaction(t *testing.T) {
	d, err := driver.New(dbtest.New(), driver.Options{})
	require.NoError(t, err)
	err = d.Submit(context.Background(), "SELECT 1")
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestSubmitErrorsAreClassified(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New().
		FailExec("bad_cast", &pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type integer"}).
		FailExec("broken", stderrors.New("connection reset by peer"))
	d := newDriver(t, db, driver.Options{})
	d.SetCatalog(core.NewCatalog())

	err := d.Submit(ctx, `ALTER TABLE "t" ALTER COLUMN "bad_cast" TYPE integer`)
	se, ok := fault.AsSchema(err)
	require.True(t, ok)
	assert.Contains(t, se.Error(), "SQLSTATE 22P02")

	_, err = d.Catalog(ctx)
	require.Error(t, err, "failed statement invalidates the image")

	err = d.Submit(ctx, "broken")
	_, ok = fault.AsConnection(err)
	assert.True(t, ok)
}

func TestRollbackInvalidatesCatalog(t *testing.T) {
	db := dbtest.New()
	d := newDriver(t, db, driver.Options{})
	cat := core.NewCatalog()
	_, err := cat.AddSchema("public")
	require.NoError(t, err)
	d.SetCatalog(cat)

	got, err := d.Catalog(context.Background())
	require.NoError(t, err)
	assert.Same(t, cat, got)

	require.NoError(t, d.Rollback())
	assert.Equal(t, 1, db.Rollbacks)
	require.NoError(t, d.Begin(context.Background()))
	_, err = d.Schema(context.Background())
	assert.Error(t, err, "schema lookup needs introspection after rollback")
}

func TestBeginTwice(t *testing.T) {
	d := newDriver(t, dbtest.New(), driver.Options{})
	err := d.Begin(context.Background())
	assert.True(t, errors.Is(err, errors.AlreadyExists))
}

func TestBeginFailureIsConnectionError(t *testing.T) {
	d, err := driver.New(dbtest.New().FailBegin(stderrors.New("dial tcp: refused")), driver.Options{})
	require.NoError(t, err)
	_, ok := fault.AsConnection(d.Begin(context.Background()))
	assert.True(t, ok)
}

func TestOptionsDefaults(t *testing.T) {
	d, err := driver.New(dbtest.New(), driver.Options{})
	require.NoError(t, err)
	opts := d.Options()
	assert.Equal(t, "public", opts.Schema)
	assert.Equal(t, 63, opts.MaxIdentifierLength)
	assert.Equal(t, 63, d.Mangler().MaxLength)
	assert.Equal(t, "public", d.Generator().Schema)
}

func TestCloseRollsBack(t *testing.T) {
	db := dbtest.New()
	d := newDriver(t, db, driver.Options{})
	require.NoError(t, d.Close())
	assert.Equal(t, 1, db.Rollbacks)
	assert.True(t, db.Closed())
}
