package engine_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factum/internal/core"
	"factum/internal/dbtest"
	"factum/internal/document"
	"factum/internal/driver"
	"factum/internal/engine"
	"factum/internal/fact"
	"factum/internal/fault"
)

const regionDoc = `
- table: region
  columns:
    - column: name
      required: true
- identity: [region.name]
`

// newDriver returns a driver whose catalog image is an empty public schema.
func newDriver(t *testing.T, db *dbtest.DB) *driver.Driver {
	t.Helper()
	drv, err := driver.New(db, driver.Options{})
	require.NoError(t, err)
	cat := core.NewCatalog()
	_, err = cat.AddSchema("public")
	require.NoError(t, err)
	drv.SetCatalog(cat)
	return drv
}

func build(t *testing.T, drv *driver.Driver, doc string) []fact.Fact {
	t.Helper()
	facts, err := engine.Build("schema.yaml", drv.Mangler(), engine.Options{Loader: document.MapLoader{"schema.yaml": doc}})
	require.NoError(t, err)
	return facts
}

func TestDeployCommits(t *testing.T) {
	db := dbtest.New()
	drv := newDriver(t, db)

	var seen []string
	log, err := engine.Deploy(context.Background(), drv, build(t, drv, regionDoc), engine.Options{
		OnFact: func(f fact.Fact) { seen = append(seen, f.Describe()) },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"table region", "identity region"}, seen)
	require.NotEmpty(t, log)
	assert.Equal(t, "table region", log[0].Fact)
	assert.Equal(t, "CREATE TABLE", log[0].Kind)
	assert.Len(t, db.Statements, len(log))
	assert.Equal(t, 1, db.Commits)
	assert.Equal(t, 0, db.Rollbacks)
}

func TestDeployDryRunRollsBack(t *testing.T) {
	db := dbtest.New()
	drv := newDriver(t, db)

	log, err := engine.Deploy(context.Background(), drv, build(t, drv, regionDoc), engine.Options{DryRun: true})
	require.NoError(t, err)
	assert.NotEmpty(t, log)
	assert.Equal(t, 0, db.Commits)
	assert.Equal(t, 1, db.Rollbacks)
}

func TestDeployLockedNeverCommits(t *testing.T) {
	db := dbtest.New()
	drv := newDriver(t, db)

	log, err := engine.Deploy(context.Background(), drv, build(t, drv, regionDoc), engine.Options{Locked: true})
	require.Error(t, err)
	se, ok := fault.AsSchema(err)
	require.True(t, ok)
	assert.Equal(t, "table region", se.Fact)
	assert.Empty(t, log)
	assert.Empty(t, db.Statements)
	assert.Equal(t, 0, db.Commits)
	assert.Equal(t, 1, db.Rollbacks)
	assert.False(t, drv.Locked())
}

func TestDeployLockedOnEmptyDocument(t *testing.T) {
	db := dbtest.New()
	drv := newDriver(t, db)

	log, err := engine.Deploy(context.Background(), drv, nil, engine.Options{Locked: true})
	require.NoError(t, err)
	assert.Empty(t, log)
	assert.Equal(t, 0, db.Commits)
}

func TestDeployFailureRollsBack(t *testing.T) {
	db := dbtest.New().FailExec("PRIMARY KEY", stderrors.New("connection reset"))
	drv := newDriver(t, db)

	log, err := engine.Deploy(context.Background(), drv, build(t, drv, regionDoc), engine.Options{})
	require.Error(t, err)
	ce, ok := fault.AsConnection(err)
	require.True(t, ok)
	assert.Equal(t, "schema.yaml", ce.Location.File)
	require.Len(t, log, 2)
	assert.Equal(t, 0, db.Commits)
	assert.Equal(t, 1, db.Rollbacks)
}

func TestDeployFileValidatesBeforeConnecting(t *testing.T) {
	db := dbtest.New()
	drv := newDriver(t, db)
	loader := document.MapLoader{
		"proj/schema.yaml": "- include: tables.yaml\n",
		"proj/tables.yaml": "- table: region\n- column: region\n",
	}

	_, err := engine.DeployFile(context.Background(), drv, "schema.yaml", engine.Options{WorkDir: "proj", Loader: loader})
	require.Error(t, err)
	v, ok := fault.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, fault.Location{File: "proj/tables.yaml", FirstLine: 2, LastLine: 2}, v.Location)
	assert.Empty(t, db.Queries)
	assert.Empty(t, db.Statements)
	assert.Equal(t, 0, db.Commits+db.Rollbacks)
}

func TestDeployFileResolvesWorkDir(t *testing.T) {
	db := dbtest.New()
	drv := newDriver(t, db)
	loader := document.MapLoader{"proj/schema.yaml": regionDoc}

	log, err := engine.DeployFile(context.Background(), drv, "schema.yaml", engine.Options{WorkDir: "proj", Loader: loader})
	require.NoError(t, err)
	assert.NotEmpty(t, log)
	assert.Equal(t, 1, db.Commits)
}

func TestBeginFailure(t *testing.T) {
	db := dbtest.New().FailBegin(stderrors.New("no route to host"))
	drv := newDriver(t, db)

	_, err := engine.Deploy(context.Background(), drv, nil, engine.Options{})
	_, ok := fault.AsConnection(err)
	assert.True(t, ok)
}
