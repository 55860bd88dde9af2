// Package engine runs deployments. A deployment builds the whole fact
// document tree before touching the database, then applies the facts in one
// transaction which is committed only when every fact succeeded and the run
// is neither a dry run nor locked.
package engine

import (
	"context"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"factum/internal/document"
	"factum/internal/driver"
	"factum/internal/fact"
	_ "factum/internal/introspect/postgresql"
	"factum/internal/mangle"
	"factum/internal/model"
)

var logger = loggo.GetLogger("factum.engine")

// Options control a deployment.
type Options struct {
	// DryRun applies the facts and rolls the transaction back.
	DryRun bool
	// Locked validates only: any change the facts would make is a
	// SchemaError, and nothing is committed.
	Locked bool
	// WorkDir anchors relative document paths.
	WorkDir string
	// Loader reads documents; files on disk when nil.
	Loader document.Loader
	// OnFact is called before each top-level fact is applied.
	OnFact func(fact.Fact)
}

// Build loads the document at path and builds its facts, includes
// resolved. Explicit names are checked against mangler's budget. Nothing
// touches the database.
func Build(path string, mangler *mangle.Mangler, opts Options) ([]fact.Fact, error) {
	if opts.WorkDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(opts.WorkDir, path)
	}
	facts, err := fact.NewBuilder(opts.Loader, mangler).BuildFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	n := 0
	fact.Walk(facts, func(fact.Fact) { n++ })
	logger.Debugf("built %d facts from %s", n, path)
	return facts, nil
}

// DeployFile builds the document at path and deploys it.
func DeployFile(ctx context.Context, drv *driver.Driver, path string, opts Options) ([]driver.Entry, error) {
	facts, err := Build(path, drv.Mangler(), opts)
	if err != nil {
		return nil, err
	}
	return Deploy(ctx, drv, facts, opts)
}

// Deploy applies facts in order inside one transaction and returns the
// statements that ran. On failure the transaction is rolled back and the
// statements that ran before the failure are returned with the error.
func Deploy(ctx context.Context, drv *driver.Driver, facts []fact.Fact, opts Options) ([]driver.Entry, error) {
	if err := drv.Begin(ctx); err != nil {
		return nil, errors.Trace(err)
	}
	if opts.Locked {
		drv.Lock()
		defer drv.Unlock()
	}
	defer drv.SetFact("")

	reg := model.NewRegistry(drv)
	if err := fact.ApplyAll(ctx, reg, facts, opts.OnFact); err != nil {
		log := drv.Log()
		if rbErr := drv.Rollback(); rbErr != nil {
			logger.Errorf("rollback after failure: %v", rbErr)
		}
		return log, err
	}

	log := drv.Log()
	if opts.DryRun || opts.Locked {
		logger.Infof("discarding %d statements", len(log))
		return log, errors.Trace(drv.Rollback())
	}
	if err := drv.Commit(); err != nil {
		return log, errors.Trace(err)
	}
	return log, nil
}

// Extract renders the live schema as a fact document which, deployed
// against an empty schema, reproduces it.
func Extract(ctx context.Context, drv *driver.Driver) ([]byte, error) {
	if err := drv.Begin(ctx); err != nil {
		return nil, errors.Trace(err)
	}
	defer func() { _ = drv.Rollback() }()

	records, err := fact.Extract(ctx, model.NewRegistry(drv))
	if err != nil {
		return nil, errors.Annotate(err, "extracting facts")
	}
	return document.Marshal(records, fact.Keys...)
}
