package model

import (
	"context"

	"github.com/juju/errors"

	"factum/internal/fault"
)

// Step is one mutation: usually a statement together with the matching
// change of the catalog image.
type Step struct {
	What string
	Run  func(ctx context.Context) error
}

// Plan is the change set of one model operation. It is computed and checked
// against the image before anything runs. Before holds the reactions of
// dependents that must happen ahead of the change (dropping a key that
// references a column about to change type), After those that follow it
// (renaming constraints derived from a renamed table).
type Plan struct {
	What     string
	Expected string
	Actual   string
	Before   []Step
	Main     []Step
	After    []Step
}

func newPlan(what, expected, actual string) *Plan {
	return &Plan{What: what, Expected: expected, Actual: actual}
}

// Empty reports whether the plan changes nothing.
func (p *Plan) Empty() bool {
	return len(p.Before) == 0 && len(p.Main) == 0 && len(p.After) == 0
}

// Steps returns every step in execution order.
func (p *Plan) Steps() []Step {
	out := make([]Step, 0, len(p.Before)+len(p.Main)+len(p.After))
	out = append(out, p.Before...)
	out = append(out, p.Main...)
	return append(out, p.After...)
}

func (p *Plan) main(what string, run func(ctx context.Context) error) {
	p.Main = append(p.Main, Step{What: what, Run: run})
}

func (p *Plan) after(what string, run func(ctx context.Context) error) {
	p.After = append(p.After, Step{What: what, Run: run})
}

// nest runs the whole of a dependent plan ahead of the change.
func (p *Plan) nest(dep *Plan) {
	p.Before = append(p.Before, dep.Steps()...)
}

// Execute runs the plan. In locked mode a non-empty plan is drift and
// nothing runs.
func (r *Registry) Execute(ctx context.Context, p *Plan) error {
	if p == nil || p.Empty() {
		return nil
	}
	if r.drv.Locked() {
		return fault.Drift(p.What, p.Expected, p.Actual)
	}
	logger.Debugf("%s: %d steps", p.What, len(p.Steps()))
	for _, s := range p.Steps() {
		logger.Tracef("  %s", s.What)
		if err := s.Run(ctx); err != nil {
			return errors.Annotate(err, s.What)
		}
	}
	return nil
}
