// Package pipeline orchestrates the end-to-end consistency check:
// ingest extractions, detect and propagate changes, validate.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"lawgraph/internal/builder"
	"lawgraph/internal/extract"
	"lawgraph/internal/git"
	"lawgraph/internal/graph"
	"lawgraph/internal/propagate"
	"lawgraph/internal/validator"
)

// CheckRun is one configured consistency check.
type CheckRun struct {
	Store           graph.Store
	Policy          validator.Policy
	ExtractionPaths []string
	BaseRef         string // git ref to diff against; "" skips git detection
	Full            bool   // validate everything instead of the changed scope
	Log             *slog.Logger
}

// CheckReport is the outcome of a check run.
type CheckReport struct {
	Applied    []builder.ApplyResult
	Resolve    builder.ResolveStats
	Marked     int
	Propagated int
	Violations []validator.Violation
}

// Errors reports how many violations are errors.
func (r *CheckReport) Errors() int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == validator.SeverityError {
			n++
		}
	}
	return n
}

// Run executes the stages in order. Each stage reads a consistent view,
// so a failure leaves the graph at the last committed state.
func (c *CheckRun) Run(ctx context.Context) (*CheckReport, error) {
	if c.Log == nil {
		c.Log = slog.Default()
	}
	report := &CheckReport{}

	if err := c.applyStage(ctx, report); err != nil {
		return nil, err
	}
	if err := c.markStage(ctx, report); err != nil {
		return nil, err
	}
	if err := c.validateStage(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// applyStage ingests extraction payloads and runs a resolution pass when
// anything changed. A malformed payload aborts the run before the
// remaining stages; already committed modules stay committed.
func (c *CheckRun) applyStage(ctx context.Context, report *CheckReport) error {
	if len(c.ExtractionPaths) == 0 {
		return nil
	}
	b := builder.New(c.Store, c.Log)

	committed := false
	for _, path := range c.ExtractionPaths {
		ex, err := extract.LoadExtraction(path)
		if err != nil {
			return err
		}
		res, err := b.ApplyExtraction(ctx, ex)
		if err != nil {
			return fmt.Errorf("apply %s: %w", path, err)
		}
		report.Applied = append(report.Applied, res)
		if !res.NoOp() {
			committed = true
		}
	}

	if committed {
		stats, err := b.Reresolve(ctx)
		if err != nil {
			return err
		}
		report.Resolve = stats
	}
	return nil
}

// markStage flags git-changed files and propagates the marks to their
// dependents.
func (c *CheckRun) markStage(ctx context.Context, report *CheckReport) error {
	p := propagate.New(c.Store, c.Log)

	if c.BaseRef != "" {
		files, err := git.GetChangedFiles(c.BaseRef)
		if err != nil {
			return err
		}
		marked, err := p.MarkChanged(ctx, files)
		if err != nil {
			return err
		}
		report.Marked = marked
	}

	reached, err := p.Propagate(ctx)
	if err != nil {
		return err
	}
	report.Propagated = reached
	return nil
}

func (c *CheckRun) validateStage(ctx context.Context, report *CheckReport) error {
	v := validator.New(c.Store, c.Policy, c.Log)

	var (
		violations []validator.Violation
		err        error
	)
	if c.Full {
		violations, err = v.ValidateFull(ctx)
	} else {
		violations, err = v.ValidateIncremental(ctx)
	}
	if err != nil {
		return err
	}
	report.Violations = violations
	return nil
}
