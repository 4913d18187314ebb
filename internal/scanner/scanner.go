// Package scanner runs CPE identification over a list of dependencies.
package scanner

import (
	"context"
	"errors"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/StinkyLord/cpe-identifier/internal/model"
)

// Analyzer identifies one dependency. *analyzer.Analyzer implements it.
type Analyzer interface {
	Skips(d *model.Dependency) bool
	Analyze(ctx context.Context, d *model.Dependency) (bool, error)
}

// Status is the outcome of analyzing one dependency.
type Status string

const (
	Identified   Status = "identified"
	Unidentified Status = "unidentified"
	Skipped      Status = "skipped"
	Failed       Status = "failed"
)

// Outcome records what happened to one dependency.
type Outcome struct {
	Dependency *model.Dependency
	Status     Status
	Err        error
}

// Result holds the outcomes in input order.
type Result struct {
	Outcomes []Outcome
	Elapsed  time.Duration
}

// Count returns how many outcomes have status s.
func (r *Result) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Err joins the per-dependency failures, or returns nil.
func (r *Result) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// Scanner fans dependencies out to a bounded pool of workers.
type Scanner struct {
	Analyzer Analyzer
	// Workers bounds concurrent analyses; GOMAXPROCS when zero.
	Workers int
	Logger  *zap.Logger
}

// New creates a Scanner.
func New(a Analyzer, workers int, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{Analyzer: a, Workers: workers, Logger: logger}
}

// Scan analyzes every dependency. A failure on one dependency is recorded
// in its Outcome and does not stop the others; only cancellation of ctx
// aborts the scan.
func (s *Scanner) Scan(ctx context.Context, deps []*model.Dependency) (*Result, error) {
	start := time.Now()
	workers := s.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	outcomes := make([]Outcome, len(deps))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, d := range deps {
		i, d := i, d
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcomes[i] = s.analyze(ctx, d)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Outcomes: outcomes, Elapsed: time.Since(start)}
	s.Logger.Info("analysis complete",
		zap.Int("dependencies", len(deps)),
		zap.Int("identified", res.Count(Identified)),
		zap.Int("skipped", res.Count(Skipped)),
		zap.Int("failed", res.Count(Failed)),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (s *Scanner) analyze(ctx context.Context, d *model.Dependency) Outcome {
	if s.Analyzer.Skips(d) {
		return Outcome{Dependency: d, Status: Skipped}
	}
	added, err := s.Analyzer.Analyze(ctx, d)
	switch {
	case err != nil:
		s.Logger.Error("unable to identify dependency", zap.String("dependency", d.Key()), zap.Error(err))
		return Outcome{Dependency: d, Status: Failed, Err: err}
	case added || len(d.Identifiers()) > 0:
		return Outcome{Dependency: d, Status: Identified}
	default:
		s.Logger.Debug("no identifier found", zap.String("dependency", d.Key()))
		return Outcome{Dependency: d, Status: Unidentified}
	}
}
