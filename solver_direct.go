// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Solver advances the state of a graph one step at a time.
// The caller decides how many steps to run and may poll CanIterate.
type Solver interface {
	Iterate(ctx context.Context) error
	CanIterate() bool
}

// Solver names used in logs, metrics and configuration
const (
	SOLVER_DIRECT = "direct"
	SOLVER_LM     = "lm"
	SOLVER_GS     = "gauss-seidel"
)

// Shared linearize -> order -> factorize -> solve pipeline
type stepper struct {
	g       *Graph
	lin     *LinOpt
	natural bool // Use graph order instead of minimum degree

	ord    *Ordering
	ordVar int // graph size the ordering was computed for
	ordFac int
}

// Ordering for the current graph structure. Recomputed only when variables
// or factors were added since the last call.
func (p *stepper) ordering() *Ordering {
	if p.ord == nil || p.ordVar != len(p.g.Vars) || p.ordFac != len(p.g.Factors) {
		if p.natural {
			p.ord = NaturalOrdering(p.g)
		} else {
			p.ord = MinDegreeOrdering(p.g)
		}
		p.ordVar, p.ordFac = len(p.g.Vars), len(p.g.Factors)
	}
	return p.ord
}

// Solve (A + lambda I) dx = B at the current state. States are not modified.
func (p *stepper) step(ctx context.Context, lambda float64) ([]float64, *System, error) {
	sys, err := BuildSystem(ctx, p.g, p.lin)
	if err != nil {
		return nil, nil, err
	}
	chol, err := FactorizeSystem(sys, p.ordering(), lambda)
	if err != nil {
		return nil, sys, err
	}
	return chol.Solve(sys.B), sys, nil
}

//-------------------------------------------------------------------
// DirectSolver
//-------------------------------------------------------------------

// DirectOpt contains options for the undamped Gauss-Newton solver
type DirectOpt struct {
	Lin     *LinOpt            // Linearization options
	Natural bool               // Disable fill-reducing ordering
	Logger  logrus.FieldLogger // Logger
	Metrics *Metrics           // Optional metrics
}

// NewDirectOpt creates a new DirectOpt with default values
func NewDirectOpt() *DirectOpt {
	return &DirectOpt{
		Lin:     NewLinOpt(),
		Natural: false,
		Logger:  defaultLogger(),
		Metrics: nil,
	}
}

// DirectSolver takes plain Gauss-Newton steps with no damping or rollback
type DirectSolver struct {
	stepper
	log     logrus.FieldLogger
	metrics *Metrics
	iter    int
}

func NewDirectSolver(g *Graph, opt *DirectOpt) *DirectSolver {
	if opt == nil {
		opt = NewDirectOpt()
	}
	return &DirectSolver{
		stepper: stepper{g: g, lin: opt.Lin, natural: opt.Natural},
		log:     loggerOr(opt.Logger).WithField("solver", SOLVER_DIRECT),
		metrics: opt.Metrics,
	}
}

// Iterate applies one Gauss-Newton step
func (s *DirectSolver) Iterate(ctx context.Context) error {
	start := time.Now()
	dx, sys, err := s.step(ctx, 0)
	if err != nil {
		s.metrics.observe(SOLVER_DIRECT, RESULT_ERROR, 0, time.Since(start))
		return fmt.Errorf("direct step failed: %w", err)
	}
	s.g.applyUpdate(dx)
	s.iter++

	chi2 := s.g.Chi2()
	s.metrics.observe(SOLVER_DIRECT, RESULT_ACCEPTED, chi2, time.Since(start))
	s.log.WithFields(logrus.Fields{
		"iter":      s.iter,
		"chi2_lin":  sys.Chi2,
		"chi2":      chi2,
		"fill":      s.ord.Fill,
		"state_len": s.g.StateLen(),
	}).Debug("gauss-newton step")
	return nil
}

// The direct solver has no stall state
func (s *DirectSolver) CanIterate() bool { return true }
