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
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// LMOpt contains options for the Levenberg-Marquardt solver
type LMOpt struct {
	Lambda    float64            // Initial damping
	LambdaMin float64            // Lower bound of damping
	LambdaMax float64            // Upper bound of damping
	Scale     float64            // Multiplicative damping change (> 1)
	Lin       *LinOpt            // Linearization options
	Natural   bool               // Disable fill-reducing ordering
	Logger    logrus.FieldLogger // Logger
	Metrics   *Metrics           // Optional metrics
}

// NewLMOpt creates a new LMOpt with default values
func NewLMOpt() *LMOpt {
	return &LMOpt{
		Lambda:    1e-4, // Close to Gauss-Newton
		LambdaMin: 1e-9,
		LambdaMax: 1e6,
		Scale:     10,
		Lin:       NewLinOpt(),
		Natural:   false,
		Logger:    defaultLogger(),
		Metrics:   nil,
	}
}

// Validate checks the damping parameters
func (o *LMOpt) Validate() error {
	if o.LambdaMin < 0 || o.LambdaMax < o.LambdaMin {
		return fmt.Errorf("invalid lambda bounds [%g, %g]", o.LambdaMin, o.LambdaMax)
	}
	if o.Lambda < o.LambdaMin || o.Lambda > o.LambdaMax {
		return fmt.Errorf("initial lambda %g outside [%g, %g]", o.Lambda, o.LambdaMin, o.LambdaMax)
	}
	if o.Scale <= 1 {
		return fmt.Errorf("lambda scale must be > 1, got %g", o.Scale)
	}
	return nil
}

// StepResult describes the last LM iteration
type StepResult struct {
	Accepted   bool
	Chi2Before float64
	Chi2After  float64 // chi2 of the tried update (the state is restored if rejected)
	Lambda     float64 // damping used for the step
}

// LMSolver wraps the direct solver with adaptive damping.
//   - accepted step (chi2 does not increase): lambda /= scale
//   - rejected step: every state is restored, lambda *= scale
//
// When a step is rejected while lambda is already at its maximum, no more
// conservative step is possible and CanIterate reports false.
type LMSolver struct {
	stepper
	opt     LMOpt
	log     logrus.FieldLogger
	metrics *Metrics

	lambda       float64
	rejected     bool // last step was rejected
	dampingStuck bool // last damping increase could not be applied
	last         StepResult
	iter         int
}

func NewLMSolver(g *Graph, opt *LMOpt) (*LMSolver, error) {
	if opt == nil {
		opt = NewLMOpt()
	}
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	return &LMSolver{
		stepper: stepper{g: g, lin: opt.Lin, natural: opt.Natural},
		opt:     *opt,
		log:     loggerOr(opt.Logger).WithField("solver", SOLVER_LM),
		metrics: opt.Metrics,
		lambda:  opt.Lambda,
	}, nil
}

// Current damping
func (s *LMSolver) Lambda() float64 { return s.lambda }

// Result of the last Iterate call
func (s *LMSolver) LastStep() StepResult { return s.last }

// CanIterate is false once a step was rejected and damping could not be
// increased any further.
func (s *LMSolver) CanIterate() bool {
	return !(s.rejected && s.dampingStuck)
}

// Iterate tries one damped step. A rejected step leaves every state exactly
// as it was; a factorization failure is returned as an error and also leaves
// the states untouched.
func (s *LMSolver) Iterate(ctx context.Context) error {
	start := time.Now()
	s.iter++

	snap := s.g.snapshot()
	chi2Old := s.g.Chi2()

	dx, _, err := s.step(ctx, s.lambda)
	if err != nil {
		s.g.restore(snap)
		s.metrics.observe(SOLVER_LM, RESULT_ERROR, chi2Old, time.Since(start))
		return fmt.Errorf("lm iteration %d failed: %w", s.iter, err)
	}
	s.log.WithField("iter", s.iter).Tracef("dx %s", fmtVec(dx))
	s.g.applyUpdate(dx)
	chi2New := s.g.Chi2()

	s.last = StepResult{Chi2Before: chi2Old, Chi2After: chi2New, Lambda: s.lambda}
	if chi2New <= chi2Old {
		s.last.Accepted = true
		s.rejected = false
		s.dampingStuck = false
		s.lambda = math.Max(s.lambda/s.opt.Scale, s.opt.LambdaMin)
		s.metrics.observe(SOLVER_LM, RESULT_ACCEPTED, chi2New, time.Since(start))
	} else {
		s.g.restore(snap)
		s.rejected = true
		s.dampingStuck = s.lambda >= s.opt.LambdaMax
		s.lambda = math.Min(s.lambda*s.opt.Scale, s.opt.LambdaMax)
		s.metrics.observe(SOLVER_LM, RESULT_REJECTED, chi2Old, time.Since(start))
	}
	s.metrics.setLambda(s.lambda)

	s.log.WithFields(logrus.Fields{
		"iter":     s.iter,
		"chi2_old": chi2Old,
		"chi2_new": chi2New,
		"accepted": s.last.Accepted,
		"lambda":   s.lambda,
	}).Debug("lm step")
	if !s.CanIterate() {
		s.log.WithField("iter", s.iter).Info("damping at maximum, cannot iterate further")
	}
	return nil
}
