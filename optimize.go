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

// Reasons for Optimize to stop
const (
	STOP_MAX_ITERATIONS = "max-iterations"
	STOP_CONVERGED      = "converged"
	STOP_STALLED        = "stalled"
	STOP_CANCELED       = "canceled"
	STOP_ERROR          = "error"
)

// Progress of one Optimize iteration
type Progress struct {
	Iter     int
	Chi2     float64
	Accepted bool
	Elapsed  time.Duration
}

// OptimizeOpt contains options for the iteration driver
type OptimizeOpt struct {
	MaxIterations int                // Maximum number of Iterate calls
	RelTolerance  float64            // Converged when an accepted step changes chi2 by less than this ratio
	AbsTolerance  float64            // Converged when chi2 falls below this value
	Logger        logrus.FieldLogger // Logger
	OnIteration   func(Progress)     // Called after every iteration, may be nil
}

// NewOptimizeOpt creates a new OptimizeOpt with default values
func NewOptimizeOpt() *OptimizeOpt {
	return &OptimizeOpt{
		MaxIterations: MAX_LOOP_COUNT,
		RelTolerance:  REL_TOLERANCE,
		AbsTolerance:  ABS_TOLERANCE,
		Logger:        defaultLogger(),
	}
}

// OptimizeResult summarizes an Optimize run
type OptimizeResult struct {
	Iterations  int
	InitialChi2 float64
	FinalChi2   float64
	Reason      string // One of STOP_*
	Stats       ErrorStats
}

// Converged reports whether the run ended on a tolerance test
func (r *OptimizeResult) Converged() bool {
	return r.Reason == STOP_CONVERGED
}

// Optimize calls s.Iterate until the iteration limit, convergence, a stall
// (CanIterate false), cancellation of ctx or an error. The graph keeps the
// state of the last successful iteration. The returned result is valid even
// when an error is returned.
func Optimize(ctx context.Context, g *Graph, s Solver, opt *OptimizeOpt) (*OptimizeResult, error) {
	if opt == nil {
		opt = NewOptimizeOpt()
	}
	log := loggerOr(opt.Logger)

	res := &OptimizeResult{InitialChi2: g.Chi2()}
	chi2 := res.InitialChi2
	start := time.Now()

	var err error
	res.Reason = STOP_MAX_ITERATIONS
	for res.Iterations < opt.MaxIterations {
		if chi2 <= opt.AbsTolerance {
			res.Reason = STOP_CONVERGED
			break
		}
		if !s.CanIterate() {
			res.Reason = STOP_STALLED
			break
		}
		if ctx.Err() != nil {
			res.Reason, err = STOP_CANCELED, ctx.Err()
			break
		}
		if err = s.Iterate(ctx); err != nil {
			res.Reason = STOP_ERROR
			err = fmt.Errorf("iteration %d: %w", res.Iterations+1, err)
			break
		}
		res.Iterations++

		chi2New := g.Chi2()
		accepted := true
		if ls, ok := s.(interface{ LastStep() StepResult }); ok {
			accepted = ls.LastStep().Accepted
		}
		if opt.OnIteration != nil {
			opt.OnIteration(Progress{Iter: res.Iterations, Chi2: chi2New, Accepted: accepted, Elapsed: time.Since(start)})
		}
		log.WithFields(logrus.Fields{
			"iter":     res.Iterations,
			"chi2":     chi2New,
			"accepted": accepted,
		}).Info("iteration")

		// A rejected step leaves chi2 unchanged and says nothing about convergence
		if accepted && math.Abs(chi2-chi2New) <= opt.RelTolerance*chi2 {
			chi2 = chi2New
			res.Reason = STOP_CONVERGED
			break
		}
		chi2 = chi2New
	}

	res.FinalChi2 = g.Chi2()
	res.Stats = g.ErrorStats()
	log.WithFields(logrus.Fields{
		"iterations": res.Iterations,
		"chi2_init":  res.InitialChi2,
		"chi2":       res.FinalChi2,
		"reason":     res.Reason,
	}).Info("optimization finished")
	return res, err
}
