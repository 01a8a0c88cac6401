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
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/mat"
)

// GSOpt contains options for the Gauss-Seidel solver
type GSOpt struct {
	Lambda    float64            // Damping added to each local system
	Tolerance float64            // Relative chi2 decrease of a sweep below which the solver stalls
	Logger    logrus.FieldLogger // Logger
	Metrics   *Metrics           // Optional metrics
}

// NewGSOpt creates a new GSOpt with default values
func NewGSOpt() *GSOpt {
	return &GSOpt{
		Lambda:    1e-9,
		Tolerance: 1e-12,
		Logger:    defaultLogger(),
		Metrics:   nil,
	}
}

// GSSolver relaxes one variable at a time using only the factors incident
// to it (block Gauss-Seidel on the nonlinear problem). No global matrix is
// built. A local update that increases the local chi2 is undone, so the
// total chi2 never increases.
type GSSolver struct {
	g       *Graph
	opt     GSOpt
	log     logrus.FieldLogger
	metrics *Metrics

	stalled bool
	iter    int
}

func NewGSSolver(g *Graph, opt *GSOpt) *GSSolver {
	if opt == nil {
		opt = NewGSOpt()
	}
	return &GSSolver{
		g:       g,
		opt:     *opt,
		log:     loggerOr(opt.Logger).WithField("solver", SOLVER_GS),
		metrics: opt.Metrics,
	}
}

// CanIterate is false once a sweep improved nothing
func (s *GSSolver) CanIterate() bool { return !s.stalled }

// Iterate performs one sweep over all variables in graph order
func (s *GSSolver) Iterate(ctx context.Context) error {
	start := time.Now()
	s.iter++
	if len(s.g.Vars) == 0 {
		return ErrEmptyGraph
	}

	chi2Before := s.g.Chi2()
	improved, skipped := 0, 0
	for _, v := range s.g.Vars {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := s.relax(v)
		if err != nil {
			skipped++
			s.log.WithError(err).WithField("var", v.ID).Trace("variable skipped")
			continue
		}
		if ok {
			improved++
		}
	}
	chi2After := s.g.Chi2()

	s.stalled = improved == 0 || chi2Before-chi2After <= s.opt.Tolerance*chi2Before
	s.metrics.observe(SOLVER_GS, RESULT_ACCEPTED, chi2After, time.Since(start))
	s.log.WithFields(logrus.Fields{
		"iter":     s.iter,
		"chi2_old": chi2Before,
		"chi2_new": chi2After,
		"improved": improved,
		"skipped":  skipped,
	}).Debug("gauss-seidel sweep")
	return nil
}

// Local Gauss-Newton step on one variable. Returns true if the local chi2
// decreased. The update is undone if it increased.
func (s *GSSolver) relax(v *Variable) (bool, error) {
	facs := s.g.Incident(v.ID)
	if len(facs) == 0 {
		return false, nil
	}
	d := v.DOF()

	A := mat.NewDense(d, d, nil)
	b := mat.NewVecDense(d, nil)
	before := 0.0
	for _, fi := range facs {
		f := s.g.Factors[fi]
		l, err := f.Linearize(s.g)
		if err != nil {
			return false, err
		}
		before += f.Chi2(s.g)

		// Sum the blocks in case v appears more than once
		Jv := mat.NewDense(l.Residual.Len(), d, nil)
		for p, id := range f.Vars() {
			if id == v.ID {
				Jv.Add(Jv, l.J[p])
			}
		}
		var JtW, JtWJ mat.Dense
		JtW.Mul(Jv.T(), l.W)
		JtWJ.Mul(&JtW, Jv)
		A.Add(A, &JtWJ)
		var t mat.VecDense
		t.MulVec(&JtW, l.Residual)
		b.AddVec(b, &t)
	}

	sym := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			sym.SetSym(i, j, A.At(i, j))
		}
		sym.SetSym(i, i, sym.At(i, i)+s.opt.Lambda)
	}
	logMat(s.log, fmt.Sprintf("local information of %d", v.ID), sym)
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return false, &FactorizationError{Var: v.ID, Step: -1, Err: ErrNotPositiveDefinite}
	}
	var dx mat.VecDense
	if err := chol.SolveVecTo(&dx, b); err != nil {
		// Ill conditioning is reported but the solution is still usable
		if _, ok := err.(mat.Condition); !ok {
			return false, fmt.Errorf("local solve: %w", err)
		}
	}

	old := slices.Clone(v.State)
	s.g.applyVarUpdate(v, dx.RawVector().Data)
	after := s.localChi2(facs)
	if after > before {
		copy(v.State, old)
		return false, nil
	}
	return after < before, nil
}

func (s *GSSolver) localChi2(facs []int) float64 {
	chi2 := 0.0
	for _, fi := range facs {
		chi2 += s.g.Factors[fi].Chi2(s.g)
	}
	return chi2
}
