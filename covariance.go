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

	"gonum.org/v1/gonum/mat"
)

// Covariance keeps the factorized information matrix of a graph at the
// state it was computed for.
type Covariance struct {
	g    *Graph
	sys  *System
	chol *BlockCholesky
	full *mat.SymDense // cached dense covariance
}

// ComputeCovariance linearizes g at its current state, orders and
// factorizes the information matrix. No solve is done.
func ComputeCovariance(ctx context.Context, g *Graph, opt *LinOpt) (*Covariance, error) {
	sys, err := BuildSystem(ctx, g, opt)
	if err != nil {
		return nil, err
	}
	chol, err := FactorizeSystem(sys, MinDegreeOrdering(g), 0)
	if err != nil {
		return nil, fmt.Errorf("factorize information matrix: %w", err)
	}
	return &Covariance{g: g, sys: sys, chol: chol}, nil
}

// Full returns the dense covariance over all variables (graph layout) by
// solving against every column of the identity. O(n^2) memory: meant for
// small graphs and offline diagnostics.
func (c *Covariance) Full() *mat.SymDense {
	if c.full != nil {
		return c.full
	}
	n := c.g.StateLen()
	cov := mat.NewSymDense(n, nil)
	e := make([]float64, n)
	for j := 0; j < n; j++ {
		e[j] = 1
		x := c.chol.Solve(e)
		e[j] = 0
		for i := 0; i <= j; i++ {
			cov.SetSym(i, j, x[i])
		}
	}
	c.full = cov
	return cov
}

// Marginal returns the dof x dof block of the full covariance for id
func (c *Covariance) Marginal(id int) (*mat.SymDense, error) {
	if id < 0 || id >= len(c.g.Vars) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVariable, id)
	}
	off, d := c.g.Offset(id), c.g.Vars[id].DOF()
	m := mat.NewSymDense(d, nil)
	m.CopySym(c.Full().SliceSym(off, off+d))
	return m, nil
}

// MarginalCovariance computes the marginal covariance of one variable:
// the true uncertainty with all other variables integrated out.
// Expensive: it computes the full dense covariance.
func MarginalCovariance(ctx context.Context, g *Graph, id int) (*mat.SymDense, error) {
	c, err := ComputeCovariance(ctx, g, nil)
	if err != nil {
		return nil, err
	}
	return c.Marginal(id)
}

// ConditionalCovariance inverts only the diagonal block of the information
// matrix for id. This is the covariance with all other variables held
// fixed, NOT the marginal: it ignores coupling through the rest of the
// graph and is smaller (over-confident) whenever that coupling exists.
func ConditionalCovariance(ctx context.Context, g *Graph, id int) (*mat.SymDense, error) {
	if id < 0 || id >= len(g.Vars) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVariable, id)
	}
	sys, err := BuildSystem(ctx, g, nil)
	if err != nil {
		return nil, err
	}
	return conditional(sys, id)
}

// Conditional is ConditionalCovariance on the already assembled system
func (c *Covariance) Conditional(id int) (*mat.SymDense, error) {
	if id < 0 || id >= len(c.g.Vars) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVariable, id)
	}
	return conditional(c.sys, id)
}

func conditional(sys *System, id int) (*mat.SymDense, error) {
	blk := sys.Block(id, id)
	if blk == nil {
		return nil, &FactorizationError{Var: id, Step: -1, Err: ErrNotPositiveDefinite}
	}
	d, _ := blk.Dims()
	info := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			info.SetSym(i, j, blk.At(i, j))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(info); !ok {
		return nil, &FactorizationError{Var: id, Step: -1, Err: ErrNotPositiveDefinite}
	}
	cov := mat.NewSymDense(d, nil)
	if err := chol.InverseTo(cov); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return nil, err
		}
	}
	return cov, nil
}
