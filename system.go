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

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// LinOpt controls linearization and assembly
type LinOpt struct {
	Workers int // Number of factors linearized in parallel. <= 1 means serial
}

// NewLinOpt creates a new LinOpt with default values
func NewLinOpt() *LinOpt {
	return &LinOpt{
		Workers: 1, // Serial
	}
}

// System is the linearized problem A dx = B at variable (block) granularity.
//   - A = sum J_i^T W J_j, symmetric, both (i,j) and (j,i) blocks are stored
//   - B = sum J_i^T W r, in graph layout
type System struct {
	dofs   []int
	offs   []int
	blocks []map[int]*mat.Dense
	B      []float64
	Chi2   float64 // sum of r^T W r over the linearizations
}

func newSystem(g *Graph) *System {
	s := &System{
		dofs:   make([]int, len(g.Vars)),
		offs:   make([]int, len(g.Vars)),
		blocks: make([]map[int]*mat.Dense, len(g.Vars)),
		B:      make([]float64, g.StateLen()),
	}
	for i, v := range g.Vars {
		s.dofs[i] = v.DOF()
		s.offs[i] = g.Offset(i)
		s.blocks[i] = map[int]*mat.Dense{}
	}
	return s
}

// Number of variables
func (s *System) NumVars() int { return len(s.dofs) }

// Block (i, j) of A, nil if structurally zero
func (s *System) Block(i, j int) *mat.Dense {
	return s.blocks[i][j]
}

// Block (i, j), allocated on first use
func (s *System) block(i, j int) *mat.Dense {
	b, ok := s.blocks[i][j]
	if !ok {
		b = mat.NewDense(s.dofs[i], s.dofs[j], nil)
		s.blocks[i][j] = b
	}
	return b
}

// Segment of B belonging to variable i
func (s *System) rhs(i int) []float64 {
	return s.B[s.offs[i] : s.offs[i]+s.dofs[i]]
}

// Add one factor's linearization
func (s *System) accumulate(vars []int, l *Linearization) {
	WJ := make([]*mat.Dense, len(vars))
	for j := range vars {
		WJ[j] = &mat.Dense{}
		WJ[j].Mul(l.W, l.J[j])
	}

	var Wr mat.VecDense
	Wr.MulVec(l.W, l.Residual)

	var tmp mat.Dense
	var tb mat.VecDense
	for i, vi := range vars {
		for j, vj := range vars {
			tmp.Reset()
			tmp.Mul(l.J[i].T(), WJ[j])
			blk := s.block(vi, vj)
			blk.Add(blk, &tmp)
		}
		tb.Reset()
		tb.MulVec(l.J[i].T(), &Wr)
		b := s.rhs(vi)
		for d := range b {
			b[d] += tb.AtVec(d)
		}
	}
	s.Chi2 += mat.Dot(l.Residual, &Wr)
}

// Dense copy of A in graph layout (diagnostics and tests)
func (s *System) Dense() *mat.SymDense {
	n := len(s.B)
	A := mat.NewSymDense(n, nil)
	for i := range s.blocks {
		for j, blk := range s.blocks[i] {
			if j < i {
				continue
			}
			r, c := blk.Dims()
			for a := 0; a < r; a++ {
				for b := 0; b < c; b++ {
					if i == j && b < a {
						continue
					}
					A.SetSym(s.offs[i]+a, s.offs[j]+b, blk.At(a, b))
				}
			}
		}
	}
	return A
}

// BuildSystem linearizes every factor at the current state and assembles
// A and B. States are not modified. With opt.Workers > 1 factors are
// linearized concurrently; accumulation is always done in factor order.
func BuildSystem(ctx context.Context, g *Graph, opt *LinOpt) (*System, error) {
	if len(g.Vars) == 0 {
		return nil, ErrEmptyGraph
	}
	if opt == nil {
		opt = NewLinOpt()
	}

	lins, err := linearizeAll(ctx, g, opt.Workers)
	if err != nil {
		return nil, err
	}

	s := newSystem(g)
	for i, f := range g.Factors {
		s.accumulate(f.Vars(), lins[i])
	}
	return s, nil
}

// Linearize all factors. Each factor only reads its own variables' states.
func linearizeAll(ctx context.Context, g *Graph, workers int) ([]*Linearization, error) {
	lins := make([]*Linearization, len(g.Factors))

	if workers <= 1 {
		for i, f := range g.Factors {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			l, err := f.Linearize(g)
			if err != nil {
				return nil, fmt.Errorf("linearize factor %d (%s): %w", i, f.Kind(), err)
			}
			lins[i] = l
		}
		return lins, nil
	}

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, f := range g.Factors {
		eg.Go(func() error {
			if err := ectx.Err(); err != nil {
				return err
			}
			l, err := f.Linearize(g)
			if err != nil {
				return fmt.Errorf("linearize factor %d (%s): %w", i, f.Kind(), err)
			}
			lins[i] = l
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return lins, nil
}
